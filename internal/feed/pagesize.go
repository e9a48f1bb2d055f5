package feed

// Tier is the subscription level of whoever is reading the feed.
type Tier int

const (
	TierFree Tier = iota
	TierSubscribed
)

func (t Tier) String() string {
	if t == TierSubscribed {
		return "subscribed"
	}
	return "free"
}

// PageSizer decides how many items make up one page.
type PageSizer interface {
	PageSize(tier Tier, viewportHeight, rowHeight float64) int
	ViewportSize(viewportHeight, rowHeight float64) int
}

var _ PageSizer = Policy{}

// Policy sizes pages so that a page always fills the viewport and never
// drops below what the tier is entitled to.
type Policy struct {
	FreeSize       int
	SubscribedSize int
}

// DefaultPolicy is 3 items a page for free readers and 25 for subscribers.
func DefaultPolicy() Policy {
	return Policy{FreeSize: 3, SubscribedSize: 25}
}

func (p Policy) TierSize(tier Tier) int {
	if tier == TierSubscribed {
		return p.SubscribedSize
	}
	return p.FreeSize
}

// ViewportSize is the number of rows needed to fill the viewport, rounded up.
func (p Policy) ViewportSize(viewportHeight, rowHeight float64) int {
	return viewportSize(viewportHeight, rowHeight)
}

func (p Policy) PageSize(tier Tier, viewportHeight, rowHeight float64) int {
	return max(p.TierSize(tier), viewportSize(viewportHeight, rowHeight), 1)
}

func viewportSize(viewportHeight, rowHeight float64) int {
	if rowHeight <= 0 || viewportHeight <= 0 {
		return 0
	}

	n := int(viewportHeight / rowHeight)
	if float64(n)*rowHeight < viewportHeight {
		n++
	}
	return n
}

// pagesNeeded is how many pages it takes to cover the viewport.
func pagesNeeded(viewportSize, pageSize int) int {
	if pageSize < 1 {
		return 0
	}

	need := max(viewportSize, pageSize)
	return (need + pageSize - 1) / pageSize
}
