package headlines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageWindowOffset(t *testing.T) {
	tests := []struct {
		name   string
		window PageWindow
		offset int
		ok     bool
	}{
		{name: "first page", window: PageWindow{Page: 1, Size: 10}, offset: 0, ok: true},
		{name: "third page", window: PageWindow{Page: 3, Size: 25}, offset: 50, ok: true},
		{name: "page zero", window: PageWindow{Page: 0, Size: 10}, ok: false},
		{name: "negative page", window: PageWindow{Page: -2, Size: 10}, ok: false},
		{name: "zero size", window: PageWindow{Page: 1, Size: 0}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, ok := tt.window.Offset()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("forward")
	require.NoError(t, err)
	assert.Equal(t, Forward, d)

	d, err = ParseDirection("up")
	require.NoError(t, err)
	assert.Equal(t, Backward, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)

	assert.Equal(t, "backward", Backward.String())
}
