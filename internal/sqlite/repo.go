package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/headlines/internal/headlines"
)

// Ensure Repo implements the interfaces the loader and the invalidator need.
var (
	_ headlines.Store          = Repo{}
	_ headlines.DayStore       = Repo{}
	_ headlines.AtomicResetter = Repo{}
)

// PurgeStrategy picks how [Repo.PurgeAll] empties the item table.
type PurgeStrategy string

const (
	// PurgeBulk removes every row with a single statement.
	PurgeBulk PurgeStrategy = "bulk"
	// PurgeEach enumerates the ids and deletes them one at a time.
	PurgeEach PurgeStrategy = "each"
)

// ParsePurgeStrategy turns a config value into a strategy, defaulting to bulk.
func ParsePurgeStrategy(s string) (PurgeStrategy, error) {
	switch PurgeStrategy(s) {
	case "", PurgeBulk:
		return PurgeBulk, nil
	case PurgeEach:
		return PurgeEach, nil
	default:
		return "", fmt.Errorf("unknown purge strategy %q", s)
	}
}

type Repo struct {
	db    *sqlx.DB
	purge PurgeStrategy
}

func New(db *sqlx.DB, purge PurgeStrategy) Repo {
	if purge == "" {
		purge = PurgeBulk
	}

	return Repo{db: db, purge: purge}
}

// Open connects to the sqlite file at path.
//
// A single connection is used so writers never contend with each other.
func Open(path string) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}
	dbx.SetMaxOpenConns(1)

	return dbx, nil
}
