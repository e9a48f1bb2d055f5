package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const lastResetDayKey = "last_reset_day"

// LastResetDay returns the day the cache was last wiped, if it ever was.
func (r Repo) LastResetDay(ctx context.Context) (string, bool, error) {
	const q = `SELECT value FROM meta WHERE key = ?;`

	var day string
	err := r.db.GetContext(ctx, &day, q, lastResetDayKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("error fetching last reset day: %w", err)
	}

	return day, true, nil
}

func (r Repo) SetLastResetDay(ctx context.Context, day string) error {
	return setMeta(ctx, r.db, lastResetDayKey, day)
}

// PurgeAndMarkReset wipes the cache and records the day in one transaction,
// so a crash can't leave a purged store without its mark or the reverse.
func (r Repo) PurgeAndMarkReset(ctx context.Context, day string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.purgeTx(ctx, tx); err != nil {
		return err
	}
	if err := setMeta(ctx, tx, lastResetDayKey, day); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("error committing reset: %w", err)
	}

	return nil
}

func setMeta(ctx context.Context, ex sqlx.ExecerContext, key, value string) error {
	const q = `INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP;`

	if _, err := ex.ExecContext(ctx, q, key, value); err != nil {
		return storageErr("error setting meta value: %w", err)
	}

	return nil
}
