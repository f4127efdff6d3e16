package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/spin"
)

const (
	spinColumns = `id, email, prize, code, expires_at, used, used_at, created_at`

	getSpinByCodeSQL = `SELECT ` + spinColumns + ` FROM spin_entries WHERE code = $1`

	latestSpinByEmailSQL = `SELECT ` + spinColumns + ` FROM spin_entries
		WHERE email = $1 ORDER BY created_at DESC LIMIT 1`

	// Conflicts on the partial unique index over unused entries mean a
	// concurrent draw for the same email already committed.
	createSpinSQL = `INSERT INTO spin_entries (id, email, prize, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`

	markSpinUsedSQL = `UPDATE spin_entries SET used = TRUE, used_at = $2
		WHERE code = $1 AND NOT used AND expires_at > $2`
)

var _ spin.Store = (*SpinStore)(nil)

// SpinStore implements spin.Store backed by PostgreSQL.
type SpinStore struct {
	pool *pgxpool.Pool
}

// NewSpinStore returns a SpinStore that uses the given pool.
func NewSpinStore(pool *pgxpool.Pool) *SpinStore {
	return &SpinStore{pool: pool}
}

// GetByCode returns the entry with the exact code.
func (s *SpinStore) GetByCode(ctx context.Context, code string) (*spin.Entry, error) {
	return s.getOne(ctx, getSpinByCodeSQL, code)
}

// LatestByEmail returns the newest entry for email.
func (s *SpinStore) LatestByEmail(ctx context.Context, email string) (*spin.Entry, error) {
	return s.getOne(ctx, latestSpinByEmailSQL, email)
}

func (s *SpinStore) getOne(ctx context.Context, query, arg string) (*spin.Entry, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding spin entry: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[spin.Entry])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, spin.ErrEntryNotFound
		}
		return nil, fmt.Errorf("finding spin entry: %w", err)
	}
	return e, nil
}

// Create inserts e unless the email already holds an unused entry.
func (s *SpinStore) Create(ctx context.Context, e *spin.Entry) (bool, error) {
	tag, err := s.pool.Exec(ctx, createSpinSQL, e.ID, e.Email, e.Prize, e.Code, e.ExpiresAt, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("creating spin entry for %q: %w", e.Email, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkUsed flips the entry to used if it is unused and unexpired at now.
func (s *SpinStore) MarkUsed(ctx context.Context, code string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, markSpinUsedSQL, code, now)
	if err != nil {
		return false, fmt.Errorf("marking spin %q used: %w", code, err)
	}
	return tag.RowsAffected() == 1, nil
}
