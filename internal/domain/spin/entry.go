package spin

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// CodePrefix marks spin-wheel codes.
const CodePrefix = "SPIN-"

// DefaultTTL is how long a won code stays redeemable.
const DefaultTTL = 15 * time.Minute

var (
	// ErrEntryNotFound is returned by stores when no entry matches.
	ErrEntryNotFound = errors.New("spin entry not found")
	// ErrEmailRequired is returned when a draw is requested without an email.
	ErrEmailRequired = errors.New("email is required")
)

// Entry is one customer's spin result.
type Entry struct {
	ID        string
	Email     string
	Prize     string
	Code      string
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Expired reports whether the entry can no longer be redeemed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store persists spin entries.
type Store interface {
	GetByCode(ctx context.Context, code string) (*Entry, error)
	// LatestByEmail returns the most recent entry for email.
	LatestByEmail(ctx context.Context, email string) (*Entry, error)
	// Create inserts e. It returns false without error when email already
	// holds an unused entry, which means a concurrent draw won.
	Create(ctx context.Context, e *Entry) (bool, error)
	// MarkUsed flips used to true only if the entry is unused and unexpired
	// at now. It reports whether this call performed the transition.
	MarkUsed(ctx context.Context, code string, now time.Time) (bool, error)
}

// NewCode builds SPIN-{PRIZEID}-{8 hex} for prizeID.
func NewCode(prizeID string) string {
	id := strings.ToUpper(strings.ReplaceAll(prizeID, "_", ""))
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return CodePrefix + id + "-" + suffix
}
