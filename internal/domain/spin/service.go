package spin

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DrawResult is the outcome of a draw request.
type DrawResult struct {
	Entry *Entry
	Prize Prize

	// AlreadySpun is set when the email had spun before this call.
	AlreadySpun bool
	// Used and Expired describe a previous entry that can no longer be
	// redeemed. Either one makes the result terminal.
	Used    bool
	Expired bool
	Message string
}

// Terminal reports whether the customer gets no redeemable prize.
func (r *DrawResult) Terminal() bool {
	return r.Used || r.Expired
}

// Service draws prizes and records entries.
type Service struct {
	store   Store
	table   Table
	ttl     time.Duration
	src     Source
	now     func() time.Time
	newCode func(prizeID string) string
}

// Option configures a Service.
type Option func(*Service)

// WithTable replaces the prize table.
func WithTable(t Table) Option { return func(s *Service) { s.table = t } }

// WithTTL sets how long new entries stay redeemable.
func WithTTL(ttl time.Duration) Option { return func(s *Service) { s.ttl = ttl } }

// WithSource sets the random source used for draws.
func WithSource(src Source) Option { return func(s *Service) { s.src = src } }

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:   store,
		table:   DefaultTable,
		ttl:     DefaultTTL,
		src:     globalSource{},
		now:     time.Now,
		newCode: NewCode,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.table.Validate(); err != nil {
		return nil, errors.Wrap(err, "prize table")
	}
	return s, nil
}

// Draw returns the email's prize. The first call per email draws and
// persists an entry, later calls return the same entry while it is still
// redeemable and a terminal result afterwards.
func (s *Service) Draw(ctx context.Context, email string) (*DrawResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	lg := zctx.From(ctx)

	existing, err := s.store.LatestByEmail(ctx, email)
	switch {
	case err == nil:
		return s.existingResult(existing), nil
	case !errors.Is(err, ErrEntryNotFound):
		return nil, errors.Wrap(err, "lookup spin entry")
	}

	prize := s.table.Draw(s.src)
	now := s.now()
	entry := &Entry{
		ID:        uuid.NewString(),
		Email:     email,
		Prize:     prize.ID,
		Code:      s.newCode(prize.ID),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	created, err := s.store.Create(ctx, entry)
	if err != nil {
		return nil, errors.Wrap(err, "create spin entry")
	}
	if !created {
		// A concurrent draw for the same email committed first.
		winner, err := s.store.LatestByEmail(ctx, email)
		if err != nil {
			return nil, errors.Wrap(err, "reload spin entry")
		}
		return s.existingResult(winner), nil
	}

	lg.Info("Spin prize drawn",
		zap.String("prize", prize.ID),
		zap.Time("expires_at", entry.ExpiresAt),
	)
	return &DrawResult{Entry: entry, Prize: prize}, nil
}

// Lookup returns the entry for code along with its prize.
func (s *Service) Lookup(ctx context.Context, code string) (*DrawResult, error) {
	e, err := s.store.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	r := s.existingResult(e)
	r.AlreadySpun = false
	return r, nil
}

func (s *Service) existingResult(e *Entry) *DrawResult {
	prize, _ := LookupPrize(e.Prize)
	r := &DrawResult{
		Entry:       e,
		Prize:       prize,
		AlreadySpun: true,
		Used:        e.Used,
		Expired:     !e.Used && e.Expired(s.now()),
	}
	switch {
	case r.Used:
		r.Message = "You already used your spin reward!"
	case r.Expired:
		r.Message = "Your previous spin has expired."
	}
	return r
}
