package promo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/feedback"
	"github.com/xenking/promo-engine/internal/domain/spin"
)

// memCatalog is an in-memory discount.Store. ExecTx serializes callers and
// discards usage rows appended by a failed transaction.
type memCatalog struct {
	mu        sync.Mutex
	codes     map[string]*discount.Code
	usages    []discount.UsageRecord
	insertErr error
}

func newMemCatalog(codes ...*discount.Code) *memCatalog {
	m := &memCatalog{codes: make(map[string]*discount.Code)}
	for _, c := range codes {
		m.codes[c.Code] = c
	}
	return m
}

func (m *memCatalog) GetCode(_ context.Context, code string, _ bool) (*discount.Code, error) {
	c, ok := m.codes[code]
	if !ok {
		return nil, discount.ErrCodeNotFound
	}
	return c, nil
}

func (m *memCatalog) CountUsage(_ context.Context, codeID, email string) (discount.UsageCounts, error) {
	var u discount.UsageCounts
	for _, r := range m.usages {
		if r.CodeID != codeID {
			continue
		}
		u.Total++
		if r.Email == email {
			u.PerEmail++
		}
	}
	return u, nil
}

func (m *memCatalog) UsageExists(_ context.Context, codeID, orderID string) (bool, error) {
	return slices.ContainsFunc(m.usages, func(r discount.UsageRecord) bool {
		return r.CodeID == codeID && r.OrderID == orderID
	}), nil
}

func (m *memCatalog) InsertUsage(ctx context.Context, rec discount.UsageRecord) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if ok, _ := m.UsageExists(ctx, rec.CodeID, rec.OrderID); ok {
		return discount.ErrDuplicateUsage
	}
	m.usages = append(m.usages, rec)
	return nil
}

func (m *memCatalog) ExecTx(_ context.Context, fn func(q discount.Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.usages)
	if err := fn(m); err != nil {
		m.usages = m.usages[:n]
		return err
	}
	return nil
}

func (m *memCatalog) UsageStats(_ context.Context, code string) (*discount.UsageStats, error) {
	c, ok := m.codes[code]
	if !ok {
		return nil, discount.ErrCodeNotFound
	}
	st := &discount.UsageStats{Code: c.Code}
	emails := map[string]struct{}{}
	for _, r := range m.usages {
		if r.CodeID != c.ID {
			continue
		}
		st.Redemptions++
		st.TotalDiscount += r.DiscountApplied
		emails[r.Email] = struct{}{}
	}
	st.DistinctEmails = len(emails)
	return st, nil
}

type staticHistory map[string]int

func (h staticHistory) CountCompleted(_ context.Context, email, _ string) (int, error) {
	return h[email], nil
}

type memSpins struct {
	mu      sync.Mutex
	entries map[string]*spin.Entry
	// stealOnMark simulates a concurrent redeemer winning the update.
	stealOnMark bool
}

func (m *memSpins) GetByCode(_ context.Context, code string) (*spin.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[code]
	if !ok {
		return nil, spin.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memSpins) LatestByEmail(context.Context, string) (*spin.Entry, error) {
	return nil, spin.ErrEntryNotFound
}

func (m *memSpins) Create(context.Context, *spin.Entry) (bool, error) { return true, nil }

func (m *memSpins) MarkUsed(_ context.Context, code string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[code]
	if !ok || e.Used || e.Expired(now) {
		return false, nil
	}
	e.Used = true
	e.UsedAt = &now
	if m.stealOnMark {
		return false, nil
	}
	return true, nil
}

type memCoupons struct {
	mu      sync.Mutex
	coupons map[string]*feedback.Coupon
}

func (m *memCoupons) GetByCode(_ context.Context, code string) (*feedback.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, feedback.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCoupons) GetByOrder(context.Context, string) (*feedback.Coupon, error) {
	return nil, feedback.ErrCouponNotFound
}

func (m *memCoupons) Create(context.Context, *feedback.Coupon) error { return nil }

func (m *memCoupons) MarkUsed(_ context.Context, code string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok || c.Used || c.Expired(now) {
		return false, nil
	}
	c.Used = true
	c.UsedAt = &now
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}
