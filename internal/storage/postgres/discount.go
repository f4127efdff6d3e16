package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/discount"
)

const (
	getCodeSQL = `SELECT id, code, name, description, active, starts_at, expires_at,
		min_order_amount, max_discount_amount, max_usage_total, max_usage_per_email,
		first_order_only, stackable, priority
		FROM discount_codes WHERE UPPER(code) = UPPER($1)`

	listRulesSQL = `SELECT id, type, value, max_discount, buy_product_sku, buy_quantity,
		get_product_sku, get_quantity, get_discount_pct, min_order_amount, priority
		FROM discount_rules WHERE discount_code_id = $1 ORDER BY position, id`

	listRestrictionsSQL = `SELECT type, value, include
		FROM discount_restrictions WHERE discount_code_id = $1 ORDER BY id`

	countUsageSQL = `SELECT COUNT(*), COUNT(*) FILTER (WHERE email = $2)
		FROM discount_usages WHERE discount_code_id = $1`

	usageExistsSQL = `SELECT EXISTS (
		SELECT 1 FROM discount_usages WHERE discount_code_id = $1 AND order_id = $2)`

	insertUsageSQL = `INSERT INTO discount_usages
		(discount_code_id, email, order_id, subtotal, discount_applied, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	usageStatsSQL = `SELECT c.code, COUNT(u.id), COUNT(DISTINCT u.email),
		COALESCE(SUM(u.discount_applied), 0)::BIGINT, MAX(u.redeemed_at)
		FROM discount_codes c
		LEFT JOIN discount_usages u ON u.discount_code_id = c.id
		WHERE UPPER(c.code) = UPPER($1)
		GROUP BY c.code`
)

var (
	_ discount.Store   = (*DiscountStore)(nil)
	_ discount.Queries = discountQueries{}
)

// DiscountStore implements discount.Store backed by PostgreSQL.
type DiscountStore struct {
	discountQueries
	pool  *pgxpool.Pool
	retry RetryConfig
}

// NewDiscountStore returns a DiscountStore that uses the given pool.
func NewDiscountStore(pool *pgxpool.Pool, retry RetryConfig) *DiscountStore {
	return &DiscountStore{
		discountQueries: discountQueries{db: pool},
		pool:            pool,
		retry:           retry,
	}
}

// ExecTx runs fn in a read-committed transaction. Serialization failures
// and deadlocks re-run fn from the start.
func (s *DiscountStore) ExecTx(ctx context.Context, fn func(q discount.Queries) error) error {
	return execTx(ctx, s.pool, s.retry, func(tx pgx.Tx) error {
		return fn(discountQueries{db: tx})
	})
}

// UsageStats aggregates the usage records of code.
func (s *DiscountStore) UsageStats(ctx context.Context, code string) (*discount.UsageStats, error) {
	var st discount.UsageStats
	err := s.pool.QueryRow(ctx, usageStatsSQL, code).Scan(
		&st.Code, &st.Redemptions, &st.DistinctEmails, &st.TotalDiscount, &st.LastRedeemedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("usage stats for %q: %w", code, err)
	}
	return &st, nil
}

type discountQueries struct {
	db dbtx
}

// GetCode loads a code with its rules and restrictions (case-insensitive).
// Returns discount.ErrCodeNotFound when no code matches.
func (q discountQueries) GetCode(ctx context.Context, code string, forUpdate bool) (*discount.Code, error) {
	query := getCodeSQL
	if forUpdate {
		query += " FOR UPDATE"
	}
	rows, err := q.db.Query(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}

	if c.Rules, err = q.listRules(ctx, c.ID); err != nil {
		return nil, err
	}
	if c.Restrictions, err = q.listRestrictions(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (q discountQueries) listRules(ctx context.Context, codeID string) ([]discount.Rule, error) {
	rows, err := q.db.Query(ctx, listRulesSQL, codeID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	specs, err := pgx.CollectRows(rows, scanRuleSpec)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}

	rules := make([]discount.Rule, 0, len(specs))
	for _, spec := range specs {
		r, err := discount.DecodeRule(spec)
		if err != nil {
			return nil, fmt.Errorf("decoding rules of code %s: %w", codeID, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (q discountQueries) listRestrictions(ctx context.Context, codeID string) ([]discount.Restriction, error) {
	rows, err := q.db.Query(ctx, listRestrictionsSQL, codeID)
	if err != nil {
		return nil, fmt.Errorf("listing restrictions: %w", err)
	}
	rs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.Restriction, error) {
		var (
			r   discount.Restriction
			typ string
		)
		err := row.Scan(&typ, &r.Value, &r.Include)
		r.Type = discount.RestrictionType(typ)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing restrictions: %w", err)
	}
	return rs, nil
}

// CountUsage counts the code's usage records overall and for email.
func (q discountQueries) CountUsage(ctx context.Context, codeID, email string) (discount.UsageCounts, error) {
	var u discount.UsageCounts
	if err := q.db.QueryRow(ctx, countUsageSQL, codeID, email).Scan(&u.Total, &u.PerEmail); err != nil {
		return u, fmt.Errorf("counting usage of code %s: %w", codeID, err)
	}
	return u, nil
}

// UsageExists reports whether orderID already redeemed the code.
func (q discountQueries) UsageExists(ctx context.Context, codeID, orderID string) (bool, error) {
	var ok bool
	if err := q.db.QueryRow(ctx, usageExistsSQL, codeID, orderID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking usage of code %s: %w", codeID, err)
	}
	return ok, nil
}

// InsertUsage appends a usage record. A second record for the same code and
// order returns discount.ErrDuplicateUsage.
func (q discountQueries) InsertUsage(ctx context.Context, rec discount.UsageRecord) error {
	_, err := q.db.Exec(ctx, insertUsageSQL,
		rec.CodeID, rec.Email, rec.OrderID, rec.Subtotal, rec.DiscountApplied, rec.RedeemedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return discount.ErrDuplicateUsage
		}
		return fmt.Errorf("inserting usage for order %q: %w", rec.OrderID, err)
	}
	return nil
}

func scanCode(row pgx.CollectableRow) (*discount.Code, error) {
	var (
		c                          discount.Code
		maxUsageTotal, maxPerEmail *int32
		priority                   int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &c.Active, &c.StartsAt, &c.ExpiresAt,
		&c.MinOrderAmount, &c.MaxDiscountAmount, &maxUsageTotal, &maxPerEmail,
		&c.FirstOrderOnly, &c.Stackable, &priority,
	)
	c.MaxUsageTotal = intPtr(maxUsageTotal)
	c.MaxUsagePerEmail = intPtr(maxPerEmail)
	c.Priority = int(priority)
	return &c, err
}

func scanRuleSpec(row pgx.CollectableRow) (discount.RuleSpec, error) {
	var (
		s                    discount.RuleSpec
		typ                  string
		buyQty, getQty, prio *int32
	)
	err := row.Scan(
		&s.ID, &typ, &s.Value, &s.MaxDiscount, &s.BuySKU, &buyQty,
		&s.GetSKU, &getQty, &s.GetDiscountPct, &s.MinOrderAmount, &prio,
	)
	s.Type = discount.RuleType(typ)
	s.BuyQuantity = intPtr(buyQty)
	s.GetQuantity = intPtr(getQty)
	if prio != nil {
		s.Priority = int(*prio)
	}
	return s, err
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

// CodeSeed is a catalog code as written by the seeding and import tools.
type CodeSeed struct {
	Code              string
	Name              string
	Description       string
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	MinOrderAmount    *int64
	MaxDiscountAmount *int64
	MaxUsageTotal     *int
	MaxUsagePerEmail  *int
	FirstOrderOnly    bool
	Stackable         bool
	Priority          int
	Rules             []discount.RuleSpec
	Restrictions      []discount.Restriction
}

const (
	upsertCodeSQL = `INSERT INTO discount_codes
		(code, name, description, starts_at, expires_at, min_order_amount, max_discount_amount,
		 max_usage_total, max_usage_per_email, first_order_only, stackable, priority)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (UPPER(code)) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			starts_at = EXCLUDED.starts_at, expires_at = EXCLUDED.expires_at,
			min_order_amount = EXCLUDED.min_order_amount, max_discount_amount = EXCLUDED.max_discount_amount,
			max_usage_total = EXCLUDED.max_usage_total, max_usage_per_email = EXCLUDED.max_usage_per_email,
			first_order_only = EXCLUDED.first_order_only, stackable = EXCLUDED.stackable,
			priority = EXCLUDED.priority, active = TRUE
		RETURNING id`

	deleteRulesSQL        = `DELETE FROM discount_rules WHERE discount_code_id = $1`
	deleteRestrictionsSQL = `DELETE FROM discount_restrictions WHERE discount_code_id = $1`

	insertRuleSQL = `INSERT INTO discount_rules
		(discount_code_id, position, type, value, max_discount, buy_product_sku, buy_quantity,
		 get_product_sku, get_quantity, get_discount_pct, min_order_amount, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertRestrictionSQL = `INSERT INTO discount_restrictions (discount_code_id, type, value, include)
		VALUES ($1, $2, $3, $4)`
)

// UpsertCode creates or replaces a catalog code together with its rules and
// restrictions. Rules are validated with discount.DecodeRule first.
func (s *DiscountStore) UpsertCode(ctx context.Context, seed CodeSeed) error {
	for _, spec := range seed.Rules {
		if _, err := discount.DecodeRule(spec); err != nil {
			return fmt.Errorf("code %q: %w", seed.Code, err)
		}
	}

	return execTx(ctx, s.pool, s.retry, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, upsertCodeSQL,
			seed.Code, seed.Name, seed.Description, seed.StartsAt, seed.ExpiresAt,
			seed.MinOrderAmount, seed.MaxDiscountAmount, seed.MaxUsageTotal, seed.MaxUsagePerEmail,
			seed.FirstOrderOnly, seed.Stackable, seed.Priority,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("upserting code %q: %w", seed.Code, err)
		}

		if _, err := tx.Exec(ctx, deleteRulesSQL, id); err != nil {
			return fmt.Errorf("clearing rules of %q: %w", seed.Code, err)
		}
		if _, err := tx.Exec(ctx, deleteRestrictionsSQL, id); err != nil {
			return fmt.Errorf("clearing restrictions of %q: %w", seed.Code, err)
		}

		batch := &pgx.Batch{}
		for i, r := range seed.Rules {
			batch.Queue(insertRuleSQL,
				id, i, string(r.Type), r.Value, r.MaxDiscount, r.BuySKU, r.BuyQuantity,
				r.GetSKU, r.GetQuantity, r.GetDiscountPct, r.MinOrderAmount, r.Priority,
			)
		}
		for _, r := range seed.Restrictions {
			batch.Queue(insertRestrictionSQL, id, string(r.Type), r.Value, r.Include)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting rules of %q: %w", seed.Code, err)
		}
		return nil
	})
}
