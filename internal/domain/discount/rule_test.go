package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestRuleApply(t *testing.T) {
	tests := []struct {
		name      string
		rule      Rule
		cart      Cart
		wantOK    bool
		wantAmt   int64
		wantShip  bool
		wantUnits int
	}{
		{
			name:    "percentage capped by max discount",
			rule:    PercentageRule{Value: pct(10), MaxDiscount: ptr[int64](1000)},
			cart:    Cart{Items: []Item{{SKU: "A", Quantity: 1, UnitPrice: 12000}}},
			wantOK:  true,
			wantAmt: 1000,
		},
		{
			name:    "percentage floors fractional cents",
			rule:    PercentageRule{Value: pct(15)},
			cart:    Cart{Items: []Item{{SKU: "A", Quantity: 1, UnitPrice: 999}}},
			wantOK:  true,
			wantAmt: 149,
		},
		{
			name:    "fractional percentage",
			rule:    PercentageRule{Value: decimal.RequireFromString("12.5")},
			cart:    Cart{Items: []Item{{SKU: "A", Quantity: 2, UnitPrice: 1000}}},
			wantOK:  true,
			wantAmt: 250,
		},
		{
			name:    "fixed amount under subtotal",
			rule:    FixedAmountRule{Value: 500},
			cart:    Cart{Items: []Item{{SKU: "A", Quantity: 1, UnitPrice: 2000}}},
			wantOK:  true,
			wantAmt: 500,
		},
		{
			name:    "fixed amount clamped to subtotal",
			rule:    FixedAmountRule{Value: 5000},
			cart:    Cart{Items: []Item{{SKU: "A", Quantity: 1, UnitPrice: 1200}}},
			wantOK:  true,
			wantAmt: 1200,
		},
		{
			name:     "free shipping contributes no amount",
			rule:     FreeShippingRule{},
			cart:     Cart{Items: []Item{{SKU: "A", Quantity: 1, UnitPrice: 1200}}},
			wantOK:   true,
			wantShip: true,
		},
		{
			name: "bogo one group",
			rule: BogoRule{BuySKU: "X", BuyQuantity: 2, GetSKU: "Y", GetQuantity: 1, GetDiscountPct: pct(100)},
			cart: Cart{Items: []Item{
				{SKU: "X", Quantity: 2, UnitPrice: 1000},
				{SKU: "Y", Quantity: 1, UnitPrice: 300},
			}},
			wantOK:    true,
			wantAmt:   300,
			wantUnits: 1,
		},
		{
			name: "bogo bounded by get stock not groups",
			rule: BogoRule{BuySKU: "X", BuyQuantity: 2, GetSKU: "Y", GetQuantity: 1, GetDiscountPct: pct(100)},
			cart: Cart{Items: []Item{
				{SKU: "X", Quantity: 4, UnitPrice: 1000},
				{SKU: "Y", Quantity: 1, UnitPrice: 300},
			}},
			wantOK:    true,
			wantAmt:   300,
			wantUnits: 1,
		},
		{
			name: "bogo half off",
			rule: BogoRule{BuySKU: "X", BuyQuantity: 1, GetSKU: "Y", GetQuantity: 1, GetDiscountPct: pct(50)},
			cart: Cart{Items: []Item{
				{SKU: "X", Quantity: 3, UnitPrice: 1000},
				{SKU: "Y", Quantity: 2, UnitPrice: 301},
			}},
			wantOK:    true,
			wantAmt:   301,
			wantUnits: 2,
		},
		{
			name: "bogo zero percent is a legal no-op",
			rule: BogoRule{BuySKU: "X", BuyQuantity: 1, GetSKU: "Y", GetQuantity: 1, GetDiscountPct: decimal.Zero},
			cart: Cart{Items: []Item{
				{SKU: "X", Quantity: 1, UnitPrice: 1000},
				{SKU: "Y", Quantity: 1, UnitPrice: 300},
			}},
			wantOK:    true,
			wantAmt:   0,
			wantUnits: 1,
		},
		{
			name: "bogo get sku absent",
			rule: BogoRule{BuySKU: "X", BuyQuantity: 2, GetSKU: "Y", GetQuantity: 1, GetDiscountPct: pct(100)},
			cart: Cart{Items: []Item{{SKU: "X", Quantity: 2, UnitPrice: 1000}}},
		},
		{
			name: "bogo not enough buy units",
			rule: BogoRule{BuySKU: "X", BuyQuantity: 2, GetSKU: "Y", GetQuantity: 1, GetDiscountPct: pct(100)},
			cart: Cart{Items: []Item{
				{SKU: "X", Quantity: 1, UnitPrice: 1000},
				{SKU: "Y", Quantity: 1, UnitPrice: 300},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rule.Apply(tt.cart, tt.cart.Subtotal())
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantAmt, got.Amount)
			assert.Equal(t, tt.wantShip, got.FreeShipping)
			assert.Equal(t, tt.rule.Type(), got.Type)
			if tt.wantUnits > 0 {
				require.NotNil(t, got.FreeItem)
				assert.Equal(t, tt.wantUnits, got.FreeItem.Quantity)
			}
			if p, isPct := tt.rule.(PercentageRule); isPct {
				assert.True(t, p.Value.Equal(got.Percent))
				assert.Equal(t, p.MaxDiscount, got.MaxDiscount)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	cart := Cart{Items: []Item{
		{SKU: "X", Quantity: 2, UnitPrice: 1000},
		{SKU: "Y", Quantity: 1, UnitPrice: 300},
	}}

	t.Run("rules sum and set free shipping", func(t *testing.T) {
		c := &Code{Rules: []Rule{
			FixedAmountRule{RuleBase: RuleBase{ID: "fixed"}, Value: 200},
			FreeShippingRule{RuleBase: RuleBase{ID: "ship"}},
			PercentageRule{RuleBase: RuleBase{ID: "pct", Priority: 5}, Value: pct(10)},
		}}
		ev := Evaluate(c, cart)
		assert.Equal(t, int64(430), ev.Amount)
		assert.True(t, ev.FreeShipping)
		require.Len(t, ev.Contributions, 3)
		assert.Equal(t, "pct", ev.Contributions[0].RuleID, "higher priority first")
	})

	t.Run("rule minimum skips rule", func(t *testing.T) {
		c := &Code{Rules: []Rule{
			PercentageRule{RuleBase: RuleBase{MinOrderAmount: ptr[int64](10000)}, Value: pct(20)},
			PercentageRule{Value: pct(10)},
		}}
		ev := Evaluate(c, cart)
		assert.Equal(t, int64(230), ev.Amount)
		assert.Len(t, ev.Contributions, 1)
	})

	t.Run("global cap", func(t *testing.T) {
		c := &Code{
			MaxDiscountAmount: ptr[int64](100),
			Rules:             []Rule{PercentageRule{Value: pct(50)}},
		}
		assert.Equal(t, int64(100), Evaluate(c, cart).Amount)
	})

	t.Run("sum clamped to subtotal", func(t *testing.T) {
		c := &Code{Rules: []Rule{
			FixedAmountRule{Value: 2000},
			FixedAmountRule{Value: 2000},
		}}
		assert.Equal(t, cart.Subtotal(), Evaluate(c, cart).Amount)
	})

	t.Run("no rules", func(t *testing.T) {
		ev := Evaluate(&Code{}, cart)
		assert.False(t, ev.Applies())
		assert.Zero(t, ev.Amount)
	})
}

func TestEvaluate_AmountWithinSubtotal(t *testing.T) {
	rules := []Rule{
		PercentageRule{Value: pct(100)},
		FixedAmountRule{Value: 99999},
		BogoRule{BuySKU: "X", BuyQuantity: 1, GetSKU: "X", GetQuantity: 5, GetDiscountPct: pct(100)},
	}
	for _, sub := range []int64{0, 1, 99, 1000, 123456} {
		cart := Cart{Items: []Item{{SKU: "X", Quantity: 1, UnitPrice: sub}}}
		ev := Evaluate(&Code{Rules: rules}, cart)
		assert.GreaterOrEqual(t, ev.Amount, int64(0))
		assert.LessOrEqual(t, ev.Amount, cart.Subtotal())
	}
}

func TestDecodeRule(t *testing.T) {
	tests := []struct {
		name    string
		spec    RuleSpec
		want    Rule
		wantErr bool
	}{
		{
			name: "percentage",
			spec: RuleSpec{ID: "r1", Type: RulePercentage, Value: ptr(pct(10)), MaxDiscount: ptr[int64](1000)},
			want: PercentageRule{RuleBase: RuleBase{ID: "r1"}, Value: pct(10), MaxDiscount: ptr[int64](1000)},
		},
		{
			name:    "percentage without value",
			spec:    RuleSpec{ID: "r1", Type: RulePercentage},
			wantErr: true,
		},
		{
			name:    "percentage above 100",
			spec:    RuleSpec{ID: "r1", Type: RulePercentage, Value: ptr(pct(150))},
			wantErr: true,
		},
		{
			name: "fixed",
			spec: RuleSpec{ID: "r2", Type: RuleFixedAmount, Value: ptr(pct(500)), Priority: 3},
			want: FixedAmountRule{RuleBase: RuleBase{ID: "r2", Priority: 3}, Value: 500},
		},
		{
			name: "bogo defaults percent to 100",
			spec: RuleSpec{
				ID: "r3", Type: RuleBogo,
				BuySKU: ptr("X"), BuyQuantity: ptr(2), GetSKU: ptr("Y"), GetQuantity: ptr(1),
			},
			want: BogoRule{
				RuleBase: RuleBase{ID: "r3"},
				BuySKU:   "X", BuyQuantity: 2, GetSKU: "Y", GetQuantity: 1,
				GetDiscountPct: pct(100),
			},
		},
		{
			name:    "bogo missing get sku",
			spec:    RuleSpec{ID: "r3", Type: RuleBogo, BuySKU: ptr("X"), BuyQuantity: ptr(2), GetQuantity: ptr(1)},
			wantErr: true,
		},
		{
			name:    "unknown type",
			spec:    RuleSpec{ID: "r4", Type: "TIERED"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRule(tt.spec)
			if tt.wantErr {
				var ruleErr *InvalidRuleError
				require.ErrorAs(t, err, &ruleErr)
				assert.Equal(t, tt.spec.ID, ruleErr.RuleID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
