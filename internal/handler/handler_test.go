package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/feedback"
	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/domain/spin"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakePromos struct {
	gotReq     promo.Request
	gotCodes   []string
	gotOrderID string

	decision   promo.Decision
	selection  promo.Selection
	redemption promo.Redemption
	stats      *discount.UsageStats
	err        error
}

func (f *fakePromos) Validate(_ context.Context, req promo.Request) (promo.Decision, error) {
	f.gotReq = req
	return f.decision, f.err
}

func (f *fakePromos) ValidateAll(_ context.Context, codes []string, req promo.Request) (promo.Selection, error) {
	f.gotCodes, f.gotReq = codes, req
	return f.selection, f.err
}

func (f *fakePromos) Redeem(_ context.Context, req promo.Request, orderID string) (promo.Redemption, error) {
	f.gotReq, f.gotOrderID = req, orderID
	return f.redemption, f.err
}

func (f *fakePromos) UsageStats(_ context.Context, code string) (*discount.UsageStats, error) {
	f.gotReq.Code = code
	return f.stats, f.err
}

type fakeSpins struct {
	result *spin.DrawResult
	err    error
	email  string
}

func (f *fakeSpins) Draw(_ context.Context, email string) (*spin.DrawResult, error) {
	f.email = email
	return f.result, f.err
}

func (f *fakeSpins) Lookup(context.Context, string) (*spin.DrawResult, error) {
	return f.result, f.err
}

type fakeFeedback struct {
	coupon *feedback.Coupon
	err    error
}

func (f *fakeFeedback) Issue(_ context.Context, orderID, email string, rating int) (*feedback.Coupon, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := *f.coupon
	c.OrderID, c.Email, c.Rating = orderID, email, &rating
	return &c, nil
}

type keyRepo map[string]*auth.Key

func (r keyRepo) FindByHash(_ context.Context, hash string) (*auth.Key, error) {
	k, ok := r[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return k, nil
}

type fixture struct {
	promos   *fakePromos
	spins    *fakeSpins
	feedback *fakeFeedback
	router   *chi.Mux
}

func newFixture() *fixture {
	authn := auth.NewAuthenticator(nil, []byte("pepper"))
	repo := keyRepo{}
	for raw, scopes := range map[string][]string{
		"checkout-key": {auth.ScopeRedeem},
		"feedback-key": {auth.ScopeFeedback},
		"admin-key":    {auth.ScopeAdmin},
	} {
		repo[authn.Hash(raw)] = &auth.Key{ID: raw, Name: raw, Hash: authn.Hash(raw), Scopes: scopes}
	}

	f := &fixture{
		promos:   &fakePromos{},
		spins:    &fakeSpins{},
		feedback: &fakeFeedback{},
		router:   chi.NewRouter(),
	}
	New(f.promos, f.spins, f.feedback, auth.NewAuthenticator(repo, []byte("pepper"))).Mount(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path, key, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

const cartJSON = `"items":[{"sku":"TACO","quantity":4,"unitPrice":3000}]`

func TestValidate(t *testing.T) {
	f := newFixture()
	f.promos.decision = promo.Decision{
		Valid:     true,
		Code:      "WELCOME10",
		Namespace: promo.NamespaceCatalog,
		Type:      promo.TypePercentage,
		Amount:    1000,
		Name:      "Welcome",
		Priority:  1,
		Rules: []discount.Contribution{
			{RuleID: "r1", Type: discount.RuleType("percentage"), Amount: 1000},
		},
	}

	code, body := f.do(t, http.MethodPost, "/api/discounts/validate", "",
		`{"code":" welcome10 ","email":"a@b.co",`+cartJSON+`,"extra":{"x":1}}`)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, promo.Request{
		Code:  " welcome10 ",
		Email: "a@b.co",
		Cart:  discount.Cart{Items: []discount.Item{{SKU: "TACO", Quantity: 4, UnitPrice: 3000}}},
	}, f.promos.gotReq)

	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "catalog", body["namespace"])
	assert.EqualValues(t, 1000, body["amount"])
	assert.Equal(t, "$10.00 off", body["summary"])
	assert.NotContains(t, body, "reason")
	rules, ok := body["rules"].([]any)
	require.True(t, ok)
	assert.Len(t, rules, 1)
}

func TestValidate_Rejected(t *testing.T) {
	f := newFixture()
	f.promos.decision = promo.Decision{
		Code:      "OLD",
		Namespace: promo.NamespaceCatalog,
		Reason:    discount.ReasonExpired,
		Message:   discount.CustomerMessage(discount.ReasonExpired, 0),
	}

	code, body := f.do(t, http.MethodPost, "/api/discounts/validate", "", `{"code":"OLD",`+cartJSON+`}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "EXPIRED", body["reason"])
	assert.NotContains(t, body, "amount")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"EmptyBody", "", nil, http.StatusBadRequest, ""},
		{"Malformed", `{"code":`, nil, http.StatusBadRequest, ""},
		{"WrongType", `{"items":[{"quantity":"four"}]}`, nil, http.StatusBadRequest, ""},
		{"InvalidCart", `{"code":"X"}`, errors.Wrap(promo.ErrInvalidCart, `line "TACO"`), http.StatusBadRequest, ""},
		{"InvalidRequest", `{"code":"X","priorCompletedOrderCount":-1}`, errors.Wrap(promo.ErrInvalidRequest, "prior orders"), http.StatusBadRequest, ""},
		{"PriorOrdersType", `{"code":"X","priorCompletedOrderCount":"two"}`, nil, http.StatusBadRequest, ""},
		{"Fault", `{"code":"X"}`, errors.New("db down"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.promos.err = tt.err
			code, body := f.do(t, http.MethodPost, "/api/discounts/validate", "", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.EqualValues(t, tt.wantCode, body["code"])
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
		})
	}
}

func TestValidateCallerContext(t *testing.T) {
	ptr := func(n int) *int { return &n }
	ptr64 := func(n int64) *int64 { return &n }
	tests := []struct {
		name      string
		extra     string
		wantPrior *int
		wantMax   *int64
	}{
		{"Absent", ``, nil, nil},
		{"Null", `"priorCompletedOrderCount":null,"maxAmount":null,`, nil, nil},
		{"PriorOrders", `"priorCompletedOrderCount":2,`, ptr(2), nil},
		{"FirstOrder", `"priorCompletedOrderCount":0,`, ptr(0), nil},
		{"MaxAmount", `"maxAmount":500,`, nil, ptr64(500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.promos.decision = promo.Decision{Valid: true, Code: "FIRSTORDER", FreeShipping: true}
			code, _ := f.do(t, http.MethodPost, "/api/discounts/validate", "",
				`{"code":"FIRSTORDER","email":"a@b.co",`+tt.extra+cartJSON+`}`)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.wantPrior, f.promos.gotReq.PriorOrders)
			assert.Equal(t, tt.wantMax, f.promos.gotReq.MaxAmount)
		})
	}
}

func TestValidateAll(t *testing.T) {
	f := newFixture()
	f.promos.selection = promo.Selection{
		Decisions: []promo.Decision{
			{Valid: true, Applied: true, Code: "FIVEOFF", Namespace: promo.NamespaceCatalog, Type: promo.TypeFixedAmount, Amount: 500},
			{Code: "WELCOME10", Namespace: promo.NamespaceCatalog, Reason: discount.ReasonSuperseded},
		},
		Total: 500,
	}

	code, body := f.do(t, http.MethodPost, "/api/discounts/validate-all", "",
		`{"codes":["FIVEOFF","WELCOME10"],`+cartJSON+`}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"FIVEOFF", "WELCOME10"}, f.promos.gotCodes)
	assert.EqualValues(t, 500, body["total"])

	decisions := body["decisions"].([]any)
	require.Len(t, decisions, 2)
	assert.Equal(t, true, decisions[0].(map[string]any)["applied"])
	assert.Equal(t, "SUPERSEDED", decisions[1].(map[string]any)["reason"])
}

func TestRedeem(t *testing.T) {
	f := newFixture()
	f.promos.redemption = promo.Redemption{
		Decision: promo.Decision{
			Valid: true, Code: "SPIN-FREESAUCE-CCCC3333", Namespace: promo.NamespaceSpin,
			Type: promo.TypeProduct, Amount: 1200, GrantedSKU: "HEB-GREEN-SAUCE", GrantedQuantity: 1,
		},
		OrderID:    "ord-1",
		RedeemedAt: testNow,
	}
	const payload = `{"code":"SPIN-FREESAUCE-CCCC3333","orderId":"ord-1",` + cartJSON + `}`

	t.Run("NoKey", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPost, "/api/discounts/redeem", "", payload)
		assert.Equal(t, http.StatusUnauthorized, code)
	})
	t.Run("UnknownKey", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPost, "/api/discounts/redeem", "nope", payload)
		assert.Equal(t, http.StatusUnauthorized, code)
	})
	t.Run("WrongScope", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPost, "/api/discounts/redeem", "feedback-key", payload)
		assert.Equal(t, http.StatusForbidden, code)
	})
	for _, key := range []string{"checkout-key", "admin-key"} {
		t.Run(key, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, "/api/discounts/redeem", key, payload)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, "ord-1", f.promos.gotOrderID)
			assert.Equal(t, "ord-1", body["orderId"])
			assert.Equal(t, "2025-06-15T12:00:00Z", body["redeemedAt"])
			assert.Equal(t, "HEB-GREEN-SAUCE", body["grantedSku"])
			assert.Equal(t, "$12.00 off + 1 x HEB-GREEN-SAUCE free", body["summary"])
		})
	}
	t.Run("MaxAmount", func(t *testing.T) {
		code, _ := f.do(t, http.MethodPost, "/api/discounts/redeem", "checkout-key",
			`{"code":"STACK1","orderId":"ord-2","maxAmount":4000,`+cartJSON+`}`)
		require.Equal(t, http.StatusOK, code)
		require.NotNil(t, f.promos.gotReq.MaxAmount)
		assert.EqualValues(t, 4000, *f.promos.gotReq.MaxAmount)
	})
	t.Run("OrderRequired", func(t *testing.T) {
		f.promos.err = promo.ErrOrderRequired
		defer func() { f.promos.err = nil }()
		code, body := f.do(t, http.MethodPost, "/api/discounts/redeem", "checkout-key", `{"code":"X"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "order id is required", body["message"])
	})
}

func TestUsageStats(t *testing.T) {
	f := newFixture()
	last := testNow
	f.promos.stats = &discount.UsageStats{Code: "WELCOME10", Redemptions: 3, DistinctEmails: 2, TotalDiscount: 2500, LastRedeemedAt: &last}

	code, body := f.do(t, http.MethodGet, "/api/admin/discounts/welcome10/usage", "admin-key", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "welcome10", f.promos.gotReq.Code)
	assert.EqualValues(t, 3, body["redemptions"])
	assert.EqualValues(t, 2500, body["totalDiscount"])

	code, _ = f.do(t, http.MethodGet, "/api/admin/discounts/welcome10/usage", "checkout-key", "")
	assert.Equal(t, http.StatusForbidden, code)

	f.promos.err = discount.ErrCodeNotFound
	code, _ = f.do(t, http.MethodGet, "/api/admin/discounts/nope/usage", "admin-key", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDraw(t *testing.T) {
	entry := &spin.Entry{
		Email:     "a@b.co",
		Prize:     spin.PrizeFiveOff.ID,
		Code:      "SPIN-FIVEOFF-AAAA1111",
		ExpiresAt: testNow.Add(15 * time.Minute),
	}
	tests := []struct {
		name     string
		result   *spin.DrawResult
		err      error
		body     string
		wantCode int
	}{
		{"New", &spin.DrawResult{Entry: entry, Prize: spin.PrizeFiveOff}, nil, `{"email":"a@b.co"}`, http.StatusCreated},
		{"AlreadySpun", &spin.DrawResult{Entry: entry, Prize: spin.PrizeFiveOff, AlreadySpun: true}, nil, `{"email":"a@b.co"}`, http.StatusOK},
		{"ClientPrize", nil, nil, `{"email":"a@b.co","clientPrizeId":"jackpot"}`, http.StatusBadRequest},
		{"NoEmail", nil, spin.ErrEmailRequired, `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.spins.result, f.spins.err = tt.result, tt.err
			code, body := f.do(t, http.MethodPost, "/api/spin", "", tt.body)
			require.Equal(t, tt.wantCode, code)
			if tt.result != nil {
				assert.Equal(t, entry.Code, body["code"])
				assert.Equal(t, entry.Email, body["email"])
				assert.Equal(t, "$5 OFF", body["prize"].(map[string]any)["name"])
				assert.Equal(t, tt.result.AlreadySpun, body["alreadySpun"])
			}
		})
	}
}

func TestLookupSpin(t *testing.T) {
	f := newFixture()
	f.spins.err = spin.ErrEntryNotFound
	code, _ := f.do(t, http.MethodGet, "/api/spin/SPIN-NOPE-00000000", "", "")
	assert.Equal(t, http.StatusNotFound, code)

	f.spins.err = nil
	f.spins.result = &spin.DrawResult{
		Entry:   &spin.Entry{Email: "owner@example.com", Code: "SPIN-FIVEOFF-AAAA1111", ExpiresAt: testNow},
		Prize:   spin.PrizeFiveOff,
		Used:    true,
		Message: "You already used your spin reward!",
	}
	code, body := f.do(t, http.MethodGet, "/api/spin/SPIN-FIVEOFF-AAAA1111", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["used"])
	assert.Equal(t, "You already used your spin reward!", body["message"])
	assert.Equal(t, "SPIN-FIVEOFF-AAAA1111", body["code"])
	assert.NotContains(t, body, "email")
}

func TestIssueFeedbackCoupon(t *testing.T) {
	f := newFixture()
	f.feedback.coupon = &feedback.Coupon{Code: "THANKS-ABCDEF", ExpiresAt: testNow.Add(feedback.DefaultTTL)}

	code, body := f.do(t, http.MethodPost, "/api/feedback/coupons", "feedback-key",
		`{"orderId":"ord-9","email":"a@b.co","rating":5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "THANKS-ABCDEF", body["code"])
	assert.Equal(t, "ord-9", body["orderId"])
	assert.EqualValues(t, 10, body["percent"])

	f.feedback.err = feedback.ErrInvalidRating
	code, _ = f.do(t, http.MethodPost, "/api/feedback/coupons", "feedback-key", `{"orderId":"ord-9","rating":9}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/feedback/coupons", "checkout-key", `{"orderId":"ord-9","rating":5}`)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestNotFound(t *testing.T) {
	f := newFixture()
	code, body := f.do(t, http.MethodGet, "/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not found", body["message"])
}
