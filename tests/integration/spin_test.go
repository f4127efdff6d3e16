//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

type spinRequest struct {
	Email   string `json:"email"`
	PrizeID string `json:"prizeId,omitempty"`
}

func TestSpin_DrawOncePerEmail(t *testing.T) {
	email := fmt.Sprintf("spinner-%d@example.com", time.Now().UnixNano())

	resp := doPost(t, "/api/spin", spinRequest{Email: email})
	first := decodeJSON[spinResponse](t, resp)
	resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(first.Code, "SPIN-") {
		t.Fatalf("expected SPIN- code, got %q", first.Code)
	}
	if first.Prize.ID == "" {
		t.Fatal("expected a prize")
	}
	if first.AlreadySpun {
		t.Fatal("expected a fresh spin")
	}

	resp = doPost(t, "/api/spin", spinRequest{Email: strings.ToUpper(email)})
	second := decodeJSON[spinResponse](t, resp)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on re-spin, got %d", resp.StatusCode)
	}
	if !second.AlreadySpun {
		t.Fatal("expected alreadySpun on re-spin")
	}
	if second.Code != first.Code || second.Prize.ID != first.Prize.ID {
		t.Fatalf("expected the original outcome %s/%s, got %s/%s",
			first.Code, first.Prize.ID, second.Code, second.Prize.ID)
	}
}

func TestSpin_ClientPrizeRejected(t *testing.T) {
	resp := doPost(t, "/api/spin", spinRequest{Email: "cheater@example.com", PrizeID: "jackpot"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSpin_Lookup(t *testing.T) {
	email := fmt.Sprintf("lookup-%d@example.com", time.Now().UnixNano())

	resp := doPost(t, "/api/spin", spinRequest{Email: email})
	drawn := decodeJSON[spinResponse](t, resp)
	resp.Body.Close()

	resp = doGet(t, "/api/spin/"+drawn.Code)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got := decodeJSON[spinResponse](t, resp)
	if got.Code != drawn.Code || got.Prize.ID != drawn.Prize.ID {
		t.Fatalf("expected %s/%s, got %s/%s", drawn.Code, drawn.Prize.ID, got.Code, got.Prize.ID)
	}
	if got.Used {
		t.Fatal("expected unused entry")
	}
	if got.Email != "" {
		t.Fatalf("expected lookup to omit email, got %q", got.Email)
	}
}

func TestSpin_LookupUnknown(t *testing.T) {
	resp := doGet(t, "/api/spin/SPIN-NOTREAL")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSpin_RedeemSingleUse(t *testing.T) {
	email := fmt.Sprintf("redeem-spin-%d@example.com", time.Now().UnixNano())

	resp := doPost(t, "/api/spin", spinRequest{Email: email})
	drawn := decodeJSON[spinResponse](t, resp)
	resp.Body.Close()

	// A cart that satisfies every prize: the bonus and sauce prizes need
	// matching lines.
	cart := []cartItem{
		{SKU: "TACO", Quantity: 4, UnitPrice: 3000},
		{SKU: "HEB-GREEN-SAUCE", Quantity: 1, UnitPrice: 1200},
		{SKU: "TORTILLAS", Quantity: 1, UnitPrice: 500},
	}
	req := discountRequest{
		Code:    drawn.Code,
		Email:   email,
		OrderID: fmt.Sprintf("order-spin-%d", time.Now().UnixNano()),
		Items:   cart,
	}

	resp = doPost(t, "/api/discounts/validate", req)
	validated := decodeJSON[decisionResponse](t, resp)
	resp.Body.Close()

	if validated.Namespace != "spin" {
		t.Fatalf("expected spin namespace, got %q", validated.Namespace)
	}
	if !validated.Valid {
		t.Skipf("prize %s not applicable to the test cart: %s", drawn.Prize.ID, validated.Reason)
	}

	resp = doPostWithAuth(t, "/api/discounts/redeem", req, testAPIKey)
	first := decodeJSON[decisionResponse](t, resp)
	resp.Body.Close()
	if !first.Valid {
		t.Fatalf("expected redemption to succeed, got %q", first.Reason)
	}

	req.OrderID += "-again"
	resp = doPostWithAuth(t, "/api/discounts/redeem", req, testAPIKey)
	second := decodeJSON[decisionResponse](t, resp)
	resp.Body.Close()
	if second.Valid {
		t.Fatal("expected second redemption of a spin code to be rejected")
	}
	if second.Reason != "ALREADY_USED" {
		t.Fatalf("expected ALREADY_USED, got %q", second.Reason)
	}
}
