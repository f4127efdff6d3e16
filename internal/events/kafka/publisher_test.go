package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		event promo.Event
		want  string
	}{
		{
			name: "Catalog",
			event: promo.Event{
				Code:       "WELCOME10",
				Namespace:  promo.NamespaceCatalog,
				Type:       promo.TypePercentage,
				OrderID:    "ord-1",
				Email:      "a@b.co",
				Subtotal:   12000,
				Amount:     1000,
				RedeemedAt: time.Date(2025, 6, 15, 12, 0, 0, 0, time.FixedZone("CDT", -5*3600)),
			},
			want: `{"code":"WELCOME10","namespace":"catalog","type":"percentage","orderId":"ord-1",
				"email":"a@b.co","subtotal":12000,"amount":1000,"freeShipping":false,
				"redeemedAt":"2025-06-15T17:00:00Z"}`,
		},
		{
			name: "AnonymousSpin",
			event: promo.Event{
				Code:         "SPIN-FREESHIPPING-0A1B2C3D",
				Namespace:    promo.NamespaceSpin,
				Type:         promo.TypeFreeShipping,
				OrderID:      "ord-2",
				Subtotal:     4500,
				FreeShipping: true,
				RedeemedAt:   time.Date(2025, 6, 15, 12, 0, 0, 500, time.UTC),
			},
			want: `{"code":"SPIN-FREESHIPPING-0A1B2C3D","namespace":"spin","type":"free_shipping",
				"orderId":"ord-2","subtotal":4500,"amount":0,"freeShipping":true,
				"redeemedAt":"2025-06-15T12:00:00.0000005Z"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(Encode(tt.event)))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Topic: "promo.redemptions"})
	require.Error(t, err)

	_, err = New(Config{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
}
