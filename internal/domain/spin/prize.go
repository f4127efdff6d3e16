// Package spin implements the prize wheel: a weighted draw over a fixed
// prize table and the per-email entries that carry the won code.
package spin

import (
	"math/rand/v2"

	"github.com/go-faster/errors"
)

// Kind describes what a prize grants.
type Kind string

const (
	KindFixed        Kind = "fixed"
	KindPercentage   Kind = "percentage"
	KindFreeShipping Kind = "free_shipping"
	KindProduct      Kind = "product"
	KindBonus        Kind = "bonus"
)

// Prize is one slice of the wheel.
type Prize struct {
	ID          string
	Name        string
	Description string
	Weight      int
	Kind        Kind

	// Amount is the fixed discount for KindFixed, or the retail value of
	// the grant for KindProduct and KindBonus.
	Amount int64
	// Percent and MaxDiscount apply to KindPercentage. MaxDiscount 0 means
	// uncapped.
	Percent     int64
	MaxDiscount int64
	// SKU and Quantity describe what KindProduct and KindBonus add.
	SKU      string
	Quantity int
}

// Table is an ordered prize list. Draw accumulates weights in this order.
type Table []Prize

var (
	PrizeTenPercent = Prize{
		ID: "ten_percent", Name: "10% OFF", Description: "10% off your order (up to $10 max)!",
		Weight: 5, Kind: KindPercentage, Percent: 10, MaxDiscount: 1000,
	}
	PrizeFreeSauce = Prize{
		ID: "free_sauce", Name: "Free Green Sauce", Description: "H-E-B That Green Sauce added to your order!",
		Weight: 8, Kind: KindProduct, SKU: "HEB-GREEN-SAUCE", Quantity: 1, Amount: 1200,
	}
	PrizeFreeShipping = Prize{
		ID: "free_shipping", Name: "FREE Shipping", Description: "Free shipping on this order!",
		Weight: 22, Kind: KindFreeShipping,
	}
	PrizeBonusTortillas = Prize{
		ID: "bonus_tortillas", Name: "10 Bonus Tortillas", Description: "10 extra tortillas added FREE!",
		Weight: 25, Kind: KindBonus, Quantity: 10, Amount: 500,
	}
	PrizeFiveOff = Prize{
		ID: "five_off", Name: "$5 OFF", Description: "$5 off your order!",
		Weight: 40, Kind: KindFixed, Amount: 500,
	}
	PrizeJackpot = Prize{
		ID: "jackpot", Name: "JACKPOT", Description: "Jackpot: 25% off your order!",
		Weight: 2, Kind: KindPercentage, Percent: 25,
	}
)

// DefaultTable is the production wheel.
var DefaultTable = Table{
	PrizeTenPercent,
	PrizeFreeSauce,
	PrizeFreeShipping,
	PrizeBonusTortillas,
	PrizeFiveOff,
}

// known lists every prize an entry may reference, including retired ones.
var known = map[string]Prize{
	PrizeTenPercent.ID:     PrizeTenPercent,
	PrizeFreeSauce.ID:      PrizeFreeSauce,
	PrizeFreeShipping.ID:   PrizeFreeShipping,
	PrizeBonusTortillas.ID: PrizeBonusTortillas,
	PrizeFiveOff.ID:        PrizeFiveOff,
	PrizeJackpot.ID:        PrizeJackpot,
}

// LookupPrize resolves a stored prize id.
func LookupPrize(id string) (Prize, bool) {
	p, ok := known[id]
	return p, ok
}

// Validate checks that t is non-empty and its weights sum to 100.
func (t Table) Validate() error {
	if len(t) == 0 {
		return errors.New("empty prize table")
	}
	sum := 0
	for _, p := range t {
		if p.Weight < 0 {
			return errors.Errorf("prize %s has negative weight", p.ID)
		}
		sum += p.Weight
	}
	if sum != 100 {
		return errors.Errorf("prize weights sum to %d, want 100", sum)
	}
	return nil
}

// Source yields uniform floats in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Draw picks a prize with probability proportional to its weight. It never
// fails: if rounding leaves the roll unmatched the last prize is returned.
func (t Table) Draw(src Source) Prize {
	r := src.Float64() * 100
	cumulative := 0
	for _, p := range t {
		cumulative += p.Weight
		if p.Weight > 0 && float64(cumulative) >= r {
			return p
		}
	}
	return t[len(t)-1]
}
