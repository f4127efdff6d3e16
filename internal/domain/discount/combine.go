package discount

import (
	"cmp"
	"slices"
	"strings"
)

// Candidate is an eligible code competing for a place on one order.
type Candidate struct {
	Code      string
	Priority  int
	Stackable bool
	Amount    int64
}

// Applied is a candidate chosen by Combine with the amount it may take.
type Applied struct {
	Index  int
	Amount int64
}

// Combine selects which candidates apply together. Candidates are ranked by
// priority descending, then code ascending. A non-stackable winner applies
// alone. Otherwise every stackable candidate applies in rank order and
// non-stackable ones are dropped. Amounts are trimmed so the running total
// never exceeds subtotal.
func Combine(cands []Candidate, subtotal int64) []Applied {
	if len(cands) == 0 {
		return nil
	}

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(cands[b].Priority, cands[a].Priority); c != 0 {
			return c
		}
		return strings.Compare(cands[a].Code, cands[b].Code)
	})

	top := order[0]
	if !cands[top].Stackable {
		return []Applied{{Index: top, Amount: clamp(cands[top].Amount, subtotal)}}
	}

	var (
		out       []Applied
		remaining = subtotal
	)
	for _, i := range order {
		if !cands[i].Stackable {
			continue
		}
		amount := clamp(cands[i].Amount, remaining)
		remaining -= amount
		out = append(out, Applied{Index: i, Amount: amount})
	}
	return out
}
