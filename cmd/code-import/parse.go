package main

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/domain/feedback"
	"github.com/xenking/promo-engine/internal/domain/spin"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

const (
	minCodeLen = 4
	maxCodeLen = 32
)

var defaultPercent = decimal.NewFromInt(10)

// parseLine reads one `CODE[,percent]` line. Blank lines and lines starting
// with '#' yield ok=false and no error.
func parseLine(line string) (seed postgres.CodeSeed, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return seed, false, nil
	}

	raw, pct, hasPct := strings.Cut(line, ",")
	code := discount.NormalizeCode(raw)
	if err := checkCode(code); err != nil {
		return seed, false, err
	}

	percent := defaultPercent
	if hasPct {
		percent, err = decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return seed, false, errors.Wrapf(err, "code %s: percent", code)
		}
		if percent.Sign() <= 0 || percent.GreaterThan(decimal.NewFromInt(100)) {
			return seed, false, errors.Errorf("code %s: percent %s out of (0, 100]", code, percent)
		}
	}

	return postgres.CodeSeed{
		Code: code,
		Name: percent.String() + "% off",
		Rules: []discount.RuleSpec{{
			Type:  discount.RulePercentage,
			Value: &percent,
		}},
	}, true, nil
}

func checkCode(code string) error {
	if n := len(code); n < minCodeLen || n > maxCodeLen {
		return errors.Errorf("code %q: length %d out of [%d, %d]", code, n, minCodeLen, maxCodeLen)
	}
	if strings.HasPrefix(code, spin.CodePrefix) || strings.HasPrefix(code, feedback.CodePrefix) {
		return errors.Errorf("code %q: reserved prefix", code)
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return errors.Errorf("code %q: invalid character %q", code, r)
		}
	}
	return nil
}
