// Command seed-db loads the storefront's standing discount codes and a
// collaborator API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/auth"
	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
		apiKeyScopes string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.StringVar(&apiKeyScopes, "api-key-scopes",
		strings.Join([]string{auth.ScopeRedeem, auth.ScopeFeedback, auth.ScopeAdmin}, ","),
		"comma separated scopes of the seeded key")
	flag.Parse()

	databaseURL = orEnv(databaseURL, "DATABASE_URL")
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	apiKey = orEnv(apiKey, "PROMO_SEED_API_KEY")
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	apiKeyPepper = orEnv(apiKeyPepper, "PROMO_API_KEY_PEPPER")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	key := auth.Key{
		ID:     "default",
		Name:   "Default collaborator key",
		Hash:   auth.NewAuthenticator(nil, []byte(apiKeyPepper)).Hash(apiKey),
		Scopes: strings.Split(apiKeyScopes, ","),
	}
	if err := run(ctx, databaseURL, key); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, databaseURL string, key auth.Key) error {
	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewDiscountStore(pool, postgres.DefaultRetry)
	for _, seed := range standingCodes() {
		if err := store.UpsertCode(ctx, seed); err != nil {
			return errors.Wrapf(err, "upsert code %s", seed.Code)
		}
		slog.Info("upserted code", slog.String("code", seed.Code), slog.String("name", seed.Name))
	}

	if err := postgres.NewAPIKeyStore(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "upsert api key")
	}
	slog.Info("upserted API key", slog.String("id", key.ID), slog.Any("scopes", key.Scopes))
	return nil
}

func ptr[T any](v T) *T { return &v }

// standingCodes are the codes the storefront has always honoured.
func standingCodes() []postgres.CodeSeed {
	freeShipping := []discount.RuleSpec{{Type: discount.RuleFreeShipping}}
	tenPercent := []discount.RuleSpec{{Type: discount.RulePercentage, Value: ptr(decimal.NewFromInt(10))}}

	var seeds []postgres.CodeSeed
	for _, code := range []string{"FREESHIP", "WELCOME", "FIRSTORDER", "GUYSGUYSGUYS", "XMAS2025"} {
		seeds = append(seeds, postgres.CodeSeed{
			Code:           code,
			Name:           "Free shipping on your first order",
			FirstOrderOnly: true,
			Rules:          freeShipping,
		})
	}
	for _, code := range []string{"HOOKEM", "UTALUMNI"} {
		seeds = append(seeds, postgres.CodeSeed{
			Code:  code,
			Name:  "10% off",
			Rules: tenPercent,
		})
	}
	seeds = append(seeds, postgres.CodeSeed{
		Code:        "TACOBOGO",
		Name:        "Buy two tacos, get one half price",
		Description: "Buy 2 tacos and the third is 50% off",
		Rules: []discount.RuleSpec{{
			Type:           discount.RuleBogo,
			BuySKU:         ptr("TACO"),
			BuyQuantity:    ptr(2),
			GetSKU:         ptr("TACO"),
			GetQuantity:    ptr(1),
			GetDiscountPct: ptr(decimal.NewFromInt(50)),
		}},
		Restrictions: []discount.Restriction{
			{Type: discount.RestrictProductSKU, Value: "TACO", Include: true},
		},
	})
	return seeds
}
