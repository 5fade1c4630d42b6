package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"clearcut/internal/adapter/repo"
	"clearcut/internal/domain"
)

// credential is the operator tool for the API-key ledger: issue, inspect,
// rotate, revoke and upgrade keys without going through the HTTP surface.
func main() {
	var (
		actionFlag string
		emailFlag  string
		keyFlag    string
		tierFlag   string
	)

	flag.StringVar(&actionFlag, "action", "", "one of: issue, show, rotate, revoke, upgrade")
	flag.StringVar(&emailFlag, "email", "", "owner email (for issue)")
	flag.StringVar(&keyFlag, "key", "", "API key (for show, rotate, revoke, upgrade)")
	flag.StringVar(&tierFlag, "tier", "free", "tier to assign (free, pro, enterprise)")
	flag.Parse()

	_ = godotenv.Load()

	action := strings.TrimSpace(strings.ToLower(actionFlag))
	tier := domain.Tier(strings.TrimSpace(strings.ToLower(tierFlag)))
	if action == "" {
		exitWithError(errors.New("-action is required"))
	}
	if !domain.ValidTier(tier) {
		exitWithError(fmt.Errorf("unsupported tier %q", tierFlag))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	ledger := repo.NewCredentialLedger(pool)

	switch action {
	case "issue":
		if emailFlag == "" {
			exitWithError(errors.New("-email is required for issue"))
		}
		cred, err := ledger.Issue(ctx, strings.TrimSpace(emailFlag), tier)
		if errors.Is(err, domain.ErrConflict) {
			exitWithError(fmt.Errorf("an active key already exists for %s", emailFlag))
		}
		if err != nil {
			exitWithError(fmt.Errorf("failed to issue key: %w", err))
		}
		fmt.Printf("issued %s key for %s\n%s\n", cred.Tier, cred.OwnerEmail, cred.Key)

	case "show":
		cred := mustLoad(ctx, ledger, keyFlag)
		fmt.Printf("key=%s owner=%s tier=%s used=%d/%d active=%t\n",
			cred.RedactedKey(), cred.OwnerEmail, cred.Tier, cred.UsedCount, cred.LimitCount, cred.IsActive)

	case "rotate":
		requireKey(keyFlag)
		fresh, err := ledger.Rotate(ctx, keyFlag)
		if errors.Is(err, domain.ErrNotFound) {
			exitWithError(errors.New("key not found or already revoked"))
		}
		if err != nil {
			exitWithError(fmt.Errorf("failed to rotate key: %w", err))
		}
		fmt.Printf("rotated; new key:\n%s\n", fresh.Key)

	case "revoke":
		requireKey(keyFlag)
		revoked, err := ledger.Revoke(ctx, keyFlag)
		if err != nil {
			exitWithError(fmt.Errorf("failed to revoke key: %w", err))
		}
		if !revoked {
			exitWithError(errors.New("key not found or already revoked"))
		}
		fmt.Println("revoked")

	case "upgrade":
		requireKey(keyFlag)
		ok, err := ledger.Upgrade(ctx, keyFlag, tier)
		if err != nil {
			exitWithError(fmt.Errorf("failed to upgrade key: %w", err))
		}
		if !ok {
			exitWithError(errors.New("key not found"))
		}
		cred := mustLoad(ctx, ledger, keyFlag)
		fmt.Printf("upgraded %s to %s (limit %d/day)\n", cred.RedactedKey(), cred.Tier, cred.LimitCount)

	default:
		exitWithError(fmt.Errorf("unknown action %q", action))
	}
}

func requireKey(key string) {
	if strings.TrimSpace(key) == "" {
		exitWithError(errors.New("-key is required"))
	}
}

func mustLoad(ctx context.Context, ledger domain.CredentialLedger, key string) *domain.Credential {
	requireKey(key)
	cred, err := ledger.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		exitWithError(errors.New("key not found"))
	}
	if err != nil {
		exitWithError(fmt.Errorf("failed to load key: %w", err))
	}
	return cred
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
