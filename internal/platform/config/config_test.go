package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{"STOREFRONT_FIREBASE_PROJECT_ID": "se-dev"}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "se-dev", cfg.Firestore.ProjectID, "project ids default to the firebase project")
	assert.Equal(t, "se-dev", cfg.Events.ProjectID, "project ids default to the firebase project")
	assert.Equal(t, BackendFirestore, cfg.Firestore.Backend)
	assert.Equal(t, "INR", cfg.Pricing.Currency)
	assert.True(t, cfg.Pricing.HandlingFee.Equal(decimal.RequireFromString("2")), "handling fee %s", cfg.Pricing.HandlingFee)
	assert.True(t, cfg.Pricing.DeliveryFee.IsZero(), "delivery fee %s", cfg.Pricing.DeliveryFee)
	assert.Equal(t, "Idempotency-Key", cfg.Idempotency.Header)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, "local", cfg.Security.Environment)
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SERVER_PORT":                     "9090",
		"STOREFRONT_SERVER_WRITE_TIMEOUT":            "25s",
		"STOREFRONT_FIREBASE_PROJECT_ID":             "se-prod",
		"STOREFRONT_STORAGE_BACKEND":                 "Memory",
		"STOREFRONT_PSP_STRIPE_API_KEY":              "sm://stripe/api",
		"STOREFRONT_PRICING_CURRENCY":                "usd",
		"STOREFRONT_PRICING_DELIVERY_FEE":            "25.005",
		"STOREFRONT_PRICING_FREE_DELIVERY_THRESHOLD": "199",
		"STOREFRONT_EVENTS_ORDERS_TOPIC":             "orders",
	}
	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "sk_live_1234", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr())
	assert.Equal(t, 25*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, BackendMemory, cfg.Firestore.Backend)
	assert.Equal(t, "sk_live_1234", cfg.PSP.StripeAPIKey, "secret is resolved")
	assert.Equal(t, []string{"secret://stripe/api"}, refs)
	assert.Equal(t, "USD", cfg.Pricing.Currency)
	assert.True(t, cfg.Pricing.DeliveryFee.Equal(decimal.RequireFromString("25.01")), "fee rounds half up, got %s", cfg.Pricing.DeliveryFee)
	assert.True(t, cfg.Pricing.FreeDeliveryThreshold.Equal(decimal.NewFromInt(199)), "threshold %s", cfg.Pricing.FreeDeliveryThreshold)
	assert.Equal(t, "***1234", cfg.Redacted().PSP.StripeAPIKey)
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_STORAGE_BACKEND":      "postgres",
		"STOREFRONT_PRICING_CURRENCY":     "XYZ1",
		"STOREFRONT_PRICING_HANDLING_FEE": "-1",
		"STOREFRONT_PRICING_DELIVERY_FEE": "abc",
		"STOREFRONT_IDEMPOTENCY_TTL":      "forever",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"STOREFRONT_PRICING_DELIVERY_FEE",
		"STOREFRONT_IDEMPOTENCY_TTL",
		"Firebase.ProjectID",
		"Firestore.Backend",
		"Pricing.Currency",
		"Pricing.HandlingFee",
	}, verr.Fields())
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_FIREBASE_PROJECT_ID": "se-dev",
		"STOREFRONT_PSP_STRIPE_API_KEY":  "secret://stripe/api",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "secret://stripe/api", serr.Ref)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nexport STOREFRONT_FIREBASE_PROJECT_ID=\"from-file\"\nSTOREFRONT_SERVER_PORT=7000\nSTOREFRONT_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("STOREFRONT_SERVER_PORT", "7100")
	t.Setenv("STOREFRONT_LOG_LEVEL", "warn")

	cfg, err := Load(context.Background(), WithEnvFile(path), WithEnvMap(map[string]string{"STOREFRONT_LOG_LEVEL": "error"}))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Firebase.ProjectID)
	assert.Equal(t, "7100", cfg.Server.Port, "OS env wins over dotenv")
	assert.Equal(t, "error", cfg.LogLevel, "explicit map wins")
}
