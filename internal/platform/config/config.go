package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const envPrefix = "STOREFRONT_"

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
)

// Config is the fully resolved service configuration.
type Config struct {
	LogLevel    string
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PSP         PSPConfig
	Pricing     PricingConfig
	Events      EventsConfig
	Idempotency IdempotencyConfig
	Security    SecurityConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig identifies the Firebase project whose ID tokens are accepted.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig selects the persistence backend.
type FirestoreConfig struct {
	Backend      string
	ProjectID    string
	EmulatorHost string
}

// PSPConfig holds payment processor settings. Without a Stripe key the sandbox processor is used.
type PSPConfig struct {
	StripeAPIKey       string
	StripeAccountID    string
	ReturnURL          string
	SandboxRedirectURL string
}

// PricingConfig is the fee policy applied to every checkout.
type PricingConfig struct {
	Currency              string
	DeliveryFee           decimal.Decimal
	HandlingFee           decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
}

// EventsConfig configures order event publication. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID   string
	OrdersTopic string
}

// IdempotencyConfig configures the place-order replay guard.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SecurityConfig holds environment and Secret Manager settings.
type SecurityConfig struct {
	Environment    string
	SecretsProject string
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists missing or invalid settings.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending setting names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failed secret resolution.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errNoSecretResolver = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	envFile   string
	envMap    map[string]string
	systemEnv bool
	resolver  SecretResolver
}

// WithEnvFile reads a dotenv file; values there have the lowest precedence.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loadOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loadOptions) { o.systemEnv = false }
}

// WithSecretResolver enables secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loadOptions) { o.resolver = resolver }
}

// Load reads STOREFRONT_* settings, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loadOptions{envFile: ".env", systemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	src := &source{options: options, dotenv: dotenv}

	cfg := Config{
		LogLevel: src.str("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:            src.str("SERVER_PORT", "8080"),
			ReadTimeout:     src.duration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    src.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     src.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: src.duration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			Backend:      strings.ToLower(src.str("STORAGE_BACKEND", BackendFirestore)),
			ProjectID:    src.str("FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:       src.str("PSP_STRIPE_API_KEY", ""),
			StripeAccountID:    src.str("PSP_STRIPE_ACCOUNT_ID", ""),
			ReturnURL:          src.str("PSP_RETURN_URL", ""),
			SandboxRedirectURL: src.str("PSP_SANDBOX_REDIRECT_URL", ""),
		},
		Pricing: PricingConfig{
			Currency:              strings.ToUpper(src.str("PRICING_CURRENCY", "INR")),
			DeliveryFee:           src.money("PRICING_DELIVERY_FEE", decimal.Zero),
			HandlingFee:           src.money("PRICING_HANDLING_FEE", decimal.RequireFromString("2.00")),
			FreeDeliveryThreshold: src.money("PRICING_FREE_DELIVERY_THRESHOLD", decimal.Zero),
		},
		Events: EventsConfig{
			ProjectID:   src.str("EVENTS_PROJECT_ID", ""),
			OrdersTopic: src.str("EVENTS_ORDERS_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:          src.str("IDEMPOTENCY_HEADER", "Idempotency-Key"),
			TTL:             src.duration("IDEMPOTENCY_TTL", 24*time.Hour),
			CleanupInterval: src.duration("IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
		},
		Security: SecurityConfig{
			Environment:    strings.ToLower(src.str("SECURITY_ENVIRONMENT", "local")),
			SecretsProject: src.str("SECURITY_SECRETS_PROJECT", ""),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Security.SecretsProject == "" {
		cfg.Security.SecretsProject = cfg.Firebase.ProjectID
	}

	for _, field := range []*string{&cfg.PSP.StripeAPIKey, &cfg.Firebase.CredentialsFile} {
		resolved, err := resolveSecret(ctx, *field, options.resolver)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	invalid := append(src.invalid, validate(cfg)...)
	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

func validate(cfg Config) []string {
	var invalid []string
	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	switch cfg.Firestore.Backend {
	case BackendMemory:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	default:
		invalid = append(invalid, "Firestore.Backend")
	}
	if _, err := currency.ParseISO(cfg.Pricing.Currency); err != nil {
		invalid = append(invalid, "Pricing.Currency")
	}
	if cfg.Pricing.DeliveryFee.IsNegative() {
		invalid = append(invalid, "Pricing.DeliveryFee")
	}
	if cfg.Pricing.HandlingFee.IsNegative() {
		invalid = append(invalid, "Pricing.HandlingFee")
	}
	if cfg.Pricing.FreeDeliveryThreshold.IsNegative() {
		invalid = append(invalid, "Pricing.FreeDeliveryThreshold")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	return invalid
}

// source looks values up by precedence: explicit map, process env, dotenv.
type source struct {
	options loadOptions
	dotenv  map[string]string
	invalid []string
}

func (s *source) lookup(key string) (string, bool) {
	key = envPrefix + key
	if v, ok := s.options.envMap[key]; ok {
		return strings.TrimSpace(v), true
	}
	if s.options.systemEnv {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v), true
		}
	}
	v, ok := s.dotenv[key]
	return strings.TrimSpace(v), ok
}

func (s *source) str(key, fallback string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		s.invalid = append(s.invalid, envPrefix+key)
		return fallback
	}
	return d
}

func (s *source) money(key string, fallback decimal.Decimal) decimal.Decimal {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		s.invalid = append(s.invalid, envPrefix+key)
		return fallback
	}
	return d.Round(2)
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "secret://") && !strings.HasPrefix(value, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(value, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errNoSecretResolver}
	}
	resolved, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return resolved, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.PSP.StripeAPIKey != "" {
		c.PSP.StripeAPIKey = "***" + lastN(c.PSP.StripeAPIKey, 4)
	}
	return c
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return ""
	}
	return s[len(s)-n:]
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	if _, err := strconv.Atoi(s.Port); err == nil {
		return ":" + s.Port
	}
	return s.Port
}
