package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultTerminalProvider     = "sumup"
	defaultCurrency             = "EUR"
	defaultPaymentsTimeout      = 15 * time.Second
	defaultSumUpBaseURL         = "https://api.sumup.com"
	defaultOrderTopic           = "order-events"
	defaultReconcileMinAge      = 10 * time.Minute
	defaultReconcileBatch       = 50
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultHMACSignatureHeader  = "X-Signature"
	defaultHMACTimestampHeader  = "X-Signature-Timestamp"
	defaultHMACNonceHeader      = "X-Signature-Nonce"
	defaultHMACClockSkew        = 5 * time.Minute
	defaultHMACNonceTTL         = 5 * time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Build       BuildConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Payments    PaymentsConfig
	Orders      OrdersConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string        `validate:"required,numeric"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	IdleTimeout  time.Duration `validate:"gt=0"`
}

// BuildConfig is reported by the readiness endpoint.
type BuildConfig struct {
	Version   string
	CommitSHA string
}

type FirebaseConfig struct {
	ProjectID       string `validate:"required"`
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string `validate:"required"`
	EmulatorHost string `validate:"omitempty,hostname_port"`
}

// PubSubConfig configures order event publishing. An empty OrderTopic disables publishing.
type PubSubConfig struct {
	ProjectID    string
	OrderTopic   string
	EmulatorHost string `validate:"omitempty,hostname_port"`
}

// PaymentsConfig selects and configures the terminal gateway.
type PaymentsConfig struct {
	TerminalProvider string        `validate:"omitempty,oneof=sumup stripe none"`
	Currency         string        `validate:"required,len=3,alpha"`
	Timeout          time.Duration `validate:"gt=0"`
	SumUp            SumUpConfig
	Stripe           StripeConfig
}

type SumUpConfig struct {
	APIKey       string
	MerchantCode string
	BaseURL      string `validate:"omitempty,url"`
}

type StripeConfig struct {
	APIKey    string
	AccountID string
}

// OrdersConfig tunes order lifecycle rules.
type OrdersConfig struct {
	// EnforceForwardStatus rejects status updates that move an order backwards.
	EnforceForwardStatus bool
	ReconcileMinAge      time.Duration `validate:"gt=0"`
	ReconcileBatch       int           `validate:"gt=0,lte=500"`
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string `validate:"required"`
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL   string `validate:"required,url"`
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// HMACConfig captures webhook signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string        `validate:"required"`
	TimestampHeader string        `validate:"required"`
	NonceHeader     string        `validate:"required"`
	ClockSkew       time.Duration `validate:"gt=0"`
	NonceTTL        time.Duration `validate:"gt=0"`
}

type IdempotencyConfig struct {
	Header           string        `validate:"required"`
	TTL              time.Duration `validate:"gt=0"`
	CleanupInterval  time.Duration `validate:"gt=0"`
	CleanupBatchSize int           `validate:"gt=0"`
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve. Names are
// reported hashed so the error can be logged.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the secret identifiers in clear text.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields that must resolve to a non-empty value, using the names
// recorded by the loader (e.g. "Payments.SumUp.APIKey" or "Security.HMAC.Secrets[sumup]").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func newOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can
// build dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newOptions(opts)
	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load assembles the application configuration from defaults, .env, the environment and secret
// manager references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	env := envReader(values)

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Build: BuildConfig{
			Version:   env.str("API_BUILD_VERSION", "dev"),
			CommitSHA: env.str("API_BUILD_COMMIT_SHA", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:    env.str("API_PUBSUB_PROJECT_ID", ""),
			OrderTopic:   env.str("API_PUBSUB_ORDER_TOPIC", defaultOrderTopic),
			EmulatorHost: env.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Payments: PaymentsConfig{
			TerminalProvider: strings.ToLower(env.str("API_PAYMENTS_TERMINAL_PROVIDER", defaultTerminalProvider)),
			Currency:         strings.ToUpper(env.str("API_PAYMENTS_CURRENCY", defaultCurrency)),
			Timeout:          env.duration("API_PAYMENTS_TIMEOUT", defaultPaymentsTimeout),
			SumUp: SumUpConfig{
				APIKey:       env.str("API_PAYMENTS_SUMUP_API_KEY", ""),
				MerchantCode: env.str("API_PAYMENTS_SUMUP_MERCHANT_CODE", ""),
				BaseURL:      env.str("API_PAYMENTS_SUMUP_BASE_URL", defaultSumUpBaseURL),
			},
			Stripe: StripeConfig{
				APIKey:    env.str("API_PAYMENTS_STRIPE_API_KEY", ""),
				AccountID: env.str("API_PAYMENTS_STRIPE_ACCOUNT_ID", ""),
			},
		},
		Orders: OrdersConfig{
			EnforceForwardStatus: env.boolean("API_ORDERS_ENFORCE_FORWARD_STATUS", false),
			ReconcileMinAge:      env.duration("API_ORDERS_RECONCILE_MIN_AGE", defaultReconcileMinAge),
			ReconcileBatch:       env.integer("API_ORDERS_RECONCILE_BATCH", defaultReconcileBatch),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.keyValues("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         env.keyValues("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: env.str("API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: env.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     env.str("API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       env.duration("API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        env.duration("API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolver := options.secret
	resolved := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		secret, err := resolveSecret(ctx, value, resolver)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = secret
		resolved[fmt.Sprintf("Security.HMAC.Secrets[%s]", key)] = strings.TrimSpace(secret)
	}
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.SumUp.APIKey", &cfg.Payments.SumUp.APIKey},
		{"Payments.Stripe.APIKey", &cfg.Payments.Stripe.APIKey},
	}
	for _, target := range secretFields {
		secret, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = secret
		resolved[target.name] = strings.TrimSpace(secret)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(cfg Config) error {
	var fields []string
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: validate: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, strings.TrimPrefix(fe.Namespace(), "Config."))
		}
	}
	switch cfg.Payments.TerminalProvider {
	case "sumup":
		if cfg.Payments.SumUp.APIKey == "" {
			fields = append(fields, "Payments.SumUp.APIKey")
		}
		if cfg.Payments.SumUp.MerchantCode == "" {
			fields = append(fields, "Payments.SumUp.MerchantCode")
		}
	case "stripe":
		if cfg.Payments.Stripe.APIKey == "" {
			fields = append(fields, "Payments.Stripe.APIKey")
		}
	}
	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

type envReader map[string]string

func (e envReader) str(key, fallback string) string {
	if value := strings.TrimSpace(e[key]); value != "" {
		return value
	}
	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(e[key])); err == nil {
		return d
	}
	return fallback
}

func (e envReader) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(e[key])); err == nil {
		return n
	}
	return fallback
}

func (e envReader) boolean(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(e[key])) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (e envReader) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(e[key], ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// keyValues parses "name=value,other=value" pairs. Names are lower-cased.
func (e envReader) keyValues(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(e[key], ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}
