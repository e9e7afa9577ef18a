package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID":          "kiosk-dev",
		"API_PAYMENTS_SUMUP_API_KEY":       "sup_sk_dev",
		"API_PAYMENTS_SUMUP_MERCHANT_CODE": "MC1",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "kiosk-dev" || cfg.PubSub.ProjectID != "kiosk-dev" {
		t.Errorf("expected projects to default to firebase project, got %s / %s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderTopic != defaultOrderTopic {
		t.Errorf("unexpected order topic %s", cfg.PubSub.OrderTopic)
	}
	if cfg.Payments.TerminalProvider != "sumup" || cfg.Payments.Currency != "EUR" {
		t.Errorf("unexpected payments defaults %+v", cfg.Payments)
	}
	if cfg.Payments.SumUp.BaseURL != defaultSumUpBaseURL {
		t.Errorf("unexpected sumup base url %s", cfg.Payments.SumUp.BaseURL)
	}
	if cfg.Orders.EnforceForwardStatus {
		t.Errorf("expected permissive status updates by default")
	}
	if cfg.Orders.ReconcileMinAge != defaultReconcileMinAge || cfg.Orders.ReconcileBatch != defaultReconcileBatch {
		t.Errorf("unexpected reconcile defaults %+v", cfg.Orders)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if !slices.Equal(cfg.Security.OIDC.Issuers, []string{defaultSecurityIssuer}) {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("expected dev build version, got %s", cfg.Build.Version)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_FIREBASE_PROJECT_ID":            "kiosk-prod",
		"API_FIRESTORE_PROJECT_ID":           "kiosk-db",
		"API_PUBSUB_ORDER_TOPIC":             "orders-prod",
		"API_PAYMENTS_TERMINAL_PROVIDER":     "Stripe",
		"API_PAYMENTS_CURRENCY":              "dkk",
		"API_PAYMENTS_STRIPE_API_KEY":        "secret://stripe/api",
		"API_ORDERS_ENFORCE_FORWARD_STATUS":  "true",
		"API_ORDERS_RECONCILE_MIN_AGE":       "5m",
		"API_ORDERS_RECONCILE_BATCH":         "25",
		"API_SECURITY_ENVIRONMENT":           "prod",
		"API_SECURITY_OIDC_AUDIENCES":        "prod=https://api.example.com,stg=https://stg.example.com",
		"API_SECURITY_OIDC_ISSUERS":          "https://accounts.google.com, https://cloud.google.com/iap",
		"API_SECURITY_HMAC_SECRETS":          "SumUp=secret://hmac/sumup,stripe=plain-secret",
		"API_SECURITY_HMAC_HEADER_SIGNATURE": "X-Custom-Signature",
		"API_IDEMPOTENCY_CLEANUP_BATCH":      "500",
	}
	secrets := map[string]string{
		"secret://stripe/api": "sk_live",
		"secret://hmac/sumup": "sumup-hmac",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "kiosk-db" || cfg.PubSub.ProjectID != "kiosk-db" {
		t.Errorf("unexpected projects %s / %s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Payments.TerminalProvider != "stripe" || cfg.Payments.Currency != "DKK" {
		t.Errorf("unexpected payments config %+v", cfg.Payments)
	}
	if cfg.Payments.Stripe.APIKey != "sk_live" {
		t.Errorf("expected resolved stripe key, got %s", cfg.Payments.Stripe.APIKey)
	}
	if !cfg.Orders.EnforceForwardStatus || cfg.Orders.ReconcileMinAge != 5*time.Minute || cfg.Orders.ReconcileBatch != 25 {
		t.Errorf("unexpected orders config %+v", cfg.Orders)
	}
	if cfg.Security.OIDC.Audience != "https://api.example.com" {
		t.Errorf("expected audience for prod environment, got %s", cfg.Security.OIDC.Audience)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.Secrets["sumup"] != "sumup-hmac" || cfg.Security.HMAC.Secrets["stripe"] != "plain-secret" {
		t.Errorf("unexpected hmac secrets %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Custom-Signature" {
		t.Errorf("unexpected signature header %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"kiosk-dot\"\nexport API_PAYMENTS_TERMINAL_PROVIDER=none\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "kiosk-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Payments.TerminalProvider != "none" {
		t.Errorf("expected provider none, got %s", cfg.Payments.TerminalProvider)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	env := baseEnv()
	if _, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env"))); err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLoadValidationFields(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":            "not-a-port",
		"API_PAYMENTS_CURRENCY":      "EURO",
		"API_ORDERS_RECONCILE_BATCH": "0",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	fields := verr.Fields()
	for _, want := range []string{
		"Server.Port",
		"Firebase.ProjectID",
		"Firestore.ProjectID",
		"Payments.Currency",
		"Orders.ReconcileBatch",
		"Payments.SumUp.APIKey",
		"Payments.SumUp.MerchantCode",
	} {
		if !slices.Contains(fields, want) {
			t.Errorf("expected %s in %v", want, fields)
		}
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	env := baseEnv()
	env["API_PAYMENTS_TERMINAL_PROVIDER"] = "paypal"
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) || !slices.Contains(verr.Fields(), "Payments.TerminalProvider") {
		t.Fatalf("expected provider validation error, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_PAYMENTS_SUMUP_API_KEY"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}
	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Security.HMAC.Secrets[sumup]"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("Security.HMAC.Secrets[sumup]") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Payments.Stripe.APIKey" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	_, _ = Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.Stripe.APIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := baseEnv()
	env["API_PAYMENTS_SUMUP_API_KEY"] = "sm://sumup/api"
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://sumup/api" {
			return "legacy-key", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Payments.SumUp.APIKey != "legacy-key" {
		t.Fatalf("expected legacy secret, got %s", cfg.Payments.SumUp.APIKey)
	}
}
