package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/kioskflow/api/internal/di"
	"github.com/kioskflow/api/internal/platform/config"
	"github.com/kioskflow/api/internal/platform/observability"
	"github.com/kioskflow/api/internal/platform/secrets"
	"github.com/kioskflow/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.Options{
		Logger:  logger,
		Secrets: fetcher,
		Build:   buildInfo(cfg, startedAt),
	})
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	container.Start(workerCtx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	serverErr := make(chan error, 1)
	go func() {
		serverLogger.Info("kiosk api listening",
			zap.String("environment", cfg.Security.Environment),
			zap.String("terminal_provider", cfg.Payments.TerminalProvider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-shutdown:
		logger.Info("shutdown signal received; draining requests")
	case err := <-serverErr:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	stopWorkers()
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func buildInfo(cfg config.Config, started time.Time) services.BuildInfo {
	commit := strings.TrimSpace(cfg.Build.CommitSHA)
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS"), strings.ToLower); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := parseKeyValueList(lookup("API_SECRET_VERSION_PINS"), normalizePinReference); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected terminal provider and the configured
// webhook providers cannot run without.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	switch strings.ToLower(strings.TrimSpace(env["API_PAYMENTS_TERMINAL_PROVIDER"])) {
	case "", "sumup":
		required = append(required, "Payments.SumUp.APIKey")
	case "stripe":
		required = append(required, "Payments.Stripe.APIKey")
	}

	keys := make([]string, 0)
	for key := range parseKeyValueList(env["API_SECURITY_HMAC_SECRETS"], strings.ToLower) {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return required
}

// normalizePinReference maps "env:sm://name" style pin keys onto canonical secret:// references,
// keeping an optional environment prefix.
func normalizePinReference(ref string) string {
	var prefix string
	if idx := strings.Index(ref, ":"); idx > 0 {
		schemeSplit := strings.Index(ref, "://")
		if schemeSplit == -1 || idx < schemeSplit {
			prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
			ref = strings.TrimSpace(ref[idx+1:])
		}
	}
	switch {
	case strings.HasPrefix(ref, "sm://"):
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	case !strings.HasPrefix(ref, "secret://"):
		ref = "secret://" + ref
	}
	return prefix + ref
}

func parseKeyValueList(raw string, normalizeKey func(string) string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if normalizeKey != nil {
			key = normalizeKey(key)
		}
		result[key] = value
	}
	return result
}
