package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/kioskflow/api/internal/handlers"
	"github.com/kioskflow/api/internal/payments"
	"github.com/kioskflow/api/internal/platform/auth"
	"github.com/kioskflow/api/internal/platform/config"
	pfirestore "github.com/kioskflow/api/internal/platform/firestore"
	"github.com/kioskflow/api/internal/platform/idempotency"
	"github.com/kioskflow/api/internal/platform/jobs"
	"github.com/kioskflow/api/internal/platform/observability"
	"github.com/kioskflow/api/internal/platform/secrets"
	"github.com/kioskflow/api/internal/repositories"
	firestoreRepo "github.com/kioskflow/api/internal/repositories/firestore"
	"github.com/kioskflow/api/internal/services"
)

const (
	meterName             = "github.com/kioskflow/api"
	secretHealthReference = "secret://system/healthz?version=latest"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders     services.OrderService
	Settlement services.SettlementService
	System     services.SystemService
}

// Options carries process-level collaborators created before configuration is loaded.
type Options struct {
	Logger  *zap.Logger
	Secrets *secrets.Fetcher
	Build   services.BuildInfo
	// Firestore overrides the provider built from configuration, mainly for emulator tests.
	Firestore *pfirestore.Provider
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Services Services
	Router   http.Handler

	logger  *zap.Logger
	janitor *idempotency.Janitor
	closers []func(context.Context) error

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, opts Options) (*Container, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{Config: cfg, logger: logger}

	provider := opts.Firestore
	if provider == nil {
		provider = pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
	}

	publisher, err := c.buildPublisher(ctx, cfg.PubSub)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	gateway, err := buildGateway(cfg.Payments, observability.EventLogger(logger.Named("payments")))
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	svc, err := buildServices(provider, publisher, gateway, cfg, logger)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	svc.System, err = buildSystemService(provider, opts.Secrets, opts.Build)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc

	router, err := c.buildRouter(ctx, cfg, provider, opts.Build)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Router = router
	return c, nil
}

// Start launches background workers. They stop when ctx is cancelled or Close is called.
func (c *Container) Start(ctx context.Context) {
	if c == nil || c.janitor == nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.janitor.Run(runCtx)
	}()
}

// Close stops background workers and releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.PubSubConfig) (services.OrderEventPublisher, error) {
	topicID := strings.TrimSpace(cfg.OrderTopic)
	if topicID == "" || strings.TrimSpace(cfg.ProjectID) == "" {
		c.logger.Info("order events disabled")
		return nil, nil
	}
	var clientOpts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	publisher, err := jobs.NewPubSubOrderPublisher(topic)
	if err != nil {
		return nil, fmt.Errorf("build order publisher: %w", err)
	}
	return publisher, nil
}

func buildGateway(cfg config.PaymentsConfig, logger payments.Logger) (services.TerminalGateway, error) {
	var provider payments.Provider
	switch cfg.TerminalProvider {
	case "", "none":
		return nil, nil
	case "sumup":
		gw, err := payments.NewSumUpGateway(payments.SumUpConfig{
			APIKey:       cfg.SumUp.APIKey,
			MerchantCode: cfg.SumUp.MerchantCode,
			BaseURL:      cfg.SumUp.BaseURL,
			Currency:     cfg.Currency,
			HTTPClient:   &http.Client{Timeout: cfg.Timeout},
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build sumup gateway: %w", err)
		}
		provider = gw
	case "stripe":
		gw, err := payments.NewStripeTerminalGateway(payments.StripeTerminalConfig{
			APIKey:    cfg.Stripe.APIKey,
			AccountID: cfg.Stripe.AccountID,
			Currency:  cfg.Currency,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe terminal gateway: %w", err)
		}
		provider = gw
	default:
		return nil, fmt.Errorf("%w: %s", payments.ErrUnsupportedProvider, cfg.TerminalProvider)
	}

	manager, err := payments.NewManager(cfg.TerminalProvider, provider)
	if err != nil {
		return nil, err
	}
	instrumented, err := payments.Instrument(manager, manager.Active())
	if err != nil {
		return nil, err
	}
	return instrumented, nil
}

func buildServices(provider *pfirestore.Provider, events services.OrderEventPublisher, gateway services.TerminalGateway, cfg config.Config, logger *zap.Logger) (Services, error) {
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build order repository: %w", err)
	}
	catalog, err := firestoreRepo.NewCatalogRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build catalog repository: %w", err)
	}
	kiosks, err := firestoreRepo.NewKioskRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build kiosk repository: %w", err)
	}
	readers, err := firestoreRepo.NewReaderRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build reader repository: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:               orders,
		Catalog:              catalog,
		Kiosks:               kiosks,
		Readers:              readers,
		Gateway:              gateway,
		Events:               events,
		EnforceForwardStatus: cfg.Orders.EnforceForwardStatus,
		Clock:                time.Now,
		Logger:               observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	settlementSvc, err := services.NewSettlementService(services.SettlementServiceDeps{
		Orders:    orders,
		Gateway:   gateway,
		Events:    events,
		MinAge:    cfg.Orders.ReconcileMinAge,
		BatchSize: cfg.Orders.ReconcileBatch,
		Clock:     time.Now,
		Logger:    observability.EventLogger(logger.Named("settlement")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settlement service: %w", err)
	}

	return Services{Orders: orderSvc, Settlement: settlementSvc}, nil
}

func buildSystemService(provider *pfirestore.Provider, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   provider.Ping,
	}}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				if errors.Is(err, secrets.ErrSecretNotFound) {
					return nil
				}
				return err
			},
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func (c *Container) buildRouter(ctx context.Context, cfg config.Config, provider *pfirestore.Provider, build services.BuildInfo) (http.Handler, error) {
	authLogger := c.logger.Named("auth")
	metrics, err := auth.NewMeterRecorder(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		return nil, fmt.Errorf("build auth metrics: %w", err)
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("build firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(verifier,
		auth.WithLogger(authLogger),
		auth.WithMetrics(metrics),
	)

	store := idempotency.NewFirestoreStore(provider)
	c.janitor = idempotency.NewJanitor(store, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, c.logger.Named("idempotency"))
	orderHandlers := handlers.NewOrderHandlers(authenticator, c.Services.Orders,
		handlers.WithOrderIdempotency(idempotency.Middleware(store,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(c.logger.Named("idempotency")),
			// A failed or timed-out terminal call may still have started a charge on the reader.
			idempotency.RetainStatus(http.StatusBadGateway, http.StatusGatewayTimeout),
		)),
	)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(c.Services.Settlement)
	internalHandlers := handlers.NewInternalHandlers(c.Services.Settlement, time.Now)

	projectID := strings.TrimSpace(cfg.Firebase.ProjectID)
	if projectID == "" {
		projectID = cfg.Firestore.ProjectID
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.RecoveryMiddleware(c.logger.Named("http")),
			observability.InjectLoggerMiddleware(c.logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}

	if len(cfg.Security.HMAC.Secrets) > 0 {
		hmac := auth.NewHMACValidator(auth.StaticSecrets(cfg.Security.HMAC.Secrets), auth.NewInMemoryNonceStore(),
			auth.WithHMACLogger(authLogger),
			auth.WithHMACMetrics(metrics),
			auth.WithHMACSettings(cfg.Security.HMAC),
		)
		opts = append(opts, handlers.WithWebhookMiddlewares(hmac.RequireSignature(handlers.PaymentProviderFromPath)))
	} else {
		authLogger.Warn("webhook secrets not configured; webhook routes are disabled")
		opts = append(opts, handlers.WithWebhookRoutes(nil))
	}

	audience := auth.AudienceFor(cfg.Security.OIDC, cfg.Security.Environment)
	if audience == "" {
		authLogger.Warn("oidc audience not configured; internal routes will reject requests")
	}
	oidc := auth.NewOIDCValidator(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(authLogger)),
		auth.WithOIDCLogger(authLogger),
		auth.WithOIDCMetrics(metrics),
	)
	opts = append(opts, handlers.WithInternalMiddlewares(oidc.RequireOIDC(audience, cfg.Security.OIDC.Issuers)))

	return handlers.NewRouter(opts...), nil
}
