// Package server assembles the application and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"biosite/internal/api"
	"biosite/internal/clock/system"
	"biosite/internal/config"
	"biosite/internal/contact"
	"biosite/internal/logging"
	"biosite/internal/metrics"
	memorysink "biosite/internal/notify/memory"
	pubsubsink "biosite/internal/notify/pubsub"
	"biosite/internal/notify/resend"
	"biosite/internal/ratelimit"
	"biosite/internal/recaptcha"
	"biosite/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	contactStore    *postgres.ContactStore
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("sink_provider", cfg.Sink.Provider),
		zap.Bool("recaptcha_enabled", cfg.Recaptcha.Enabled),
	)

	sink, err := app.setupSink(ctx)
	if err != nil {
		return nil, err
	}

	clk := system.New()
	limiter := ratelimit.New(ratelimit.Config{
		Window:         cfg.Window(),
		MaxRequests:    cfg.RateLimit.MaxRequests,
		SweepThreshold: cfg.RateLimit.SweepThreshold,
	}, ratelimit.NewMemoryStore(), clk)

	verifier := recaptcha.New(recaptcha.Config{
		Secret:    cfg.Recaptcha.Secret,
		MinScore:  cfg.Recaptcha.MinScore,
		VerifyURL: cfg.Recaptcha.VerifyURL,
		Timeout:   cfg.VerifyTimeout(),
	}, logger.Named("recaptcha"))

	service := contact.NewService(
		contact.Config{
			RecaptchaEnabled: cfg.Recaptcha.Enabled,
			ExpectedAction:   cfg.Recaptcha.ExpectedAction,
		},
		limiter,
		verifier,
		sink,
		clk,
		logger.Named("contact"),
	)

	// Only the Postgres sink can serve the admin listing.
	var lister api.ContactLister
	if app.contactStore != nil {
		lister = app.contactStore
	}

	app.apiServer = api.NewServer(service, lister, cfg, logger.Named("api"))
	return app, nil
}

func (a *App) setupSink(ctx context.Context) (contact.Sink, error) {
	switch a.cfg.Sink.Provider {
	case "postgres":
		store, err := postgres.NewContactStore(ctx, postgres.ContactStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("contact store init failed: %w", err)
		}
		a.contactStore = store
		a.logger.Info("using postgres sink", zap.String("table", a.cfg.DB.Table))
		return store, nil
	case "email":
		notifier, err := resend.New(resend.Config{
			APIKey:   a.cfg.Email.APIKey,
			Endpoint: a.cfg.Email.Endpoint,
			From:     a.cfg.Email.From,
			To:       a.cfg.Email.To,
		})
		if err != nil {
			return nil, fmt.Errorf("email notifier init failed: %w", err)
		}
		a.logger.Info("using email sink", zap.String("to", a.cfg.Email.To))
		return notifier, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = client.Publisher(a.cfg.PubSub.TopicName)
		a.logger.Info("using pubsub sink",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
		return pubsubsink.New(a.pubsubPublisher), nil
	default:
		a.logger.Warn("using in-memory sink, submissions are not persisted")
		return memorysink.New(), nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close releases sink resources.
func (a *App) Close() error {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.contactStore != nil {
		a.contactStore.Close()
	}
	if err := a.logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}
