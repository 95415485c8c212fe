package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/cache"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/config"
	httpcontroller "github.com/BasedOctavian/LayoverApp-sub004/internal/controller/http"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/database"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/dao"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/policy"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/profile"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/service"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/source"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/httpx/response"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/queue"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/storage"
)

//go:embed openapi.yaml
var openAPISpec []byte

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Lifetime of background work, independent of any request
	ctx    context.Context
	cancel context.CancelFunc

	// Infrastructure
	pool     *pgxpool.Pool
	redis    *redis.Client
	listener *dao.Listener
	profiles *cache.ProfileRedis // nil without Redis

	// Authoritative writes, queued when the queue is enabled
	mutationQueue *queue.MutationQueue
	worker        *queue.Worker

	inboxPolicy *policy.Policy
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))

	// Initialize router with middleware. No global timeout: /inbox/ws is long lived.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	if err := app.initInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	if err := app.initDomains(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	if err := app.registerRoutes(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("registering routes: %w", err)
	}

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// initInfrastructure connects to PostgreSQL and, when configured, Redis
func (a *App) initInfrastructure(ctx context.Context) error {
	pool, err := database.NewPostgresPool(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pool = pool

	if a.cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.redis = client
	} else if a.cfg.Queue.Enabled {
		return errors.New("queue requires REDIS_URL")
	}

	channels := make([]string, 0, len(entity.Sources)+1)
	for _, name := range entity.Sources {
		channels = append(channels, a.cfg.Inbox.ChannelPrefix+string(name))
	}
	channels = append(channels, a.profileChannel())
	a.listener = dao.NewListener(a.pool, channels, a.logger.With("component", "listener"))

	return nil
}

// initDomains wires sources, profiles and writes into the inbox policy
func (a *App) initDomains(ctx context.Context) error {
	profiles := a.profileResolver()
	sources := a.buildSources()

	mutator, err := a.buildMutator()
	if err != nil {
		return err
	}

	sessionCfg := service.Config{
		CoalesceWindow:     a.cfg.Inbox.CoalesceWindow,
		ProfileConcurrency: a.cfg.Inbox.ProfileConcurrency,
		WriteTimeout:       a.cfg.Inbox.WriteTimeout,
	}
	deps := service.Deps{
		Sources:  sources,
		Profiles: profiles,
		Mutator:  mutator,
	}

	a.inboxPolicy = policy.New(a.ctx, func(userID string) *service.Session {
		return service.NewSession(userID, deps, sessionCfg, a.logger)
	}, a.logger)

	return nil
}

// profileResolver builds the shared profile lookup chain:
// avatar signing, then Redis, then PostgreSQL.
func (a *App) profileResolver() profile.Resolver {
	var resolver profile.Resolver = dao.NewProfilePostgres(a.pool)

	if a.redis != nil {
		a.profiles = cache.NewProfileRedis(a.redis, resolver, a.cfg.Redis.ProfileTTL, a.logger)
		resolver = a.profiles
	}

	if a.cfg.S3.Enabled {
		signer := storage.NewAvatarSigner(storage.S3Config{
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			Expiry:          a.cfg.S3.URLExpiry,
		})
		resolver = storage.NewAvatarResolver(resolver, signer, a.logger)
	}

	return resolver
}

// buildSources creates one adapter per upstream collection
func (a *App) buildSources() []source.Source {
	logger := a.logger.With("component", "source")
	adapter := func(name entity.Source, loader source.Loader) source.Source {
		return source.NewAdapter(name, loader, a.listener, source.Config{
			Channel:    a.cfg.Inbox.ChannelPrefix + string(name),
			MinBackoff: a.cfg.Inbox.MinBackoff,
			MaxBackoff: a.cfg.Inbox.MaxBackoff,
		}, logger)
	}

	return []source.Source{
		adapter(entity.SourceDirectChats,
			source.NewLoader(dao.NewDirectChatPostgres(a.pool), source.NormalizeDirectChat, logger)),
		adapter(entity.SourcePendingConnections,
			source.NewLoader(dao.NewConnectionPostgres(a.pool), source.NormalizeConnection, logger)),
		adapter(entity.SourceEventChats,
			source.NewLoader(dao.NewEventPostgres(a.pool), source.NormalizeEvent, logger)),
		adapter(entity.SourceGroupChats,
			source.NewLoader(dao.NewGroupPostgres(a.pool), source.NormalizeGroup, logger)),
		adapter(entity.SourceGroupJoinRequests,
			source.NewLoader(dao.NewGroupJoinRequestPostgres(a.pool), source.NormalizeGroupJoinRequest, logger)),
	}
}

// buildMutator returns the direct PostgreSQL writer, or the asynq queue
// in front of it when the queue is enabled
func (a *App) buildMutator() (service.Mutator, error) {
	store := dao.NewMutationPostgres(a.pool)
	if !a.cfg.Queue.Enabled {
		return store, nil
	}

	redisOpt, err := asynq.ParseRedisURI(a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing queue redis url: %w", err)
	}

	queueCfg := queue.Config{
		Concurrency: a.cfg.Queue.Concurrency,
		MaxRetry:    a.cfg.Queue.MaxRetry,
		Retention:   a.cfg.Queue.Retention,
	}
	logger := a.logger.With("component", "queue")
	a.mutationQueue = queue.NewMutationQueue(redisOpt, queueCfg, logger)
	a.worker = queue.NewWorker(redisOpt, store, queueCfg, logger)

	return a.mutationQueue, nil
}

// profileChannel carries the ids of updated or deleted users
func (a *App) profileChannel() string {
	return a.cfg.Inbox.ChannelPrefix + "profiles"
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() error {
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)
	a.router.Handle("/metrics", promhttp.Handler())

	// API reference
	docs, err := httpcontroller.NewDocsHandler("Layover Inbox API", openAPISpec)
	if err != nil {
		return err
	}
	docs.RegisterRoutes(a.router)

	a.router.Route("/api/v1", func(r chi.Router) {
		inboxHandler := httpcontroller.NewInboxHandler(a.inboxPolicy)
		inboxHandler.RegisterRoutes(r)
	})
	return nil
}

// healthHandler reports liveness and the number of live inbox sessions
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]any{
		"status":   "ok",
		"sessions": a.inboxPolicy.Active(),
	})
}

// readyHandler reports ready once the database answers
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := a.pool.Ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	go a.listener.Run(a.ctx)
	if a.profiles != nil {
		go a.profiles.WatchInvalidations(a.ctx, a.listener, a.profileChannel())
	}

	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting requests, stops every session (flushing queued
// writes), then releases infrastructure
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var serverErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		serverErr = fmt.Errorf("shutting down HTTP server: %w", err)
	}

	a.inboxPolicy.Shutdown()

	if a.worker != nil {
		a.worker.Shutdown()
	}

	a.closeInfrastructure()

	a.logger.Info("shutdown complete")
	return serverErr
}

func (a *App) closeInfrastructure() {
	a.cancel()

	if a.mutationQueue != nil {
		if err := a.mutationQueue.Close(); err != nil {
			a.logger.Warn("closing queue client", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
