package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HammerMeetNail/bookbuddy/internal/config"
	"github.com/HammerMeetNail/bookbuddy/internal/database"
	"github.com/HammerMeetNail/bookbuddy/internal/handlers"
	"github.com/HammerMeetNail/bookbuddy/internal/logging"
	"github.com/HammerMeetNail/bookbuddy/internal/middleware"
	"github.com/HammerMeetNail/bookbuddy/internal/services"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

type limiter interface {
	Middleware(next http.Handler) http.Handler
}

// app holds everything the router needs.
type app struct {
	health        *handlers.HealthHandler
	listings      *handlers.ListingHandler
	exchanges     *handlers.ExchangeHandler
	conversations *handlers.ConversationHandler
	identity      *middleware.Identity
	writeLimit    limiter
	messageLimit  limiter
	requestLogger *middleware.RequestLogger
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
		logging.SetDefaultLevel(logging.LevelDebug)
		logger.Debug("Debug logging enabled", map[string]interface{}{"env": cfg.Server.Environment})
	}

	logger.Info("Starting bookbuddy server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	logger.Info("Running database migrations...")
	migrator, err := database.NewMigrator(cfg.Database.DSN(), cfg.Database.MigrationsPath)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	logger.Info("Migrations completed")

	var redisDB *database.RedisDB
	if cfg.Redis.Enabled {
		logger.Info("Connecting to Redis", map[string]interface{}{"addr": cfg.Redis.Addr()})
		redisDB, err = database.NewRedisDB(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() { _ = redisDB.Close() }()
		logger.Info("Connected to Redis")
	} else {
		logger.Warn("Redis disabled; rate limits are per instance")
	}

	dbAdapter := services.NewPoolAdapter(db.Pool)
	listingService := services.NewListingService(dbAdapter)
	exchangeService := services.NewExchangeService(dbAdapter, listingService)
	conversationService := services.NewConversationService(dbAdapter)
	orchestrator := services.NewExchangeOrchestrator(dbAdapter, exchangeService, conversationService)

	verifier, err := resolveVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	identity := middleware.NewIdentity(verifier, cfg.Identity.CacheTTL, cfg.Identity.TrustHeader)
	identity.Start()
	defer identity.Stop()

	writeLimit, messageLimit, local := resolveLimiters(cfg, redisDB, logger)
	for _, l := range local {
		go l.Run(ctx)
	}

	a := &app{
		health:        handlers.NewHealthHandler(db, redisDB),
		listings:      handlers.NewListingHandler(listingService, exchangeService),
		exchanges:     handlers.NewExchangeHandler(orchestrator, exchangeService, conversationService),
		conversations: handlers.NewConversationHandler(conversationService),
		identity:      identity,
		writeLimit:    writeLimit,
		messageLimit:  messageLimit,
		requestLogger: middleware.NewRequestLogger(logger),
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      a.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), resolveShutdownTimeout(logger, os.LookupEnv))
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		close(done)
	}()

	logger.Info("Server listening", map[string]interface{}{"addr": addr})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	write := func(h http.HandlerFunc) http.Handler { return a.writeLimit.Middleware(h) }

	// Health endpoints
	mux.HandleFunc("GET /health", a.health.Health)
	mux.HandleFunc("GET /ready", a.health.Ready)
	mux.HandleFunc("GET /live", a.health.Live)

	// Listing endpoints
	mux.HandleFunc("GET /api/listings", a.listings.Search)
	mux.HandleFunc("GET /api/listings/mine", a.listings.Mine)
	mux.Handle("POST /api/listings", write(a.listings.Create))
	mux.HandleFunc("GET /api/listings/{id}", a.listings.Get)
	mux.Handle("PUT /api/listings/{id}", write(a.listings.Update))
	mux.Handle("DELETE /api/listings/{id}", write(a.listings.Delete))
	mux.HandleFunc("GET /api/listings/{id}/requests", a.listings.Requests)

	// Exchange request endpoints
	mux.Handle("POST /api/requests", write(a.exchanges.Create))
	mux.HandleFunc("GET /api/requests/sent", a.exchanges.Sent)
	mux.HandleFunc("GET /api/requests/received", a.exchanges.Received)
	mux.HandleFunc("GET /api/requests/counts", a.exchanges.Counts)
	mux.HandleFunc("GET /api/requests/{id}", a.exchanges.Get)
	mux.HandleFunc("GET /api/requests/{id}/conversation", a.exchanges.Conversation)
	mux.Handle("PUT /api/requests/{id}/accept", write(a.exchanges.Accept))
	mux.Handle("PUT /api/requests/{id}/reject", write(a.exchanges.Reject))
	mux.Handle("PUT /api/requests/{id}/cancel", write(a.exchanges.Cancel))
	mux.Handle("PUT /api/requests/{id}/complete", write(a.exchanges.Complete))
	mux.Handle("PUT /api/requests/{id}/return", write(a.exchanges.Return))

	// Conversation endpoints
	mux.HandleFunc("GET /api/conversations", a.conversations.List)
	mux.HandleFunc("GET /api/conversations/{id}", a.conversations.Get)
	mux.HandleFunc("GET /api/conversations/{id}/messages", a.conversations.Messages)
	mux.Handle("POST /api/conversations/{id}/messages", a.messageLimit.Middleware(http.HandlerFunc(a.conversations.PostMessage)))
	mux.HandleFunc("GET /api/conversations/{id}/unread-count", a.conversations.UnreadCount)
	mux.Handle("PUT /api/conversations/{id}/close", write(a.conversations.Close))

	// outermost first
	var handler http.Handler = mux
	handler = a.identity.Authenticate(handler)
	handler = a.requestLogger.Apply(handler)
	return handler
}

// resolveVerifier returns nil when OIDC is not configured.
func resolveVerifier(ctx context.Context, cfg *config.Config, logger *logging.Logger) (middleware.TokenVerifier, error) {
	if !cfg.Identity.OIDCEnabled() {
		if !cfg.Identity.TrustHeader {
			logger.Warn("No identity source configured; all requests are anonymous")
		} else {
			logger.Warn("Trusting " + middleware.UserIDHeader + " header for caller identity")
		}
		return nil, nil
	}

	verifier, err := middleware.NewOIDCVerifier(ctx, cfg.Identity.IssuerURL, cfg.Identity.ClientID, cfg.Identity.UserIDClaim)
	if err != nil {
		return nil, fmt.Errorf("initializing oidc verifier: %w", err)
	}
	logger.Info("OIDC token verification enabled", map[string]interface{}{
		"issuer": cfg.Identity.IssuerURL,
		"claim":  cfg.Identity.UserIDClaim,
	})
	return verifier, nil
}

// resolveLimiters prefers Redis-backed limiters shared across instances and
// falls back to in-process token buckets, which the caller must Run.
func resolveLimiters(cfg *config.Config, redisDB *database.RedisDB, logger *logging.Logger) (limiter, limiter, []*middleware.LocalRateLimiter) {
	rl := cfg.RateLimit
	if redisDB != nil && redisDB.Client != nil {
		counter := middleware.NewRedisCounter(redisDB.Client)
		logger.Info("Using Redis rate limits", map[string]interface{}{
			"writes":   rl.WriteLimit,
			"messages": rl.MessageRate,
			"window":   rl.Window.String(),
		})
		return middleware.NewRateLimiter(counter, rl.WriteLimit, rl.Window, rl.KeyPrefix+"writes:", middleware.CallerKey, rl.FailOpen),
			middleware.NewRateLimiter(counter, rl.MessageRate, rl.Window, rl.KeyPrefix+"messages:", middleware.CallerKey, rl.FailOpen),
			nil
	}

	logger.Info("Using local rate limits", map[string]interface{}{
		"rps":   rl.LocalRPS,
		"burst": rl.LocalBurst,
	})
	writes := middleware.NewLocalRateLimiter(rl.LocalRPS, rl.LocalBurst, middleware.CallerKey)
	messages := middleware.NewLocalRateLimiter(rl.LocalRPS*2, rl.LocalBurst*2, middleware.CallerKey)
	return writes, messages, []*middleware.LocalRateLimiter{writes, messages}
}

func resolveShutdownTimeout(logger *logging.Logger, lookupEnv func(string) (string, bool)) time.Duration {
	timeout := 30 * time.Second
	if value, ok := lookupEnv("SHUTDOWN_TIMEOUT"); ok && value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			logger.Warn("Invalid SHUTDOWN_TIMEOUT; using default", map[string]interface{}{
				"value":   value,
				"default": timeout.String(),
			})
		} else {
			timeout = parsed
		}
	}
	return timeout
}
