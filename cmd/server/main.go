package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/energydesk-api/internal/accounts"
	"github.com/ksred/energydesk-api/internal/auth"
	"github.com/ksred/energydesk-api/internal/config"
	"github.com/ksred/energydesk-api/internal/database"
	"github.com/ksred/energydesk-api/internal/events"
	"github.com/ksred/energydesk-api/internal/feed"
	"github.com/ksred/energydesk-api/internal/leaderboard"
	"github.com/ksred/energydesk-api/internal/market"
	"github.com/ksred/energydesk-api/internal/trading"
	"github.com/ksred/energydesk-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// setupLogging enables pretty console output outside production.
// Debug logging is switched on with DEBUG=true.
func setupLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

type handlers struct {
	auth        *auth.GinHandlers
	accounts    *accounts.GinHandlers
	trading     *trading.GinHandlers
	leaderboard *leaderboard.GinHandlers
	snapshots   *leaderboard.SnapshotProcessor
	feed        *feed.GinHandlers
	market      *market.GinHandlers
	hub         *events.Hub
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogging(cfg)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Events fan out after commit; none of these sinks can fail a trade
	hub := events.NewHub()
	dispatcher := events.NewDispatcher(cfg.Trading.EventBuffer)
	recorder := feed.NewRecorder(db, dispatcher)

	accounts.RegisterValidations()
	accountService := accounts.NewService(db, cfg.Trading.DefaultStartingBalance, cfg.Trading.StorageTimeout, dispatcher)
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, accountService)
	tradingService := trading.NewService(db, accountService,
		trading.WithStorageTimeout(cfg.Trading.StorageTimeout),
		trading.WithEmitter(dispatcher),
	)

	var cache leaderboard.Cache
	if cfg.Leaderboard.RedisAddr != "" {
		redisCache := leaderboard.NewRedisCache(cfg.Leaderboard)
		if err := redisCache.Ping(ctx); err != nil {
			zlog.Warn().Err(err).Str("addr", cfg.Leaderboard.RedisAddr).Msg("Redis unreachable, leaderboard cache disabled")
			redisCache.Close()
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}
	leaderboardService := leaderboard.NewService(db, accountService, cache, cfg.Trading.StorageTimeout)

	// The cache is dropped before websocket clients hear about a change and refetch
	dispatcher.Subscribe(leaderboardService)
	dispatcher.Subscribe(hub)
	dispatcher.Subscribe(recorder)
	if cfg.Events.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer natsPublisher.Close()
		dispatcher.Subscribe(natsPublisher)
	}
	snapshotProcessor := leaderboard.NewSnapshotProcessor(db, leaderboardService, cfg.Leaderboard.SnapshotInterval)

	dispatcher.Start(ctx)
	go hub.Run(ctx)
	go snapshotProcessor.Start(ctx)

	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Run(ctx)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	setupRoutes(router, cfg, authService, rateLimiter, handlers{
		auth:        auth.NewGinHandlers(authService),
		accounts:    accounts.NewGinHandlers(accountService),
		trading:     trading.NewGinHandlers(tradingService),
		leaderboard: leaderboard.NewGinHandlers(leaderboardService),
		snapshots:   snapshotProcessor,
		feed:        feed.NewGinHandlers(recorder),
		market:      market.NewGinHandlers(nil),
		hub:         hub,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop background workers and let the dispatcher flush what is queued
	cancel()
	select {
	case <-dispatcher.Done():
	case <-shutdownCtx.Done():
		zlog.Warn().Msg("Event dispatcher did not drain before shutdown deadline")
	}

	zlog.Info().Uint64("dropped_events", dispatcher.Dropped()).Msg("Server exiting")
}

// setupRoutes registers every endpoint under /api/v1.
// Trader routes need a JWT, admin routes need the X-Admin-PIN header.
// The rate limiter runs after JWTAuth so authenticated routes are limited per trader.
func setupRoutes(router *gin.Engine, cfg *config.Config, authService *auth.Service, limiter *middleware.RateLimiter, h handlers) {
	limit := limiter.Middleware()
	jwt := middleware.JWTAuth(authService)

	v1 := router.Group("/api/v1")
	{
		public := v1.Group("")
		public.Use(limit)
		{
			public.POST("/auth/token", h.auth.GenerateTokenHandler())
			public.POST("/traders/register", h.accounts.RegisterHandler())

			public.GET("/leaderboard", h.leaderboard.LeaderboardHandler())
			public.GET("/leaderboard/snapshots/:trader", h.leaderboard.SnapshotsHandler(h.snapshots))
			public.GET("/trade-feed", h.feed.RecentHandler())
			public.GET("/market-status", h.market.StatusHandler())
			public.GET("/ws", h.hub.Handler())
		}

		traders := v1.Group("/traders")
		traders.Use(jwt, limit)
		{
			traders.GET("/otc-status", h.accounts.GetOTCStatusHandler())
			traders.POST("/otc-status", h.accounts.SetOTCStatusHandler())
			traders.GET("/otc-counterparties", h.accounts.CounterpartiesHandler())
		}

		trades := v1.Group("/trades")
		trades.Use(jwt, limit)
		{
			trades.GET("", h.trading.ListTradesHandler())
			trades.POST("", h.trading.SubmitTradeHandler())
			trades.POST("/otc", h.trading.SubmitOTCHandler())
			trades.POST("/:trade_id/close", h.trading.CloseTradeHandler())
			trades.DELETE("/:trade_id", h.trading.DeleteTradeHandler())
		}

		v1.GET("/portfolio", jwt, limit, h.trading.PortfolioHandler())

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Auth.AdminPIN))
		{
			admin.GET("/traders", h.accounts.ListTradersHandler())
			admin.POST("/traders/:trader/status", h.accounts.SetStatusHandler())
			admin.POST("/traders/:trader/balance", h.accounts.SetBalanceHandler())
			admin.GET("/teams", h.accounts.ListTeamsHandler())
			admin.POST("/teams", h.accounts.CreateTeamHandler())
			admin.POST("/teams/:team_id/assign", h.accounts.AssignTeamHandler())
			admin.POST("/teams/unassign", h.accounts.RemoveFromTeamHandler())
		}
	}
}
