package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/config"
	httpHandler "github.com/mmuslimabdulj/ephemeral-chat/internal/delivery/http"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/delivery/ws"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/logger"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/memory"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/middleware"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/ratelimit"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/security"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/usecase"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load .env file (ignore error if not exists, e.g. in production)
	_ = godotenv.Load()

	cfg := config.LoadFromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.TokenSecret == "" {
		log.Warn("TOKEN_SECRET not set, sessions will not survive a restart")
	}

	// Initialize dependencies
	tokens, err := security.NewTokenService([]byte(cfg.TokenSecret), cfg.TokenExpiry)
	if err != nil {
		log.WithError(err).Fatal("token service")
	}
	limiter := ratelimit.NewLimiter(cfg.RateRules)
	rooms := usecase.NewRoomManager(cfg, limiter, tokens, usecase.WithLogger(log.WithField("component", "rooms")))

	hub := ws.NewHub(rooms, cfg, log.WithField("component", "ws"))
	rooms.SetNotifier(hub)
	rooms.Start()

	monitor := memory.NewMonitor(cfg, rooms, memory.WithLogger(log.WithField("component", "memory")))
	monitor.Start()

	handler := httpHandler.NewHandler(rooms, monitor, log.WithField("component", "http"), cfg.TrustProxy)

	apiLimiter := middleware.NewIPRateLimiter(cfg.RateLimitAPI, int(cfg.RateLimitAPI)*2)
	wsLimiter := middleware.NewIPRateLimiter(cfg.RateLimitWS, int(cfg.RateLimitWS)*2)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.HandleHealth)

	api := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.RateLimitFunc(apiLimiter, cfg.TrustProxy, h)
	}
	mux.HandleFunc("/api/stats", api(handler.HandleStats))
	mux.HandleFunc("/api/metrics", api(handler.HandleMetrics))
	mux.HandleFunc("/api/csrf", api(handler.HandleCSRF))
	mux.Handle("/api/room/check", middleware.RateLimitMiddleware(apiLimiter, cfg.TrustProxy)(
		middleware.CSRFProtect(rooms)(http.HandlerFunc(handler.HandleRoomCheck))))

	// WebSocket route with rate limiting
	mux.Handle("/ws", middleware.RateLimitMiddleware(wsLimiter, cfg.TrustProxy)(hub))

	root := middleware.RequestLogger(log.WithField("component", "access"), rooms.HashSource, cfg.TrustProxy)(
		middleware.SecurityHeaders(mux))

	// Create server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "max_rooms": cfg.MaxRooms}).Info("ephemeral chat listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	monitor.Stop()
	rooms.Shutdown()
	hub.CloseAll()
	apiLimiter.Stop()
	wsLimiter.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server exited gracefully")
}
