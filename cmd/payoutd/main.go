package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vendora/payouts/internal/bankvault"
	"github.com/vendora/payouts/internal/config"
	"github.com/vendora/payouts/internal/database"
	"github.com/vendora/payouts/internal/ledger"
	"github.com/vendora/payouts/internal/middleware/ratelimit"
	"github.com/vendora/payouts/internal/notification"
	"github.com/vendora/payouts/internal/withdrawal"
	"github.com/vendora/payouts/internal/ws"
	"github.com/vendora/payouts/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to the database and migrate
	db, err := database.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Notification transport
	hub := ws.NewHub(zapLogger, cfg.WS.ReadBufferSize, cfg.WS.WriteBufferSize, cfg.WS.ReplaySize)
	relay := notification.NewHubRelay(hub, zapLogger)

	// Create services
	ledgerSvc, err := ledger.NewService(zapLogger, db, cfg.Withdrawal.MonthlyLimit)
	if err != nil {
		zapLogger.Fatal("Failed to create ledger service", zap.Error(err))
	}

	vaultSvc, err := bankvault.NewService(zapLogger, db)
	if err != nil {
		zapLogger.Fatal("Failed to create bank vault service", zap.Error(err))
	}

	withdrawalSvc, err := withdrawal.NewService(zapLogger, db, ledgerSvc, vaultSvc, relay, cfg.Withdrawal)
	if err != nil {
		zapLogger.Fatal("Failed to create withdrawal service", zap.Error(err))
	}

	// Build the router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Trace-ID"},
		AllowCredentials: true,
	}))

	handler := withdrawal.NewHandler(withdrawalSvc, ledgerSvc, vaultSvc, hub, zapLogger)
	router.GET("/health", handler.HealthCheckHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter := ratelimit.NewLimiter(rdb, zapLogger,
			cfg.Redis.RateLimitCapacity, cfg.Redis.RateLimitRefill)
		v1.Use(limiter.Middleware())
		zapLogger.Info("Rate limiting enabled", zap.String("redis", cfg.Redis.Addr))
	}
	withdrawal.Routes(v1, handler, cfg.JWT.Secret)

	// Start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("Starting payout API server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
