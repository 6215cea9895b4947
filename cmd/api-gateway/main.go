package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-adp-assistant/api/swagger"
	"github.com/noah-isme/sma-adp-assistant/internal/bootstrap"
	"github.com/noah-isme/sma-adp-assistant/internal/handler"
	"github.com/noah-isme/sma-adp-assistant/internal/middleware"
	"github.com/noah-isme/sma-adp-assistant/pkg/config"
	"github.com/noah-isme/sma-adp-assistant/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-adp-assistant/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-adp-assistant/pkg/middleware/requestid"
)

// @title SMA ADP Assistant API
// @version 1.0.0
// @description Conversational assistant over the school records database
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to wire assistant", zap.Error(err))
	}
	defer app.Close() //nolint:errcheck
	app.Chat.Start()
	go app.CleanupPreviews(ctx, cfg.Certificates.SignedURLTTL)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.Metrics, "/metrics"))

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Chat:         handler.NewChatHandler(app.Chat, app.Exports),
		Certificates: handler.NewCertificateHandler(app.Certificates),
		Metrics:      handler.NewMetricsHandler(app.Metrics, app.Deps),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
