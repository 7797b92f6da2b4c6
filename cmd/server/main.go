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

	"bobbrain/internal/api"
	"bobbrain/internal/app/bootstrap"
	"bobbrain/internal/platform/config"
	applog "bobbrain/internal/platform/log"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	app, err := bootstrap.Build(startCtx, cfg)
	if err != nil {
		startCancel()
		applog.Fatalf("❌ Startup failed: %v", err)
	}

	// 文档存储不可用时索引保持未初始化，由定时任务重试
	if app.Index.Initialize(startCtx, false) {
		stats := app.Index.Stats()
		applog.Infof("✅ Vector index ready (documents: %d, dims: %d)", stats.Count, stats.Dims)
	} else {
		applog.Warn("⚠️  Vector index not initialized, vector search unavailable until next sync")
	}
	startCancel()

	sched, err := app.NewScheduler()
	if err != nil {
		applog.Fatalf("❌ Scheduler setup failed: %v", err)
	}
	sched.Start()
	applog.Info("✅ Scheduler started")

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	serverConfig.SlackSigningSecret = cfg.Slack.SigningSecret
	serverConfig.MaxUploadMB = cfg.Ingest.MaxFileSize >> 20

	deps := api.Deps{
		Orchestrator: app.Orchestrator,
		Index:        app.Index,
		Cache:        app.Cache,
		Ingester:     app.Ingester,
	}
	if cfg.Slack.BotToken != "" {
		deps.Replier = api.NewSlackReplier(cfg.Slack.BotToken)
		applog.Info("✅ Slack replier ready")
	} else if cfg.Slack.SigningSecret != "" {
		applog.Warn("⚠️  SLACK_SIGNING_SECRET set without SLACK_BOT_TOKEN, answers will not be posted")
	}
	server := api.NewServer(serverConfig, deps)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
		sched.Stop(ctx)
		app.Close(ctx)
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Fatalf("❌ Server error: %v", err)
	}
	<-done

	applog.Info("👋 Server stopped")
}
