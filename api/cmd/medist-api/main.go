package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medist/api/internal/app"
	"medist/api/internal/config"
	"medist/api/internal/handle"
	"medist/api/internal/httpserver"
	"medist/api/internal/logger"
	"medist/api/internal/metrics"
	"medist/api/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, ping, closeDB, err := app.Source(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("data source", zap.Error(err))
	}
	defer closeDB()

	var sessions *upload.Manager
	m := metrics.NewCollector("medist", func() int { return sessions.Len() })
	engs := app.Engines(cfg, lg, m)

	def, err := engs.GetEngine("")
	if err != nil {
		lg.Fatal("no analysis engine", zap.Error(err))
	}
	sessions = upload.NewManager(def,
		upload.WithTimeout(cfg.AnalysisTimeout),
		upload.WithLogger(lg.Named("upload")),
	)
	sessions.SetMax(cfg.MaxSessions)
	go sessions.RunJanitor(ctx, time.Minute, cfg.SessionIdleTTL, lg.Named("upload"))

	h := handle.New(engs, sessions, src, lg.Named("http"), handle.Limits{
		MaxUploadBytes:  cfg.MaxUploadBytes,
		AnalysisTimeout: cfg.AnalysisTimeout,
	}, uuid.NewString)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpserver.NewRouter(h, httpserver.Options{
			CORSOrigins:    cfg.CORSOrigins,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			Metrics:        m,
			Log:            lg,
			Health:         ping,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// wait=true uploads block for a whole analysis
		WriteTimeout: cfg.AnalysisTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := httpserver.Serve(ctx, srv, lg); err != nil {
		lg.Fatal("server error", zap.Error(err))
	}
	lg.Info("stopped")
}
