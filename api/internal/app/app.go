// Package app wires the pieces shared by the HTTP API and the Telegram bot.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"go.uber.org/zap"

	"medist/api/internal/analysis"
	"medist/api/internal/analysis/gemini"
	"medist/api/internal/analysis/openai"
	"medist/api/internal/config"
	"medist/api/internal/store"
)

// Engines builds a Client for every engine that has an API key.
func Engines(cfg *config.Config, log *zap.Logger, obs analysis.Observer) *analysis.Engines {
	opts := []analysis.Option{analysis.WithLogger(log)}
	if obs != nil {
		opts = append(opts, analysis.WithObserver(obs))
	}
	engs := &analysis.Engines{Default: cfg.DefaultEngine}
	if cfg.GeminiAPIKey != "" {
		engs.Gemini = analysis.NewClient(gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel), opts...)
	}
	if cfg.OpenAIAPIKey != "" {
		engs.OpenAI = analysis.NewClient(openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel), opts...)
	}
	// fall back to whichever engine is configured
	if _, err := engs.GetEngine(""); err != nil {
		if names := engs.Names(); len(names) > 0 {
			engs.Default = names[0]
		}
	}
	log.Info("engines ready", zap.Strings("engines", engs.Names()), zap.String("default", engs.Default))
	return engs
}

// Source opens Postgres when a DSN is configured and falls back to the
// built-in demo data otherwise. ping is nil for the demo data.
func Source(ctx context.Context, cfg *config.Config, log *zap.Logger) (src store.Source, ping func(context.Context) error, closeFn func(), err error) {
	if cfg.DatabaseURL == "" {
		log.Info("no database configured, serving demo patient data")
		return store.NewStatic(), nil, func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("db.Ping: %w", err)
	}
	log.Info("db connected", zap.String("dsn", config.SafeDSN(cfg.DatabaseURL)))

	pg := store.NewPostgresSource(db, cfg.PatientID)
	return pg, pg.Ping, func() { _ = db.Close() }, nil
}
