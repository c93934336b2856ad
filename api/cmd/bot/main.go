package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"medist/api/internal/app"
	"medist/api/internal/config"
	"medist/api/internal/logger"
	"medist/api/internal/metrics"
	"medist/api/internal/telegram"
	"medist/api/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
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
	m := metrics.NewCollector("medist_bot", func() int { return sessions.Len() })
	engs := app.Engines(cfg, lg, m)
	def, err := engs.GetEngine("")
	if err != nil {
		lg.Fatal("no analysis engine", zap.Error(err))
	}
	sessions = upload.NewManager(def,
		upload.WithTimeout(cfg.AnalysisTimeout),
		upload.WithLogger(lg.Named("upload")),
	)
	go sessions.RunJanitor(ctx, time.Minute, cfg.SessionIdleTTL, lg.Named("upload"))

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		lg.Fatal("telegram", zap.Error(err))
	}
	bot.Debug = false

	r := &telegram.Router{
		Bot:            bot,
		Engines:        engs,
		Sessions:       sessions,
		Source:         src,
		Log:            lg.Named("telegram"),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	// DefaultServeMux, because ListenForWebhook registers there
	http.Handle("/metrics", m.Handler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if ping != nil {
			pctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := ping(pctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: "0.0.0.0:" + cfg.Port, ReadHeaderTimeout: 10 * time.Second}

	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		startWebhookMode(ctx, srv, bot, r, webhookURL, lg)
	} else {
		startPollingMode(ctx, srv, bot, r, lg)
	}
	lg.Info("stopped")
}

// ---------------- Modes -----------------

func startWebhookMode(ctx context.Context, srv *http.Server, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string, lg *zap.Logger) {
	// secret path derived from the token
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		lg.Fatal("webhook", zap.Error(err))
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		lg.Fatal("set webhook", zap.Error(err))
	}

	updates := bot.ListenForWebhook(path)
	go func() {
		for upd := range updates {
			r.HandleUpdate(upd)
		}
		lg.Info("webhook updates channel closed")
	}()

	lg.Info("webhook listening", zap.String("addr", srv.Addr), zap.String("path", path))
	serve(ctx, srv, lg)
}

func startPollingMode(ctx context.Context, srv *http.Server, bot *tgbotapi.BotAPI, r *telegram.Router, lg *zap.Logger) {
	// health and metrics only
	go serve(ctx, srv, lg)

	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		lg.Warn("delete webhook", zap.Error(err))
	}
	runPolling(ctx, bot, r.HandleUpdate, lg)
}

func serve(ctx context.Context, srv *http.Server, lg *zap.Logger) {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	lg.Info("http listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Fatal("http server", zap.Error(err))
	}
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 from Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update), lg *zap.Logger) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			lg.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling, seconds

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := min(max(retryDelayFromError(err), baseDelay), maxDelay)
			lg.Warn("polling error", zap.Error(err), zap.Duration("retry_in", d))
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ---------------- Helpers -----------------

// shortHash is FNV-1a of the token as 16 hex chars.
func shortHash(s string) string {
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
