package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"medist/api/internal/handle"
	"medist/api/internal/metrics"
)

type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	Metrics *metrics.Collector
	Log     *zap.Logger
	// Health is checked by /healthz when set (database ping).
	Health func(ctx context.Context) error
}

func NewRouter(h *handle.Handle, o Options) http.Handler {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger(o.Log, o.Metrics))
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: o.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	mux.Get("/healthz", healthz(o.Health))
	if o.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", o.Metrics.Handler())
	}

	limited := func(next http.Handler) http.Handler { return next }
	if o.RateLimitRPS > 0 {
		limited = NewIPRateLimiter(o.RateLimitRPS, o.RateLimitBurst).Middleware
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.Get("/patient", h.Patient)
		rt.Get("/records", h.Records)
		rt.Get("/vitals", h.Vitals)

		rt.With(limited).Post("/analyze", h.Analyze)

		rt.With(limited).Post("/sessions", h.CreateSession)
		rt.Route("/sessions/{id}", func(s chi.Router) {
			s.Get("/", h.GetSession)
			s.Delete("/", h.DeleteSession)
			s.With(limited).Post("/upload", h.Upload)
			s.Post("/reset", h.ResetSession)
		})
	})

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	return mux
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func requestLogger(log *zap.Logger, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			if m != nil {
				m.InFlightGauge.Inc()
				defer m.InFlightGauge.Dec()
			}

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			if m != nil {
				m.ObserveRequest(r.Method, route, status, elapsed)
			}
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"kind": kind, "message": msg}})
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
