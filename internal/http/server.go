package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finapp/internal/cache"
	"finapp/internal/core"
	"finapp/internal/ledger"
	applog "finapp/internal/log"
	"finapp/internal/middleware/ratelimit"
	"finapp/internal/middleware/security"
	"finapp/internal/middleware/trace"
)

// Ledger is the write and read surface the API serves.
type Ledger interface {
	CreateUser(ctx context.Context, name, email string, settings core.Settings) (core.User, error)
	GetUser(ctx context.Context, userID string) (core.User, error)
	RegisterDevice(ctx context.Context, userID, token string) (core.User, error)
	RemoveDevice(ctx context.Context, userID, token string) error

	RecordExpense(ctx context.Context, userID string, in core.ExpenseInput) (ledger.ExpenseResult, error)
	ListEntries(ctx context.Context, userID, period string) ([]core.LedgerEntry, error)
	GetMonthlyAggregate(ctx context.Context, userID, period string) (core.MonthlyAggregate, error)
	ListMonthlyAggregates(ctx context.Context, userID, from, to string) ([]core.MonthlyAggregate, error)

	CreateGoal(ctx context.Context, userID string, in core.GoalInput) (core.Goal, error)
	ListGoals(ctx context.Context, userID string) ([]core.Goal, error)
	GetGoal(ctx context.Context, userID, goalID string) (core.Goal, error)
	RecordGoalContribution(ctx context.Context, userID, goalID string, in core.ContributionInput) (ledger.ContributionResult, error)
	ListContributions(ctx context.Context, userID, goalID string) ([]core.LedgerEntry, error)
	AbandonGoal(ctx context.Context, userID, goalID string) (core.Goal, error)
}

type Config struct {
	Addr         string
	RateLimitRPM int

	AggregateCacheSize int
	AggregateCacheTTL  time.Duration

	// Registry receives the HTTP collectors and is served on /metrics.
	// A fresh registry is used when nil.
	Registry *prometheus.Registry
	Logger   *applog.Logger
	// Readiness is probed by /readyz; nil means always ready.
	Readiness func(ctx context.Context) error
}

func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		RateLimitRPM:       120,
		AggregateCacheSize: 1000,
		AggregateCacheTTL:  30 * time.Second,
	}
}

type Server struct {
	http.Server
	ledger    Ledger
	logger    *applog.Logger
	readiness func(ctx context.Context) error
	ready     atomic.Bool

	// Monthly aggregates keyed by userID/period. Writes through this
	// server drop the affected key.
	aggregates *cache.LRUCache[core.MonthlyAggregate]
	caches     *cache.Manager
	limiter    *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, l Ledger) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.AggregateCacheSize <= 0 {
		cfg.AggregateCacheSize = def.AggregateCacheSize
	}
	if cfg.AggregateCacheTTL <= 0 {
		cfg.AggregateCacheTTL = def.AggregateCacheTTL
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = applog.Nop()
	}

	s := &Server{
		ledger:    l,
		logger:    cfg.Logger.WithComponent(applog.ComponentHTTP),
		readiness: cfg.Readiness,
		aggregates: cache.NewLRUCache[core.MonthlyAggregate]("monthly_aggregates",
			cfg.AggregateCacheSize, cfg.AggregateCacheTTL, cache.WithRegisterer(cfg.Registry)),
		caches: cache.NewManager(cfg.Logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitRPM,
			Registerer:        cfg.Registry,
		}),
	}
	s.caches.Register(s.aggregates)
	s.caches.StartCleanup(time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{Registry: cfg.Registry}))

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users/{userID}", s.handleGetUser)
	mux.HandleFunc("POST /users/{userID}/devices", s.handleRegisterDevice)
	mux.HandleFunc("DELETE /users/{userID}/devices/{token}", s.handleRemoveDevice)

	mux.HandleFunc("POST /users/{userID}/expenses", s.handleRecordExpense)
	mux.HandleFunc("GET /users/{userID}/expenses", s.handleListExpenses)
	mux.HandleFunc("GET /users/{userID}/monthly-stats", s.handleListMonthlyStats)
	mux.HandleFunc("GET /users/{userID}/monthly-stats/{period}", s.handleGetMonthlyStats)

	mux.HandleFunc("POST /users/{userID}/goals", s.handleCreateGoal)
	mux.HandleFunc("GET /users/{userID}/goals", s.handleListGoals)
	mux.HandleFunc("GET /users/{userID}/goals/{goalID}", s.handleGetGoal)
	mux.HandleFunc("POST /users/{userID}/goals/{goalID}/contributions", s.handleRecordContribution)
	mux.HandleFunc("GET /users/{userID}/goals/{goalID}/contributions", s.handleListContributions)
	mux.HandleFunc("POST /users/{userID}/goals/{goalID}/abandon", s.handleAbandonGoal)

	detector := security.NewDetector(cfg.Registry)
	tracer := trace.NewMiddleware(detector.ExtractClientIP, trace.NewMetrics(cfg.Registry), cfg.Logger)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var h http.Handler = mux
	h = s.limiter.Middleware(detector.ExtractClientIP, s.handleRateLimited)(h)
	h = headers.Middleware(h)
	h = detector.Middleware(cfg.Logger)(h)
	h = s.recoverPanics(h)
	h = applog.RequestIDMiddleware(trace.RequestID)(h)
	h = applog.Middleware(cfg.Logger)(h)
	h = tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.ready.Store(true)
	return s
}

// Shutdown marks the server unready, stops background cleanup and drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.ready.Store(false)
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		NewResponse().Status(http.StatusServiceUnavailable).
			JSON(map[string]string{"status": "shutting down"}).Write(w)
		return
	}
	if s.readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.readiness(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", applog.FieldError, err.Error())
			NewResponse().Status(http.StatusServiceUnavailable).
				JSON(map[string]string{"status": "unavailable"}).Write(w)
			return
		}
	}
	NewResponse().JSON(map[string]string{"status": "ready"}).Write(w)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldMethod, r.Method, applog.FieldPath, r.URL.Path)
	NewResponse().Status(http.StatusTooManyRequests).JSON(errorBody{
		Error:     errorDetail{Code: "rate_limited", Message: "rate limit exceeded, retry later"},
		RequestID: trace.GetRequestID(r.Context()),
	}).Write(w)
}

// recoverPanics turns a handler panic into a 500 and reports it to Sentry.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil || rec == http.ErrAbortHandler {
				if rec != nil {
					panic(rec)
				}
				return
			}
			ctx := r.Context()
			applog.FromContext(ctx).ErrorContext(ctx, "Handler panic",
				applog.FieldMethod, r.Method, applog.FieldPath, r.URL.Path, "panic", rec)
			hub := sentry.GetHubFromContext(ctx)
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
			}
			hub.RecoverWithContext(ctx, rec)
			ErrorResponse(ctx, nil).Status(http.StatusInternalServerError).Write(w)
		}()
		next.ServeHTTP(w, r)
	})
}

func aggregateKey(userID, period string) string {
	return userID + "/" + period
}
