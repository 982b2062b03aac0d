// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/invitegen/edgegate/internal/apierror"
	"github.com/invitegen/edgegate/internal/audit"
	"github.com/invitegen/edgegate/internal/config"
	"github.com/invitegen/edgegate/internal/database"
	"github.com/invitegen/edgegate/internal/handlers"
	"github.com/invitegen/edgegate/internal/metrics"
	"github.com/invitegen/edgegate/internal/middleware"
	"github.com/invitegen/edgegate/internal/policy"
	"github.com/invitegen/edgegate/internal/ratelimit"
	"github.com/invitegen/edgegate/internal/sitegate"
	"github.com/invitegen/edgegate/pkg/logger"
)

// connectTimeout bounds Redis and Postgres setup in New.
const connectTimeout = 10 * time.Second

// Option customises a Server.
type Option func(*Server)

// WithStore replaces the configured rate limit store.
func WithStore(store ratelimit.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithPolicies replaces the policy table normally read from defaults or
// POLICY_FILE.
func WithPolicies(set *policy.Set) Option {
	return func(s *Server) {
		s.policySet = set
	}
}

// WithAuditFlusher replaces the audit flusher normally chosen from config.
func WithAuditFlusher(f audit.Flusher) Option {
	return func(s *Server) {
		s.flusher = f
	}
}

// Server represents the HTTP server.
type Server struct {
	cfg           *config.Config
	log           *logger.Logger
	httpServer    *http.Server
	healthHandler *handlers.HealthHandler

	policySet *policy.Set
	policies  *policy.Store
	watcher   *policy.Watcher
	store     ratelimit.Store
	limiter   *ratelimit.Limiter
	sweeper   *ratelimit.Sweeper
	gate      *sitegate.Gate
	flusher   audit.Flusher
	recorder  *audit.Recorder
	pool      *database.Pool

	watchCancel context.CancelFunc
	closeOnce   sync.Once

	listener net.Listener
	running  bool
	mu       sync.RWMutex
}

// New creates a Server and connects its backing services.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		cfg:           cfg,
		log:           log,
		healthHandler: handlers.NewHealthHandler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := s.setupPolicies(); err != nil {
		return nil, err
	}
	if err := s.setupRateLimit(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	if err := s.setupAudit(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	s.gate = sitegate.New(cfg.Gate, cfg.SecureCookies())

	handler, err := s.buildHandler()
	if err != nil {
		s.closeResources()
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupPolicies() error {
	set := s.policySet
	if set == nil {
		set = policy.Defaults()
		if s.cfg.Policy.File != "" {
			loaded, err := policy.LoadFile(s.cfg.Policy.File)
			if err != nil {
				return err
			}
			set = loaded
		}
	}
	s.policies = policy.NewStore(set)

	if s.cfg.Policy.Watch && s.cfg.Policy.File != "" {
		w, err := policy.NewWatcher(s.cfg.Policy.File, s.policies, s.log.With("component", "policy.watcher"))
		if err != nil {
			return err
		}
		s.watcher = w
	}

	s.log.Info("policy table loaded",
		"policies", len(set.Policies),
		"exemptions", len(set.Exemptions),
	)
	return nil
}

func (s *Server) setupRateLimit(ctx context.Context) error {
	if !s.cfg.Rate.Enabled {
		s.log.Info("rate limiting disabled")
		return nil
	}

	if s.store == nil {
		switch s.cfg.Rate.Backend {
		case config.BackendRedis:
			client, err := ratelimit.NewRedisClient(ctx, &s.cfg.Redis)
			if err != nil {
				return err
			}
			store := ratelimit.NewRedisStore(client, ratelimit.DefaultRedisPrefix)
			s.healthHandler.AddCheck("redis", store.Ping)
			s.store = store
		default:
			s.store = ratelimit.NewMemoryStore()
		}
	}

	s.limiter = ratelimit.NewLimiter(s.store)

	interval := s.cfg.Rate.SweepInterval
	if interval <= 0 {
		interval = s.policies.Load().LongestWindow(ratelimit.DefaultSweepInterval)
	}
	s.sweeper = ratelimit.NewSweeper(s.store, interval, s.log)

	s.log.Info("rate limiting enabled",
		"backend", s.cfg.Rate.Backend,
		"sweep_interval", s.sweeper.Interval().String(),
	)
	return nil
}

func (s *Server) setupAudit(ctx context.Context) error {
	if !s.cfg.Audit.Enabled {
		return nil
	}

	if s.flusher == nil {
		if s.cfg.DatabaseEnabled() {
			pool, err := database.NewPool(ctx, &s.cfg.Database)
			if err != nil {
				return err
			}
			s.pool = pool

			migrator, err := database.NewMigrator(pool, database.Migrations, database.MigrationsDir)
			if err != nil {
				return err
			}
			applied, err := migrator.Up(ctx)
			if err != nil {
				return err
			}
			if applied > 0 {
				s.log.Info("applied database migrations", "count", applied)
			}

			s.healthHandler.AddCheck("database", pool.HealthCheck)
			s.flusher = audit.NewRepositoryFlusher(audit.NewPostgresRepository(pool), s.log)
		} else {
			s.flusher = audit.NewLogFlusher(s.log)
		}
	}

	s.recorder = audit.NewRecorder(audit.Config{
		FlushInterval: s.cfg.Audit.FlushInterval,
		BatchSize:     s.cfg.Audit.BatchSize,
	}, s.flusher)
	return nil
}

// buildHandler routes operational endpoints directly and sends everything
// else through admission.
func (s *Server) buildHandler() (http.Handler, error) {
	errs := apierror.NewWriter(apierror.ParseStyle(s.cfg.Errors.Style))

	proxy, err := handlers.NewProxy(s.cfg.Upstream.URL, errs, s.log)
	if err != nil {
		return nil, err
	}
	csrfHandler := handlers.NewCSRFHandler(s.cfg.SecureCookies(), errs)
	siteAccess := handlers.NewSiteAccessHandler(s.gate, errs, s.log)

	app := http.NewServeMux()
	app.HandleFunc("GET /api/health", s.healthHandler.Health)
	app.HandleFunc("GET /api/csrf-token", csrfHandler.Token)
	app.HandleFunc("POST /api/site-access", siteAccess.Login)
	app.Handle("/", proxy)

	var recorder middleware.Recorder
	if s.recorder != nil {
		recorder = s.recorder
	}
	admitted := middleware.New(middleware.Admission(middleware.AdmissionConfig{
		Policies:      s.policies,
		Limiter:       s.limiter,
		Gate:          s.gate,
		CSRF:          s.cfg.CSRF.Enabled,
		SecureCookies: s.cfg.SecureCookies(),
		Errors:        errs,
		Recorder:      recorder,
		Log:           s.log,
	})).Then(app)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.healthHandler.Health)
	root.HandleFunc("GET /ready", s.healthHandler.Ready)
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/", admitted)

	return middleware.New(
		middleware.Metrics(),
		middleware.RequestID(),
		middleware.ClientIP(s.cfg.Rate.TrustProxy, s.cfg.Rate.TrustedProxies),
		middleware.AccessLog(s.log),
	).Then(root), nil
}

// Start starts background workers and serves until Shutdown.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()

	// Create listener first to get the actual address (important when port is 0)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	if s.sweeper != nil {
		if err := s.sweeper.Start(); err != nil {
			_ = listener.Close()
			return err
		}
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	if s.watcher != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.watchCancel = cancel
		go func() {
			if err := s.watcher.Watch(ctx); err != nil {
				s.log.Error("policy watcher stopped", "error", err)
			}
		}()
	}
	s.mu.Unlock()

	s.log.Info("server starting", "address", listener.Addr().String())

	err = s.httpServer.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown drains connections, then stops workers and releases stores.
// Buffered audit events are flushed before the database closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")

	// Mark as not ready during shutdown
	s.healthHandler.SetReady(false)

	err := s.httpServer.Shutdown(ctx)

	s.closeResources()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("shutdown error", "error", err)
		return err
	}

	s.log.Info("server stopped")
	return nil
}

func (s *Server) closeResources() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.watchCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.log.Error("failed to stop policy watcher", "error", err)
			}
		}
		if s.sweeper != nil {
			s.sweeper.Stop()
		}
		if s.recorder != nil {
			s.recorder.Stop()
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.log.Error("failed to close rate limit store", "error", err)
			}
		}
		if s.pool != nil {
			s.pool.Close()
		}
	})
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HealthHandler returns the health handler.
func (s *Server) HealthHandler() *handlers.HealthHandler {
	return s.healthHandler
}

// Policies returns the live policy store.
func (s *Server) Policies() *policy.Store {
	return s.policies
}
