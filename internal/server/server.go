// ABOUTME: HTTP server for the platform's app callbacks, admin extensions and the operator API
// ABOUTME: Owns the router, the listener lifecycle and graceful shutdown of every component

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"

	"github.com/codebarista-de/shopware-app-server/internal/adminapi"
	"github.com/codebarista-de/shopware-app-server/internal/apptoken"
	"github.com/codebarista-de/shopware-app-server/internal/auth"
	"github.com/codebarista-de/shopware-app-server/internal/config"
	"github.com/codebarista-de/shopware-app-server/internal/dedupe"
	"github.com/codebarista-de/shopware-app-server/internal/events"
	"github.com/codebarista-de/shopware-app-server/internal/metrics"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// Paths served under every app subdomain.
const (
	PathRegister     = "/shopware/api/v1/registration/register"
	PathConfirm      = "/shopware/api/v1/registration/confirm"
	PathEvent        = "/shopware/api/v1/event"
	PathAction       = "/shopware/api/v1/action"
	PathLifecycle    = "/shopware/api/v1/lifecycle"
	PathAdminToken   = "/shopware/admin/token"
	PathAdminAPI     = "/shopware/admin/api"
	PathHealth       = "/health"
	PathReady        = "/health/ready"
	PathOperatorBase = "/operator"
)

// Deps are the components the server routes requests to.
type Deps struct {
	Apps         *registry.Apps
	Store        store.ShopStore
	Registry     *registry.Registry
	AppTokens    *apptoken.Service
	AccessTokens *adminapi.TokenCache
	Dedupe       *dedupe.Cache
	Metrics      *metrics.Metrics
	// Publisher is closed on shutdown; may be nil.
	Publisher events.Publisher
	// Operator enables the operator API when set.
	Operator auth.TokenVerifier
	Logger   *slog.Logger
}

// Server serves all apps on one listener.
type Server struct {
	cfg          *config.Config
	apps         *registry.Apps
	store        store.ShopStore
	registry     *registry.Registry
	appTokens    *apptoken.Service
	accessTokens *adminapi.TokenCache
	dedupe       *dedupe.Cache
	metrics      *metrics.Metrics
	publisher    events.Publisher
	operator     auth.TokenVerifier
	signatures   *auth.SignatureAuthenticator
	limiter      *registrationLimiter
	logger       *slog.Logger

	isReady    atomic.Bool
	httpServer *http.Server
}

// New creates a Server. The config must have been loaded with config.Load or
// had ApplyDefaults called.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Apps == nil || deps.Registry == nil || deps.AppTokens == nil || deps.AccessTokens == nil {
		return nil, errors.New("server: apps, registry, app tokens and access tokens are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Dedupe == nil {
		deps.Dedupe = dedupe.New(cfg.AppServer.EventDedupeTTL, dedupe.DefaultMaxSize)
	}

	s := &Server{
		cfg:          cfg,
		apps:         deps.Apps,
		store:        deps.Store,
		registry:     deps.Registry,
		appTokens:    deps.AppTokens,
		accessTokens: deps.AccessTokens,
		dedupe:       deps.Dedupe,
		metrics:      deps.Metrics,
		publisher:    deps.Publisher,
		operator:     deps.Operator,
		logger:       deps.Logger.With("component", "server"),
	}
	s.signatures = auth.NewSignatureAuthenticator(deps.Apps, deps.Registry, deps.Logger,
		auth.WithObserver(func(role auth.Role) { s.metrics.ObserveAuth(string(role)) }))
	s.limiter = newRegistrationLimiter(cfg.Server.RegistrationRateLimit)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if s.cfg.Logging.HTTPRequests {
		r.Use(s.httpLogger)
	}

	metricsPath := ""
	if s.cfg.Metrics.Enabled {
		metricsPath = s.cfg.Metrics.Path
	}
	r.Use(s.metrics.InstrumentHandler(metricsPath))

	r.Get(PathHealth, s.handleHealth)
	r.Get(PathReady, s.handleReady)
	if metricsPath != "" {
		r.Handle(metricsPath, s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.signatures.Middleware)

		r.Get(PathRegister, s.handleRegister)
		r.With(auth.RequireRole(auth.RolePendingShop, auth.RoleShop)).Post(PathConfirm, s.handleConfirm)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleShop))
			r.Post(PathEvent, s.handleEvent)
			r.Post(PathAction, s.handleAction)
			r.Post(PathLifecycle+"/{event}", s.handleLifecycle)
			r.Get(PathAdminToken, s.handleAdminToken)
		})
	})

	r.Route(PathAdminAPI, func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", auth.HeaderShopID},
			MaxAge:         300,
		}))
		r.Use(auth.AppTokenMiddleware(s.apps, s.registry, s.appTokens, s.logger))
		r.Handle("/*", http.HandlerFunc(s.handleAdminAPI))
	})

	if s.operator != nil {
		s.logger.Info("operator API enabled")
		r.Route(PathOperatorBase, func(r chi.Router) {
			r.Use(auth.OperatorMiddleware(s.operator))
			r.Get("/apps/{appKey}/shops", s.handleListShops)
			r.Get("/shops/{id}", s.handleGetShop)
			r.Post("/apps/{appKey}/shops/{shopId}/access-token", s.handleAccessToken)
		})
	}

	return r
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.logger, next)
}

// Ready reports whether the server accepts traffic.
func (s *Server) Ready() bool {
	return s.isReady.Load()
}

// Run listens on server.http_addr and blocks until ctx is canceled or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	s.isReady.Store(true)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and closes every owned component.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.isReady.Store(false)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.accessTokens.Close()
	s.dedupe.Close()
	if s.publisher != nil {
		errs = appendCloseError(errs, "publisher close", s.publisher.Close())
	}
	if s.store != nil {
		errs = appendCloseError(errs, "store close", s.store.Close())
	}

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady returns 200 OK while the server accepts traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
