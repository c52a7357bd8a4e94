// ABOUTME: Gateway orchestrator wiring auth resolution into the HTTP proxy
// ABOUTME: Builds the router, upstream handlers, and manages server lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edirepository/gatekeeper/internal/assets"
	"github.com/edirepository/gatekeeper/internal/authority"
	"github.com/edirepository/gatekeeper/internal/config"
	"github.com/edirepository/gatekeeper/internal/proxy"
	"github.com/edirepository/gatekeeper/internal/resolver"
	"github.com/edirepository/gatekeeper/internal/robot"
)

// Banner is the plain-text body served at the root path.
const Banner = "EDI Gatekeeper\n"

// Gateway assembles the authenticating reverse proxy and serves it over HTTP.
type Gateway struct {
	config     *config.Config
	httpServer *http.Server
	router     chi.Router
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates a Gateway from the given configuration. It loads the robot
// pattern file, builds the identity resolver against the authority service,
// and mounts one proxy handler per configured upstream.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	metrics := NewMetrics()

	detector, err := buildRobotDetector(cfg, logger)
	if err != nil {
		return nil, err
	}

	authClient, err := authority.New(authority.Options{
		BaseURL: cfg.Auth.ServiceURL,
		APIKey:  cfg.Auth.APIKey,
		CAFile:  cfg.Auth.CAFile,
		Timeout: cfg.Auth.Timeout,
		Logger:  logger.With("component", "authority"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating authority client: %w", err)
	}

	identities := resolver.New(authClient, resolver.Config{
		PublicSubject:  cfg.Auth.PublicSubject,
		PublicID:       cfg.Auth.PublicID,
		System:         cfg.Auth.System,
		TokenTTL:       cfg.Auth.TokenTTL,
		PublicKeyPath:  cfg.Auth.PublicKey,
		KeyFaultStatus: cfg.Auth.KeyFaultStatus,
		DisableRefresh: cfg.Auth.DisableRefresh,
	}, logger.With("component", "resolver"))

	translator := proxy.NewTranslator(detector, cfg.Auth.PrivateKey, cfg.Auth.PublicID,
		cfg.Auth.PublicSubject, metrics.robotHits, logger.With("component", "translator"))

	upstreamClient := proxy.NewUpstreamClient(func(c *http.Client) {
		c.Timeout = cfg.Upstreams.Timeout
	})

	gw := &Gateway{
		config:  cfg,
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
	}

	router, err := gw.buildRouter(cfg, identities, translator, upstreamClient, logger)
	if err != nil {
		return nil, err
	}
	gw.router = router

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// buildRobotDetector loads the robot pattern file and compiles a detector.
// A missing pattern path disables robot tagging rather than failing startup.
func buildRobotDetector(cfg *config.Config, logger *slog.Logger) (*robot.Detector, error) {
	robotLogger := logger.With("component", "robot")
	if cfg.Robots.Path == "" {
		logger.Warn("no robot pattern file configured, robot tagging disabled")
		return robot.New(nil, robotLogger)
	}
	patterns, err := robot.LoadPatterns(cfg.Robots.Path)
	if err != nil {
		return nil, fmt.Errorf("loading robot patterns: %w", err)
	}
	detector, err := robot.New(patterns, robotLogger)
	if err != nil {
		return nil, fmt.Errorf("compiling robot patterns: %w", err)
	}
	logger.Info("robot patterns loaded", "path", cfg.Robots.Path, "count", len(patterns))
	return detector, nil
}

// upstreamHandler builds one proxied route with its own metric labels.
func (g *Gateway) upstreamHandler(name, prefix, target string, identities *resolver.Resolver, translator *proxy.Translator, client *http.Client, logger *slog.Logger) (*proxy.Handler, error) {
	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing %s upstream URL: %w", name, err)
	}
	return proxy.NewHandler(proxy.HandlerOptions{
		Name:           name,
		Prefix:         prefix,
		Target:         targetURL,
		Client:         client,
		Resolver:       identities,
		Translator:     translator,
		Logger:         logger,
		AuthFailures:   g.metrics.authFailures.WithLabelValues(name),
		UpstreamErrors: g.metrics.upstreamErrors.WithLabelValues(name),
	}), nil
}

func (g *Gateway) buildRouter(cfg *config.Config, identities *resolver.Resolver, translator *proxy.Translator, client *http.Client, logger *slog.Logger) (chi.Router, error) {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(logger.With("component", "access")))
	r.Use(g.metrics.observe)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(Banner))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/favicon.ico", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/static/images/favicon.png", http.StatusMovedPermanently)
	})

	if cfg.Static.Dir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", assets.FileServer(cfg.Static.Dir)))
	}

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, g.metrics.Handler())
	}

	packageHandler, err := g.upstreamHandler("package", "/package", cfg.Upstreams.PackageURL,
		identities, translator, client, logger.With("component", "proxy"))
	if err != nil {
		return nil, err
	}
	auditHandler, err := g.upstreamHandler("audit", "/audit", cfg.Upstreams.AuditURL,
		identities, translator, client, logger.With("component", "proxy"))
	if err != nil {
		return nil, err
	}

	r.Handle("/package", packageHandler)
	r.Handle("/package/*", packageHandler)
	r.Handle("/audit", auditHandler)
	r.Handle("/audit/*", auditHandler)

	return r, nil
}

// Handler returns the gateway's HTTP handler, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, waiting for in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	return g.httpServer.Shutdown(ctx)
}
