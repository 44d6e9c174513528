package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/armctl/backend/internal/api/http"
	"github.com/GriffinCanCode/armctl/backend/internal/api/middleware"
	"github.com/GriffinCanCode/armctl/backend/internal/api/ws"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/manager"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/process"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/telemetry"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/broker"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines"
)

const shutdownTimeout = 10 * time.Second

// Options are the knobs that do not come from the environment
type Options struct {
	// Logger overrides the logger built from config
	Logger *logging.Logger
	// Launcher overrides the launcher chosen by Pipeline.Isolation
	Launcher process.Launcher
	// InitialPipeline is started when Run begins; failures are logged
	InitialPipeline string
	// InitialConfig overrides the initial pipeline's configuration
	InitialConfig pipeline.Config
}

// Server wraps the HTTP server and dependencies
type Server struct {
	config   *config.Config
	opts     Options
	logger   *logging.Logger
	registry *pipeline.Registry
	promReg  *prometheus.Registry
	metrics  *monitoring.Metrics
	broker   broker.Broker
	hub      *telemetry.Hub
	manager  *manager.Manager
	router   *gin.Engine
	http     *http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewOrNop(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			OutputPaths: []string{"stdout"},
		})
	}

	logger.Info("Initializing pipeline server",
		zap.String("port", cfg.Server.Port),
		zap.String("isolation", cfg.Pipeline.Isolation),
		zap.Bool("broker", cfg.Broker.Enabled),
	)

	// Metrics first, everything else reports into them
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(promReg)

	registry, err := pipelines.NewRegistry()
	if err != nil {
		metrics.Close()
		return nil, fmt.Errorf("register pipelines: %w", err)
	}
	logger.Info("Pipelines registered", zap.Strings("pipelines", registry.Names()))

	b, err := newBroker(cfg.Broker, logger.Logger)
	if err != nil {
		metrics.Close()
		return nil, err
	}

	hub := telemetry.NewHub(b, telemetry.Config{
		RetryInitial: cfg.Telemetry.RetryInitial,
		RetryMax:     cfg.Telemetry.RetryMax,
	}).WithMetrics(metrics).WithLogger(logger.Named("telemetry"))

	launcher := opts.Launcher
	if launcher == nil {
		launcher = newLauncher(cfg, registry, b, logger.Logger)
	}

	mgr := manager.NewManager(registry, launcher, manager.Settings{
		StartTimeout:   cfg.Pipeline.StartTimeout,
		StopTimeout:    cfg.Pipeline.StopTimeout,
		StatusInterval: cfg.Pipeline.StatusInterval,
		ConfigDir:      cfg.Pipeline.ConfigDir,
	}).WithMetrics(metrics).WithLogger(logger.Named("manager")).WithHooks(manager.Hooks{
		OnStatus: func(name string, status pipeline.Status) {
			hub.BroadcastPipelineUpdate(name, telemetry.StatusMessage(name, status))
		},
		OnStopped: hub.ClosePipelineConnections,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(logger.Named("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.AllowOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	httpapi.NewHandlers(mgr, promReg).
		WithMetrics(metrics).
		WithLogger(logger.Named("api")).
		Register(router)
	ws.NewHandler(hub, registry, cfg.Telemetry.SendTimeout).
		WithOrigins(cfg.Server.AllowOrigins).
		WithLogger(logger.Named("ws")).
		Register(router)

	var handler http.Handler = router
	if cfg.Server.Compress {
		if handler, err = compress(router); err != nil {
			metrics.Close()
			_ = b.Close()
			return nil, err
		}
	}

	logger.Info("Server initialized successfully")

	return &Server{
		config:   cfg,
		opts:     opts,
		logger:   logger,
		registry: registry,
		promReg:  promReg,
		metrics:  metrics,
		broker:   b,
		hub:      hub,
		manager:  mgr,
		router:   router,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Manager returns the pipeline manager
func (s *Server) Manager() *manager.Manager {
	return s.manager
}

// Run starts the initial pipeline, if any, and serves HTTP until ctx is
// cancelled or the listener fails. It shuts everything down before
// returning.
func (s *Server) Run(ctx context.Context) error {
	s.startInitial(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		closeErr := s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return closeErr
		}
		return err
	case <-ctx.Done():
		return s.Close()
	}
}

func (s *Server) startInitial(ctx context.Context) {
	name := s.opts.InitialPipeline
	if name == "" {
		return
	}
	if err := s.manager.Create(ctx, name, s.opts.InitialConfig); err != nil {
		s.logger.Error("Failed to start pipeline on startup", zap.String("pipeline", name), zap.Error(err))
		return
	}
	s.logger.Info("Started pipeline on startup", zap.String("pipeline", name))
}

// Close gracefully shuts down the server: the listener first, then every
// pipeline, then the telemetry fanout and the broker.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		s.manager.Cleanup()
		s.hub.Close()
		if err := s.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
		s.metrics.Close()

		s.logger.Info("Server stopped")
		_ = s.logger.Sync()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// newBroker connects to Redis when enabled and falls back to the
// in-memory broker otherwise. An unreachable Redis is not fatal; queue
// bridges keep retrying until it comes up.
func newBroker(cfg config.BrokerConfig, logger *zap.Logger) (broker.Broker, error) {
	if !cfg.Enabled {
		logger.Info("Using in-memory broker")
		return broker.NewMemory(), nil
	}

	rb, err := broker.NewRedis(cfg.URL, logger.Named("broker"))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.Ping(ctx); err != nil {
		logger.Warn("Broker unreachable, queue feeds will retry", zap.String("url", cfg.URL), zap.Error(err))
	} else {
		logger.Info("Connected to broker", zap.String("url", cfg.URL))
	}
	return rb, nil
}

// newLauncher picks OS-process or goroutine isolation. Process children
// read the broker settings from the inherited environment; goroutine
// children publish straight into b.
func newLauncher(cfg *config.Config, registry *pipeline.Registry, b broker.Broker, logger *zap.Logger) process.Launcher {
	if cfg.Pipeline.Isolation == config.IsolationGoroutine {
		return &process.GoroutineLauncher{
			Registry: registry,
			PublisherFor: func(name string) pipeline.QueuePublisher {
				return broker.NewPublisher(b, name, logger)
			},
			Logger: logger.Named("pipeline"),
		}
	}
	return &process.ExecLauncher{
		Args:   []string{"child"},
		Logger: logger.Named("launcher"),
	}
}

// compress gzips HTTP responses but leaves WebSocket upgrades alone,
// since the gzip writer cannot be hijacked.
func compress(next http.Handler) (http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(1024))
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}
	gz := wrap(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	}), nil
}
