package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/api/middleware"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/manager"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/process"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/armctl/backend/internal/shared/utils"
)

// Version is reported by the root endpoint
const Version = "0.1.0"

// SignalRequest is the body of POST /pipelines/:name/signal
type SignalRequest struct {
	Signal   string `json:"signal"`
	Priority string `json:"priority"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	manager  *manager.Manager
	gatherer prometheus.Gatherer
	bodies   *utils.JSONSizeValidator
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set. A nil gatherer serves the
// default Prometheus registry.
func NewHandlers(mgr *manager.Manager, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		manager:  mgr,
		gatherer: gatherer,
		bodies:   utils.DefaultJSONValidator(),
		logger:   zap.NewNop(),
	}
}

// WithMetrics adds a metrics summary to the health endpoint
func (h *Handlers) WithMetrics(metrics *monitoring.Metrics) *Handlers {
	h.metrics = metrics
	return h
}

// WithLogger sets the logger
func (h *Handlers) WithLogger(logger *zap.Logger) *Handlers {
	h.logger = logger
	return h
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/status", h.StatusAll)
	// The server compresses every route, so promhttp must not
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{DisableCompression: true})))

	p := r.Group("/pipelines")
	p.GET("", h.ListPipelines)
	p.POST("/:name/start", h.StartPipeline)
	p.POST("/:name/stop", h.StopPipeline)
	p.POST("/:name/signal", h.SignalPipeline)
	p.GET("/:name/status", h.PipelineStatus)
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "armctl pipeline server",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status": "healthy",
		"pipelines": gin.H{
			"available": len(h.manager.Available()),
			"running":   h.manager.Running(),
		},
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// ListPipelines lists the registered pipeline kinds and the running ones
func (h *Handlers) ListPipelines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"available_pipelines": h.manager.Available(),
		"running_pipelines":   h.manager.Running(),
	})
}

// StartPipeline creates the named pipeline, replacing a running instance.
// The optional JSON body overrides the pipeline's configuration.
func (h *Handlers) StartPipeline(c *gin.Context) {
	name, ok := h.pipelineName(c)
	if !ok {
		return
	}

	override, err := h.readOverride(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	if err := h.manager.Create(c.Request.Context(), name, override); err != nil {
		h.logger.Error("Failed to start pipeline",
			zap.String("pipeline", name),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err))
		h.fail(c, statusFor(err), fmt.Errorf("failed to start pipeline '%s': %w", name, err))
		return
	}

	snap := h.manager.Status(name)
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"pipeline": name,
		"run_id":   snap.RunID,
		"state":    snap.State,
		"message":  fmt.Sprintf("Pipeline '%s' started successfully", name),
	})
}

// StopPipeline stops the named pipeline. Stopping a pipeline that is not
// running succeeds.
func (h *Handlers) StopPipeline(c *gin.Context) {
	name, ok := h.pipelineName(c)
	if !ok {
		return
	}

	if !slices.Contains(h.manager.Running(), name) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "success",
			"pipeline": name,
			"graceful": true,
			"message":  fmt.Sprintf("Pipeline '%s' is not running", name),
		})
		return
	}

	graceful := h.manager.Stop(name)
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"pipeline": name,
		"graceful": graceful,
		"message":  fmt.Sprintf("Pipeline '%s' stopped successfully", name),
	})
}

// SignalPipeline queues a signal on the named pipeline
func (h *Handlers) SignalPipeline(c *gin.Context) {
	name, ok := h.pipelineName(c)
	if !ok {
		return
	}

	body, err := h.readBody(c)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	var req SignalRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		h.fail(c, http.StatusBadRequest, fmt.Errorf("invalid signal request: %w", err))
		return
	}
	if err := utils.ValidateString(req.Signal, "signal", 1, utils.MaxSignalSize, true); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}
	priority, err := pipeline.ParsePriority(req.Priority)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	if err := h.manager.Signal(name, req.Signal, priority); err != nil {
		h.fail(c, statusFor(err), fmt.Errorf("failed to send signal: %w", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"pipeline": name,
		"signal":   req.Signal,
		"priority": priority.String(),
		"message":  fmt.Sprintf("Signal '%s' sent successfully", req.Signal),
	})
}

// PipelineStatus returns one pipeline's status. A registered pipeline
// that is not running reports a null state.
func (h *Handlers) PipelineStatus(c *gin.Context) {
	name, ok := h.pipelineName(c)
	if !ok {
		return
	}
	if !h.manager.Registry().Has(name) && !slices.Contains(h.manager.Running(), name) {
		h.fail(c, http.StatusNotFound, fmt.Errorf("%w: %s", pipeline.ErrUnknownPipeline, name))
		return
	}
	c.JSON(http.StatusOK, h.manager.Status(name))
}

// StatusAll returns the status of every running pipeline
func (h *Handlers) StatusAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipelines": h.manager.StatusAll(),
	})
}

func (h *Handlers) pipelineName(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if err := utils.ValidateID(name, "pipeline name", true); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return "", false
	}
	return name, true
}

// readOverride decodes an optional JSON object body
func (h *Handlers) readOverride(c *gin.Context) (pipeline.Config, error) {
	body, err := h.readBody(c)
	if err != nil || len(body) == 0 {
		return nil, err
	}
	cfg, err := pipeline.ParseConfig(body, "json")
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateJSONDepth(map[string]any(cfg), utils.MaxConfigDepth); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (h *Handlers) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.bodies.MaxSize())+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if err := h.bodies.ValidateSize(body); err != nil {
		return nil, err
	}
	return body, nil
}

func (h *Handlers) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"request_id": middleware.GetRequestID(c),
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, process.ErrConstruction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, process.ErrStartTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
