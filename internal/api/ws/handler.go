package ws

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/telemetry"
	"github.com/GriffinCanCode/armctl/backend/internal/shared/id"
	"github.com/GriffinCanCode/armctl/backend/internal/shared/utils"
)

// CloseNotFound closes connections to unknown pipelines
const CloseNotFound = 4004

// maxClientMessage bounds what viewers may send; they only send keep-alives
const maxClientMessage = 4096

// Handler manages WebSocket connections
type Handler struct {
	hub         *telemetry.Hub
	registry    *pipeline.Registry
	upgrader    websocket.Upgrader
	sendTimeout time.Duration
	logger      *zap.Logger
}

// NewHandler creates a new WebSocket handler. Pipeline names are checked
// against registry.
func NewHandler(hub *telemetry.Hub, registry *pipeline.Registry, sendTimeout time.Duration) *Handler {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	h := &Handler{
		hub:         hub,
		registry:    registry,
		sendTimeout: sendTimeout,
		logger:      zap.NewNop(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return h
}

// WithLogger sets the logger
func (h *Handler) WithLogger(logger *zap.Logger) *Handler {
	h.logger = logger
	return h
}

// WithOrigins restricts upgrades to the given origins. An empty list or
// "*" allows every origin.
func (h *Handler) WithOrigins(origins []string) *Handler {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
		return h
	}
	allowed := append([]string(nil), origins...)
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
	return h
}

// Register mounts the telemetry routes on r
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/ws/pipeline")
	g.GET("/:name", h.PipelineFeed)
	g.GET("/:name/queue/:queue", h.QueueFeed)
}

// PipelineFeed streams status updates of one pipeline
func (h *Handler) PipelineFeed(c *gin.Context) {
	name := c.Param("name")
	h.serve(c, name, "", func(sub *conn) error {
		return h.hub.ConnectPipeline(name, sub)
	}, func(sub *conn) {
		h.hub.DisconnectPipeline(name, sub)
	})
}

// QueueFeed streams the data published to one queue of a pipeline
func (h *Handler) QueueFeed(c *gin.Context) {
	name, queue := c.Param("name"), c.Param("queue")
	h.serve(c, name, queue, func(sub *conn) error {
		return h.hub.ConnectQueue(name, queue, sub)
	}, func(sub *conn) {
		h.hub.DisconnectQueue(name, queue, sub)
	})
}

func (h *Handler) serve(c *gin.Context, name, queue string, connect func(*conn) error, disconnect func(*conn)) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	sub := newConn(id.NewSubscriberID().String(), ws, h.sendTimeout)
	logger := h.logger.With(
		zap.String("pipeline", name),
		zap.String("subscriber", sub.ID()))
	if queue != "" {
		logger = logger.With(zap.String("queue", queue))
	}

	if err := h.validate(name, queue); err != nil {
		logger.Info("Rejecting telemetry connection", zap.Error(err))
		_ = sub.closeWith(CloseNotFound, err.Error())
		return
	}

	if err := connect(sub); err != nil {
		code := websocket.CloseInternalServerErr
		reason := "Server error"
		if errors.Is(err, telemetry.ErrHubClosed) {
			code, reason = websocket.CloseGoingAway, "server shutting down"
		}
		logger.Warn("Telemetry connection failed", zap.Error(err))
		_ = sub.closeWith(code, reason)
		return
	}
	defer func() {
		disconnect(sub)
		_ = sub.Close("")
	}()

	ws.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Viewer connection dropped", zap.Error(err))
			} else {
				logger.Info("Viewer disconnected")
			}
			return
		}
	}
}

func (h *Handler) validate(name, queue string) error {
	if err := utils.ValidateID(name, "pipeline name", true); err != nil {
		return err
	}
	if queue != "" {
		if err := utils.ValidateID(queue, "queue name", true); err != nil {
			return err
		}
	}
	if !h.registry.Has(name) {
		return fmt.Errorf("pipeline '%s' not found", name)
	}
	return nil
}
