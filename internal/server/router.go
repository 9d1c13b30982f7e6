package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/apperr"
	"github.com/Gokul-madhav/home-ring/internal/calls"
	"github.com/Gokul-madhav/home-ring/internal/devices"
	"github.com/Gokul-madhav/home-ring/internal/doors"
	"github.com/Gokul-madhav/home-ring/internal/push"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LegacyMountPath is where the door routes were served before they moved to the root.
const LegacyMountPath = "/api/door"

var (
	errMissingDoorService   = errors.New("door service dependency required")
	errMissingDeviceService = errors.New("device service dependency required")
	errMissingPushRegistry  = errors.New("push registry dependency required")
	errMissingCallService   = errors.New("call service dependency required")
)

type Dependencies struct {
	Doors    *doors.Service
	Devices  *devices.Service
	Push     *push.Registry
	Calls    *calls.Service
	Realtime *RealtimeDispatcher
	Logger   *zap.Logger

	// HeartbeatInterval spaces keep-alive events on call streams.
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Doors == nil {
		return nil, errMissingDoorService
	}
	if deps.Devices == nil {
		return nil, errMissingDeviceService
	}
	if deps.Push == nil {
		return nil, errMissingPushRegistry
	}
	if deps.Calls == nil {
		return nil, errMissingCallService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		doors:     deps.Doors,
		devices:   deps.Devices,
		push:      deps.Push,
		calls:     deps.Calls,
		realtime:  realtime,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/health", handler.handleHealth)
	handler.registerRoutes(router)
	handler.registerRoutes(router.Group(LegacyMountPath))

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	})
}

type httpHandler struct {
	doors     *doors.Service
	devices   *devices.Service
	push      *push.Registry
	calls     *calls.Service
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	logger    *zap.Logger
}

// registerRoutes mounts every door route on routes. Static call paths share
// the :id segment with the create and per-call routes.
func (h *httpHandler) registerRoutes(routes gin.IRoutes) {
	routes.POST("/generate", h.handleGenerate)
	routes.POST("/activate", h.handleActivate)
	routes.GET("/my-doorbells", h.handleListDoorbells)
	routes.POST("/deactivate", h.handleDeactivate)

	routes.POST("/push/register", h.handlePushRegister)
	routes.POST("/push/unregister", h.handlePushUnregister)

	routes.POST("/device/bind", h.handleDeviceBind)
	routes.GET("/device/status", h.handleDeviceStatus)
	routes.POST("/device/unbind", h.handleDeviceUnbind)

	routes.GET("/call/incoming", h.handleIncomingCalls)
	routes.GET("/call/logs", h.handleCallLogs)
	routes.GET("/call/stream", h.handleCallStream)
	routes.POST("/call/:id", h.handleCreateCall)
	routes.GET("/call/:id/status", h.handleCallStatus)
	routes.GET("/call/:id/token", h.handleCallToken)
	routes.POST("/call/:id/accept", h.handleAcceptCall)
	routes.POST("/call/:id/end", h.handleEndCall)

	routes.GET("/:doorID", h.handleGetDoor)
	routes.DELETE("/:doorID", h.handleDeleteDoor)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": realtimeSourceBackend})
}

// writeError maps the error taxonomy onto HTTP. Dependency failures are logged
// and never leak their cause.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		h.logger.Error("unclassified request failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	status := statusForKind(appErr.Kind)
	if appErr.Status != 0 {
		status = appErr.Status
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Error(appErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	c.JSON(status, gin.H{"error": appErr.Message})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
}
