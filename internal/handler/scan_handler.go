// internal/handler/scan_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lidar-service/internal/model"
	"lidar-service/internal/protocol"
	"lidar-service/internal/repository"
	"lidar-service/internal/service"
	"lidar-service/internal/utils"
)

// ScanHandler handles scan session HTTP requests
type ScanHandler struct {
	scanService *service.ScanService
	logger      *utils.ServiceLogger
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scanService *service.ScanService, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{
		scanService: scanService,
		logger:      utils.NewServiceLogger(logger, "scan-handler"),
	}
}

// RegisterRoutes registers scan-related routes
func (h *ScanHandler) RegisterRoutes(router *gin.RouterGroup) {
	device := router.Group("/device")
	{
		device.GET("", h.ProbeDevice)
		device.GET("/ports", h.ListPorts)
	}

	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.StartSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/current", h.GetCurrentSession)

		sessionRoutes := sessions.Group("/:id")
		{
			sessionRoutes.GET("", h.GetSession)
			sessionRoutes.POST("/stop", h.StopSession)
			sessionRoutes.GET("/frames", h.GetSessionFrames)
			sessionRoutes.GET("/stats", h.GetSessionStats)
		}
	}
}

// ProbeDevice connects to the device and reports identity, health, and capabilities
func (h *ScanHandler) ProbeDevice(c *gin.Context) {
	snapshot, err := h.scanService.Probe(c.Request.Context())
	if err != nil {
		if snapshot != nil {
			// Device answered but reported an unhealthy state
			utils.ErrorResponse(c, http.StatusServiceUnavailable, "Device is unhealthy", err)
			return
		}
		h.logger.Error("Device probe failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusBadGateway, "Failed to probe device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device probed successfully", snapshot)
}

// ListPorts lists serial ports available on the host
func (h *ScanHandler) ListPorts(c *gin.Context) {
	ports, err := protocol.ListPorts()
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved", gin.H{"ports": ports})
}

// StartSession starts a new scan session
func (h *ScanHandler) StartSession(c *gin.Context) {
	var req service.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	session, err := h.scanService.StartSession(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to start scan session", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to start scan session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Scan session started", session)
}

// GetCurrentSession returns the live session, if any
func (h *ScanHandler) GetCurrentSession(c *gin.Context) {
	session := h.scanService.CurrentSession()
	if session == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "No active scan session", nil)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Current session retrieved", session)
}

// GetSession retrieves a session from the archive
func (h *ScanHandler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session id", err)
		return
	}

	session, err := h.scanService.GetSession(c.Request.Context(), id)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Session not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session retrieved", session)
}

// StopSession stops the live session
func (h *ScanHandler) StopSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session id", err)
		return
	}

	session, err := h.scanService.StopSession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to stop scan session", zap.Error(err))
		utils.ErrorResponse(c, http.StatusConflict, "Failed to stop scan session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Scan session stopped", session)
}

// ListSessions lists archived sessions with filtering and pagination
func (h *ScanHandler) ListSessions(c *gin.Context) {
	filter := &repository.SessionFilter{
		Page:      1,
		PerPage:   20,
		SortBy:    "started_at",
		SortOrder: "desc",
	}

	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil && pp > 0 && pp <= 100 {
			filter.PerPage = pp
		}
	}
	if state := c.Query("state"); state != "" {
		s := model.SessionState(state)
		filter.State = &s
	}
	if port := c.Query("port"); port != "" {
		filter.Port = &port
	}

	sessions, total, err := h.scanService.ListSessions(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved", gin.H{
		"sessions": sessions,
		"pagination": gin.H{
			"total":    total,
			"page":     filter.Page,
			"per_page": filter.PerPage,
		},
	})
}

// GetSessionFrames retrieves archived frames for a session
func (h *ScanHandler) GetSessionFrames(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session id", err)
		return
	}

	var afterSeq int64 = -1
	if after := c.Query("after_seq"); after != "" {
		if a, err := strconv.ParseInt(after, 10, 64); err == nil {
			afterSeq = a
		}
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	frames, err := h.scanService.GetSessionFrames(c.Request.Context(), id, afterSeq, limit)
	if err != nil {
		h.logger.Error("Failed to get session frames", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get session frames", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Frames retrieved", gin.H{"frames": frames})
}

// GetSessionStats retrieves frame and sample totals for a session
func (h *ScanHandler) GetSessionStats(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session id", err)
		return
	}

	stats, err := h.scanService.GetSessionStats(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get session stats", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get session stats", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session stats retrieved", stats)
}
