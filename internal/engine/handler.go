package engine

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/factors"
	"agricarbon/impact-portal/impact-portal-backend/internal/events"
	"agricarbon/impact-portal/impact-portal-backend/internal/ledger"
)

// Handler handles HTTP requests for the calculation engine
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an engine handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers calculation engine routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	calculations := router.Group("/calculations")
	{
		calculations.POST("", h.processEvent)
		calculations.POST("/preview", h.previewCalculation)
		calculations.POST("/batch", h.processBatch)
	}

	factorRoutes := router.Group("/factors")
	{
		factorRoutes.GET("/:substance/history", h.getFactorHistory)
		factorRoutes.POST("/:substance/corrections", h.correctFactor)
	}

	router.POST("/recalculations", h.recalculate)
}

// CalculationRequest is the payload for single-event calculation
type CalculationRequest struct {
	Event    events.AgriculturalEvent `json:"event" binding:"required"`
	Location events.Location          `json:"location"`
}

// BatchRequest is the payload for batch calculation
type BatchRequest struct {
	Events   []events.AgriculturalEvent `json:"events" binding:"required"`
	Location events.Location            `json:"location"`
}

// RecalculationRequest triggers a synchronous bulk correction run
type RecalculationRequest struct {
	Substance string  `json:"substance" binding:"required"`
	Ratio     float64 `json:"ratio" binding:"required"`
	Note      string  `json:"note"`
}

func (h *Handler) processEvent(c *gin.Context) {
	var req CalculationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.service.Process(c.Request.Context(), req.Event, req.Location)
	if err != nil && outcome == nil {
		h.logger.Error("Failed to process event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusCreated
	if err != nil {
		// Calculation failed but the safe result was recorded
		status = http.StatusAccepted
	}
	c.JSON(status, outcome)
}

func (h *Handler) previewCalculation(c *gin.Context) {
	var req CalculationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Calculate(req.Event, req.Location)
	if err != nil {
		if errors.Is(err, factors.ErrUnknownSubstance) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "result": result})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) processBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary := h.service.ProcessBatch(c.Request.Context(), req.Events, req.Location)
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getFactorHistory(c *gin.Context) {
	history, err := h.service.FactorHistory(c.Param("substance"))
	if err != nil {
		if errors.Is(err, factors.ErrUnknownSubstance) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// correctionBody is the correction payload; the substance comes from the path
type correctionBody struct {
	NewValue float64 `json:"new_value" binding:"required"`
	Citation string  `json:"citation" binding:"required"`
}

func (h *Handler) correctFactor(c *gin.Context) {
	var body correctionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.service.CorrectFactor(c.Request.Context(), CorrectionRequest{
		Substance: c.Param("substance"),
		NewValue:  body.NewValue,
		Citation:  body.Citation,
	})
	if err != nil {
		if errors.Is(err, factors.ErrUnknownSubstance) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to correct factor", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) recalculate(c *gin.Context) {
	var req RecalculationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.Recalculate(c.Request.Context(),
		ledger.CorrectionFilter{Substance: req.Substance}, req.Ratio, req.Note)
	if err != nil {
		h.logger.Error("Bulk recalculation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}
