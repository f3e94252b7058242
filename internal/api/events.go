package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRecentLimit = 50

// publishEventRequest is an event posted by another service. id and
// timestamp are filled in when missing.
type publishEventRequest struct {
	ID        string           `json:"id"`
	Type      models.EventType `json:"type" binding:"required"`
	Payload   json.RawMessage  `json:"payload"`
	Timestamp *time.Time       `json:"timestamp"`
	Metadata  models.Metadata  `json:"metadata"`
}

// publishEvent accepts an event and hands it to the bus without waiting for
// delivery.
func (h *Handler) publishEvent(c *gin.Context) {
	var req publishEventRequest
	if !bindJSON(c, &req) {
		return
	}

	payload, err := models.DecodePayload(req.Type, req.Payload)
	if err != nil {
		respondError(c, apperror.Validation("%s", err.Error()))
		return
	}

	event := models.Event{
		ID:        req.ID,
		Type:      req.Type,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	}
	if event.Metadata.CorrelationID == "" {
		event.Metadata.CorrelationID = util.CorrelationID(c.Request.Context())
	}

	ctx := util.WithCorrelationID(context.WithoutCancel(c.Request.Context()), event.Metadata.CorrelationID)
	go func() {
		if err := h.bus.Publish(ctx, event); err != nil {
			util.GetLogger().Warn("Failed to publish posted event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"id":     event.ID,
		"status": "accepted",
	})
}

func (h *Handler) eventStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.bus.Stats())
}

func (h *Handler) recentEvents(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events := h.bus.Recent(limit)
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) getEvent(c *gin.Context) {
	event, err := h.bus.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}
