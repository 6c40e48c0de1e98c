// Package handlers exposes the read-mostly ops API: health, watchlist,
// positions, metrics, and a confirm endpoint mirroring the chat buttons.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
	"github.com/poedgar905/Paulie/syncer"
)

// Handler handles HTTP requests.
type Handler struct {
	store   storage.DataStore
	engine  *syncer.Engine
	metrics *syncer.Metrics
	started time.Time
	trading bool
}

// NewHandler creates the ops API handler. trading reports whether a signing
// key is configured.
func NewHandler(store storage.DataStore, engine *syncer.Engine, metrics *syncer.Metrics, trading bool) *Handler {
	return &Handler{
		store:   store,
		engine:  engine,
		metrics: metrics,
		started: time.Now(),
		trading: trading,
	}
}

// Health reports liveness plus a few cheap gauges.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime_seconds":  int(time.Since(h.started).Seconds()),
		"trading_enabled": h.trading,
		"pending_buys":    h.engine.PendingCount(),
	})
}

// GetWatchlist returns all watched traders.
func (h *Handler) GetWatchlist(c *gin.Context) {
	traders, err := h.store.ListTraders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"traders": traders,
		"count":   len(traders),
	})
}

// GetPositions returns copy positions, optionally filtered by status.
func (h *Handler) GetPositions(c *gin.Context) {
	var status models.PositionStatus
	if s := strings.ToUpper(strings.TrimSpace(c.Query("status"))); s != "" {
		switch models.PositionStatus(s) {
		case models.StatusOpen, models.StatusClosed, models.StatusFailed:
			status = models.PositionStatus(s)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status, want OPEN, CLOSED or FAILED"})
			return
		}
	}

	limit := 200
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	positions, err := h.store.ListPositions(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

// GetPosition returns one position by id.
func (h *Handler) GetPosition(c *gin.Context) {
	pos, err := h.store.GetPosition(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load position"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

// GetPortfolio returns the ledger roll-up.
func (h *Handler) GetPortfolio(c *gin.Context) {
	summary, err := h.store.GetPortfolioSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": summary})
}

// GetMetrics returns the runtime counters snapshot.
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// ExecuteCopyRequest is the payload for confirming a copy over HTTP, the
// API twin of tapping an amount button in chat.
type ExecuteCopyRequest struct {
	OpportunityID string  `json:"opportunity_id" binding:"required"`
	AmountUSD     float64 `json:"amount_usd" binding:"required,gt=0"`
}

// ExecuteCopy confirms a pending opportunity.
func (h *Handler) ExecuteCopy(c *gin.Context) {
	var req ExecuteCopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	pos, err := h.engine.ConfirmCopy(c.Request.Context(), req.OpportunityID, req.AmountUSD)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"position": pos})
	case errors.Is(err, syncer.ErrUnknownOpportunity):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, syncer.ErrDuplicateConfirm):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, syncer.ErrTradingDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
