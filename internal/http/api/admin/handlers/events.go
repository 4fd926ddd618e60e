package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/hazardguard/internal/audit"
	dbutil "github.com/router-for-me/hazardguard/internal/db"
	"github.com/router-for-me/hazardguard/internal/models"
	"gorm.io/gorm"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventHandler lists and streams recorded deflects.
type EventHandler struct {
	db  *gorm.DB
	hub *audit.Hub
}

// NewEventHandler constructs an event handler.
func NewEventHandler(db *gorm.DB, hub *audit.Hub) *EventHandler {
	return &EventHandler{db: db, hub: hub}
}

// List returns events newest first. Filters: client and hazard (substring),
// verdict, since and until (RFC3339), limit and offset.
func (h *EventHandler) List(c *gin.Context) {
	base := h.db.WithContext(c.Request.Context()).Model(&models.BlockageEvent{})

	if client := strings.TrimSpace(c.Query("client")); client != "" {
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "client"), dbutil.NormalizeLikePattern(h.db, "%"+client+"%"))
	}
	if hazard := strings.TrimSpace(c.Query("hazard")); hazard != "" {
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "hazard"), dbutil.NormalizeLikePattern(h.db, "%"+hazard+"%"))
	}
	if verdict := strings.ToLower(strings.TrimSpace(c.Query("verdict"))); verdict != "" {
		base = base.Where("verdict = ?", verdict)
	}
	for param, clause := range map[string]string{"since": "occurred_at >= ?", "until": "occurred_at < ?"} {
		raw := strings.TrimSpace(c.Query(param))
		if raw == "" {
			continue
		}
		ts, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
			return
		}
		base = base.Where(clause, ts.UTC())
	}

	limit := parseBoundedInt(c.Query("limit"), defaultEventLimit, 1, maxEventLimit)
	offset := parseBoundedInt(c.Query("offset"), 0, 0, 1<<31-1)

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count events failed"})
		return
	}
	var rows []models.BlockageEvent
	if errFind := base.Order("occurred_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}
	out := make([]audit.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, audit.EventFromModel(row))
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "total": total, "limit": limit, "offset": offset})
}

// Stream upgrades to a websocket carrying live events.
func (h *EventHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	h.hub.ServeWS(c.Writer, c.Request)
}

func parseBoundedInt(raw string, fallback, lo, hi int) int {
	v, errParse := strconv.Atoi(strings.TrimSpace(raw))
	if errParse != nil {
		return fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
