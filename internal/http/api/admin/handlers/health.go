package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/hazardguard/internal/audit"
	"github.com/router-for-me/hazardguard/internal/hazards"
	"github.com/router-for-me/hazardguard/internal/kvstore"
	"gorm.io/gorm"
)

// HealthHandler reports process health.
type HealthHandler struct {
	db       *gorm.DB
	store    *kvstore.Manager
	reloader *hazards.Reloader
	recorder *audit.Recorder
}

// NewHealthHandler constructs a health handler. Every dependency is optional.
func NewHealthHandler(db *gorm.DB, store *kvstore.Manager, reloader *hazards.Reloader, recorder *audit.Recorder) *HealthHandler {
	return &HealthHandler{db: db, store: store, reloader: reloader, recorder: recorder}
}

// Healthz returns 200 while the database answers. A degraded store is
// reported but does not fail the check.
func (h *HealthHandler) Healthz(c *gin.Context) {
	out := gin.H{"status": "ok"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, errDB := h.db.DB()
		if errDB == nil {
			errDB = sqlDB.PingContext(ctx)
		}
		if errDB != nil {
			out["status"] = "unhealthy"
			out["database"] = errDB.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.store != nil {
		out["store"] = gin.H{"backend": h.store.Backend(), "degraded": h.store.Degraded()}
	}
	if h.reloader != nil {
		out["hazards"] = h.reloader.Status()
	}
	if h.recorder != nil {
		out["audit"] = h.recorder.Stats()
	}
	c.JSON(status, out)
}
