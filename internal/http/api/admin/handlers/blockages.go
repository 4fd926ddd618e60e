package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/hazardguard/internal/guard"
)

// BlockageHandler inspects and lifts client blockages and buckets.
type BlockageHandler struct {
	engine *guard.Engine
	nowFn  func() time.Time
}

// NewBlockageHandler constructs a blockage handler.
func NewBlockageHandler(engine *guard.Engine) *BlockageHandler {
	return &BlockageHandler{engine: engine, nowFn: time.Now}
}

// Get returns the client's stored blockage, with its expiry when the
// hazard is still registered.
func (h *BlockageHandler) Get(c *gin.Context) {
	client := strings.TrimSpace(c.Param("client"))
	if client == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client"})
		return
	}
	blockage, found, errPeek := h.engine.Blockages().Peek(c.Request.Context(), client)
	if errPeek != nil {
		respondStoreError(c, errPeek)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not blocked"})
		return
	}

	out := gin.H{
		"client":     client,
		"hazard":     blockage.Name,
		"blocked_at": blockage.BlockedAt().UTC(),
	}
	if hazard, ok := h.engine.Registry().Lookup(blockage.Name); ok && hazard.CanBlock() {
		expires := blockage.ExpiresAt(hazard.Timeout)
		out["type"] = hazard.Type
		out["expires_at"] = expires.UTC()
		out["active"] = h.nowFn().Before(expires)
	} else {
		// Purged on the client's next request.
		out["active"] = false
	}
	c.JSON(http.StatusOK, out)
}

// Delete lifts the client's blockage.
func (h *BlockageHandler) Delete(c *gin.Context) {
	client := strings.TrimSpace(c.Param("client"))
	if client == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client"})
		return
	}
	if errLift := h.engine.Blockages().Lift(c.Request.Context(), client); errLift != nil {
		respondStoreError(c, errLift)
		return
	}
	c.Status(http.StatusNoContent)
}

// Bucket returns a client's bucket for a registered hazard, with the hit
// count after decay.
func (h *BlockageHandler) Bucket(c *gin.Context) {
	client := strings.TrimSpace(c.Param("client"))
	hazard, ok := h.engine.Registry().Lookup(strings.TrimSpace(c.Param("hazard")))
	if !ok || !hazard.HasBucket() {
		c.JSON(http.StatusNotFound, gin.H{"error": "hazard not found or has no bucket"})
		return
	}
	bucket, found, errPeek := h.engine.Buckets().Peek(c.Request.Context(), hazard, client)
	if errPeek != nil {
		respondStoreError(c, errPeek)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no bucket"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client":      client,
		"hazard":      hazard.Name,
		"hits":        bucket.Hits,
		"leaked_hits": bucket.Leak(hazard.BucketLeak, h.nowFn()).Hits,
		"bucket_size": hazard.BucketSize,
		"last_update": bucket.LastUpdate().UTC(),
	})
}

func respondStoreError(c *gin.Context, err error) {
	var unavailable *guard.StoreUnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
