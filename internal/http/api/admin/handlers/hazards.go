package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/router-for-me/hazardguard/internal/db"
	"github.com/router-for-me/hazardguard/internal/guard"
	"github.com/router-for-me/hazardguard/internal/hazards"
	"github.com/router-for-me/hazardguard/internal/models"
	"github.com/router-for-me/hazardguard/internal/rules"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HazardHandler manages database hazards and triggers registry reloads.
type HazardHandler struct {
	db       *gorm.DB
	engine   *guard.Engine
	reloader *hazards.Reloader
}

// NewHazardHandler constructs a hazard handler. reloader may be nil, in
// which case changes apply on the next reload.
func NewHazardHandler(db *gorm.DB, engine *guard.Engine, reloader *hazards.Reloader) *HazardHandler {
	return &HazardHandler{db: db, engine: engine, reloader: reloader}
}

type createHazardRequest struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Position    int             `json:"position"`
	Rule        json.RawMessage `json:"rule"`
	BucketSize  int             `json:"bucket_size"`
	BucketLeak  float64         `json:"bucket_leak"`
	Timeout     float64         `json:"timeout"`
	Enabled     *bool           `json:"enabled"`
	Description string          `json:"description"`
}

var errRuleRequired = errors.New("rule is required")

// decodeRule parses a rule spec, rejecting unknown fields.
func decodeRule(raw json.RawMessage) (rules.Spec, error) {
	var spec rules.Spec
	if len(raw) == 0 || string(raw) == "null" {
		return spec, errRuleRequired
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if errDecode := dec.Decode(&spec); errDecode != nil {
		return spec, errDecode
	}
	return spec, nil
}

// validateDefinition compiles def the way a reload would.
func validateDefinition(def hazards.Definition) error {
	_, errBuild := hazards.Build([]hazards.Definition{def}, nil)
	return errBuild
}

// Create validates and inserts a hazard, then reloads the registry.
func (h *HazardHandler) Create(c *gin.Context) {
	var body createHazardRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	spec, errRule := decodeRule(body.Rule)
	if errRule != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule: " + errRule.Error()})
		return
	}
	def := hazards.Definition{
		Name:       strings.TrimSpace(body.Name),
		Type:       body.Type,
		Rule:       spec,
		BucketSize: body.BucketSize,
		BucketLeak: body.BucketLeak,
		Timeout:    body.Timeout,
	}
	if errValidate := validateDefinition(def); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}

	ctx := c.Request.Context()
	var count int64
	if errCount := h.db.WithContext(ctx).Model(&models.Hazard{}).Where("name = ?", def.Name).Count(&count).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "name already exists"})
		return
	}

	row := models.Hazard{Position: body.Position, Description: body.Description, Enabled: true}
	if errApply := def.ApplyToModel(&row); errApply != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errApply.Error()})
		return
	}
	if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create hazard failed"})
		return
	}
	// The column default turns a zero Enabled into true on insert.
	if body.Enabled != nil && !*body.Enabled {
		if errUpdate := h.db.WithContext(ctx).Model(&row).Update("enabled", false).Error; errUpdate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create hazard failed"})
			return
		}
		row.Enabled = false
	}

	out := formatHazard(&row)
	h.reload(ctx, out)
	c.JSON(http.StatusCreated, out)
}

// List returns hazards in evaluation order, filtered by type, enabled,
// name substring or rule path-prefix.
func (h *HazardHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Hazard{})

	if hazardType := strings.ToLower(strings.TrimSpace(c.Query("type"))); hazardType != "" {
		q = q.Where("type = ?", hazardType)
	}
	switch strings.TrimSpace(c.Query("enabled")) {
	case "true", "1":
		q = q.Where("enabled = ?", true)
	case "false", "0":
		q = q.Where("enabled = ?", false)
	}
	if name := strings.TrimSpace(c.Query("q")); name != "" {
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "name"), dbutil.NormalizeLikePattern(h.db, "%"+name+"%"))
	}
	if prefix := strings.TrimSpace(c.Query("path_prefix")); prefix != "" {
		q = q.Where(dbutil.JSONExtractTextExpr(h.db, "rule", "path-prefix")+" = ?", prefix)
	}

	var rows []models.Hazard
	if errFind := q.Order("position ASC, id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list hazards failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatHazard(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"hazards": out})
}

// Get fetches a hazard by ID.
func (h *HazardHandler) Get(c *gin.Context) {
	row, ok := h.find(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatHazard(&row))
}

type updateHazardRequest struct {
	Name        *string          `json:"name"`
	Type        *string          `json:"type"`
	Position    *int             `json:"position"`
	Rule        *json.RawMessage `json:"rule"`
	BucketSize  *int             `json:"bucket_size"`
	BucketLeak  *float64         `json:"bucket_leak"`
	Timeout     *float64         `json:"timeout"`
	Enabled     *bool            `json:"enabled"`
	Description *string          `json:"description"`
}

// Update applies partial changes. The merged hazard must still validate.
func (h *HazardHandler) Update(c *gin.Context) {
	row, ok := h.find(c)
	if !ok {
		return
	}
	var body updateHazardRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	def, errDef := hazards.FromModel(row)
	if errDef != nil {
		// A corrupt stored rule can still be replaced.
		if body.Rule == nil {
			c.JSON(http.StatusConflict, gin.H{"error": errDef.Error()})
			return
		}
		def = hazards.Definition{Name: row.Name, Type: row.Type, BucketSize: row.BucketSize, BucketLeak: row.BucketLeak, Timeout: row.TimeoutSeconds}
	}
	if body.Name != nil {
		def.Name = strings.TrimSpace(*body.Name)
	}
	if body.Type != nil {
		def.Type = *body.Type
	}
	if body.Rule != nil {
		spec, errRule := decodeRule(*body.Rule)
		if errRule != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule: " + errRule.Error()})
			return
		}
		def.Rule = spec
	}
	if body.BucketSize != nil {
		def.BucketSize = *body.BucketSize
	}
	if body.BucketLeak != nil {
		def.BucketLeak = *body.BucketLeak
	}
	if body.Timeout != nil {
		def.Timeout = *body.Timeout
	}
	if errValidate := validateDefinition(def); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}
	if errApply := def.ApplyToModel(&row); errApply != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errApply.Error()})
		return
	}

	updates := map[string]any{
		"name":            row.Name,
		"type":            row.Type,
		"rule":            row.Rule,
		"bucket_size":     row.BucketSize,
		"bucket_leak":     row.BucketLeak,
		"timeout_seconds": row.TimeoutSeconds,
		"updated_at":      time.Now().UTC(),
	}
	if body.Position != nil {
		updates["position"] = *body.Position
		row.Position = *body.Position
	}
	if body.Enabled != nil {
		updates["enabled"] = *body.Enabled
		row.Enabled = *body.Enabled
	}
	if body.Description != nil {
		updates["description"] = *body.Description
		row.Description = *body.Description
	}

	ctx := c.Request.Context()
	if errUpdate := h.db.WithContext(ctx).Model(&models.Hazard{}).Where("id = ?", row.ID).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	out := formatHazard(&row)
	h.reload(ctx, out)
	c.JSON(http.StatusOK, out)
}

// Delete removes a hazard by ID.
func (h *HazardHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	res := h.db.WithContext(ctx).Delete(&models.Hazard{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.reload(ctx, nil)
	c.Status(http.StatusNoContent)
}

// Enable marks a hazard as enabled.
func (h *HazardHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable marks a hazard as disabled.
func (h *HazardHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *HazardHandler) setEnabled(c *gin.Context, enabled bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	ctx := c.Request.Context()
	res := h.db.WithContext(ctx).Model(&models.Hazard{}).Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	out := gin.H{"ok": true}
	h.reload(ctx, out)
	c.JSON(http.StatusOK, out)
}

// Reload rebuilds the registry from the hazards file and the database.
func (h *HazardHandler) Reload(c *gin.Context) {
	if h.reloader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reloader not configured"})
		return
	}
	status, errReload := h.reloader.Reload(c.Request.Context())
	if errReload != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errReload.Error(), "status": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Registry lists the hazards the engine evaluates right now.
func (h *HazardHandler) Registry(c *gin.Context) {
	registry := h.engine.Registry()
	all := registry.All()
	out := make([]gin.H, 0, len(all))
	for i, hazard := range all {
		out = append(out, gin.H{
			"position":    i,
			"name":        hazard.Name,
			"type":        hazard.Type,
			"bucket_size": hazard.BucketSize,
			"bucket_leak": hazard.BucketLeak,
			"timeout":     hazard.Timeout.Seconds(),
		})
	}
	resp := gin.H{"hazards": out}
	if h.reloader != nil {
		resp["status"] = h.reloader.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// reload applies a database change to the running registry. A failed
// reload leaves the previous registry in place and is reported in out.
func (h *HazardHandler) reload(ctx context.Context, out gin.H) {
	if h.reloader == nil {
		return
	}
	if _, errReload := h.reloader.Reload(ctx); errReload != nil {
		log.WithError(errReload).Warn("admin: hazard reload failed")
		if out != nil {
			out["reload_error"] = errReload.Error()
		}
	}
}

func (h *HazardHandler) find(c *gin.Context) (models.Hazard, bool) {
	var row models.Hazard
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return row, false
	}
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return row, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return row, false
	}
	return row, true
}

func formatHazard(row *models.Hazard) gin.H {
	return gin.H{
		"id":          row.ID,
		"name":        row.Name,
		"type":        row.Type,
		"position":    row.Position,
		"rule":        row.Rule,
		"bucket_size": row.BucketSize,
		"bucket_leak": row.BucketLeak,
		"timeout":     row.TimeoutSeconds,
		"enabled":     row.Enabled,
		"description": row.Description,
		"created_at":  row.CreatedAt,
		"updated_at":  row.UpdatedAt,
	}
}
