// Package admin registers the operator API.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/hazardguard/internal/audit"
	"github.com/router-for-me/hazardguard/internal/config"
	"github.com/router-for-me/hazardguard/internal/guard"
	"github.com/router-for-me/hazardguard/internal/hazards"
	handlers "github.com/router-for-me/hazardguard/internal/http/api/admin/handlers"
	"github.com/router-for-me/hazardguard/internal/http/api/admin/permissions"
	"github.com/router-for-me/hazardguard/internal/kvstore"
	"github.com/router-for-me/hazardguard/internal/models"
	"github.com/router-for-me/hazardguard/internal/security"
	"gorm.io/gorm"
)

// HealthPath is served outside the admin group and skips the guard.
const HealthPath = "/healthz"

// Dependencies are the services the admin API operates on. Only DB and
// Engine are required.
type Dependencies struct {
	DB       *gorm.DB
	JWT      config.JWTConfig
	Engine   *guard.Engine
	Store    *kvstore.Manager
	Reloader *hazards.Reloader
	Recorder *audit.Recorder
	Hub      *audit.Hub
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.DB == nil || deps.Engine == nil {
		return
	}
	db := deps.DB

	healthHandler := handlers.NewHealthHandler(db, deps.Store, deps.Reloader, deps.Recorder)
	r.GET(HealthPath, healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, deps.JWT)
	adminGroup.POST("/login", authHandler.Login)

	selfAuthed := adminGroup.Group("")
	selfAuthed.Use(adminAuthMiddleware(db, deps.JWT))
	selfAuthed.POST("/mfa/totp/prepare", authHandler.PrepareTOTP)
	selfAuthed.POST("/mfa/totp/confirm", authHandler.ConfirmTOTP)
	selfAuthed.POST("/mfa/totp/disable", authHandler.DisableTOTP)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, deps.JWT))
	authed.Use(adminPermissionMiddleware())

	hazardHandler := handlers.NewHazardHandler(db, deps.Engine, deps.Reloader)
	authed.GET("/hazards", hazardHandler.List)
	authed.POST("/hazards", hazardHandler.Create)
	authed.POST("/hazards/reload", hazardHandler.Reload)
	authed.GET("/hazards/:id", hazardHandler.Get)
	authed.PUT("/hazards/:id", hazardHandler.Update)
	authed.DELETE("/hazards/:id", hazardHandler.Delete)
	authed.POST("/hazards/:id/enable", hazardHandler.Enable)
	authed.POST("/hazards/:id/disable", hazardHandler.Disable)
	authed.GET("/registry", hazardHandler.Registry)

	blockageHandler := handlers.NewBlockageHandler(deps.Engine)
	authed.GET("/blockages/:client", blockageHandler.Get)
	authed.DELETE("/blockages/:client", blockageHandler.Delete)
	authed.GET("/buckets/:hazard/:client", blockageHandler.Bucket)

	eventHandler := handlers.NewEventHandler(db, deps.Hub)
	authed.GET("/events", eventHandler.List)
	authed.GET("/events/stream", eventHandler.Stream)

	adminHandler := handlers.NewAdminHandler(db)
	authed.POST("/admins", adminHandler.Create)
	authed.GET("/admins", adminHandler.List)
	authed.DELETE("/admins/:id", adminHandler.Delete)
	authed.POST("/admins/:id/disable", adminHandler.Disable)
	authed.POST("/admins/:id/enable", adminHandler.Enable)

	permissionHandler := handlers.NewPermissionHandler()
	authed.GET("/permissions", permissionHandler.List)
}

// bearerToken reads the Authorization header. Websocket clients cannot set
// headers, so the event stream also accepts a token query parameter.
func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if c.FullPath() == "/v0/admin/events/stream" {
			if token := strings.TrimSpace(c.Query("token")); token != "" {
				return token, ""
			}
		}
		return "", "missing authorization header"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", "invalid authorization format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := bearerToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Set("adminPermissions", permissions.ParsePermissions(admin.Permissions))
		c.Set("adminIsSuperAdmin", admin.IsSuperAdmin)
		c.Next()
	}
}

// adminPermissionMiddleware checks the matched route against the admin's
// granted permissions. Super admins pass every check.
func adminPermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool("adminIsSuperAdmin") {
			c.Next()
			return
		}
		granted, _ := c.Get("adminPermissions")
		perms, _ := granted.([]string)
		if !permissions.HasPermission(perms, permissions.Key(c.Request.Method, c.FullPath())) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}
