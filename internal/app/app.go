// Package app wires configuration, storage and HTTP into runnable commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/hazardguard/internal/audit"
	"github.com/router-for-me/hazardguard/internal/config"
	"github.com/router-for-me/hazardguard/internal/db"
	"github.com/router-for-me/hazardguard/internal/guard"
	"github.com/router-for-me/hazardguard/internal/hazards"
	"github.com/router-for-me/hazardguard/internal/http/api/admin"
	"github.com/router-for-me/hazardguard/internal/http/middleware"
	"github.com/router-for-me/hazardguard/internal/kvstore"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// ConfigureLogging applies the logging section to the global logrus logger.
func ConfigureLogging(cfg config.LoggingConfig) error {
	if level := strings.TrimSpace(cfg.Level); level != "" {
		parsed, errParse := log.ParseLevel(level)
		if errParse != nil {
			return fmt.Errorf("logging: %w", errParse)
		}
		log.SetLevel(parsed)
	}
	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)
	return nil
}

// LoadConfig resolves the config path and loads the service configuration.
func LoadConfig(appCfg config.AppConfig) (config.Config, error) {
	return config.Load(config.ResolveConfigPath(appCfg.ConfigPath))
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, appCfg config.AppConfig) error {
	cfg, errLoad := LoadConfig(appCfg)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	defer closeDB(conn)
	return db.Migrate(conn.WithContext(ctx))
}

// server holds the components of a running guard.
type server struct {
	cfg      config.Config
	db       *gorm.DB
	store    *kvstore.Manager
	engine   *guard.Engine
	reloader *hazards.Reloader
	recorder *audit.Recorder
	hub      *audit.Hub
	router   *gin.Engine
}

// newServer builds every component from cfg. The registry is loaded once
// before returning; a broken hazards source fails startup.
func newServer(ctx context.Context, cfg config.Config, conn *gorm.DB) (*server, error) {
	resolver, errResolver := middleware.NewClientIPResolver(cfg.TrustedProxies)
	if errResolver != nil {
		return nil, fmt.Errorf("trusted-proxies: %w", errResolver)
	}

	store := kvstore.NewManager(storeConfig(cfg), nil, nil)
	engine, errEngine := guard.NewEngine(nil, guard.EngineOptions{
		Store:         store,
		KeyPrefix:     cfg.Store.Prefix,
		ClientKey:     resolver.ClientIP,
		AtomicBuckets: cfg.Store.AtomicBuckets,
	})
	if errEngine != nil {
		_ = store.Close()
		return nil, errEngine
	}

	reloader := hazards.NewReloader(engine, conn, cfg.Guard.HazardsFile, resolver.ClientIP)
	reloader.PollInterval = cfg.PollInterval()
	reloader.WatchFile = *cfg.Guard.WatchFile
	if _, errReload := reloader.Reload(ctx); errReload != nil {
		_ = store.Close()
		return nil, errReload
	}

	hub := audit.NewHub()
	recorder := audit.NewRecorder(conn, hub)

	s := &server{
		cfg:      cfg,
		db:       conn,
		store:    store,
		engine:   engine,
		reloader: reloader,
		recorder: recorder,
		hub:      hub,
	}
	router, errRouter := s.buildRouter()
	if errRouter != nil {
		_ = store.Close()
		return nil, errRouter
	}
	s.router = router
	return s, nil
}

func storeConfig(cfg config.Config) kvstore.Config {
	return kvstore.Config{
		Backend:       cfg.Store.Backend,
		Fallback:      cfg.Store.Fallback,
		RedisAddr:     cfg.Store.Redis.Addr,
		RedisPassword: cfg.Store.Redis.Password,
		RedisDB:       cfg.Store.Redis.DB,
	}
}

func (s *server) buildRouter() (*gin.Engine, error) {
	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.GuardMiddleware(s.engine, middleware.GuardOptions{
		AllowedMethods: s.cfg.AllowedMethods,
		FailMode:       s.cfg.Guard.FailMode,
		RuntimeHeader:  *s.cfg.Guard.RuntimeHeader,
		HeaderName:     s.cfg.Guard.HeaderName,
		SkipPaths:      []string{admin.HealthPath},
		Recorder:       s.recorder,
	}))

	admin.RegisterAdminRoutes(r, admin.Dependencies{
		DB:       s.db,
		JWT:      s.cfg.JWT,
		Engine:   s.engine,
		Store:    s.store,
		Reloader: s.reloader,
		Recorder: s.recorder,
		Hub:      s.hub,
	})

	upstream, errUpstream := upstreamHandler(s.cfg.Upstream)
	if errUpstream != nil {
		return nil, errUpstream
	}
	r.NoRoute(upstream)
	return r, nil
}

// upstreamHandler proxies allowed requests to raw, or answers 200 when no
// upstream is configured.
func upstreamHandler(raw string) (gin.HandlerFunc, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return func(c *gin.Context) {
			c.String(http.StatusOK, "OK")
		}, nil
	}
	target, errParse := url.Parse(raw)
	if errParse != nil {
		return nil, fmt.Errorf("upstream: %w", errParse)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithError(err).WithField("path", r.URL.Path).Warn("upstream request failed")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}
	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}

// RunServer boots the guard in front of the configured upstream and blocks
// until ctx is cancelled.
func RunServer(ctx context.Context, appCfg config.AppConfig) error {
	cfg, errLoad := LoadConfig(appCfg)
	if errLoad != nil {
		return errLoad
	}
	if errLogging := ConfigureLogging(cfg.Logging); errLogging != nil {
		return errLogging
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		log.Warn("jwt secret is empty, admin login is disabled")
	}

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	defer closeDB(conn)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if initialized, errInit := HasAdminInitialized(conn); errInit != nil {
		return errInit
	} else if !initialized {
		log.Warn("no admin account exists, create one with `hazardguard admin create`")
	}

	s, errServer := newServer(ctx, cfg, conn)
	if errServer != nil {
		return errServer
	}
	defer func() { _ = s.store.Close() }()

	s.recorder.Start()
	defer s.recorder.Stop()

	reloadCtx, cancelReload := context.WithCancel(ctx)
	defer cancelReload()
	go func() {
		if errRun := s.reloader.Run(reloadCtx); errRun != nil {
			log.WithError(errRun).Error("hazard reloader stopped")
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":     cfg.Addr(),
			"upstream": cfg.Upstream,
			"store":    cfg.Store.Backend,
			"hazards":  s.engine.Registry().Len(),
		}).Info("hazardguard listening")
		if errListen := httpServer.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errCh <- errListen
		}
		close(errCh)
	}()

	select {
	case errListen, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", errListen)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := httpServer.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}

func closeDB(conn *gorm.DB) {
	if conn == nil {
		return
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		_ = sqlDB.Close()
	}
}
