package hazards

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/hazardguard/internal/guard"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultDebounce     = 500 * time.Millisecond
	defaultPollInterval = 5 * time.Second
	defaultQueryTimeout = 10 * time.Second
)

// Status describes the last successful reload.
type Status struct {
	LoadedAt    time.Time `json:"loaded_at"`
	FileHazards int       `json:"file_hazards"`
	DBHazards   int       `json:"db_hazards"`
	LastError   string    `json:"last_error,omitempty"`
}

// Reloader rebuilds the engine's registry from the hazards file and the
// database. A failed rebuild keeps the current registry.
type Reloader struct {
	engine    *guard.Engine
	db        *gorm.DB
	path      string
	clientKey guard.ClientKeyFunc
	nowFn     func() time.Time

	Debounce     time.Duration
	PollInterval time.Duration
	WatchFile    bool // Reload on hazards file changes in Run.

	mu       sync.Mutex
	fileHash string
	dbPrint  dbFingerprint
	status   Status
}

// NewReloader constructs a Reloader. path and db are both optional.
func NewReloader(engine *guard.Engine, db *gorm.DB, path string, clientKey guard.ClientKeyFunc) *Reloader {
	return &Reloader{
		engine:       engine,
		db:           db,
		path:         strings.TrimSpace(path),
		clientKey:    clientKey,
		nowFn:        time.Now,
		Debounce:     defaultDebounce,
		PollInterval: defaultPollInterval,
		WatchFile:    true,
	}
}

// Reload rebuilds and swaps the registry unconditionally.
func (r *Reloader) Reload(ctx context.Context) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(ctx)
}

// Status returns the last reload status.
func (r *Reloader) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Reloader) reloadLocked(ctx context.Context) (Status, error) {
	var defs []Definition
	var fileHash string
	fileCount := 0

	if r.path != "" {
		data, errRead := os.ReadFile(r.path)
		if errRead != nil {
			return r.failLocked(fmt.Errorf("hazards: read %s: %w", r.path, errRead))
		}
		sum := sha256.Sum256(data)
		fileHash = hex.EncodeToString(sum[:])
		fileDefs, errParse := Parse(data, filepath.Ext(r.path))
		if errParse != nil {
			return r.failLocked(errParse)
		}
		defs = append(defs, fileDefs...)
		fileCount = len(fileDefs)
	}

	var fp dbFingerprint
	dbCount := 0
	if r.db != nil {
		ctxQuery, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
		defer cancel()
		var errPrint error
		if fp, errPrint = loadFingerprint(ctxQuery, r.db); errPrint != nil {
			return r.failLocked(fmt.Errorf("hazards: fingerprint: %w", errPrint))
		}
		dbDefs, errLoad := LoadDB(ctxQuery, r.db)
		if errLoad != nil {
			return r.failLocked(errLoad)
		}
		defs = append(defs, dbDefs...)
		dbCount = len(dbDefs)
	}

	registry, errBuild := Build(defs, r.clientKey)
	if errBuild != nil {
		return r.failLocked(errBuild)
	}
	r.engine.SetRegistry(registry)
	r.fileHash = fileHash
	r.dbPrint = fp
	r.status = Status{LoadedAt: r.nowFn().UTC(), FileHazards: fileCount, DBHazards: dbCount}
	log.WithFields(log.Fields{
		"file_hazards": fileCount,
		"db_hazards":   dbCount,
	}).Info("hazards: registry reloaded")
	return r.status, nil
}

func (r *Reloader) failLocked(err error) (Status, error) {
	r.status.LastError = err.Error()
	log.WithError(err).Warn("hazards: reload failed, keeping current registry")
	return r.status, err
}

// fileChanged reports whether the file content differs from the loaded one.
func (r *Reloader) fileChanged() bool {
	data, errRead := os.ReadFile(r.path)
	if errRead != nil {
		return false
	}
	sum := sha256.Sum256(data)
	r.mu.Lock()
	defer r.mu.Unlock()
	return hex.EncodeToString(sum[:]) != r.fileHash
}

// dbChanged reports whether the hazards table changed since the last load.
func (r *Reloader) dbChanged(ctx context.Context) bool {
	ctxQuery, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()
	fp, errPrint := loadFingerprint(ctxQuery, r.db)
	if errPrint != nil {
		log.WithError(errPrint).Warn("hazards: poll db failed")
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fp != r.dbPrint
}

// Run watches the hazards file and polls the database until ctx is done.
// The directory is watched so editors that replace the file are noticed.
func (r *Reloader) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errorsCh <-chan error
	if r.path != "" && r.WatchFile {
		watcher, errWatcher := fsnotify.NewWatcher()
		if errWatcher != nil {
			return fmt.Errorf("hazards: create watcher: %w", errWatcher)
		}
		defer func() { _ = watcher.Close() }()
		if errAdd := watcher.Add(filepath.Dir(r.path)); errAdd != nil {
			return fmt.Errorf("hazards: watch %s: %w", r.path, errAdd)
		}
		events, errorsCh = watcher.Events, watcher.Errors
	}

	var tick <-chan time.Time
	if r.db != nil && r.PollInterval > 0 {
		ticker := time.NewTicker(r.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	target := filepath.Clean(r.path)
	trigger := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(r.Debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case errWatch, ok := <-errorsCh:
			if !ok {
				errorsCh = nil
				continue
			}
			log.WithError(errWatch).Warn("hazards: file watcher error")
		case <-trigger:
			if r.fileChanged() {
				_, _ = r.Reload(ctx)
			}
		case <-tick:
			if r.dbChanged(ctx) {
				_, _ = r.Reload(ctx)
			}
		}
	}
}
