// Package audit records deflected requests and fans them out to live subscribers.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/hazardguard/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultBatchSize     = 50
	defaultBatchInterval = 2 * time.Second
	defaultQueueSize     = 10000
	writeTimeout         = 10 * time.Second
)

// Event describes one deflected request.
type Event struct {
	ID         string    `json:"id"`
	Client     string    `json:"client"`
	Hazard     string    `json:"hazard,omitempty"`
	Type       string    `json:"type"`
	Verdict    string    `json:"verdict"`
	Status     int       `json:"status"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e Event) model() models.BlockageEvent {
	return models.BlockageEvent{
		ID:         e.ID,
		Client:     e.Client,
		Hazard:     e.Hazard,
		Type:       e.Type,
		Verdict:    e.Verdict,
		Status:     e.Status,
		Method:     e.Method,
		Path:       e.Path,
		OccurredAt: e.OccurredAt,
	}
}

// EventFromModel converts a stored row.
func EventFromModel(row models.BlockageEvent) Event {
	return Event{
		ID:         row.ID,
		Client:     row.Client,
		Hazard:     row.Hazard,
		Type:       row.Type,
		Verdict:    row.Verdict,
		Status:     row.Status,
		Method:     row.Method,
		Path:       row.Path,
		OccurredAt: row.OccurredAt,
	}
}

// Stats reports recorder counters.
type Stats struct {
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
	Batches   uint64 `json:"batches"`
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
	Listeners int    `json:"listeners"`
}

// Recorder queues events without blocking the request path and writes them
// to the database in batches. A full queue drops events.
type Recorder struct {
	db            *gorm.DB
	hub           *Hub
	queue         chan Event
	batchSize     int
	batchInterval time.Duration

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	batches atomic.Uint64
}

// NewRecorder constructs a Recorder. db and hub are both optional.
func NewRecorder(db *gorm.DB, hub *Hub) *Recorder {
	return &Recorder{
		db:            db,
		hub:           hub,
		queue:         make(chan Event, defaultQueueSize),
		batchSize:     defaultBatchSize,
		batchInterval: defaultBatchInterval,
	}
}

// Start begins the background writer.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.done = make(chan struct{})
	r.wg.Add(1)
	go r.writerLoop(r.done)
}

// Stop flushes queued events and stops the writer.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	r.mu.Unlock()
	r.wg.Wait()
	log.WithFields(log.Fields{
		"written": r.written.Load(),
		"dropped": r.dropped.Load(),
		"batches": r.batches.Load(),
	}).Info("audit: recorder stopped")
}

// Record queues an event, filling in its ID and time when empty.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	r.hub.Broadcast(event)
	if r.db == nil {
		return
	}
	select {
	case r.queue <- event:
	default:
		dropped := r.dropped.Add(1)
		if dropped%1000 == 1 {
			log.WithField("dropped", dropped).Warn("audit: event queue full, dropping events")
		}
	}
}

// Stats returns recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Written:   r.written.Load(),
		Dropped:   r.dropped.Load(),
		Batches:   r.batches.Load(),
		QueueLen:  len(r.queue),
		QueueCap:  cap(r.queue),
		Listeners: r.hub.Len(),
	}
}

func (r *Recorder) writerLoop(done <-chan struct{}) {
	defer r.wg.Done()

	batch := make([]Event, 0, r.batchSize)
	ticker := time.NewTicker(r.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-r.queue:
			batch = append(batch, event)
			if len(batch) >= r.batchSize {
				r.writeBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.writeBatch(batch)
				batch = batch[:0]
			}
		case <-done:
			for {
				select {
				case event := <-r.queue:
					batch = append(batch, event)
					if len(batch) >= r.batchSize {
						r.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						r.writeBatch(batch)
					}
					return
				}
			}
		}
	}
}

func (r *Recorder) writeBatch(batch []Event) {
	if r.db == nil || len(batch) == 0 {
		return
	}
	rows := make([]models.BlockageEvent, 0, len(batch))
	for _, event := range batch {
		rows = append(rows, event.model())
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if errCreate := r.db.WithContext(ctx).CreateInBatches(&rows, r.batchSize).Error; errCreate != nil {
		r.dropped.Add(uint64(len(rows)))
		log.WithError(errCreate).WithField("events", len(rows)).Warn("audit: write batch failed")
		return
	}
	r.written.Add(uint64(len(rows)))
	r.batches.Add(1)
}
