package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/router-for-me/hazardguard/internal/models"
	"gorm.io/gorm"
)

func TestRecorder_FlushesOnStop(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:audit_recorder?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.BlockageEvent{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	recorder := NewRecorder(db, nil)
	recorder.batchSize = 2
	recorder.Start()
	for i := 0; i < 5; i++ {
		recorder.Record(Event{Client: "1.2.3.4", Hazard: "flood", Type: "throttle", Verdict: "throttled", Status: 429, Method: "GET", Path: "/"})
	}
	recorder.Stop()

	var count int64
	if errCount := db.Model(&models.BlockageEvent{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 5 {
		t.Fatalf("expected 5 rows, got %d", count)
	}
	stats := recorder.Stats()
	if stats.Written != 5 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	var row models.BlockageEvent
	if errFind := db.First(&row).Error; errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if len(row.ID) != 36 || row.OccurredAt.IsZero() {
		t.Fatalf("expected generated id and time, got %+v", row)
	}
}

func TestRecorder_WithoutDatabase(t *testing.T) {
	recorder := NewRecorder(nil, nil)
	recorder.Start()
	recorder.Record(Event{Client: "1.2.3.4"})
	recorder.Stop()
	if stats := recorder.Stats(); stats.QueueLen != 0 || stats.Written != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestHub_StreamsEvents(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, errDial := websocket.DefaultDialer.Dial(wsURL, nil)
	if errDial != nil {
		t.Fatalf("dial: %v", errDial)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	recorder := NewRecorder(nil, hub)
	recorder.Record(Event{Client: "5.6.7.8", Hazard: "scanner", Type: "attack", Verdict: "blocked", Status: 400})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, errRead := conn.ReadMessage()
	if errRead != nil {
		t.Fatalf("read: %v", errRead)
	}
	var got Event
	if errUnmarshal := json.Unmarshal(payload, &got); errUnmarshal != nil {
		t.Fatalf("decode: %v", errUnmarshal)
	}
	if got.Client != "5.6.7.8" || got.Hazard != "scanner" || got.ID == "" {
		t.Fatalf("unexpected event %+v", got)
	}
}
