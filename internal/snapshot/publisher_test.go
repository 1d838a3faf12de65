package snapshot

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/notify"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPublishAndVerify(t *testing.T) {
	db := setupTestDB(t)
	p := NewPublisher(db, notify.NewHub())
	now := time.Now()

	payload := map[string]any{"communities": 3, "nodes": 42}
	s, err := p.Publish(storage.SnapshotCommunityStructure, payload, now)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !Verify(s) {
		t.Error("published snapshot fails its own checksum")
	}

	latest, err := db.LatestSnapshot(storage.SnapshotCommunityStructure)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != s.ID || latest.Checksum != s.Checksum {
		t.Errorf("latest = %+v, want the published row", latest)
	}
	if !Verify(latest) {
		t.Error("round-tripped snapshot fails checksum verification")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(latest.Data), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["nodes"].(float64) != 42 {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestPublishIsAppendOnly(t *testing.T) {
	db := setupTestDB(t)
	p := NewPublisher(db, notify.NewHub())
	now := time.Now()

	if _, err := p.Publish(storage.SnapshotLeaderboard, map[string]int{"v": 1}, now.Add(-time.Hour)); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	second, err := p.Publish(storage.SnapshotLeaderboard, map[string]int{"v": 2}, now)
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}

	latest, err := db.LatestSnapshot(storage.SnapshotLeaderboard)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %s, want the newer publish %s", latest.ID, second.ID)
	}
}

func TestEmitNewAlertsOnce(t *testing.T) {
	db := setupTestDB(t)
	hub := notify.NewHub()
	id, events := hub.Subscribe(8)
	defer hub.Unsubscribe(id)

	p := NewPublisher(db, hub)
	now := time.Now()

	err := db.InsertThreatSignal(&storage.ThreatSignal{
		ID: "sig-1", Type: "behavioral", AgentID: "a1", Risk: 0.9, Boost: 1.0,
		Severity: storage.SeverityCritical, Description: "burst", CreatedAt: now.Unix(),
	})
	if err != nil {
		t.Fatalf("insert signal: %v", err)
	}

	emitted, err := p.EmitNewAlerts(now)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if emitted != 1 {
		t.Fatalf("emitted = %d, want 1", emitted)
	}
	ev := <-events
	if ev.ID != "sig-1" || ev.Severity != storage.SeverityCritical || ev.RelatedAgent != "a1" {
		t.Errorf("event = %+v", ev)
	}

	// Same signal must not emit twice.
	emitted, err = p.EmitNewAlerts(now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second emit: %v", err)
	}
	if emitted != 0 {
		t.Errorf("second emit = %d, want 0", emitted)
	}

	// A newer signal emits normally.
	err = db.InsertThreatSignal(&storage.ThreatSignal{
		ID: "sig-2", Type: "supply_chain", AgentID: "a2", Risk: 0.7, Boost: 1.0,
		Severity: storage.SeverityHigh, CreatedAt: now.Add(time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("insert signal: %v", err)
	}
	emitted, err = p.EmitNewAlerts(now.Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("third emit: %v", err)
	}
	if emitted != 1 || (<-events).ID != "sig-2" {
		t.Errorf("third emit = %d, want exactly sig-2", emitted)
	}
}
