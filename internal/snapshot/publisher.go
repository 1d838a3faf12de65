// Package snapshot publishes immutable analytics documents and forwards
// newly persisted alert-grade signals to the notification hub.
package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/LvcidPsyche/agent-intelligence-hub/internal/notify"
	"github.com/LvcidPsyche/agent-intelligence-hub/internal/storage"
)

// Publisher writes snapshots and emits alerts. Snapshots are append-only:
// a publish never updates or deletes an earlier row.
type Publisher struct {
	db  *storage.DB
	hub *notify.Hub

	mu        sync.Mutex
	alertedAt int64
	alerted   map[string]bool
}

// NewPublisher creates a publisher. Alerts start from construction time:
// signals persisted before the process started are history, not news.
func NewPublisher(db *storage.DB, hub *notify.Hub) *Publisher {
	return &Publisher{
		db:        db,
		hub:       hub,
		alertedAt: time.Now().Unix() - 60,
		alerted:   make(map[string]bool),
	}
}

// Checksum returns the SHA3-256 hex digest of a snapshot payload.
func Checksum(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Publish marshals the payload, checksums it and inserts one immutable
// snapshot row.
func (p *Publisher) Publish(snapshotType string, payload any, now time.Time) (*storage.Snapshot, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s snapshot: %w", snapshotType, err)
	}
	s := &storage.Snapshot{
		ID:           uuid.New().String(),
		SnapshotType: snapshotType,
		Data:         string(data),
		Checksum:     Checksum(data),
		CreatedAt:    now.Unix(),
	}
	if err := p.db.InsertSnapshot(s); err != nil {
		return nil, fmt.Errorf("publish %s snapshot: %w", snapshotType, err)
	}
	log.Printf("[snapshot] published %s (%d bytes, checksum %s)", snapshotType, len(data), s.Checksum[:12])
	return s, nil
}

// Verify reports whether a snapshot's checksum matches its data.
func Verify(s *storage.Snapshot) bool {
	return Checksum([]byte(s.Data)) == s.Checksum
}

// EmitNewAlerts broadcasts every signal persisted since the last emission,
// exactly once per signal, and returns the emitted count.
func (p *Publisher) EmitNewAlerts(now time.Time) (int, error) {
	p.mu.Lock()
	since := p.alertedAt
	p.mu.Unlock()

	signals, err := p.db.ListThreatSignalsSince(since)
	if err != nil {
		return 0, fmt.Errorf("emit alerts: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	emitted := 0
	for i := range signals {
		s := &signals[i]
		if p.alerted[s.ID] {
			continue
		}
		p.alerted[s.ID] = true
		if s.CreatedAt > p.alertedAt {
			p.alertedAt = s.CreatedAt
		}
		p.hub.Broadcast(notify.EventFromSignal(s))
		emitted++
	}
	if emitted > 0 {
		log.Printf("[snapshot] emitted %d alerts to %d subscribers", emitted, p.hub.Subscribers())
	}
	return emitted, nil
}
