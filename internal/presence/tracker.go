// Package presence tracks who is online from verified heartbeat envelopes.
package presence

import (
	"sync"
	"time"

	"nats-chat/go-client/internal/token"
	"nats-chat/go-client/pkg/models"
)

const (
	// HeartbeatInterval is the publisher cadence; TTL is the validity
	// window carried in each heartbeat. The 2x margin tolerates one
	// missed tick without the user flapping offline.
	HeartbeatInterval = 30 * time.Second
	TTL               = 60 * time.Second
)

// Tracker maintains the online directory. Each update replaces the whole
// snapshot, so a directory handed to a reader is never mutated underneath
// it. Eviction is lazy: expired entries are dropped on the next heartbeat.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]models.PresenceRecord
	now    func() time.Time
}

func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{
		online: make(map[string]models.PresenceRecord),
		now:    now,
	}
}

// OnHeartbeat admits one verified heartbeat and returns the new directory.
// Callers must have run the envelope through token.Verify first; the
// tracker itself does not re-check signatures.
func (t *Tracker) OnHeartbeat(claims token.Claims) map[string]models.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	next := make(map[string]models.PresenceRecord, len(t.online)+1)
	for key, rec := range t.online {
		if rec.ExpiresAt.Before(now) {
			continue
		}
		next[key] = rec
	}
	next[claims.Issuer] = models.PresenceRecord{
		PublicKey: claims.Issuer,
		Username:  claims.Name,
		IssuedAt:  time.Unix(claims.IssuedAt, 0),
		ExpiresAt: time.Unix(claims.Expires, 0),
	}
	t.online = next
	return next
}

// Resolve maps an online username to its public key.
func (t *Tracker) Resolve(username string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, rec := range t.online {
		if rec.Username == username {
			return rec.PublicKey, true
		}
	}
	return "", false
}

// Directory returns the current snapshot. Safe to hand out: snapshots are
// replaced wholesale, never edited in place.
func (t *Tracker) Directory() map[string]models.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}
