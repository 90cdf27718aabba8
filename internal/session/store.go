// Package session provides the in-memory, expiring conversation session
// store. Sessions are keyed by "{channel}:{identity}" — web cookie id,
// WhatsApp sender number, or voice task id — and expire after a fixed idle
// timeout; every update resets the timer.
//
// Semantics are last-write-wins per key with no cross-key transactions.
// Turns for the same identity are processed one at a time by the transport
// layer, so two concurrent writers to one key are not expected; if they did
// occur the slower writer would clobber the faster one's transition, which is
// an accepted property of this store rather than a guarantee to build on.
//
// The store is process-local. Horizontally scaled deployments should swap in
// a shared backend behind the same contract; the state machine only depends
// on Get/Create/Update/Delete.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finvola/go-support-backend/internal/domain"
)

// DefaultIdleTTL is the reference idle timeout after which a session is
// considered abandoned.
const DefaultIdleTTL = 20 * time.Minute

// entry wraps a stored session with its last-touch time for expiry checks.
type entry struct {
	sess     *domain.Session
	lastSeen time.Time
}

// Store holds active sessions with passive TTL expiry. Expired entries are
// dropped on access and swept opportunistically during writes, so no
// background goroutine is needed.
//
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration

	// now is a test seam for the clock.
	now func() time.Time

	sweepN uint64
}

// NewStore constructs a Store with the given idle TTL. Non-positive values
// fall back to DefaultIdleTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func key(ch domain.Channel, identity string) string {
	return string(ch) + ":" + identity
}

// Create makes a fresh session for a channel identity at the initial stage
// and stores it, replacing any existing session under the same key.
func (s *Store) Create(ch domain.Channel, identity string) *domain.Session {
	now := s.now().UTC()
	sess := &domain.Session{
		ID:             uuid.NewString(),
		Channel:        ch,
		Identity:       identity,
		Stage:          domain.StageAwaitingMenuChoice,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.entries[key(ch, identity)] = &entry{sess: sess, lastSeen: now}
	return sess.Clone()
}

// Get returns a copy of the stored session, or nil when absent or expired.
// Reads do not refresh the idle timer; only Update does.
func (s *Store) Get(ch domain.Channel, identity string) *domain.Session {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(ch, identity)]
	if !ok {
		return nil
	}
	if now.Sub(e.lastSeen) >= s.ttl {
		delete(s.entries, key(ch, identity))
		return nil
	}
	return e.sess.Clone()
}

// Update stores the given session under its channel identity and resets the
// idle timer. Last write wins.
func (s *Store) Update(sess *domain.Session) {
	now := s.now().UTC()
	cp := sess.Clone()
	cp.LastActivityAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.entries[key(sess.Channel, sess.Identity)] = &entry{sess: cp, lastSeen: now}
}

// Delete removes a session, e.g. after a post-escalation reset. Deleting an
// absent key is a no-op.
func (s *Store) Delete(ch domain.Channel, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key(ch, identity))
}

// Len reports the number of live (non-expired) sessions.
func (s *Store) Len() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if now.Sub(e.lastSeen) < s.ttl {
			n++
		}
	}
	return n
}

// sweepLocked evicts expired entries after a threshold of writes. Callers
// must hold s.mu.
func (s *Store) sweepLocked(now time.Time) {
	s.sweepN++
	if s.sweepN < 1000 {
		return
	}
	s.sweepN = 0
	for k, e := range s.entries {
		if now.Sub(e.lastSeen) >= s.ttl {
			delete(s.entries, k)
		}
	}
}
