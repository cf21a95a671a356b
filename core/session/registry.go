package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"soundroom/logger"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Registry is the authoritative collection of live rooms, keyed by room code.
// It is the sole owner of room lifetime; nothing else may cache a *Session
// across an asynchronous gap that could race with destruction.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Session
	rnd    *rand.Rand
	limits Limits
}

// NewRegistry creates an empty registry. Construct one per process and pass
// it by reference; there is no ambient singleton.
func NewRegistry(limits Limits) *Registry {
	if limits.MaxMembers <= 0 {
		limits = DefaultLimits
	}
	return &Registry{
		rooms:  make(map[string]*Session),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		limits: limits,
	}
}

// Create generates a collision-checked 6-character room code and creates the
// room with the creator as sole member and host.
func (r *Registry) Create(creatorID, creatorName string, now time.Time) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.generateCodeLocked()
	if err != nil {
		return nil, err
	}

	s := newSession(code, creatorID, creatorName, r.limits, now)
	r.rooms[code] = s
	return s, nil
}

// generateCodeLocked retries random code generation until an unused code is
// found. Collisions are detected, not assumed improbable.
func (r *Registry) generateCodeLocked() (string, error) {
	buf := make([]byte, 6)
	for attempt := 0; attempt < 100; attempt++ {
		for i := range buf {
			buf[i] = codeAlphabet[r.rnd.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, exists := r.rooms[code]; !exists {
			return code, nil
		}
	}
	return "", ErrCodeSpace
}

// Get looks up a room by code.
func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[code]
	return s, ok
}

// DestroyIfEmpty removes the room if and only if its membership is currently
// empty. Safe to call redundantly.
func (r *Registry) DestroyIfEmpty(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.rooms[code]
	if !ok {
		return false
	}
	if s.MemberCount() > 0 {
		return false
	}
	delete(r.rooms, code)
	return true
}

// Stats returns the number of live rooms and the total membership across
// them.
func (r *Registry) Stats() (rooms, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms = len(r.rooms)
	for _, s := range r.rooms {
		users += s.MemberCount()
	}
	return rooms, users
}

// Sweep removes rooms that are both empty and idle beyond the timeout. A
// defensive second line of cleanup: normal operation destroys empty rooms
// immediately on the triggering leave or disconnect.
func (r *Registry) Sweep(idleTimeout time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for code, s := range r.rooms {
		if s.MemberCount() == 0 && now.Sub(s.LastActivity()) > idleTimeout {
			delete(r.rooms, code)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep periodically until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval, idleTimeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if removed := r.Sweep(idleTimeout, now); removed > 0 {
					logger.Info("swept stale rooms", logger.Int("removed", removed))
				}
			}
		}
	}()
}
