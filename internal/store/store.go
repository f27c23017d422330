// Package store holds the in-memory authoritative view of all known trips,
// merged from remote fetches, the offline queue, and live mutations. Every
// screen reads this one flat, token-deduplicated collection regardless of
// where a trip originated.
package store

import (
	"sync"

	"github.com/minex/haulsync/internal/domain"
)

// TripStore is safe for concurrent use. Every mutation recomputes the
// derived active subset under the same lock, so a reader never observes
// the trip list and the active list in mutually inconsistent states.
type TripStore struct {
	mu     sync.RWMutex
	trips  []domain.Trip
	active []domain.Trip

	listeners map[int]func()
	nextID    int
}

// New returns an empty TripStore.
func New() *TripStore {
	return &TripStore{listeners: make(map[int]func())}
}

// Subscribe registers fn to run after every store mutation. UI screens use
// this to re-render. The returned function unsubscribes; it is safe to call
// more than once.
func (s *TripStore) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SetTrips replaces the full known trip set, deduplicating by token.
// Used after a successful remote fetch.
func (s *TripStore) SetTrips(trips []domain.Trip) {
	s.mu.Lock()
	s.trips = dedupe(trips)
	s.recompute()
	s.mu.Unlock()
	s.notify()
}

// Add appends one trip, enforcing the token uniqueness invariant. When the
// token is already present, the merge policy decides which entry survives
// (see preferred); the position of the first occurrence is kept.
func (s *TripStore) Add(trip domain.Trip) {
	trip.TripToken = domain.TrimToken(trip.TripToken)

	s.mu.Lock()
	if i, ok := s.indexOf(trip.TripToken); ok {
		s.trips[i] = preferred(s.trips[i], trip)
	} else {
		s.trips = append(s.trips, trip)
	}
	s.recompute()
	s.mu.Unlock()
	s.notify()
}

// Merge folds a batch of trips (e.g. a server fetch) into the current set
// under the same dedup policy as Add, in one mutation.
func (s *TripStore) Merge(trips []domain.Trip) {
	s.mu.Lock()
	for _, t := range trips {
		t.TripToken = domain.TrimToken(t.TripToken)
		if i, ok := s.indexOf(t.TripToken); ok {
			s.trips[i] = preferred(s.trips[i], t)
		} else {
			s.trips = append(s.trips, t)
		}
	}
	s.recompute()
	s.mu.Unlock()
	s.notify()
}

// Update applies fn to the trip matching token (compared after trimming).
// Returns false, with no mutation or notification, when no trip matches.
// The token itself is not changeable through Update; use Rename.
func (s *TripStore) Update(token string, fn func(*domain.Trip)) bool {
	token = domain.TrimToken(token)

	s.mu.Lock()
	i, ok := s.indexOf(token)
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(&s.trips[i])
	s.trips[i].TripToken = token // invariant: identity is immutable here
	s.recompute()
	s.mu.Unlock()
	s.notify()
	return true
}

// Rename replaces a trip's token, used when a sync pass swaps a
// provisional offline token for the server-assigned one. If the new token
// already exists the two entries collapse under the merge policy.
func (s *TripStore) Rename(oldToken, newToken string) bool {
	oldToken, newToken = domain.TrimToken(oldToken), domain.TrimToken(newToken)

	s.mu.Lock()
	i, ok := s.indexOf(oldToken)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.trips[i].TripToken = newToken
	if j, dup := s.indexOf(newToken); dup && j != i {
		s.trips[i] = preferred(s.trips[i], s.trips[j])
		s.trips = append(s.trips[:j], s.trips[j+1:]...)
	}
	s.recompute()
	s.mu.Unlock()
	s.notify()
	return true
}

// Remove drops the trip matching the trimmed token. Returns false, with no
// mutation or notification, when no trip matches. Used when a sync pass
// learns a provisional entry has no server-side counterpart.
func (s *TripStore) Remove(token string) bool {
	token = domain.TrimToken(token)

	s.mu.Lock()
	i, ok := s.indexOf(token)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.trips = append(s.trips[:i], s.trips[i+1:]...)
	s.recompute()
	s.mu.Unlock()
	s.notify()
	return true
}

// GetByToken returns the trip matching the trimmed token.
// Absence is a distinguishable result, not an error.
func (s *TripStore) GetByToken(token string) (domain.Trip, bool) {
	token = domain.TrimToken(token)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.indexOf(token); ok {
		return s.trips[i], true
	}
	return domain.Trip{}, false
}

// All returns a copy of every known trip in store order.
func (s *TripStore) All() []domain.Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Trip, len(s.trips))
	copy(out, s.trips)
	return out
}

// Active returns a copy of the derived subset of trips with status OPEN.
func (s *TripStore) Active() []domain.Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Trip, len(s.active))
	copy(out, s.active)
	return out
}

// Reset clears all trip state. Used on session termination; a clean reset,
// not a partial clear.
func (s *TripStore) Reset() {
	s.mu.Lock()
	s.trips = nil
	s.active = nil
	s.mu.Unlock()
	s.notify()
}

// indexOf returns the position of the trip with the given (already
// trimmed) token. Callers must hold at least the read lock.
func (s *TripStore) indexOf(token string) (int, bool) {
	for i := range s.trips {
		if s.trips[i].TripToken == token {
			return i, true
		}
	}
	return 0, false
}

// recompute rebuilds the derived active subset. Callers must hold the
// write lock.
func (s *TripStore) recompute() {
	active := s.active[:0]
	for _, t := range s.trips {
		if t.Status == domain.StatusOpen {
			active = append(active, t)
		}
	}
	s.active = active
}

// notify invokes the registered listeners outside the lock so a listener
// may read the store without deadlocking.
func (s *TripStore) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// preferred picks the surviving entry when the same token appears twice:
// the one with the more advanced lifecycle state wins, tie-broken by the
// most recent UpdatedAt. The incumbent wins a full tie.
func preferred(current, incoming domain.Trip) domain.Trip {
	if incoming.Status.MoreAdvancedThan(current.Status) {
		return incoming
	}
	if current.Status.MoreAdvancedThan(incoming.Status) {
		return current
	}
	if incoming.UpdatedAt.After(current.UpdatedAt) {
		return incoming
	}
	return current
}

// dedupe collapses duplicate tokens within one batch, keeping the position
// of the first occurrence.
func dedupe(trips []domain.Trip) []domain.Trip {
	out := make([]domain.Trip, 0, len(trips))
	seen := make(map[string]int, len(trips))
	for _, t := range trips {
		t.TripToken = domain.TrimToken(t.TripToken)
		if i, ok := seen[t.TripToken]; ok {
			out[i] = preferred(out[i], t)
			continue
		}
		seen[t.TripToken] = len(out)
		out = append(out, t)
	}
	return out
}
