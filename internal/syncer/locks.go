package syncer

import "sync"

// TokenLocks serializes all mutations for a given trip token, so a
// background queue replay and a foreground submission for the same trip
// cannot interleave. The map only ever holds one entry per token seen this
// session (a few dozen trips a day), so entries are not reclaimed.
type TokenLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTokenLocks returns an empty lock set.
func NewTokenLocks() *TokenLocks {
	return &TokenLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for token and returns the matching unlock.
//
//	defer locks.Lock(token)()
func (l *TokenLocks) Lock(token string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[token]
	if !ok {
		m = &sync.Mutex{}
		l.locks[token] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
