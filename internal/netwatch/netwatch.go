// Package netwatch watches API reachability and fires a callback on every
// transition from offline to online, which the facade wires to a sync pass.
// It is the client-library stand-in for a platform connectivity listener.
package netwatch

import (
	"context"
	"log/slog"
	"time"
)

// Prober reports current API reachability.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Watcher polls a Prober on a fixed interval.
type Watcher struct {
	prober   Prober
	interval time.Duration
	onOnline func()
	log      *slog.Logger
}

// New constructs a Watcher that invokes onOnline on each offline-to-online
// transition. A nil logger falls back to slog.Default().
func New(prober Prober, interval time.Duration, onOnline func(), log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{prober: prober, interval: interval, onOnline: onOnline, log: log}
}

// Run polls until ctx is cancelled. The first successful probe counts as a
// transition, so a client that starts online gets one callback immediately
// after the first tick.
//
// Run blocks; call it in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	online := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := w.prober.Probe(ctx)
			if now && !online {
				w.log.Info("connectivity restored")
				w.onOnline()
			} else if !now && online {
				w.log.Info("connectivity lost")
			}
			online = now
		}
	}
}
