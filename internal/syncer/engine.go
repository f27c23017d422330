// Package syncer drains the durable offline queue against the remote API
// whenever connectivity returns, the app starts, or the user refreshes.
// Per-operation outcomes are reconciled back into the trip store and the
// queue; the engine itself never fails past its own boundary.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/minex/haulsync/internal/api"
	"github.com/minex/haulsync/internal/domain"
	"github.com/minex/haulsync/internal/queue"
	"github.com/minex/haulsync/internal/store"
)

// TripAPI is the slice of the API client the engine replays through.
// Defined here, in the consumer package, so tests can inject a mock.
type TripAPI interface {
	StartTrip(ctx context.Context, req api.StartTripRequest) (domain.Trip, error)
	CompleteTrip(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error)
}

// Engine reconciles queued operations against the remote source of truth.
// It borrows the queue and the store; it owns neither.
type Engine struct {
	queue queue.Queue
	store *store.TripStore
	api   TripAPI
	locks *TokenLocks
	log   *slog.Logger

	syncing atomic.Bool
	pending atomic.Int64
}

// New constructs an Engine. locks must be the same TokenLocks instance the
// foreground trip service uses, or the per-token serialization guarantee
// is void. A nil logger falls back to slog.Default().
func New(q queue.Queue, s *store.TripStore, client TripAPI, locks *TokenLocks, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{queue: q, store: s, api: client, locks: locks, log: log}
}

// Progress reports whether a sync pass is running and how many queued
// operations it still has in flight. Both reset when the pass ends,
// whatever the outcomes.
func (e *Engine) Progress() (syncing bool, pending int) {
	return e.syncing.Load(), int(e.pending.Load())
}

// Sync runs one queue-draining pass. Idempotent and safe to invoke
// concurrently: a call while a pass is already running is a no-op, so
// concurrent triggers (reconnect firing during the app-start pass) coalesce.
//
// Operations are replayed in insertion order with no cross-operation
// atomicity — a later failure never rolls back an earlier success; each
// operation is an independent unit of intent.
func (e *Engine) Sync(ctx context.Context) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.log.Debug("sync already in progress, coalescing trigger")
		return
	}
	defer func() {
		e.pending.Store(0)
		e.syncing.Store(false)
	}()

	ops, err := e.queue.ReadAll(ctx)
	if err != nil {
		e.log.Error("sync: read queue", "error", err)
		return
	}
	if len(ops) == 0 {
		return
	}
	e.pending.Store(int64(len(ops)))
	e.log.Info("sync pass starting", "queued", len(ops))

	// Provisional tokens mapped to server tokens by STARTs resolved in
	// this pass; COMPLETEs queued behind an unresolved START stay queued.
	resolvedTokens := make(map[string]string)
	stuckTokens := make(map[string]bool)

	var retained []domain.Operation
	for _, op := range ops {
		var keep bool
		switch op.Action {
		case domain.ActionStart:
			keep = e.replayStart(ctx, op, resolvedTokens, stuckTokens)
		case domain.ActionComplete:
			keep = e.replayComplete(ctx, op, resolvedTokens, stuckTokens)
		default:
			// Unknown action (perhaps a newer app version wrote it):
			// pass through untouched.
			keep = true
		}
		if keep {
			retained = append(retained, op)
		}
		e.pending.Add(-1)
	}

	// One atomic overwrite; a failure here is logged and the in-memory
	// outcome stands. The dropped rows are re-resolved as conflicts on the
	// next pass, which the server check makes idempotent.
	if err := e.queue.ReplaceAll(ctx, retained); err != nil {
		e.log.Error("sync: persist retained queue", "error", err)
	}
	e.log.Info("sync pass finished", "resolved", len(ops)-len(retained), "retained", len(retained))
}

// replayStart replays one queued START. Returns true when the operation
// must stay queued for a future pass.
func (e *Engine) replayStart(ctx context.Context, op domain.Operation, resolved map[string]string, stuck map[string]bool) (keep bool) {
	p, err := op.StartPayload()
	if err != nil {
		// A payload that cannot be decoded can never succeed; drop it
		// rather than wedging the queue forever.
		e.log.Error("sync: undecodable START payload, dropping", "id", op.ID, "error", err)
		return false
	}

	unlock := e.locks.Lock(p.ProvisionalToken)
	defer unlock()

	trip, err := e.api.StartTrip(ctx, api.StartTripRequest{
		VehicleID:   p.VehicleID,
		Destination: p.Destination,
		Material:    p.Material,
	})
	switch {
	case err == nil:
		// The server assigned the real token; swap the provisional entry
		// over to it and mark the trip confirmed.
		resolved[p.ProvisionalToken] = trip.TripToken
		if !e.store.Rename(p.ProvisionalToken, trip.TripToken) {
			e.store.Add(trip)
		}
		e.store.Update(trip.TripToken, func(t *domain.Trip) {
			*t = withLocalFlags(trip, *t)
			t.Offline = false
		})
		e.log.Info("sync: trip started", "token", trip.TripToken, "vehicle", p.VehicleID)
		return false

	case errors.Is(err, domain.ErrConflict):
		// A trip is already open for this vehicle server-side. The
		// authoritative trip exists remotely; the duplicate attempt is not
		// worth surfacing. When the rejection names the conflicting trip,
		// the provisional entry moves under that token (and a queued
		// completion follows it); otherwise the provisional entry is a
		// phantom and goes away.
		if server := conflictToken(err); server != "" {
			e.log.Info("sync: start already exists server-side, adopting", "vehicle", p.VehicleID, "token", server)
			resolved[p.ProvisionalToken] = server
			e.store.Rename(p.ProvisionalToken, server)
			e.store.Update(server, func(t *domain.Trip) { t.Offline = false })
		} else {
			e.log.Info("sync: start already exists server-side, dropping", "vehicle", p.VehicleID)
			e.store.Remove(p.ProvisionalToken)
		}
		return false

	default:
		e.log.Warn("sync: start retained for retry", "vehicle", p.VehicleID, "error", err)
		stuck[p.ProvisionalToken] = true
		return true
	}
}

// replayComplete replays one queued COMPLETE. Returns true when the
// operation must stay queued.
func (e *Engine) replayComplete(ctx context.Context, op domain.Operation, resolved map[string]string, stuck map[string]bool) (keep bool) {
	p, err := op.CompletePayload()
	if err != nil {
		e.log.Error("sync: undecodable COMPLETE payload, dropping", "id", op.ID, "error", err)
		return false
	}

	token := domain.TrimToken(p.TripToken)
	if stuck[token] {
		// The START for this offline-created trip is still queued; the
		// completion cannot go first.
		return true
	}
	if server, ok := resolved[token]; ok {
		token = server
	}

	unlock := e.locks.Lock(token)
	defer unlock()

	trip, err := e.api.CompleteTrip(ctx, api.CompleteTripRequest{TripToken: token, WeightKg: p.WeightKg})
	switch {
	case err == nil:
		if !e.store.Update(token, func(t *domain.Trip) {
			*t = withLocalFlags(trip, *t)
			t.Offline = false
			t.CompletionPending = false
		}) {
			trip.CompletionPending = false
			e.store.Add(trip)
		}
		e.log.Info("sync: trip completed", "token", token, "weightKg", p.WeightKg)
		return false

	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		// Already completed (or gone): the remote state is authoritative
		// and matches intent. Resolve, don't propagate.
		e.store.Update(token, func(t *domain.Trip) {
			t.CompletionPending = false
			t.Offline = false
		})
		e.log.Info("sync: completion already applied server-side, dropping", "token", token)
		return false

	default:
		e.log.Warn("sync: completion retained for retry", "token", token, "error", err)
		return true
	}
}

// conflictToken extracts the conflicting trip's token from a 409 start
// rejection, when the server names it. "" otherwise.
func conflictToken(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return domain.TrimToken(apiErr.TripToken)
	}
	return ""
}

// withLocalFlags overlays a server-returned trip onto the local entry,
// keeping the local-only bookkeeping fields the server knows nothing about.
func withLocalFlags(server, local domain.Trip) domain.Trip {
	server.Offline = local.Offline
	server.CompletionPending = local.CompletionPending
	return server
}
