// Package trips implements the foreground trip operations behind the
// Operator and Checker screens: starting a trip from a QR scan, recording
// the weighed tonnage, closing in the field, and refreshing the day's list.
//
// Each operation validates synchronously, then takes the online path when
// the API is reachable and falls back to the durable offline queue when it
// is not (or when the online attempt fails in a retryable way).
package trips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/minex/haulsync/internal/api"
	"github.com/minex/haulsync/internal/domain"
	"github.com/minex/haulsync/internal/queue"
	"github.com/minex/haulsync/internal/store"
	"github.com/minex/haulsync/internal/syncer"
)

// API is the slice of the resilient client the service depends on.
type API interface {
	StartTrip(ctx context.Context, req api.StartTripRequest) (domain.Trip, error)
	CompleteTrip(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error)
	CloseTripInField(ctx context.Context, tripToken string) (domain.Trip, error)
	GetTrips(ctx context.Context) ([]domain.Trip, error)
	GetTripByToken(ctx context.Context, tripToken string) (domain.Trip, error)
	Probe(ctx context.Context) bool
}

// Outcome tells the UI what actually happened, so business conflicts can
// be shown as informational messages rather than failures.
type Outcome string

const (
	OutcomeStarted          Outcome = "started"           // trip created server-side
	OutcomeQueuedOffline    Outcome = "queued_offline"    // intent persisted; will sync later
	OutcomeAlreadyOpen      Outcome = "already_open"      // a matching open trip exists
	OutcomeCompleted        Outcome = "completed"         // weight recorded server-side
	OutcomeCompletedOffline Outcome = "completed_offline" // completion queued; will sync later
	OutcomeAlreadyCompleted Outcome = "already_completed" // remote state already terminal
	OutcomeClosed           Outcome = "closed"            // field close recorded
	OutcomeAlreadyClosed    Outcome = "already_closed"    // was closed before we asked
)

// Result is the outcome of a foreground operation plus the trip as the
// store now shows it.
type Result struct {
	Outcome Outcome
	Trip    domain.Trip
}

// Service orchestrates the store, the queue, and the API client.
type Service struct {
	api   API
	queue queue.Queue
	store *store.TripStore
	locks *syncer.TokenLocks
	log   *slog.Logger

	now      func() time.Time
	newToken func() string
}

// New constructs the Service. locks must be shared with the sync engine so
// foreground and background mutations for one token serialize. A nil
// logger falls back to slog.Default().
func New(client API, q queue.Queue, s *store.TripStore, locks *syncer.TokenLocks, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		api:      client,
		queue:    q,
		store:    s,
		locks:    locks,
		log:      log,
		now:      time.Now,
		newToken: func() string { return "offline-" + uuid.NewString() },
	}
}

// StartFromScan opens a trip for the scanned vehicle. Online, the server
// creates it immediately; offline (or on a retryable failure), the intent
// is queued and a provisional OPEN trip appears in the store at once.
func (s *Service) StartFromScan(ctx context.Context, scan ScanPayload) (Result, error) {
	if err := scan.validateForStart(); err != nil {
		return Result{}, fmt.Errorf("trips.Service.StartFromScan: %w", err)
	}

	// A trip already open under this token means the operator scanned the
	// same truck twice; refuse before touching network or queue.
	token := domain.TrimToken(scan.TripToken)
	if token != "" {
		if existing, ok := s.store.GetByToken(token); ok && existing.Status == domain.StatusOpen {
			return Result{Outcome: OutcomeAlreadyOpen, Trip: existing}, nil
		}
	}

	req := api.StartTripRequest{
		VehicleID:   scan.VehicleID,
		Destination: scan.Destination,
		Material:    scan.Material,
	}

	if !s.api.Probe(ctx) {
		return s.queueStart(ctx, scan), nil
	}

	trip, err := s.api.StartTrip(ctx, req)
	switch {
	case err == nil:
		s.store.Add(trip)
		s.log.Info("trip started", "token", trip.TripToken, "vehicle", trip.VehicleID)
		return Result{Outcome: OutcomeStarted, Trip: trip}, nil

	case errors.Is(err, domain.ErrConflict):
		// Informational, not a failure: the authoritative trip already
		// exists server-side.
		s.log.Info("trip already open server-side", "vehicle", scan.VehicleID)
		return Result{Outcome: OutcomeAlreadyOpen}, nil

	default:
		// Network or server failure after retries: persist the intent.
		s.log.Warn("start trip failed, queueing offline", "vehicle", scan.VehicleID, "error", err)
		return s.queueStart(ctx, scan), nil
	}
}

// queueStart persists a START operation and surfaces a provisional trip.
// A queue write failure is logged and the in-memory trip stands anyway —
// the UI must not deadlock on storage I/O; the accepted cost is that the
// intent may be lost on an app restart.
func (s *Service) queueStart(ctx context.Context, scan ScanPayload) Result {
	provisional := domain.TrimToken(scan.TripToken)
	if provisional == "" {
		provisional = s.newToken()
	}
	departed := s.now().UTC()

	op, err := domain.NewStartOperation(domain.StartPayload{
		VehicleID:        scan.VehicleID,
		Destination:      scan.Destination,
		Material:         scan.Material,
		ProvisionalToken: provisional,
		DepartureAt:      departed,
	}, departed)
	if err == nil {
		_, err = s.queue.Append(ctx, op)
	}
	if err != nil {
		s.log.Error("failed to persist offline start", "token", provisional, "error", err)
	}

	trip := domain.Trip{
		TripToken:   provisional,
		VehicleID:   scan.VehicleID,
		Destination: scan.Destination,
		Material:    scan.Material,
		DepartureAt: departed,
		Status:      domain.StatusOpen,
		Offline:     true,
		UpdatedAt:   departed,
	}
	s.store.Add(trip)
	s.log.Info("trip queued offline", "token", provisional, "vehicle", scan.VehicleID)
	return Result{Outcome: OutcomeQueuedOffline, Trip: trip}
}

// Complete records the weighed tonnage for an open trip. weightKg is
// rounded to whole kilograms and must be positive.
func (s *Service) Complete(ctx context.Context, tripToken string, weightKg float64) (Result, error) {
	if math.IsNaN(weightKg) || weightKg <= 0 {
		return Result{}, fmt.Errorf("trips.Service.Complete: weight must be positive: %w", domain.ErrValidation)
	}
	weight := int(math.Round(weightKg))

	token := domain.TrimToken(tripToken)
	unlock := s.locks.Lock(token)
	defer unlock()

	trip, ok := s.store.GetByToken(token)
	if !ok {
		return Result{}, fmt.Errorf("trips.Service.Complete: trip %q: %w", token, domain.ErrNotFound)
	}
	if trip.CompletionPending || !trip.Status.CanTransition(domain.StatusCompletedPlant) {
		return Result{Outcome: OutcomeAlreadyCompleted, Trip: trip}, nil
	}

	// Block a second submission from the moment this one is in flight.
	s.store.Update(token, func(t *domain.Trip) { t.CompletionPending = true })

	// An offline-started trip has no server-side identity yet; its token is
	// provisional and the server would 404 it. The completion goes through
	// the queue behind the pending START, so the sync engine replays both
	// in order under the token the server assigns.
	if trip.Offline {
		return s.queueComplete(ctx, token, weight), nil
	}

	if !s.api.Probe(ctx) {
		return s.queueComplete(ctx, token, weight), nil
	}

	serverTrip, err := s.api.CompleteTrip(ctx, api.CompleteTripRequest{TripToken: token, WeightKg: weight})
	switch {
	case err == nil:
		s.store.Update(token, func(t *domain.Trip) {
			*t = serverTrip
			t.Offline = false
			t.CompletionPending = false
		})
		result, _ := s.store.GetByToken(serverTrip.TripToken)
		s.log.Info("trip completed", "token", token, "weightKg", weight)
		return Result{Outcome: OutcomeCompleted, Trip: result}, nil

	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		// The server already considers this trip done. No offline record;
		// reset the guard and report the terminal state.
		s.store.Update(token, func(t *domain.Trip) { t.CompletionPending = false })
		updated, _ := s.store.GetByToken(token)
		s.log.Info("trip already completed server-side", "token", token)
		return Result{Outcome: OutcomeAlreadyCompleted, Trip: updated}, nil

	default:
		s.log.Warn("complete trip failed, queueing offline", "token", token, "error", err)
		return s.queueComplete(ctx, token, weight), nil
	}
}

// queueComplete persists a COMPLETE operation and applies the completion
// locally. CompletionPending stays true until the sync engine confirms.
func (s *Service) queueComplete(ctx context.Context, token string, weight int) Result {
	arrived := s.now().UTC()

	op, err := domain.NewCompleteOperation(domain.CompletePayload{
		TripToken: token,
		WeightKg:  weight,
		ArrivalAt: arrived,
	}, arrived)
	if err == nil {
		_, err = s.queue.Append(ctx, op)
	}
	if err != nil {
		s.log.Error("failed to persist offline completion", "token", token, "error", err)
	}

	s.store.Update(token, func(t *domain.Trip) {
		t.Status = domain.StatusCompletedPlant
		t.ArrivalAt = &arrived
		t.WeightKg = &weight
		t.Offline = true
		t.UpdatedAt = arrived
	})
	trip, _ := s.store.GetByToken(token)
	s.log.Info("completion queued offline", "token", token, "weightKg", weight)
	return Result{Outcome: OutcomeCompletedOffline, Trip: trip}
}

// CloseInField closes an open trip without a weighing. There is no offline
// path for closes; a transport failure is surfaced to the caller.
func (s *Service) CloseInField(ctx context.Context, tripToken string) (Result, error) {
	token := domain.TrimToken(tripToken)
	unlock := s.locks.Lock(token)
	defer unlock()

	trip, err := s.api.CloseTripInField(ctx, token)
	if errors.Is(err, domain.ErrConflict) {
		existing, _ := s.store.GetByToken(token)
		return Result{Outcome: OutcomeAlreadyClosed, Trip: existing}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("trips.Service.CloseInField: %w", err)
	}

	if !s.store.Update(token, func(t *domain.Trip) {
		*t = trip
	}) {
		s.store.Add(trip)
	}
	s.log.Info("trip closed in field", "token", token)
	return Result{Outcome: OutcomeClosed, Trip: trip}, nil
}

// Refresh replaces the store with today's trips from the server, overlaid
// with whatever the offline queue still knows better (queued starts and
// completions the server has not seen yet).
func (s *Service) Refresh(ctx context.Context) error {
	fetched, err := s.api.GetTrips(ctx)
	if err != nil {
		return fmt.Errorf("trips.Service.Refresh: %w", err)
	}

	ops, err := s.queue.ReadAll(ctx)
	if err != nil {
		// The fetch is still worth applying; the queue overlay just
		// degrades to nothing.
		s.log.Error("refresh: read offline queue", "error", err)
		ops = nil
	}

	s.store.SetTrips(overlayQueue(fetched, ops))
	return nil
}

// CheckerPrecheck resolves the freshest known state of a trip before the
// checker is allowed to enter a weight: server first, local fallback.
// Returns domain.ErrConflict when the trip is already completed or a
// completion is pending, and domain.ErrNotFound when nobody knows it.
func (s *Service) CheckerPrecheck(ctx context.Context, tripToken string) (domain.Trip, error) {
	token := domain.TrimToken(tripToken)
	if token == "" {
		return domain.Trip{}, fmt.Errorf("trips.Service.CheckerPrecheck: empty token: %w", domain.ErrValidation)
	}

	trip, err := s.api.GetTripByToken(ctx, token)
	if err == nil {
		s.store.Add(trip)
		trip, _ = s.store.GetByToken(trip.TripToken)
	} else {
		// 404 or transport failure: fall back to local state, which covers
		// legitimately offline-started trips.
		var ok bool
		trip, ok = s.store.GetByToken(token)
		if !ok {
			return domain.Trip{}, fmt.Errorf("trips.Service.CheckerPrecheck: trip %q: %w", token, domain.ErrNotFound)
		}
	}

	if trip.CompletionPending || !trip.Status.CanTransition(domain.StatusCompletedPlant) {
		return trip, fmt.Errorf("trips.Service.CheckerPrecheck: trip %q already completed: %w", token, domain.ErrConflict)
	}
	return trip, nil
}

// overlayQueue folds queued operations over a fresh server fetch so
// offline-created and offline-completed trips stay visible after a refresh.
func overlayQueue(fetched []domain.Trip, ops []domain.Operation) []domain.Trip {
	merged := make([]domain.Trip, len(fetched))
	copy(merged, fetched)

	find := func(token string) int {
		for i := range merged {
			if domain.TrimToken(merged[i].TripToken) == token {
				return i
			}
		}
		return -1
	}

	for _, op := range ops {
		switch op.Action {
		case domain.ActionStart:
			p, err := op.StartPayload()
			if err != nil {
				continue
			}
			if find(p.ProvisionalToken) >= 0 {
				continue // server already knows it (e.g. resolved as a 409)
			}
			merged = append(merged, domain.Trip{
				TripToken:   p.ProvisionalToken,
				VehicleID:   p.VehicleID,
				Destination: p.Destination,
				Material:    p.Material,
				DepartureAt: p.DepartureAt,
				Status:      domain.StatusOpen,
				Offline:     true,
				UpdatedAt:   op.QueuedAt,
			})

		case domain.ActionComplete:
			p, err := op.CompletePayload()
			if err != nil {
				continue
			}
			token := domain.TrimToken(p.TripToken)
			arrived := p.ArrivalAt
			weight := p.WeightKg
			if i := find(token); i >= 0 {
				merged[i].Status = domain.StatusCompletedPlant
				merged[i].ArrivalAt = &arrived
				merged[i].WeightKg = &weight
				merged[i].Offline = true
				merged[i].CompletionPending = true
				merged[i].UpdatedAt = op.QueuedAt
			} else {
				merged = append(merged, domain.Trip{
					TripToken:         token,
					Status:            domain.StatusCompletedPlant,
					ArrivalAt:         &arrived,
					WeightKg:          &weight,
					Offline:           true,
					CompletionPending: true,
					UpdatedAt:         op.QueuedAt,
				})
			}
		}
	}
	return merged
}
