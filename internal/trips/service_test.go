package trips

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minex/haulsync/internal/api"
	"github.com/minex/haulsync/internal/domain"
	"github.com/minex/haulsync/internal/queue"
	"github.com/minex/haulsync/internal/store"
	"github.com/minex/haulsync/internal/syncer"
)

// ---- mocks ----

type stubAPI struct {
	startFn    func(ctx context.Context, req api.StartTripRequest) (domain.Trip, error)
	completeFn func(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error)
	closeFn    func(ctx context.Context, tripToken string) (domain.Trip, error)
	getTripsFn func(ctx context.Context) ([]domain.Trip, error)
	getByFn    func(ctx context.Context, tripToken string) (domain.Trip, error)
	online     bool
}

var _ API = (*stubAPI)(nil)

func (m *stubAPI) StartTrip(ctx context.Context, req api.StartTripRequest) (domain.Trip, error) {
	return m.startFn(ctx, req)
}

func (m *stubAPI) CompleteTrip(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error) {
	return m.completeFn(ctx, req)
}

func (m *stubAPI) CloseTripInField(ctx context.Context, tripToken string) (domain.Trip, error) {
	return m.closeFn(ctx, tripToken)
}

func (m *stubAPI) GetTrips(ctx context.Context) ([]domain.Trip, error) {
	return m.getTripsFn(ctx)
}

func (m *stubAPI) GetTripByToken(ctx context.Context, tripToken string) (domain.Trip, error) {
	return m.getByFn(ctx, tripToken)
}

func (m *stubAPI) Probe(ctx context.Context) bool { return m.online }

type stubQueue struct {
	appendErr error
	readAllFn func(ctx context.Context) ([]domain.Operation, error)

	appended []domain.Operation
}

var _ queue.Queue = (*stubQueue)(nil)

func (q *stubQueue) Append(ctx context.Context, op domain.Operation) (domain.Operation, error) {
	if q.appendErr != nil {
		return domain.Operation{}, q.appendErr
	}
	op.ID = int64(len(q.appended) + 1)
	q.appended = append(q.appended, op)
	return op, nil
}

func (q *stubQueue) ReadAll(ctx context.Context) ([]domain.Operation, error) {
	if q.readAllFn != nil {
		return q.readAllFn(ctx)
	}
	return q.appended, nil
}

func (q *stubQueue) ReplaceAll(ctx context.Context, ops []domain.Operation) error {
	q.appended = ops
	return nil
}

// ---- helpers ----

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(a *stubAPI, q *stubQueue, s *store.TripStore) *Service {
	svc := New(a, q, s, syncer.NewTokenLocks(), nil)
	svc.now = func() time.Time { return fixedNow }
	svc.newToken = func() string { return "offline-fixed" }
	return svc
}

func openTrip(token string) domain.Trip {
	return domain.Trip{
		TripToken:   token,
		VehicleID:   7,
		Destination: "Plant A",
		Material:    "Ore",
		DepartureAt: fixedNow.Add(-time.Hour),
		Status:      domain.StatusOpen,
		UpdatedAt:   fixedNow.Add(-time.Hour),
	}
}

func vehicleScan() ScanPayload {
	return ScanPayload{VehicleID: 7, Destination: "Plant A", Material: "Ore"}
}

// ---- StartFromScan ----

func TestStartFromScan_RejectsIncompleteScan(t *testing.T) {
	svc := newService(&stubAPI{online: true}, &stubQueue{}, store.New())

	for _, scan := range []ScanPayload{
		{Destination: "Plant A", Material: "Ore"},
		{VehicleID: 7, Material: "Ore"},
		{VehicleID: 7, Destination: "Plant A"},
	} {
		_, err := svc.StartFromScan(context.Background(), scan)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestStartFromScan_Online(t *testing.T) {
	s := store.New()
	a := &stubAPI{
		online: true,
		startFn: func(ctx context.Context, req api.StartTripRequest) (domain.Trip, error) {
			assert.Equal(t, 7, req.VehicleID)
			return openTrip("TRP-001"), nil
		},
	}
	q := &stubQueue{}

	res, err := newService(a, q, s).StartFromScan(context.Background(), vehicleScan())
	require.NoError(t, err)
	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.Equal(t, "TRP-001", res.Trip.TripToken)

	// Nothing queued, the trip is in the store.
	assert.Empty(t, q.appended)
	_, ok := s.GetByToken("TRP-001")
	assert.True(t, ok)
}

func TestStartFromScan_OfflineQueuesProvisionalTrip(t *testing.T) {
	s := store.New()
	q := &stubQueue{}
	svc := newService(&stubAPI{online: false}, q, s)

	res, err := svc.StartFromScan(context.Background(), vehicleScan())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueuedOffline, res.Outcome)
	assert.Equal(t, "offline-fixed", res.Trip.TripToken)
	assert.True(t, res.Trip.Offline)
	assert.Equal(t, domain.StatusOpen, res.Trip.Status)

	require.Len(t, q.appended, 1)
	assert.Equal(t, domain.ActionStart, q.appended[0].Action)
	p, err := q.appended[0].StartPayload()
	require.NoError(t, err)
	assert.Equal(t, "offline-fixed", p.ProvisionalToken)
	assert.Equal(t, fixedNow, p.DepartureAt)

	got, ok := s.GetByToken("offline-fixed")
	require.True(t, ok)
	assert.True(t, got.Offline)
}

func TestStartFromScan_OfflineKeepsScannedToken(t *testing.T) {
	q := &stubQueue{}
	svc := newService(&stubAPI{online: false}, q, store.New())

	scan := vehicleScan()
	scan.TripToken = " TRP-QR-9 "
	res, err := svc.StartFromScan(context.Background(), scan)
	require.NoError(t, err)
	assert.Equal(t, "TRP-QR-9", res.Trip.TripToken)
}

func TestStartFromScan_RefusesDuplicateOpenTrip(t *testing.T) {
	s := store.New()
	s.Add(openTrip("TRP-001"))

	// Any API or queue interaction here would be a bug.
	svc := newService(&stubAPI{online: true}, &stubQueue{}, s)

	scan := vehicleScan()
	scan.TripToken = "TRP-001"
	res, err := svc.StartFromScan(context.Background(), scan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyOpen, res.Outcome)
	assert.Equal(t, "TRP-001", res.Trip.TripToken)
}

func TestStartFromScan_ServerConflictIsInformational(t *testing.T) {
	a := &stubAPI{
		online: true,
		startFn: func(ctx context.Context, req api.StartTripRequest) (domain.Trip, error) {
			return domain.Trip{}, &api.Error{StatusCode: 409, Message: "vehicle busy"}
		},
	}
	q := &stubQueue{}

	res, err := newService(a, q, store.New()).StartFromScan(context.Background(), vehicleScan())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyOpen, res.Outcome)
	assert.Empty(t, q.appended, "a business conflict must not be queued for retry")
}

func TestStartFromScan_TransportFailureFallsBackToQueue(t *testing.T) {
	a := &stubAPI{
		online: true,
		startFn: func(ctx context.Context, req api.StartTripRequest) (domain.Trip, error) {
			return domain.Trip{}, errors.New("connection reset")
		},
	}
	q := &stubQueue{}

	res, err := newService(a, q, store.New()).StartFromScan(context.Background(), vehicleScan())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueuedOffline, res.Outcome)
	assert.Len(t, q.appended, 1)
}

func TestStartFromScan_QueueWriteFailureStillShowsTrip(t *testing.T) {
	s := store.New()
	q := &stubQueue{appendErr: errors.New("disk full")}

	res, err := newService(&stubAPI{online: false}, q, s).StartFromScan(context.Background(), vehicleScan())
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueuedOffline, res.Outcome)
	_, ok := s.GetByToken("offline-fixed")
	assert.True(t, ok)
}

// ---- Complete ----

func TestComplete_RejectsNonPositiveWeight(t *testing.T) {
	svc := newService(&stubAPI{online: true}, &stubQueue{}, store.New())

	for _, w := range []float64{0, -13200, math.NaN()} {
		_, err := svc.Complete(context.Background(), "TRP-001", w)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestComplete_UnknownTripIsNotFound(t *testing.T) {
	svc := newService(&stubAPI{online: true}, &stubQueue{}, store.New())

	_, err := svc.Complete(context.Background(), "TRP-404", 13200)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestComplete_Online(t *testing.T) {
	s := store.New()
	s.Add(openTrip("TRP-001"))

	a := &stubAPI{
		online: true,
		completeFn: func(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error) {
			assert.Equal(t, "TRP-001", req.TripToken)
			assert.Equal(t, 13250, req.WeightKg, "weight is rounded to whole kilograms")
			done := openTrip("TRP-001")
			done.Status = domain.StatusCompletedPlant
			done.WeightKg = &req.WeightKg
			return done, nil
		},
	}

	res, err := newService(a, &stubQueue{}, s).Complete(context.Background(), " TRP-001 ", 13249.6)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, domain.StatusCompletedPlant, res.Trip.Status)
	assert.False(t, res.Trip.CompletionPending)
	assert.False(t, res.Trip.Offline)
}

func TestComplete_OfflineQueuesCompletion(t *testing.T) {
	s := store.New()
	s.Add(openTrip("TRP-001"))
	q := &stubQueue{}

	res, err := newService(&stubAPI{online: false}, q, s).Complete(context.Background(), "TRP-001", 13200)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompletedOffline, res.Outcome)
	assert.Equal(t, domain.StatusCompletedPlant, res.Trip.Status)
	assert.True(t, res.Trip.Offline)
	assert.True(t, res.Trip.CompletionPending, "pending until the sync engine confirms")
	require.NotNil(t, res.Trip.WeightKg)
	assert.Equal(t, 13200, *res.Trip.WeightKg)

	require.Len(t, q.appended, 1)
	assert.Equal(t, domain.ActionComplete, q.appended[0].Action)
}

func TestComplete_OfflineStartedTripQueuesEvenWhenOnline(t *testing.T) {
	// The trip was started offline, so its START is still queued and its
	// token is provisional. The server would 404 a completion sent under
	// it; the completion must follow the START through the queue instead,
	// even though the API is reachable.
	s := store.New()
	provisional := openTrip("offline-fixed")
	provisional.Offline = true
	s.Add(provisional)

	var completeCalls int
	a := &stubAPI{
		online: true,
		completeFn: func(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error) {
			completeCalls++
			return domain.Trip{}, &api.Error{StatusCode: 404, Message: "trip not found"}
		},
	}
	q := &stubQueue{}

	res, err := newService(a, q, s).Complete(context.Background(), "offline-fixed", 13200)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompletedOffline, res.Outcome)
	assert.Zero(t, completeCalls, "a provisional token must never reach the completion endpoint")

	// The weight is durably queued, not discarded as already-completed.
	require.Len(t, q.appended, 1)
	assert.Equal(t, domain.ActionComplete, q.appended[0].Action)
	p, err := q.appended[0].CompletePayload()
	require.NoError(t, err)
	assert.Equal(t, 13200, p.WeightKg)

	got, _ := s.GetByToken("offline-fixed")
	assert.Equal(t, domain.StatusCompletedPlant, got.Status)
	assert.True(t, got.CompletionPending)
	assert.True(t, got.Offline)
}

func TestComplete_SecondSubmissionIsRefused(t *testing.T) {
	s := store.New()
	s.Add(openTrip("TRP-001"))
	q := &stubQueue{}
	svc := newService(&stubAPI{online: false}, q, s)

	_, err := svc.Complete(context.Background(), "TRP-001", 13200)
	require.NoError(t, err)

	res, err := svc.Complete(context.Background(), "TRP-001", 99999)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, res.Outcome)
	assert.Len(t, q.appended, 1, "the duplicate must not enqueue a second completion")
}

func TestComplete_ServerSaysAlreadyDone(t *testing.T) {
	// A 404 or 409 from the completion endpoint means remote state already
	// matches intent: report it, clear the guard, and leave nothing queued.
	for _, status := range []int{404, 409} {
		s := store.New()
		s.Add(openTrip("TRP-001"))
		q := &stubQueue{}
		a := &stubAPI{
			online: true,
			completeFn: func(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error) {
				return domain.Trip{}, &api.Error{StatusCode: status, Message: "done"}
			},
		}

		res, err := newService(a, q, s).Complete(context.Background(), "TRP-001", 13200)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyCompleted, res.Outcome)
		assert.Empty(t, q.appended)

		got, _ := s.GetByToken("TRP-001")
		assert.False(t, got.CompletionPending)
		assert.False(t, got.Offline)
	}
}

func TestComplete_TransportFailureFallsBackToQueue(t *testing.T) {
	s := store.New()
	s.Add(openTrip("TRP-001"))
	q := &stubQueue{}
	a := &stubAPI{
		online: true,
		completeFn: func(ctx context.Context, req api.CompleteTripRequest) (domain.Trip, error) {
			return domain.Trip{}, &api.Error{StatusCode: 503, Message: "unavailable"}
		},
	}

	res, err := newService(a, q, s).Complete(context.Background(), "TRP-001", 13200)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompletedOffline, res.Outcome)
	assert.Len(t, q.appended, 1)
}

// ---- CloseInField ----

func TestCloseInField(t *testing.T) {
	s := store.New()
	s.Add(openTrip("TRP-001"))
	a := &stubAPI{
		online: true,
		closeFn: func(ctx context.Context, tripToken string) (domain.Trip, error) {
			closed := openTrip(tripToken)
			closed.Status = domain.StatusClosedField
			return closed, nil
		},
	}

	res, err := newService(a, &stubQueue{}, s).CloseInField(context.Background(), "TRP-001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeClosed, res.Outcome)

	got, _ := s.GetByToken("TRP-001")
	assert.Equal(t, domain.StatusClosedField, got.Status)
}

func TestCloseInField_Conflict(t *testing.T) {
	a := &stubAPI{
		online: true,
		closeFn: func(ctx context.Context, tripToken string) (domain.Trip, error) {
			return domain.Trip{}, &api.Error{StatusCode: 409, Message: "already closed"}
		},
	}

	res, err := newService(a, &stubQueue{}, store.New()).CloseInField(context.Background(), "TRP-001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyClosed, res.Outcome)
}

func TestCloseInField_FailureIsSurfaced(t *testing.T) {
	// No offline path for closes: the caller hears about the failure.
	a := &stubAPI{
		online: true,
		closeFn: func(ctx context.Context, tripToken string) (domain.Trip, error) {
			return domain.Trip{}, &api.Error{StatusCode: 503, Message: "unavailable"}
		},
	}

	_, err := newService(a, &stubQueue{}, store.New()).CloseInField(context.Background(), "TRP-001")
	assert.Error(t, err)
}

// ---- Refresh ----

func TestRefresh_OverlaysQueuedOperations(t *testing.T) {
	s := store.New()
	q := &stubQueue{}
	a := &stubAPI{
		online: true,
		getTripsFn: func(ctx context.Context) ([]domain.Trip, error) {
			return []domain.Trip{openTrip("TRP-001"), openTrip("TRP-002")}, nil
		},
	}
	svc := newService(a, q, s)

	// One queued start the server has never seen, one queued completion for
	// a trip the server still shows open.
	startOp, err := domain.NewStartOperation(domain.StartPayload{
		VehicleID: 9, Destination: "Plant B", Material: "Overburden",
		ProvisionalToken: "offline-1", DepartureAt: fixedNow,
	}, fixedNow)
	require.NoError(t, err)
	completeOp, err := domain.NewCompleteOperation(domain.CompletePayload{
		TripToken: "TRP-002", WeightKg: 13200, ArrivalAt: fixedNow,
	}, fixedNow)
	require.NoError(t, err)
	q.appended = []domain.Operation{startOp, completeOp}

	require.NoError(t, svc.Refresh(context.Background()))

	all := s.All()
	require.Len(t, all, 3)

	queued, ok := s.GetByToken("offline-1")
	require.True(t, ok)
	assert.True(t, queued.Offline)
	assert.Equal(t, domain.StatusOpen, queued.Status)

	completed, ok := s.GetByToken("TRP-002")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompletedPlant, completed.Status)
	assert.True(t, completed.CompletionPending)
}

func TestRefresh_QueueReadFailureStillAppliesFetch(t *testing.T) {
	s := store.New()
	q := &stubQueue{
		readAllFn: func(ctx context.Context) ([]domain.Operation, error) {
			return nil, errors.New("database locked")
		},
	}
	a := &stubAPI{
		online: true,
		getTripsFn: func(ctx context.Context) ([]domain.Trip, error) {
			return []domain.Trip{openTrip("TRP-001")}, nil
		},
	}

	require.NoError(t, newService(a, q, s).Refresh(context.Background()))
	assert.Len(t, s.All(), 1)
}

func TestRefresh_FetchFailureIsSurfaced(t *testing.T) {
	s := store.New()
	s.Add(openTrip("TRP-001"))
	a := &stubAPI{
		online: true,
		getTripsFn: func(ctx context.Context) ([]domain.Trip, error) {
			return nil, &api.Error{StatusCode: 503, Message: "unavailable"}
		},
	}

	err := newService(a, &stubQueue{}, s).Refresh(context.Background())
	assert.Error(t, err)
	assert.Len(t, s.All(), 1, "a failed refresh must not wipe the store")
}

// ---- CheckerPrecheck ----

func TestCheckerPrecheck_ServerWins(t *testing.T) {
	s := store.New()
	a := &stubAPI{
		online: true,
		getByFn: func(ctx context.Context, tripToken string) (domain.Trip, error) {
			return openTrip(tripToken), nil
		},
	}

	trip, err := newService(a, &stubQueue{}, s).CheckerPrecheck(context.Background(), "TRP-001")
	require.NoError(t, err)
	assert.Equal(t, "TRP-001", trip.TripToken)

	// The fetched trip is cached locally for the weight screen.
	_, ok := s.GetByToken("TRP-001")
	assert.True(t, ok)
}

func TestCheckerPrecheck_FallsBackToLocalState(t *testing.T) {
	s := store.New()
	local := openTrip("offline-1")
	local.Offline = true
	s.Add(local)

	a := &stubAPI{
		online: true,
		getByFn: func(ctx context.Context, tripToken string) (domain.Trip, error) {
			return domain.Trip{}, &api.Error{StatusCode: 404, Message: "not found"}
		},
	}

	trip, err := newService(a, &stubQueue{}, s).CheckerPrecheck(context.Background(), "offline-1")
	require.NoError(t, err)
	assert.True(t, trip.Offline)
}

func TestCheckerPrecheck_UnknownEverywhere(t *testing.T) {
	a := &stubAPI{
		online: true,
		getByFn: func(ctx context.Context, tripToken string) (domain.Trip, error) {
			return domain.Trip{}, &api.Error{StatusCode: 404, Message: "not found"}
		},
	}

	_, err := newService(a, &stubQueue{}, store.New()).CheckerPrecheck(context.Background(), "TRP-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckerPrecheck_CompletedTripIsConflict(t *testing.T) {
	s := store.New()
	a := &stubAPI{
		online: true,
		getByFn: func(ctx context.Context, tripToken string) (domain.Trip, error) {
			done := openTrip(tripToken)
			done.Status = domain.StatusCompletedPlant
			return done, nil
		},
	}

	trip, err := newService(a, &stubQueue{}, s).CheckerPrecheck(context.Background(), "TRP-001")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.StatusCompletedPlant, trip.Status)
}

func TestCheckerPrecheck_EmptyToken(t *testing.T) {
	svc := newService(&stubAPI{online: true}, &stubQueue{}, store.New())
	_, err := svc.CheckerPrecheck(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ---- ParseScan ----

func TestParseScan(t *testing.T) {
	t.Run("vehicle QR carries the full payload", func(t *testing.T) {
		p, err := ParseScan(`{"vehicleId":7,"destination":"Plant A","material":"Ore"}`)
		require.NoError(t, err)
		assert.Equal(t, 7, p.VehicleID)
		assert.Equal(t, "Plant A", p.Destination)
	})

	t.Run("plant QR is a bare token", func(t *testing.T) {
		p, err := ParseScan(" TRP-001 \n")
		require.NoError(t, err)
		assert.Equal(t, ScanPayload{TripToken: "TRP-001"}, p)
	})

	t.Run("empty data is rejected", func(t *testing.T) {
		_, err := ParseScan("  ")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("malformed JSON is rejected", func(t *testing.T) {
		_, err := ParseScan(`{"vehicleId":`)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
