package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minex/haulsync/internal/domain"
)

// StartTripRequest opens a new trip for a vehicle departing the mine.
type StartTripRequest struct {
	VehicleID   int    `json:"vehicleId"`
	Destination string `json:"destination"`
	Material    string `json:"material"`
}

// CompleteTripRequest records the weighed tonnage for an open trip.
type CompleteTripRequest struct {
	TripToken string `json:"tripToken"`
	WeightKg  int    `json:"weightKg"`
}

// StartTrip creates a trip server-side and returns it with the
// server-assigned token. A 409 means a trip is already open for this
// vehicle; the returned error unwraps to domain.ErrConflict and may carry
// the conflicting token (see Error.TripToken).
func (c *Client) StartTrip(ctx context.Context, req StartTripRequest) (domain.Trip, error) {
	data, err := c.do(ctx, http.MethodPost, "/trip/start", nil, req, false)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.StartTrip: %w", err)
	}
	trip, err := decodeTrip(data)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.StartTrip: %w", err)
	}
	return trip, nil
}

// CompleteTrip records the final weight. 404 and 409 both mean the trip
// cannot be completed (again); callers treat them as definitive outcomes,
// not failures to retry.
func (c *Client) CompleteTrip(ctx context.Context, req CompleteTripRequest) (domain.Trip, error) {
	req.TripToken = domain.TrimToken(req.TripToken)
	data, err := c.do(ctx, http.MethodPost, "/trip/complete", nil, req, false)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.CompleteTrip: %w", err)
	}
	trip, err := decodeTrip(data)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.CompleteTrip: %w", err)
	}
	return trip, nil
}

// CloseTripInField closes an open trip without a plant weighing.
// 409 means it is already closed.
func (c *Client) CloseTripInField(ctx context.Context, tripToken string) (domain.Trip, error) {
	body := map[string]string{"tripToken": domain.TrimToken(tripToken)}
	data, err := c.do(ctx, http.MethodPost, "/trip/close-field", nil, body, false)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.CloseTripInField: %w", err)
	}
	trip, err := decodeTrip(data)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.CloseTripInField: %w", err)
	}
	return trip, nil
}

// GetTrips returns the trips for "today" at the mine site. The site runs on
// local wall-clock days, so the from/to window is computed in the site
// timezone and sent as UTC instants.
func (c *Client) GetTrips(ctx context.Context) ([]domain.Trip, error) {
	now := c.now().In(c.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	to := from.AddDate(0, 0, 1)

	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))

	data, err := c.do(ctx, http.MethodGet, "/trip", query, nil, false)
	if err != nil {
		return nil, fmt.Errorf("api.Client.GetTrips: %w", err)
	}
	trips, err := decodeTrips(data)
	if err != nil {
		return nil, fmt.Errorf("api.Client.GetTrips: %w", err)
	}
	return trips, nil
}

// GetTripByToken looks up one trip. A just-created trip may 404 for a
// moment (read-after-write lag on the server), so 404 is retried on the
// same backoff schedule as transient failures. A 404 that survives the
// retries unwraps to domain.ErrNotFound.
func (c *Client) GetTripByToken(ctx context.Context, tripToken string) (domain.Trip, error) {
	token := domain.TrimToken(tripToken)
	if token == "" {
		return domain.Trip{}, fmt.Errorf("api.Client.GetTripByToken: empty token: %w", domain.ErrValidation)
	}

	data, err := c.do(ctx, http.MethodGet, "/trip/"+url.PathEscape(token), nil, nil, true)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.GetTripByToken: %w", err)
	}
	trip, err := decodeTrip(data)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("api.Client.GetTripByToken: %w", err)
	}
	return trip, nil
}

// Probe reports whether the API is reachable right now. Any HTTP response
// counts — a 404 still proves the server answered; only transport-level
// failures count as unreachable. Used to choose the online path vs.
// queueing offline, and by the connectivity watcher.
func (c *Client) Probe(ctx context.Context) bool {
	for _, path := range []string{"/health", ""} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			continue
		}
		resp, err := c.http.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		return true
	}
	return false
}
