package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/minex/haulsync/internal/domain"
)

// wireTrip is a trip as the server serializes it. The status vocabulary
// varies by protocol revision (legacy Pending/Completed vs. the canonical
// four-state set); translation happens here, on ingress, so wire-shape
// variance never leaks past this package.
type wireTrip struct {
	ID          int64      `json:"id,omitempty"`
	TripToken   string     `json:"tripToken"`
	VehicleID   int        `json:"vehicleId"`
	Destination string     `json:"destination"`
	Material    string     `json:"material"`
	DepartureAt time.Time  `json:"departureAt"`
	ArrivalAt   *time.Time `json:"arrivalAt,omitempty"`
	WeightKg    *int       `json:"weightKg,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty"`
}

// toDomain converts a wire trip into the canonical internal model.
func (w wireTrip) toDomain() (domain.Trip, error) {
	status, err := domain.ParseStatus(w.Status)
	if err != nil {
		return domain.Trip{}, err
	}
	return domain.Trip{
		ID:          w.ID,
		TripToken:   domain.TrimToken(w.TripToken),
		VehicleID:   w.VehicleID,
		Destination: w.Destination,
		Material:    w.Material,
		DepartureAt: w.DepartureAt,
		ArrivalAt:   w.ArrivalAt,
		WeightKg:    w.WeightKg,
		Status:      status,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}, nil
}

// tripEnvelope is the canonical POST response shape: {"status": "...", "trip": {...}}.
type tripEnvelope struct {
	Status string    `json:"status"`
	Trip   *wireTrip `json:"trip"`
}

// decodeTrip decodes a single-trip response body. The canonical revision
// wraps POST responses in an envelope; GETs and the older revision return a
// raw Trip. Both are accepted, envelope first.
func decodeTrip(data []byte) (domain.Trip, error) {
	var env tripEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Trip != nil && env.Trip.TripToken != "" {
		return env.Trip.toDomain()
	}

	var raw wireTrip
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Trip{}, fmt.Errorf("api: decode trip: %w", err)
	}
	if raw.TripToken == "" {
		return domain.Trip{}, fmt.Errorf("api: decode trip: response has no tripToken")
	}
	return raw.toDomain()
}

// decodeTrips decodes a trip-array response body.
func decodeTrips(data []byte) ([]domain.Trip, error) {
	var wires []wireTrip
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, fmt.Errorf("api: decode trips: %w", err)
	}
	trips := make([]domain.Trip, 0, len(wires))
	for _, w := range wires {
		t, err := w.toDomain()
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, nil
}

// errorBody is the shape of a non-2xx response body. Older revisions use
// "error", newer ones "message"; a 409 on trip start may name the
// conflicting trip.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	TripToken string `json:"tripToken"`
}
