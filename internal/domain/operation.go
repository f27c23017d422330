package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action tags a queued operation with the user intent it records.
type Action string

const (
	ActionStart    Action = "START"
	ActionComplete Action = "COMPLETE"
)

// Operation is a durable record of user intent that has not yet been
// confirmed by the server. It is created when an online attempt fails or
// connectivity is absent, and removed once a sync pass confirms success or
// receives a definitive rejection.
//
// The payload is kept as raw JSON so the queue can carry operations it does
// not understand (e.g. rows written by a newer app version) through a sync
// pass untouched.
type Operation struct {
	ID       int64           `json:"id,omitempty"`
	Action   Action          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// StartPayload is the payload of an ActionStart operation.
// ProvisionalToken is the client-generated token under which the trip is
// shown locally until the server assigns the real one.
type StartPayload struct {
	VehicleID        int       `json:"vehicleId"`
	Destination      string    `json:"destination"`
	Material         string    `json:"material"`
	ProvisionalToken string    `json:"provisionalToken"`
	DepartureAt      time.Time `json:"departureAt"`
}

// CompletePayload is the payload of an ActionComplete operation.
type CompletePayload struct {
	TripToken string    `json:"tripToken"`
	WeightKg  int       `json:"weightKg"`
	ArrivalAt time.Time `json:"arrivalAt"`
}

// NewStartOperation builds a queued START operation.
func NewStartOperation(p StartPayload, queuedAt time.Time) (Operation, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Operation{}, fmt.Errorf("domain.NewStartOperation: %w", err)
	}
	return Operation{Action: ActionStart, Payload: raw, QueuedAt: queuedAt}, nil
}

// NewCompleteOperation builds a queued COMPLETE operation.
func NewCompleteOperation(p CompletePayload, queuedAt time.Time) (Operation, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Operation{}, fmt.Errorf("domain.NewCompleteOperation: %w", err)
	}
	return Operation{Action: ActionComplete, Payload: raw, QueuedAt: queuedAt}, nil
}

// StartPayload decodes the payload of an ActionStart operation.
func (o Operation) StartPayload() (StartPayload, error) {
	if o.Action != ActionStart {
		return StartPayload{}, fmt.Errorf("domain.Operation.StartPayload: action is %q", o.Action)
	}
	var p StartPayload
	if err := json.Unmarshal(o.Payload, &p); err != nil {
		return StartPayload{}, fmt.Errorf("domain.Operation.StartPayload: %w", err)
	}
	return p, nil
}

// CompletePayload decodes the payload of an ActionComplete operation.
func (o Operation) CompletePayload() (CompletePayload, error) {
	if o.Action != ActionComplete {
		return CompletePayload{}, fmt.Errorf("domain.Operation.CompletePayload: action is %q", o.Action)
	}
	var p CompletePayload
	if err := json.Unmarshal(o.Payload, &p); err != nil {
		return CompletePayload{}, fmt.Errorf("domain.Operation.CompletePayload: %w", err)
	}
	return p, nil
}
