// Package domain contains the core data types for the HaulSync client.
// This package has zero external dependencies and is imported by every other
// internal package (queue, api, store, syncer, trips).
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a trip.
//
// The canonical vocabulary is the four-state machine below. An older
// protocol revision used a two-state Pending/Completed pair; those values
// are translated to the canonical ones at the API boundary (ParseStatus)
// and never reach the rest of the client.
type Status string

const (
	// StatusOpen is the initial state: the truck has departed the mine and
	// the trip has not yet been closed or weighed.
	StatusOpen Status = "OPEN"

	// StatusClosedField means an operator closed the trip in the field
	// without a plant weighing.
	StatusClosedField Status = "CLOSED_FIELD"

	// StatusCompletedPlant means a checker recorded the weighed tonnage at
	// the plant. Terminal from this client's perspective.
	StatusCompletedPlant Status = "COMPLETED_PLANT"

	// StatusAdjusted is set by back-office corrections only; this client
	// never triggers the transition but must display it.
	StatusAdjusted Status = "ADJUSTED"
)

// ParseStatus maps a wire status string to a canonical Status.
// It accepts the canonical four-state vocabulary in any case, plus the
// legacy Pending/Completed pair from the older protocol revision.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN", "PENDING":
		return StatusOpen, nil
	case "CLOSED_FIELD":
		return StatusClosedField, nil
	case "COMPLETED_PLANT", "COMPLETED":
		return StatusCompletedPlant, nil
	case "ADJUSTED":
		return StatusAdjusted, nil
	}
	return "", fmt.Errorf("%w: unknown trip status %q", ErrValidation, s)
}

// rank orders statuses by lifecycle progress, used by the store's merge
// policy (the more advanced entry wins when the same token appears twice).
func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusClosedField:
		return 1
	case StatusCompletedPlant:
		return 2
	case StatusAdjusted:
		return 3
	}
	return -1
}

// MoreAdvancedThan reports whether s is further along the lifecycle than other.
func (s Status) MoreAdvancedThan(other Status) bool {
	return s.rank() > other.rank()
}

// CanTransition reports whether the state machine permits moving from s to
// next. Transitions are monotonic: no trip ever moves backward.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusOpen:
		return next == StatusClosedField || next == StatusCompletedPlant
	case StatusClosedField:
		return next == StatusAdjusted
	}
	// COMPLETED_PLANT and ADJUSTED are terminal.
	return false
}

// Trip represents one recorded truck movement from the mine to the plant.
//
// TripToken is the identity: unique across the store at any time. The
// server assigns it on creation; a trip created offline carries a
// client-generated provisional token until the first successful sync.
type Trip struct {
	ID          int64     `json:"id,omitempty"`
	TripToken   string    `json:"tripToken"`
	VehicleID   int       `json:"vehicleId"`
	Destination string    `json:"destination"`
	Material    string    `json:"material"`
	DepartureAt time.Time `json:"departureAt"`

	// ArrivalAt and WeightKg are set on completion; nil until then.
	ArrivalAt *time.Time `json:"arrivalAt,omitempty"`
	WeightKg  *int       `json:"weightKg,omitempty"`

	Status Status `json:"status"`

	// Offline is true while this trip's state exists only in local
	// memory/queue and has not been confirmed by the server.
	Offline bool `json:"offline,omitempty"`

	// CompletionPending is true while a completion request is in flight or
	// queued. It blocks a second completion submission for the same trip.
	CompletionPending bool `json:"completionPending,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// TrimToken normalizes a trip token for comparison and lookup.
// Tokens arrive from QR scans with incidental whitespace.
func TrimToken(token string) string {
	return strings.TrimSpace(token)
}

// User identifies the logged-in field worker and their role.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Name  string `json:"name,omitempty"`
}

// Role determines which trip operations a user may perform.
type Role string

const (
	RoleOperator Role = "operator" // opens trips at the mine
	RoleChecker  Role = "checker"  // records weight at the plant
	RoleAdmin    Role = "admin"    // monitoring only
)
