package domain

import "errors"

// ErrNotFound is returned when a requested trip does not exist, locally or
// remotely. Callers should treat it as a distinguishable absence, not a
// failure of the lookup itself.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails business rule validation
// before any network or queue interaction (e.g. unreadable QR payload,
// missing vehicle, non-positive weight).
var ErrValidation = errors.New("validation error")

// ErrConflict is returned when the server definitively rejects an
// operation because the remote state already matches or contradicts the
// intent (trip already open, already completed). Never retried.
var ErrConflict = errors.New("conflict")

// ErrUnauthorized is returned when the session could not be refreshed and
// the caller must force re-authentication.
var ErrUnauthorized = errors.New("unauthorized")
