package models

import "errors"

// Error taxonomy shared by the registry, the coordinator and the database layer.
// Callers wrap these with context and match them with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBusy            = errors.New("busy, try again")
)
