package domain

import (
	"errors"
	"fmt"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrBookNotFound        = errors.New("book not found")

	// ErrDuplicateActiveReservation: the user already holds an active
	// reservation for this book.
	ErrDuplicateActiveReservation = errors.New("user already has an active reservation for this book")

	// ErrNoCopiesAvailable: every physical copy is claimed by an active
	// reservation.
	ErrNoCopiesAvailable = errors.New("no copies of this book are available")

	// ErrCancellationNotAllowed: cancellation attempted from LOANED or a
	// terminal status. Returning a loaned book is a status change, not a
	// cancellation.
	ErrCancellationNotAllowed = errors.New("reservation can no longer be cancelled")

	// ErrConflict: a concurrent writer changed the reservation between
	// our read and our write.
	ErrConflict = errors.New("reservation was modified concurrently")

	// ErrTransient: the storage layer failed twice on a retryable error
	// (serialization failure, deadlock). Safe for the caller to retry.
	ErrTransient = errors.New("transient storage error")
)

// InvalidTransitionError reports an illegal status edge. It carries both
// ends of the attempted edge for diagnostics.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}
