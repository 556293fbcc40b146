package service

import (
	"context"

	"libcirc-backend/internal/domain"
)

// ReservationService orchestrates claims, cancellations and status
// changes against the reservation store. All failures surface as the
// typed errors in the domain package; none are retried here beyond the
// storage layer's single internal retry.
type ReservationService interface {
	CanUserReserveBook(ctx context.Context, userID, bookID int32) (bool, error)
	CreateReservation(ctx context.Context, userID, bookID int32) (*domain.Reservation, error)
	ChangeStatus(ctx context.Context, reservationID int32, target domain.Status) (*domain.Reservation, error)
	CancelReservation(ctx context.Context, reservationID int32) (*domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID int32) (*domain.Reservation, error)
	GetActiveReservation(ctx context.Context, userID, bookID int32) (*domain.Reservation, error)
	ListByUser(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Reservation, int32, error)
	ListByBook(ctx context.Context, bookID int32, page, pageSize int32) ([]domain.Reservation, int32, error)
	ListByStatus(ctx context.Context, status domain.Status, page, pageSize int32) ([]domain.Reservation, int32, error)
}

// AvailabilityService derives how many copies of a book are free to
// claim. Its answers are advisory snapshots; the claim transaction in
// the repository re-derives them under the book row lock.
type AvailabilityService interface {
	AvailableCopies(ctx context.Context, bookID int32) (int32, error)
	HasAvailableCopies(ctx context.Context, bookID int32) (bool, error)
}
