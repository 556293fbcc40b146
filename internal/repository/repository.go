package repository

import (
	"context"
	"time"

	"libcirc-backend/internal/domain"
)

type ReservationRepository interface {
	// CreateClaim inserts a new PENDING reservation inside a single
	// transaction that locks the book row and re-checks the duplicate
	// and availability rules. Exactly one of N concurrent claims for
	// the last copy succeeds.
	CreateClaim(ctx context.Context, r *domain.Reservation) error

	GetByID(ctx context.Context, id int32) (*domain.Reservation, error)

	// UpdateStatus persists r's status and timestamps only if the stored
	// status still equals expected; otherwise it returns
	// domain.ErrConflict and leaves the row untouched.
	UpdateStatus(ctx context.Context, r *domain.Reservation, expected domain.Status) error

	GetActiveByUserAndBook(ctx context.Context, userID, bookID int32) (*domain.Reservation, error)
	CountActiveByBook(ctx context.Context, bookID int32) (int32, error)

	ListByUser(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Reservation, int32, error)
	ListByBook(ctx context.Context, bookID int32, page, pageSize int32) ([]domain.Reservation, int32, error)
	ListByStatus(ctx context.Context, status domain.Status, page, pageSize int32) ([]domain.Reservation, int32, error)

	// ExpirePending cancels PENDING reservations reserved before the
	// cutoff and returns the ids it touched. Used by the scheduled
	// sweep, never by the synchronous request path.
	ExpirePending(ctx context.Context, cutoff time.Time) ([]int32, error)

	// ListOverdueLoans returns LOANED reservations past their due date.
	ListOverdueLoans(ctx context.Context, asOf time.Time) ([]domain.Reservation, error)
}

type BookRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.Book, error)
}
