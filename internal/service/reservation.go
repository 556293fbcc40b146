package service

import (
	"context"
	"errors"
	"time"

	"libcirc-backend/internal/domain"
	"libcirc-backend/internal/events"
	"libcirc-backend/internal/logger"
	"libcirc-backend/internal/repository"
)

type reservationService struct {
	reservationRepo repository.ReservationRepository
	bookRepo        repository.BookRepository
	availability    AvailabilityService
	publisher       events.Publisher
	loanPeriod      time.Duration
}

func NewReservationService(
	reservationRepo repository.ReservationRepository,
	bookRepo repository.BookRepository,
	availability AvailabilityService,
	publisher events.Publisher,
	loanPeriodDays int,
) ReservationService {
	return &reservationService{
		reservationRepo: reservationRepo,
		bookRepo:        bookRepo,
		availability:    availability,
		publisher:       publisher,
		loanPeriod:      time.Duration(loanPeriodDays) * 24 * time.Hour,
	}
}

// CanUserReserveBook is the advisory check entry points use to decide
// whether to offer a "reserve" action. CreateReservation re-validates
// both conditions atomically; a true answer here can still lose a race.
func (s *reservationService) CanUserReserveBook(ctx context.Context, userID, bookID int32) (bool, error) {
	existing, err := s.reservationRepo.GetActiveByUserAndBook(ctx, userID, bookID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	return s.availability.HasAvailableCopies(ctx, bookID)
}

func (s *reservationService) CreateReservation(ctx context.Context, userID, bookID int32) (*domain.Reservation, error) {
	reservation := &domain.Reservation{
		UserID:     userID,
		BookID:     bookID,
		Status:     domain.StatusPending,
		ReservedAt: time.Now(),
	}

	if err := s.reservationRepo.CreateClaim(ctx, reservation); err != nil {
		return nil, err
	}

	logger.Info("Reservation created", "reservation_id", reservation.ID, "user_id", userID, "book_id", bookID)
	s.publish(ctx, events.TypeReservationCreated, reservation)
	return reservation, nil
}

func (s *reservationService) ChangeStatus(ctx context.Context, reservationID int32, target domain.Status) (*domain.Reservation, error) {
	reservation, err := s.reservationRepo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	// CANCELLED is reachable only through CancelReservation.
	if target == domain.StatusCancelled {
		return nil, &domain.InvalidTransitionError{From: reservation.Status, To: target}
	}

	updated, err := domain.Apply(*reservation, target, time.Now())
	if err != nil {
		return nil, err
	}

	if target == domain.StatusLoaned {
		due := updated.LoanedAt.Add(s.loanPeriod)
		updated.DueDate = &due
	}

	if err := s.reservationRepo.UpdateStatus(ctx, &updated, reservation.Status); err != nil {
		return nil, s.resolveUpdateConflict(ctx, err, reservationID, target)
	}

	logger.Info("Reservation status changed", "reservation_id", reservationID, "from", reservation.Status, "to", target)
	s.publish(ctx, eventTypeForStatus(target), &updated)
	return &updated, nil
}

func (s *reservationService) CancelReservation(ctx context.Context, reservationID int32) (*domain.Reservation, error) {
	reservation, err := s.reservationRepo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if !domain.CanBeCancelled(reservation.Status) {
		return nil, domain.ErrCancellationNotAllowed
	}

	updated, err := domain.Apply(*reservation, domain.StatusCancelled, time.Now())
	if err != nil {
		return nil, err
	}

	if err := s.reservationRepo.UpdateStatus(ctx, &updated, reservation.Status); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Someone moved the reservation first; report against its
			// current state.
			current, getErr := s.reservationRepo.GetByID(ctx, reservationID)
			if getErr == nil && !domain.CanBeCancelled(current.Status) {
				return nil, domain.ErrCancellationNotAllowed
			}
		}
		return nil, err
	}

	logger.Info("Reservation cancelled", "reservation_id", reservationID, "user_id", reservation.UserID, "book_id", reservation.BookID)
	s.publish(ctx, events.TypeReservationCancelled, &updated)
	return &updated, nil
}

func (s *reservationService) GetReservation(ctx context.Context, reservationID int32) (*domain.Reservation, error) {
	return s.reservationRepo.GetByID(ctx, reservationID)
}

func (s *reservationService) GetActiveReservation(ctx context.Context, userID, bookID int32) (*domain.Reservation, error) {
	return s.reservationRepo.GetActiveByUserAndBook(ctx, userID, bookID)
}

func (s *reservationService) ListByUser(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Reservation, int32, error) {
	return s.reservationRepo.ListByUser(ctx, userID, page, pageSize)
}

func (s *reservationService) ListByBook(ctx context.Context, bookID int32, page, pageSize int32) ([]domain.Reservation, int32, error) {
	return s.reservationRepo.ListByBook(ctx, bookID, page, pageSize)
}

func (s *reservationService) ListByStatus(ctx context.Context, status domain.Status, page, pageSize int32) ([]domain.Reservation, int32, error) {
	return s.reservationRepo.ListByStatus(ctx, status, page, pageSize)
}

// resolveUpdateConflict turns a lost compare-and-set into a rejected
// transition against the row's current status, so two concurrent
// confirms cannot both report success.
func (s *reservationService) resolveUpdateConflict(ctx context.Context, err error, reservationID int32, target domain.Status) error {
	if !errors.Is(err, domain.ErrConflict) {
		return err
	}
	current, getErr := s.reservationRepo.GetByID(ctx, reservationID)
	if getErr != nil {
		return err
	}
	return &domain.InvalidTransitionError{From: current.Status, To: target}
}

// publish is best-effort: a broker outage must not fail a committed
// circulation change.
func (s *reservationService) publish(ctx context.Context, t events.EventType, r *domain.Reservation) {
	if err := s.publisher.Publish(ctx, events.NewReservationEvent(t, r)); err != nil {
		logger.Error("Failed to publish reservation event", "type", t, "reservation_id", r.ID, "error", err)
	}
}

func eventTypeForStatus(s domain.Status) events.EventType {
	switch s {
	case domain.StatusConfirmed:
		return events.TypeReservationConfirmed
	case domain.StatusLoaned:
		return events.TypeReservationLoaned
	case domain.StatusReturned:
		return events.TypeReservationReturned
	case domain.StatusCancelled:
		return events.TypeReservationCancelled
	}
	return events.TypeReservationCreated
}
