package service

import (
	"context"

	"libcirc-backend/internal/repository"
)

type availabilityService struct {
	bookRepo        repository.BookRepository
	reservationRepo repository.ReservationRepository
}

func NewAvailabilityService(bookRepo repository.BookRepository, reservationRepo repository.ReservationRepository) AvailabilityService {
	return &availabilityService{
		bookRepo:        bookRepo,
		reservationRepo: reservationRepo,
	}
}

// AvailableCopies is total stock minus active reservations, floored at
// zero. It should never go negative while the claim transaction holds;
// the floor keeps a broken row from propagating a negative count.
func (s *availabilityService) AvailableCopies(ctx context.Context, bookID int32) (int32, error) {
	book, err := s.bookRepo.GetByID(ctx, bookID)
	if err != nil {
		return 0, err
	}

	active, err := s.reservationRepo.CountActiveByBook(ctx, bookID)
	if err != nil {
		return 0, err
	}

	available := book.TotalCopies - active
	if available < 0 {
		available = 0
	}
	return available, nil
}

func (s *availabilityService) HasAvailableCopies(ctx context.Context, bookID int32) (bool, error) {
	available, err := s.AvailableCopies(ctx, bookID)
	if err != nil {
		return false, err
	}
	return available > 0, nil
}
