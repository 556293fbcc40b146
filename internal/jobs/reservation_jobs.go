package jobs

import (
	"context"
	"time"

	"libcirc-backend/internal/events"
	"libcirc-backend/internal/logger"
)

// ExpireStalePendingReservations cancels PENDING reservations older
// than the configured TTL, freeing their copies for other readers.
func (jr *JobRunner) ExpireStalePendingReservations() {
	jr.runWithRecovery("ExpireStalePendingReservations", func() {
		ctx := context.Background()
		cutoff := time.Now().Add(-time.Duration(jr.config.Circulation.PendingTTLHours) * time.Hour)

		ids, err := jr.reservationRepo.ExpirePending(ctx, cutoff)
		if err != nil {
			logger.Error("Failed to expire pending reservations", "error", err)
			return
		}

		for _, id := range ids {
			reservation, err := jr.reservationRepo.GetByID(ctx, id)
			if err != nil {
				logger.Error("Failed to load expired reservation", "reservation_id", id, "error", err)
				continue
			}
			event := events.NewReservationEvent(events.TypeReservationExpired, reservation)
			if err := jr.publisher.Publish(ctx, event); err != nil {
				logger.Error("Failed to publish expiry event", "reservation_id", id, "error", err)
			}
		}

		logger.Info("Expired stale pending reservations", "count", len(ids), "cutoff", cutoff)
	})
}

// MarkOverdueLoans reports LOANED reservations past their due date.
// Overdue is a report, not a status: the transition table stays
// untouched and the book still comes back via LOANED -> RETURNED.
func (jr *JobRunner) MarkOverdueLoans() {
	jr.runWithRecovery("MarkOverdueLoans", func() {
		ctx := context.Background()

		loans, err := jr.reservationRepo.ListOverdueLoans(ctx, time.Now())
		if err != nil {
			logger.Error("Failed to list overdue loans", "error", err)
			return
		}

		for i := range loans {
			event := events.NewReservationEvent(events.TypeLoanOverdue, &loans[i])
			if err := jr.publisher.Publish(ctx, event); err != nil {
				logger.Error("Failed to publish overdue event", "reservation_id", loans[i].ID, "error", err)
			}
		}

		logger.Info("Reported overdue loans", "count", len(loans))
	})
}
