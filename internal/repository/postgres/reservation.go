package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"libcirc-backend/internal/domain"
	"libcirc-backend/internal/logger"
	"libcirc-backend/internal/repository"

	"github.com/lib/pq"
)

const reservationColumns = `id, user_id, book_id, status, reserved_at, confirmed_at, loaned_at, returned_at, cancelled_at, due_date, created_on, updated_on`

// activeStatuses must match the predicate of the uq_reservations_active
// partial unique index (see docs/schema.sql).
const activeStatuses = `('PENDING', 'CONFIRMED', 'LOANED')`

type reservationRepository struct {
	db *sql.DB
}

func NewReservationRepository(db *sql.DB) repository.ReservationRepository {
	return &reservationRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner, r *domain.Reservation) error {
	return row.Scan(&r.ID, &r.UserID, &r.BookID, &r.Status, &r.ReservedAt,
		&r.ConfirmedAt, &r.LoanedAt, &r.ReturnedAt, &r.CancelledAt, &r.DueDate,
		&r.CreatedOn, &r.UpdatedOn)
}

// CreateClaim runs the check-then-insert as one transaction. A
// serialization failure or deadlock is retried once from scratch, then
// surfaced as domain.ErrTransient.
func (r *reservationRepository) CreateClaim(ctx context.Context, res *domain.Reservation) error {
	err := r.createClaimTx(ctx, res)
	if isRetryable(err) {
		logger.Warn("Retrying reservation claim after storage conflict", "book_id", res.BookID, "user_id", res.UserID, "error", err)
		err = r.createClaimTx(ctx, res)
		if isRetryable(err) {
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
	}
	return err
}

func (r *reservationRepository) createClaimTx(ctx context.Context, res *domain.Reservation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock the book row so concurrent last-copy claims serialize here.
	var totalCopies int32
	err = tx.QueryRowContext(ctx, `SELECT total_copies FROM books WHERE id = $1 FOR UPDATE`, res.BookID).Scan(&totalCopies)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrBookNotFound
	}
	if err != nil {
		return err
	}

	var existing int32
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM reservations WHERE user_id = $1 AND book_id = $2 AND status IN `+activeStatuses,
		res.UserID, res.BookID).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		return domain.ErrDuplicateActiveReservation
	}

	var active int32
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM reservations WHERE book_id = $1 AND status IN `+activeStatuses,
		res.BookID).Scan(&active)
	if err != nil {
		return err
	}
	if active >= totalCopies {
		return domain.ErrNoCopiesAvailable
	}

	now := time.Now()
	query := `INSERT INTO reservations (user_id, book_id, status, reserved_at, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	err = tx.QueryRowContext(ctx, query, res.UserID, res.BookID, res.Status, res.ReservedAt, now, now).Scan(&res.ID)
	if isUniqueViolation(err) {
		// Partial unique index backstop for claims racing outside the row lock.
		return domain.ErrDuplicateActiveReservation
	}
	if err != nil {
		return err
	}
	res.CreatedOn = now
	res.UpdatedOn = now

	return tx.Commit()
}

func (r *reservationRepository) GetByID(ctx context.Context, id int32) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	err := scanReservation(r.db.QueryRowContext(ctx, query, id), res)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *reservationRepository) UpdateStatus(ctx context.Context, res *domain.Reservation, expected domain.Status) error {
	query := `UPDATE reservations
	          SET status = $1, confirmed_at = $2, loaned_at = $3, returned_at = $4, cancelled_at = $5, due_date = $6, updated_on = $7
	          WHERE id = $8 AND status = $9`
	result, err := r.db.ExecContext(ctx, query, res.Status, res.ConfirmedAt, res.LoanedAt, res.ReturnedAt, res.CancelledAt, res.DueDate, time.Now(), res.ID, expected)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// GetActiveByUserAndBook returns (nil, nil) when the pair has no active
// reservation; at most one can exist per the partial unique index.
func (r *reservationRepository) GetActiveByUserAndBook(ctx context.Context, userID, bookID int32) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	query := `SELECT ` + reservationColumns + ` FROM reservations
	          WHERE user_id = $1 AND book_id = $2 AND status IN ` + activeStatuses
	err := scanReservation(r.db.QueryRowContext(ctx, query, userID, bookID), res)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *reservationRepository) CountActiveByBook(ctx context.Context, bookID int32) (int32, error) {
	var count int32
	query := `SELECT count(*) FROM reservations WHERE book_id = $1 AND status IN ` + activeStatuses
	if err := r.db.QueryRowContext(ctx, query, bookID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *reservationRepository) ListByUser(ctx context.Context, userID int32, page, pageSize int32) ([]domain.Reservation, int32, error) {
	return r.list(ctx, "user_id", userID, page, pageSize)
}

func (r *reservationRepository) ListByBook(ctx context.Context, bookID int32, page, pageSize int32) ([]domain.Reservation, int32, error) {
	return r.list(ctx, "book_id", bookID, page, pageSize)
}

func (r *reservationRepository) ListByStatus(ctx context.Context, status domain.Status, page, pageSize int32) ([]domain.Reservation, int32, error) {
	offset := (page - 1) * pageSize

	var count int32
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM reservations WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE status = $1 ORDER BY reserved_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reservations, err := collectReservations(rows)
	if err != nil {
		return nil, 0, err
	}
	return reservations, count, nil
}

func (r *reservationRepository) list(ctx context.Context, column string, id, page, pageSize int32) ([]domain.Reservation, int32, error) {
	offset := (page - 1) * pageSize

	var count int32
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM reservations WHERE `+column+` = $1`, id).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + column + ` = $1 ORDER BY reserved_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, id, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	reservations, err := collectReservations(rows)
	if err != nil {
		return nil, 0, err
	}
	return reservations, count, nil
}

func collectReservations(rows *sql.Rows) ([]domain.Reservation, error) {
	var reservations []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := scanReservation(rows, &res); err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}

func (r *reservationRepository) ExpirePending(ctx context.Context, cutoff time.Time) ([]int32, error) {
	query := `UPDATE reservations
	          SET status = 'CANCELLED', cancelled_at = $1, updated_on = $1
	          WHERE status = 'PENDING' AND reserved_at < $2
	          RETURNING id`
	rows, err := r.db.QueryContext(ctx, query, time.Now(), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *reservationRepository) ListOverdueLoans(ctx context.Context, asOf time.Time) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE status = 'LOANED' AND due_date < $1`
	rows, err := r.db.QueryContext(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func pgErrorCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

// isRetryable matches serialization_failure and deadlock_detected.
func isRetryable(err error) bool {
	code := pgErrorCode(err)
	return code == "40001" || code == "40P01"
}
