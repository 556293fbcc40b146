package postgres_test

import (
	"context"
	"testing"
	"time"

	"libcirc-backend/internal/domain"
	"libcirc-backend/internal/repository/postgres"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

var reservationRows = []string{"id", "user_id", "book_id", "status", "reserved_at", "confirmed_at", "loaned_at", "returned_at", "cancelled_at", "due_date", "created_on", "updated_on"}

func expectClaimChecks(mock sqlmock.Sqlmock, r *domain.Reservation, totalCopies, userActive, bookActive int32) {
	mock.ExpectQuery(`SELECT total_copies FROM books WHERE id = \$1 FOR UPDATE`).
		WithArgs(r.BookID).
		WillReturnRows(sqlmock.NewRows([]string{"total_copies"}).AddRow(totalCopies))
	if userActive >= 0 {
		mock.ExpectQuery(`SELECT count\(\*\) FROM reservations WHERE user_id = \$1 AND book_id = \$2`).
			WithArgs(r.UserID, r.BookID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(userActive))
	}
	if bookActive >= 0 {
		mock.ExpectQuery(`SELECT count\(\*\) FROM reservations WHERE book_id = \$1`).
			WithArgs(r.BookID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(bookActive))
	}
}

func TestReservationRepository_CreateClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		r := &domain.Reservation{UserID: 1, BookID: 7, Status: domain.StatusPending, ReservedAt: time.Now()}

		mock.ExpectBegin()
		expectClaimChecks(mock, r, 1, 0, 0)
		mock.ExpectQuery("INSERT INTO reservations").
			WithArgs(r.UserID, r.BookID, r.Status, r.ReservedAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
		mock.ExpectCommit()

		err = repo.CreateClaim(ctx, r)
		assert.NoError(t, err)
		assert.Equal(t, int32(42), r.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Book Not Found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		r := &domain.Reservation{UserID: 1, BookID: 99, Status: domain.StatusPending, ReservedAt: time.Now()}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT total_copies FROM books WHERE id = \$1 FOR UPDATE`).
			WithArgs(r.BookID).
			WillReturnRows(sqlmock.NewRows([]string{"total_copies"}))
		mock.ExpectRollback()

		err = repo.CreateClaim(ctx, r)
		assert.ErrorIs(t, err, domain.ErrBookNotFound)
	})

	t.Run("Duplicate Active Reservation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		r := &domain.Reservation{UserID: 1, BookID: 7, Status: domain.StatusPending, ReservedAt: time.Now()}

		mock.ExpectBegin()
		expectClaimChecks(mock, r, 1, 1, -1)
		mock.ExpectRollback()

		err = repo.CreateClaim(ctx, r)
		assert.ErrorIs(t, err, domain.ErrDuplicateActiveReservation)
	})

	t.Run("No Copies Available", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		r := &domain.Reservation{UserID: 2, BookID: 7, Status: domain.StatusPending, ReservedAt: time.Now()}

		// One copy, one active reservation held by someone else.
		mock.ExpectBegin()
		expectClaimChecks(mock, r, 1, 0, 1)
		mock.ExpectRollback()

		err = repo.CreateClaim(ctx, r)
		assert.ErrorIs(t, err, domain.ErrNoCopiesAvailable)
	})

	t.Run("Unique Violation Maps To Duplicate", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		r := &domain.Reservation{UserID: 1, BookID: 7, Status: domain.StatusPending, ReservedAt: time.Now()}

		mock.ExpectBegin()
		expectClaimChecks(mock, r, 1, 0, 0)
		mock.ExpectQuery("INSERT INTO reservations").
			WithArgs(r.UserID, r.BookID, r.Status, r.ReservedAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err = repo.CreateClaim(ctx, r)
		assert.ErrorIs(t, err, domain.ErrDuplicateActiveReservation)
	})

	t.Run("Serialization Failure Retried Once", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		r := &domain.Reservation{UserID: 1, BookID: 7, Status: domain.StatusPending, ReservedAt: time.Now()}

		// First attempt dies on a serialization failure.
		mock.ExpectBegin()
		expectClaimChecks(mock, r, 1, 0, 0)
		mock.ExpectQuery("INSERT INTO reservations").
			WithArgs(r.UserID, r.BookID, r.Status, r.ReservedAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()

		// Second attempt runs from scratch and succeeds.
		mock.ExpectBegin()
		expectClaimChecks(mock, r, 1, 0, 0)
		mock.ExpectQuery("INSERT INTO reservations").
			WithArgs(r.UserID, r.BookID, r.Status, r.ReservedAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(43))
		mock.ExpectCommit()

		err = repo.CreateClaim(ctx, r)
		assert.NoError(t, err)
		assert.Equal(t, int32(43), r.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Retry Exhausted Surfaces Transient", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		r := &domain.Reservation{UserID: 1, BookID: 7, Status: domain.StatusPending, ReservedAt: time.Now()}

		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT total_copies FROM books WHERE id = \$1 FOR UPDATE`).
				WithArgs(r.BookID).
				WillReturnError(&pq.Error{Code: "40P01"})
			mock.ExpectRollback()
		}

		err = repo.CreateClaim(ctx, r)
		assert.ErrorIs(t, err, domain.ErrTransient)
	})
}

func TestReservationRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		now := time.Now()
		r := &domain.Reservation{ID: 5, Status: domain.StatusConfirmed, ConfirmedAt: &now}

		mock.ExpectExec("UPDATE reservations").
			WithArgs(r.Status, r.ConfirmedAt, nil, nil, nil, nil, sqlmock.AnyArg(), r.ID, domain.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = repo.UpdateStatus(ctx, r, domain.StatusPending)
		assert.NoError(t, err)
	})

	t.Run("Lost Race Returns Conflict", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		now := time.Now()
		r := &domain.Reservation{ID: 5, Status: domain.StatusConfirmed, ConfirmedAt: &now}

		mock.ExpectExec("UPDATE reservations").
			WithArgs(r.Status, r.ConfirmedAt, nil, nil, nil, nil, sqlmock.AnyArg(), r.ID, domain.StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err = repo.UpdateStatus(ctx, r, domain.StatusPending)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestReservationRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		now := time.Now()
		rows := sqlmock.NewRows(reservationRows).
			AddRow(5, 1, 7, "CONFIRMED", now, now, nil, nil, nil, nil, now, now)
		mock.ExpectQuery(`SELECT (.+) FROM reservations WHERE id = \$1`).
			WithArgs(int32(5)).
			WillReturnRows(rows)

		r, err := repo.GetByID(ctx, 5)
		assert.NoError(t, err)
		assert.Equal(t, int32(5), r.ID)
		assert.Equal(t, domain.StatusConfirmed, r.Status)
		assert.NotNil(t, r.ConfirmedAt)
		assert.Nil(t, r.LoanedAt)
	})

	t.Run("Not Found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		mock.ExpectQuery(`SELECT (.+) FROM reservations WHERE id = \$1`).
			WithArgs(int32(99)).
			WillReturnRows(sqlmock.NewRows(reservationRows))

		_, err = repo.GetByID(ctx, 99)
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})
}

func TestReservationRepository_GetActiveByUserAndBook(t *testing.T) {
	ctx := context.Background()

	t.Run("None Active Returns Nil", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("error opening mock database: %v", err)
		}
		defer db.Close()
		repo := postgres.NewReservationRepository(db)

		mock.ExpectQuery(`SELECT (.+) FROM reservations`).
			WithArgs(int32(1), int32(7)).
			WillReturnRows(sqlmock.NewRows(reservationRows))

		r, err := repo.GetActiveByUserAndBook(ctx, 1, 7)
		assert.NoError(t, err)
		assert.Nil(t, r)
	})
}

func TestReservationRepository_ExpirePending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()
	repo := postgres.NewReservationRepository(db)

	cutoff := time.Now().Add(-72 * time.Hour)
	mock.ExpectQuery("UPDATE reservations").
		WithArgs(sqlmock.AnyArg(), cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(8))

	ids, err := repo.ExpirePending(context.Background(), cutoff)
	assert.NoError(t, err)
	assert.Equal(t, []int32{3, 8}, ids)
}

func TestReservationRepository_CountActiveByBook(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()
	repo := postgres.NewReservationRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM reservations WHERE book_id = \$1`).
		WithArgs(int32(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActiveByBook(context.Background(), 7)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), count)
}
