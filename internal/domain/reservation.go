package domain

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusLoaned    Status = "LOANED"
	StatusReturned  Status = "RETURNED"
	StatusCancelled Status = "CANCELLED"
)

// Reservation is one user's claim on one copy of one book. It is
// created PENDING and only ever mutated through Apply; it is never
// physically deleted.
type Reservation struct {
	ID          int32      `json:"id"`
	UserID      int32      `json:"user_id"`
	BookID      int32      `json:"book_id"`
	Status      Status     `json:"status"`
	ReservedAt  time.Time  `json:"reserved_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	LoanedAt    *time.Time `json:"loaned_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedOn   time.Time  `json:"created_on"`
	UpdatedOn   time.Time  `json:"updated_on"`
}

type edge struct {
	from Status
	to   Status
}

// legalEdges is the explicit transition table. An edge set rather than a
// per-status successor field so branch states (like CANCELLED) don't
// require touching the status type.
var legalEdges = map[edge]bool{
	{StatusPending, StatusConfirmed}:   true,
	{StatusConfirmed, StatusLoaned}:    true,
	{StatusLoaned, StatusReturned}:     true,
	{StatusPending, StatusCancelled}:   true,
	{StatusConfirmed, StatusCancelled}: true,
}

func CanTransition(from, to Status) bool {
	return legalEdges[edge{from, to}]
}

// IsActive reports whether a reservation in this status still holds a
// copy. RETURNED and CANCELLED release the copy.
func IsActive(s Status) bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusLoaned
}

// CanBeCancelled is true before the book leaves the building. A loaned
// book comes back via LOANED -> RETURNED.
func CanBeCancelled(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

// Apply moves r along a legal edge, stamping the timestamp that belongs
// to the transition. It returns the updated record and does not
// persist; on an illegal edge r is returned unmodified alongside an
// *InvalidTransitionError.
func Apply(r Reservation, target Status, now time.Time) (Reservation, error) {
	if !CanTransition(r.Status, target) {
		return r, &InvalidTransitionError{From: r.Status, To: target}
	}

	switch target {
	case StatusConfirmed:
		r.ConfirmedAt = &now
	case StatusLoaned:
		r.LoanedAt = &now
	case StatusReturned:
		r.ReturnedAt = &now
	case StatusCancelled:
		r.CancelledAt = &now
	}
	r.Status = target
	return r, nil
}

// ParseStatus validates a caller-supplied status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusLoaned, StatusReturned, StatusCancelled:
		return Status(s), true
	}
	return "", false
}
