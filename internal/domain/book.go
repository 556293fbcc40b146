package domain

// Book is the catalog subsystem's view of a title. The circulation
// engine only reads it; total_copies is the full physical stock, not
// the currently available count.
type Book struct {
	ID          int32  `json:"id"`
	Title       string `json:"title"`
	TotalCopies int32  `json:"total_copies"`
}
