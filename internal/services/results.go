// Package services defines the business logic for the book catalog.
// This file declares the structured results returned by BookService
// operations. Partial outcomes (some bulk items succeed, some collide or are
// missing) are results, not errors: both subsets are returned normally and the
// HTTP layer decides how to present them (e.g. 207 Multi-Status).
package services

// BookDetail is the full single-book view. PopularityScore is derived at read
// time from the current UTC year and is never persisted.
type BookDetail struct {
	ID              uint    `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	PublicationYear int     `json:"publication_year"`
	ViewCount       int64   `json:"view_count"`
	PopularityScore float64 `json:"popularity_score"`
}

// BookTitle is the compact listing view used by the popular-books page.
type BookTitle struct {
	ID              uint    `json:"id"`
	Title           string  `json:"title"`
	PopularityScore float64 `json:"popularity_score"`
}

// PopularBooksPage is one page of the popularity-ranked listing.
// TotalItems counts all non-deleted books (post-filter, pre-pagination) and
// TotalPages is ceil(TotalItems / PageSize).
type PopularBooksPage struct {
	Items      []BookTitle `json:"items"`
	TotalItems int64       `json:"total_items"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

// CreateBookInput carries the fields needed to create a book. Shape validation
// (lengths, year range) happens at the HTTP boundary before the service runs.
type CreateBookInput struct {
	Title           string
	Author          string
	PublicationYear int
}

// UpdateBookInput carries a field-level update. Title and Author are ignored
// when empty; PublicationYear has no absent sentinel, so callers supply the
// current value to leave it unchanged.
type UpdateBookInput struct {
	Title           string
	Author          string
	PublicationYear int
}

// DuplicateBook reports one rejected bulk-create entry: the title the caller
// attempted and the detail view of the pre-existing non-deleted book it
// collided with (first match, case-insensitive full-string equality).
type DuplicateBook struct {
	AttemptedTitle string     `json:"attempted_title"`
	ExistingBook   BookDetail `json:"existing_book"`
}

// BulkCreateResult is the partial-success outcome of CreateBulk: the created
// subset and the duplicate subset. Both may be non-empty at once; an
// all-duplicates batch never reaches this type (see AllDuplicatesError).
type BulkCreateResult struct {
	Created    []BookDetail    `json:"created"`
	Duplicates []DuplicateBook `json:"duplicates"`
}

// BulkDeleteResult partitions a bulk delete: ids that were soft-deleted and
// ids that did not resolve to a non-deleted book (missing or already deleted).
type BulkDeleteResult struct {
	DeletedIDs  []uint `json:"deleted_ids"`
	NotFoundIDs []uint `json:"not_found_ids"`
}
