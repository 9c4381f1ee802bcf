// Package services defines the business logic for the book catalog. This file
// centralizes service-level error values so that they can be consistently
// returned by service methods and checked by callers with errors.Is/As.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer. Two failure kinds carry payloads and are therefore typed errors that
// unwrap to the ErrDuplicateTitle sentinel.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrBookNotFound indicates that the requested book does not exist or is
	// soft-deleted.
	ErrBookNotFound = errors.New("book not found")

	// ErrDuplicateTitle is the sentinel for any case-insensitive title
	// collision against a non-deleted book. Payload-carrying variants
	// (DuplicateTitleError, AllDuplicatesError) unwrap to it.
	ErrDuplicateTitle = errors.New("duplicate title")

	// ErrNoChanges is returned when an update request would alter nothing.
	// The update is rejected outright rather than treated as a no-op success.
	ErrNoChanges = errors.New("no changes were made to the book")

	// ErrNoBooksProvided is returned when a bulk operation receives an empty
	// request list.
	ErrNoBooksProvided = errors.New("no books provided")
)

// DuplicateTitleError reports a single-create or update title collision,
// carrying the offending title.
type DuplicateTitleError struct {
	Title string
}

func (e *DuplicateTitleError) Error() string {
	return fmt.Sprintf("a book with title %q already exists", e.Title)
}

// Unwrap makes errors.Is(err, ErrDuplicateTitle) hold.
func (e *DuplicateTitleError) Unwrap() error { return ErrDuplicateTitle }

// AllDuplicatesError is the whole-batch rejection for CreateBulk: every
// requested title collided, nothing was created, and the full duplicate list
// rides along so the handler can return it to the caller.
type AllDuplicatesError struct {
	Duplicates []DuplicateBook
}

func (e *AllDuplicatesError) Error() string {
	return "all provided books already exist"
}

// Unwrap makes errors.Is(err, ErrDuplicateTitle) hold.
func (e *AllDuplicatesError) Unwrap() error { return ErrDuplicateTitle }
