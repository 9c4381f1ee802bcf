// Package repo implements the data persistence layer for the book catalog,
// backed by GORM. This file provides repository functions for the Book model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Soft deletion is explicit — every read
// filters on is_deleted — so deleted rows stay in storage but never surface.
//
// Error semantics:
//   - When a book is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - When an insert trips the live-title uniqueness index, ErrConflict is
//     returned; this is the backstop for the race the service pre-check
//     cannot close on its own.
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-books-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist or is
// soft-deleted. It aliases gorm.ErrRecordNotFound for consistency across
// the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict indicates a storage-level uniqueness violation, i.e. a
// concurrent create slipped past the service's duplicate pre-check and the
// ux_books_live_title index fired.
var ErrConflict = errors.New("storage conflict")

// isUniqueViolation reports whether err is a uniqueness-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations, so
// the check falls back to string matching.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateBook inserts a new Book row. The store assigns the ID; the caller is
// expected to have set CreatedAt, ViewCount and IsDeleted. Returns ErrConflict
// when the live-title uniqueness index fires.
func CreateBook(ctx context.Context, db *gorm.DB, b *domain.Book) error {
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// CreateBooks inserts the given books in one batch. IDs are assigned by the
// store and written back into the slice elements. Returns ErrConflict on a
// uniqueness violation, in which case nothing from the batch is persisted.
func CreateBooks(ctx context.Context, db *gorm.DB, books []*domain.Book) error {
	if len(books) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).Create(books).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// GetBook fetches a single non-deleted book by id, or ErrNotFound.
func GetBook(ctx context.Context, db *gorm.DB, id uint) (*domain.Book, error) {
	var b domain.Book
	err := db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", id, false).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindBookByTitle returns the first non-deleted book whose title equals the
// given one under case-insensitive comparison, or ErrNotFound. When excludeID
// is non-zero that row is ignored, which lets an update re-check titles
// without colliding with the record being updated.
func FindBookByTitle(ctx context.Context, db *gorm.DB, title string, excludeID uint) (*domain.Book, error) {
	q := db.WithContext(ctx).
		Where("lower(title) = lower(?) AND is_deleted = ?", title, false)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var b domain.Book
	if err := q.First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBooksByTitles returns all non-deleted books whose lowercased title is in
// the given set. Callers pass pre-lowercased titles; matching is full-string
// equality, not prefix or substring.
func ListBooksByTitles(ctx context.Context, db *gorm.DB, lowered []string) ([]domain.Book, error) {
	if len(lowered) == 0 {
		return []domain.Book{}, nil
	}
	var out []domain.Book
	err := db.WithContext(ctx).
		Where("lower(title) IN ? AND is_deleted = ?", lowered, false).
		Find(&out).Error
	return out, err
}

// CountActiveBooks returns the total number of non-deleted books.
func CountActiveBooks(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Book{}).
		Where("is_deleted = ?", false).
		Count(&total).Error
	return total, err
}

// ListPopularPage returns a page of non-deleted books ordered by popularity
// score descending, computed in SQL with the caller's current year so the
// ordering matches what the service recomputes per row. Ties keep store order.
//
// currentYear is server-derived (never client input), so interpolating it into
// the ORDER BY expression is safe.
func ListPopularPage(ctx context.Context, db *gorm.DB, currentYear, offset, limit int) ([]domain.Book, error) {
	var out []domain.Book
	err := db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Order(fmt.Sprintf("(view_count * 0.5 + (%d - publication_year) * 2) DESC", currentYear)).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SaveBook persists all fields of an already-loaded book row. Returns
// ErrConflict when a title change trips the live-title uniqueness index.
func SaveBook(ctx context.Context, db *gorm.DB, b *domain.Book) error {
	if err := db.WithContext(ctx).Save(b).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// SoftDeleteBooks flips is_deleted on every currently non-deleted book whose
// id is in ids and returns the ids that were actually flipped. Missing or
// already-deleted ids are simply absent from the result; partitioning them
// out is the service's job.
func SoftDeleteBooks(ctx context.Context, db *gorm.DB, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return []uint{}, nil
	}
	var found []uint
	err := db.WithContext(ctx).
		Model(&domain.Book{}).
		Where("id IN ? AND is_deleted = ?", ids, false).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return []uint{}, nil
	}
	err = db.WithContext(ctx).
		Model(&domain.Book{}).
		Where("id IN ?", found).
		Update("is_deleted", true).Error
	if err != nil {
		return nil, err
	}
	return found, nil
}
