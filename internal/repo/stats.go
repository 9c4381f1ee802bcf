// Package repo implements the data persistence layer for the book catalog,
// backed by GORM. This file provides small aggregate queries used primarily
// for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-books-backend/internal/domain"
)

// BooksStats returns aggregate metadata over the non-deleted books: the total
// row count and the sum of all view counters. Together they change on every
// write the popular listing can observe (create, delete, and the view-count
// bump on detail reads), which makes them a cheap weak-ETag seed.
//
// Title edits alone do not move either number, so the ETag is best effort —
// acceptable for a weak validator.
func BooksStats(ctx context.Context, db *gorm.DB) (count int64, totalViews int64, err error) {
	err = db.WithContext(ctx).
		Model(&domain.Book{}).
		Where("is_deleted = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}

	var row struct {
		Total int64
	}
	err = db.WithContext(ctx).
		Model(&domain.Book{}).
		Where("is_deleted = ?", false).
		Select("COALESCE(SUM(view_count), 0) AS total").
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return count, row.Total, nil
}
