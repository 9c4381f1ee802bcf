// Package domain defines the persistence models for the book catalog. The
// types here are mapped with GORM and form the core data layer of the
// application.
package domain

import "time"

// Book represents a single catalog entry. Books are soft-deleted: deletion
// flips IsDeleted and the row is retained, so every read path must filter on
// the flag. Among non-deleted rows the title is unique under case-insensitive
// comparison, enforced by a filtered index on lower(title) (see repo.AutoMigrate)
// with a service-level pre-check in front of it.
//
// Fields:
//   - ID: auto-increment primary key, assigned by the store on insert.
//   - Title / Author: 2–200 characters (validated at the HTTP boundary).
//   - PublicationYear: bounded to [1300, 2025] at the HTTP boundary.
//   - ViewCount: bumped by one on every single-book detail fetch.
//   - IsDeleted: soft-delete marker; deleted rows never surface in reads.
//   - CreatedAt: set once at insert (UTC).
//   - UpdatedAt: nil until the first successful field update. Automatic GORM
//     timestamping is disabled so the service layer stays in control of it.
type Book struct {
	ID              uint       `json:"id"               gorm:"primaryKey"`
	Title           string     `json:"title"            gorm:"type:varchar(200);not null"`
	Author          string     `json:"author"           gorm:"type:varchar(200);not null"`
	PublicationYear int        `json:"publication_year" gorm:"not null"`
	ViewCount       int64      `json:"view_count"       gorm:"not null;default:0"`
	IsDeleted       bool       `json:"-"                gorm:"not null;default:false;index"`
	CreatedAt       time.Time  `json:"created_at"       gorm:"autoCreateTime:false"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime:false"`
}

// TableName returns the database table name for Book.
func (Book) TableName() string { return "books" }

// PopularityScore derives the ranking score used by the popular-books listing:
//
//	viewCount*0.5 + (currentYear-publicationYear)*2
//
// The score is a view, not stored state: currentYear must be the caller's
// current UTC year at evaluation time, never cached across requests, so the
// ranking drifts over calendar years even without writes.
func PopularityScore(viewCount int64, publicationYear, currentYear int) float64 {
	return float64(viewCount)*0.5 + float64(currentYear-publicationYear)*2
}

// Popularity returns the book's popularity score for the given year.
func (b Book) Popularity(currentYear int) float64 {
	return PopularityScore(b.ViewCount, b.PublicationYear, currentYear)
}
