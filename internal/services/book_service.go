// Package services – BookService
//
// This file implements BookService, the application-level component that owns
// the catalog's business rules: popularity-ranked listing, the view-count bump
// on detail reads, duplicate-title policy for creates and updates (single and
// bulk, soft-delete-aware), field-level update diffing, and soft deletion.
//
// Every operation runs inside one GORM transaction so its check-then-act
// sequence (existence check before insert, diff-then-save, increment-then-read)
// is atomic relative to concurrent operations on the same rows. The service
// pre-checks titles to produce friendly typed errors; the filtered uniqueness
// index in storage remains the final arbiter and a race that slips past the
// pre-check surfaces as repo.ErrConflict.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-books-backend/internal/domain"
	"github.com/tbourn/go-books-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
)

// defaultPageSize mirrors the boundary default for the popular listing.
const defaultPageSize = 10

// BookService coordinates persistence and business rules for books.
// It is stateless apart from the DB handle and safe for concurrent use.
type BookService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewBookService constructs a BookService around the given DB handle.
func NewBookService(db *gorm.DB) *BookService {
	return &BookService{DB: db}
}

// ListPopular returns one page of the non-deleted books ranked by popularity
// score descending. Scores are recomputed from the current UTC year on every
// call; equal scores keep store order. A page beyond the end yields empty
// items with correct totals.
func (s *BookService) ListPopular(ctx context.Context, page, pageSize int) (*PopularBooksPage, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "ListPopular",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	offset := (page - 1) * pageSize
	currentYear := time.Now().UTC().Year()

	total, err := repo.CountActiveBooks(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := &PopularBooksPage{
		Items:      []BookTitle{},
		TotalItems: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
	if total == 0 {
		return out, nil
	}

	books, err := repo.ListPopularPage(ctx, s.DB, currentYear, offset, pageSize)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		out.Items = append(out.Items, BookTitle{
			ID:              b.ID,
			Title:           b.Title,
			PopularityScore: b.Popularity(currentYear),
		})
	}
	return out, nil
}

// Get returns the detail view of a non-deleted book. Every call increments
// the stored view count by exactly one before the view is built, so the
// returned count and score reflect the read that just happened. The
// read-increment-write runs in one transaction.
func (s *BookService) Get(ctx context.Context, id uint) (*BookDetail, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.Int("book.id", int(id))),
	)
	defer span.End()

	var detail *BookDetail
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := repo.GetBook(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		b.ViewCount++
		if err := repo.SaveBook(ctx, tx, b); err != nil {
			return err
		}
		detail = detailOf(b, time.Now().UTC().Year())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Create inserts a new book. It fails with *DuplicateTitleError when any
// non-deleted book already carries the title (case-insensitive); the storage
// index backstops the race window and surfaces as repo.ErrConflict.
func (s *BookService) Create(ctx context.Context, in CreateBookInput) (*BookDetail, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("book.title", in.Title)),
	)
	defer span.End()

	var detail *BookDetail
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := repo.FindBookByTitle(ctx, tx, in.Title, 0)
		switch {
		case err == nil:
			return &DuplicateTitleError{Title: in.Title}
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}

		b := &domain.Book{
			Title:           in.Title,
			Author:          in.Author,
			PublicationYear: in.PublicationYear,
			ViewCount:       0,
			IsDeleted:       false,
			CreatedAt:       time.Now().UTC(),
		}
		if err := repo.CreateBook(ctx, tx, b); err != nil {
			return err
		}
		detail = detailOf(b, time.Now().UTC().Year())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// CreateBulk creates the given books in one batch, partitioning requests into
// created and duplicate subsets:
//
//   - empty request list        → ErrNoBooksProvided
//   - every title already taken → *AllDuplicatesError, nothing created
//   - some titles taken         → the rest are created; both subsets returned
//   - no collisions             → all created, empty duplicates list
//
// Each duplicate reports the first non-deleted book matching its title under
// case-insensitive full-string equality.
func (s *BookService) CreateBulk(ctx context.Context, reqs []CreateBookInput) (*BulkCreateResult, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "CreateBulk",
		trace.WithAttributes(attribute.Int("request.count", len(reqs))),
	)
	defer span.End()

	if len(reqs) == 0 {
		return nil, ErrNoBooksProvided
	}

	lowered := make([]string, 0, len(reqs))
	for _, r := range reqs {
		lowered = append(lowered, strings.ToLower(r.Title))
	}

	currentYear := time.Now().UTC().Year()
	var result *BulkCreateResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := repo.ListBooksByTitles(ctx, tx, lowered)
		if err != nil {
			return err
		}

		// First non-deleted match per folded title wins the "existing book"
		// slot reported for a duplicate.
		byKey := make(map[string]*domain.Book, len(existing))
		for i := range existing {
			k := titleKey(existing[i].Title)
			if _, ok := byKey[k]; !ok {
				byKey[k] = &existing[i]
			}
		}

		var (
			duplicates []DuplicateBook
			toCreate   []*domain.Book
		)
		now := time.Now().UTC()
		for _, r := range reqs {
			if hit, ok := byKey[titleKey(r.Title)]; ok {
				duplicates = append(duplicates, DuplicateBook{
					AttemptedTitle: r.Title,
					ExistingBook:   *detailOf(hit, currentYear),
				})
				continue
			}
			toCreate = append(toCreate, &domain.Book{
				Title:           r.Title,
				Author:          r.Author,
				PublicationYear: r.PublicationYear,
				ViewCount:       0,
				IsDeleted:       false,
				CreatedAt:       now,
			})
		}

		// Whole-batch rejection: rolling back here guarantees storage is
		// untouched when every title collides.
		if len(duplicates) == len(reqs) {
			return &AllDuplicatesError{Duplicates: duplicates}
		}

		if err := repo.CreateBooks(ctx, tx, toCreate); err != nil {
			return err
		}

		created := make([]BookDetail, 0, len(toCreate))
		for _, b := range toCreate {
			created = append(created, *detailOf(b, currentYear))
		}
		if duplicates == nil {
			duplicates = []DuplicateBook{}
		}
		result = &BulkCreateResult{Created: created, Duplicates: duplicates}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update applies a field-level update to a non-deleted book:
//
//   - Title/Author count as changed only when non-empty and different from the
//     stored value (case-sensitive comparison, even though duplicate detection
//     is case-insensitive).
//   - PublicationYear is always compared; there is no absent sentinel, so the
//     caller supplies the current value to leave it unchanged.
//
// A changing title re-runs the duplicate check excluding the book's own row.
// When nothing differs the update fails with ErrNoChanges instead of silently
// succeeding. On success UpdatedAt is set to now (UTC).
func (s *BookService) Update(ctx context.Context, id uint, in UpdateBookInput) error {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(attribute.Int("book.id", int(id))),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := repo.GetBook(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		changed := false

		if in.Title != "" && b.Title != in.Title {
			_, err := repo.FindBookByTitle(ctx, tx, in.Title, id)
			switch {
			case err == nil:
				return &DuplicateTitleError{Title: in.Title}
			case !errors.Is(err, repo.ErrNotFound):
				return err
			}
			b.Title = in.Title
			changed = true
		}

		if in.Author != "" && b.Author != in.Author {
			b.Author = in.Author
			changed = true
		}

		if b.PublicationYear != in.PublicationYear {
			b.PublicationYear = in.PublicationYear
			changed = true
		}

		if !changed {
			return ErrNoChanges
		}

		now := time.Now().UTC()
		b.UpdatedAt = &now
		return repo.SaveBook(ctx, tx, b)
	})
}

// Delete soft-deletes a non-deleted book; the row is retained and never
// surfaces in subsequent reads. Fails with ErrBookNotFound when id does not
// resolve to a live book.
func (s *BookService) Delete(ctx context.Context, id uint) error {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.Int("book.id", int(id))),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := repo.GetBook(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		b.IsDeleted = true
		return repo.SaveBook(ctx, tx, b)
	})
}

// DeleteBulk soft-deletes every id that resolves to a non-deleted book and
// reports the rest as NotFoundIDs (missing or already deleted). Partial
// not-found is a normal result, never an error; only storage failures
// propagate.
func (s *BookService) DeleteBulk(ctx context.Context, ids []uint) (*BulkDeleteResult, error) {
	tr := otel.Tracer("services/BookService")
	ctx, span := tr.Start(ctx, "DeleteBulk",
		trace.WithAttributes(attribute.Int("request.count", len(ids))),
	)
	defer span.End()

	var deleted []uint
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.SoftDeleteBooks(ctx, tx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	deletedSet := make(map[uint]struct{}, len(deleted))
	for _, id := range deleted {
		deletedSet[id] = struct{}{}
	}
	notFound := []uint{}
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := deletedSet[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		notFound = append(notFound, id)
	}
	return &BulkDeleteResult{DeletedIDs: deleted, NotFoundIDs: notFound}, nil
}

// detailOf builds the read-time view of a book, deriving the popularity score
// from the given current year.
func detailOf(b *domain.Book, currentYear int) *BookDetail {
	return &BookDetail{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		PublicationYear: b.PublicationYear,
		ViewCount:       b.ViewCount,
		PopularityScore: b.Popularity(currentYear),
	}
}

// titleKey folds a title for case-insensitive comparison on the Go side.
// A cases.Caser is stateful, so a fresh one is taken per call.
func titleKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
