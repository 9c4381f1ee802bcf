package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-books-backend/internal/domain"
)

// newBookRepoDB opens a throwaway file-backed SQLite DB and runs the full
// migration (including the live-title uniqueness index).
func newBookRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("book_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustCreateBook(t *testing.T, db *gorm.DB, title string, year int) *domain.Book {
	t.Helper()
	b := &domain.Book{
		Title:           title,
		Author:          "Test Author",
		PublicationYear: year,
		CreatedAt:       time.Now().UTC(),
	}
	if err := CreateBook(context.Background(), db, b); err != nil {
		t.Fatalf("CreateBook(%q): %v", title, err)
	}
	return b
}

func TestCreateBook_AssignsID(t *testing.T) {
	db := newBookRepoDB(t)
	b := mustCreateBook(t, db, "Dune", 1965)
	if b.ID == 0 {
		t.Fatalf("expected assigned ID, got 0")
	}
	if b.IsDeleted || b.ViewCount != 0 {
		t.Fatalf("unexpected defaults: %+v", b)
	}
}

func TestCreateBook_LiveTitleIndex_CaseInsensitiveConflict(t *testing.T) {
	db := newBookRepoDB(t)
	mustCreateBook(t, db, "Dune", 1965)

	dup := &domain.Book{Title: "DUNE", Author: "Someone", PublicationYear: 1966, CreatedAt: time.Now().UTC()}
	err := CreateBook(context.Background(), db, dup)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for case-variant title, got %v", err)
	}
}

func TestCreateBook_TitleReusableAfterSoftDelete(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	b := mustCreateBook(t, db, "Dune", 1965)

	deleted, err := SoftDeleteBooks(ctx, db, []uint{b.ID})
	if err != nil || len(deleted) != 1 {
		t.Fatalf("SoftDeleteBooks: deleted=%v err=%v", deleted, err)
	}

	// The partial index only guards live rows, so the title is free again.
	again := mustCreateBook(t, db, "dune", 2001)
	if again.ID == b.ID {
		t.Fatalf("expected a fresh row, got same id %d", b.ID)
	}
}

func TestCreateBooks_Batch_WritesBackIDs(t *testing.T) {
	db := newBookRepoDB(t)
	books := []*domain.Book{
		{Title: "A Wizard of Earthsea", Author: "Le Guin", PublicationYear: 1968, CreatedAt: time.Now().UTC()},
		{Title: "The Tombs of Atuan", Author: "Le Guin", PublicationYear: 1971, CreatedAt: time.Now().UTC()},
	}
	if err := CreateBooks(context.Background(), db, books); err != nil {
		t.Fatalf("CreateBooks: %v", err)
	}
	for i, b := range books {
		if b.ID == 0 {
			t.Fatalf("book %d has no ID after batch insert", i)
		}
	}

	// Empty batch is a no-op.
	if err := CreateBooks(context.Background(), db, nil); err != nil {
		t.Fatalf("CreateBooks(nil): %v", err)
	}
}

func TestCreateBooks_Batch_ConflictAgainstExisting(t *testing.T) {
	db := newBookRepoDB(t)
	mustCreateBook(t, db, "Dune", 1965)

	batch := []*domain.Book{
		{Title: "dune", Author: "X", PublicationYear: 1966, CreatedAt: time.Now().UTC()},
	}
	if err := CreateBooks(context.Background(), db, batch); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetBook_FoundNotFoundAndDeleted(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	b := mustCreateBook(t, db, "Dune", 1965)

	got, err := GetBook(ctx, db, b.ID)
	if err != nil || got.Title != "Dune" {
		t.Fatalf("GetBook: got=%+v err=%v", got, err)
	}

	if _, err := GetBook(ctx, db, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing id, got %v", err)
	}

	if _, err := SoftDeleteBooks(ctx, db, []uint{b.ID}); err != nil {
		t.Fatalf("SoftDeleteBooks: %v", err)
	}
	if _, err := GetBook(ctx, db, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for soft-deleted id, got %v", err)
	}
}

func TestFindBookByTitle_CaseInsensitive_AndExclude(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	b := mustCreateBook(t, db, "The Left Hand of Darkness", 1969)

	got, err := FindBookByTitle(ctx, db, "the left hand of DARKNESS", 0)
	if err != nil || got.ID != b.ID {
		t.Fatalf("FindBookByTitle: got=%+v err=%v", got, err)
	}

	// Excluding the row itself turns the lookup into a miss.
	if _, err := FindBookByTitle(ctx, db, b.Title, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when excluding own id, got %v", err)
	}

	// Substrings must not match.
	if _, err := FindBookByTitle(ctx, db, "Left Hand", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for partial title, got %v", err)
	}
}

func TestListBooksByTitles(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	mustCreateBook(t, db, "Dune", 1965)
	mustCreateBook(t, db, "Hyperion", 1989)

	out, err := ListBooksByTitles(ctx, db, []string{"dune", "nothere"})
	if err != nil {
		t.Fatalf("ListBooksByTitles: %v", err)
	}
	if len(out) != 1 || out[0].Title != "Dune" {
		t.Fatalf("unexpected result: %+v", out)
	}

	empty, err := ListBooksByTitles(ctx, db, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty input should return empty slice: %v %v", empty, err)
	}
}

func TestCountActiveBooks_ExcludesDeleted(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	a := mustCreateBook(t, db, "Dune", 1965)
	mustCreateBook(t, db, "Hyperion", 1989)

	if n, err := CountActiveBooks(ctx, db); err != nil || n != 2 {
		t.Fatalf("CountActiveBooks = %d, %v", n, err)
	}
	if _, err := SoftDeleteBooks(ctx, db, []uint{a.ID}); err != nil {
		t.Fatalf("SoftDeleteBooks: %v", err)
	}
	if n, err := CountActiveBooks(ctx, db); err != nil || n != 1 {
		t.Fatalf("CountActiveBooks after delete = %d, %v", n, err)
	}
}

func TestListPopularPage_OrderAndPaging(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	year := time.Now().UTC().Year()

	// Same publication year, different view counts: views decide the order.
	low := mustCreateBook(t, db, "Low Views", year-1)
	high := mustCreateBook(t, db, "High Views", year-1)
	high.ViewCount = 100
	if err := SaveBook(ctx, db, high); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}
	// An old book: age contribution dwarfs the others' views.
	old := mustCreateBook(t, db, "Ancient Tome", year-200)

	page, err := ListPopularPage(ctx, db, year, 0, 10)
	if err != nil {
		t.Fatalf("ListPopularPage: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(page))
	}
	if page[0].ID != old.ID || page[1].ID != high.ID || page[2].ID != low.ID {
		t.Fatalf("unexpected order: %v %v %v", page[0].Title, page[1].Title, page[2].Title)
	}

	// Offset/limit slice the same ordering.
	second, err := ListPopularPage(ctx, db, year, 1, 1)
	if err != nil || len(second) != 1 || second[0].ID != high.ID {
		t.Fatalf("paged result unexpected: %+v err=%v", second, err)
	}

	// Beyond the data: empty page, no error.
	beyond, err := ListPopularPage(ctx, db, year, 10, 10)
	if err != nil || len(beyond) != 0 {
		t.Fatalf("beyond-range page unexpected: %+v err=%v", beyond, err)
	}
}

func TestSaveBook_PersistsChanges_AndTitleConflict(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	mustCreateBook(t, db, "Dune", 1965)
	b := mustCreateBook(t, db, "Hyperion", 1989)

	b.ViewCount = 7
	if err := SaveBook(ctx, db, b); err != nil {
		t.Fatalf("SaveBook: %v", err)
	}
	got, err := GetBook(ctx, db, b.ID)
	if err != nil || got.ViewCount != 7 {
		t.Fatalf("view count not persisted: %+v err=%v", got, err)
	}

	// Renaming onto a live title trips the index.
	b.Title = "dune"
	if err := SaveBook(ctx, db, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on title collision, got %v", err)
	}
}

func TestSoftDeleteBooks_PartitionsAndIgnoresRepeats(t *testing.T) {
	db := newBookRepoDB(t)
	ctx := context.Background()
	a := mustCreateBook(t, db, "Dune", 1965)
	b := mustCreateBook(t, db, "Hyperion", 1989)

	deleted, err := SoftDeleteBooks(ctx, db, []uint{a.ID, b.ID, 9999})
	if err != nil {
		t.Fatalf("SoftDeleteBooks: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected 2 deleted, got %v", deleted)
	}

	// A second pass finds nothing live.
	again, err := SoftDeleteBooks(ctx, db, []uint{a.ID, b.ID})
	if err != nil || len(again) != 0 {
		t.Fatalf("repeat delete should flip nothing: %v err=%v", again, err)
	}

	// Empty input short-circuits.
	none, err := SoftDeleteBooks(ctx, db, nil)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty input unexpected: %v err=%v", none, err)
	}
}
