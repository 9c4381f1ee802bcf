// Book HTTP handlers.
//
// This file exposes the REST endpoints for the catalog:
//   - GET    /books        (popular listing, paginated, ETag support)
//   - GET    /books/{id}   (detail; bumps the view counter)
//   - POST   /books        (create, idempotency replay support)
//   - POST   /books/bulk   (bulk create with partial-success semantics)
//   - PATCH  /books/{id}   (field-level update)
//   - DELETE /books/{id}   (soft delete)
//   - DELETE /books/bulk   (bulk soft delete with partial not-found)
//
// Handlers are transport-thin: they validate shape (lengths, year range,
// pagination bounds), call the application service, and translate typed
// service errors into HTTP responses:
//
//	not found            → 404
//	duplicate title      → 409
//	all duplicates       → 409 (payload carries the duplicate list)
//	partial duplicates   → 207 Multi-Status (a result, not an error)
//	no changes           → 400
//	empty bulk list      → 400
//	storage conflict     → 409 (pre-check race, constraint fired)
//	anything else        → 500
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-books-backend/internal/domain"
	"github.com/tbourn/go-books-backend/internal/http/middleware"
	"github.com/tbourn/go-books-backend/internal/repo"
	"github.com/tbourn/go-books-backend/internal/services"
	"github.com/tbourn/go-books-backend/internal/utils"
)

// idempotencyScope tags idempotency records written by the create endpoints.
const idempotencyScope = "books"

// idempotencyTTL is how long a stored create result can be replayed.
const idempotencyTTL = 24 * time.Hour

//
// Service contract (context-aware)
//

// BookService defines the catalog operations consumed by HTTP handlers.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type BookService interface {
	// ListPopular returns one page of books ranked by popularity score.
	ListPopular(ctx context.Context, page, pageSize int) (*services.PopularBooksPage, error)
	// Get returns a book's detail view and increments its view count.
	Get(ctx context.Context, id uint) (*services.BookDetail, error)
	// Create inserts a single book, rejecting duplicate titles.
	Create(ctx context.Context, in services.CreateBookInput) (*services.BookDetail, error)
	// CreateBulk creates a batch, partitioning created and duplicate entries.
	CreateBulk(ctx context.Context, reqs []services.CreateBookInput) (*services.BulkCreateResult, error)
	// Update applies a field-level update, rejecting no-op requests.
	Update(ctx context.Context, id uint, in services.UpdateBookInput) error
	// Delete soft-deletes a single book.
	Delete(ctx context.Context, id uint) error
	// DeleteBulk soft-deletes a batch, reporting unresolved ids.
	DeleteBulk(ctx context.Context, ids []uint) (*services.BulkDeleteResult, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for the catalog. It depends on the
// abstract BookService interface to keep transport concerns separate from
// business logic.
type Handlers struct {
	bookSvc BookService
}

// New constructs a Handlers instance bound to the given service.
func New(bookSvc BookService) *Handlers {
	return &Handlers{bookSvc: bookSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware), falling back to the "X-User-ID" header and finally "demo-user".
// Identity only scopes idempotency records; the catalog itself is shared.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := c.GetHeader("X-User-ID"); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateBookRequest is the JSON payload for creating a book.
type CreateBookRequest struct {
	// Title must be 2–200 characters and unique among non-deleted books.
	Title string `json:"title" binding:"required,min=2,max=200" example:"The Left Hand of Darkness"`
	// Author must be 2–200 characters.
	Author string `json:"author" binding:"required,min=2,max=200" example:"Ursula K. Le Guin"`
	// PublicationYear must be in [1300, 2025].
	PublicationYear int `json:"publication_year" binding:"required,gte=1300,lte=2025" example:"1969"`
}

// UpdateBookRequest is the JSON payload for a field-level update. Title and
// Author are optional (empty = leave unchanged); PublicationYear is required
// because the field has no absent sentinel — send the current value to keep it.
type UpdateBookRequest struct {
	Title           string `json:"title" binding:"omitempty,min=2,max=200" example:"The Dispossessed"`
	Author          string `json:"author" binding:"omitempty,min=2,max=200" example:"Ursula K. Le Guin"`
	PublicationYear int    `json:"publication_year" binding:"required,gte=1300,lte=2025" example:"1974"`
}

// DeleteBooksRequest is the JSON payload for bulk deletion.
type DeleteBooksRequest struct {
	IDs []uint `json:"ids" binding:"required,min=1" example:"1,2,3"`
}

// BulkCreateResponse wraps a bulk create outcome with a human-readable note.
// Code is set only on the all-duplicates rejection so clients keep a stable
// machine-readable taxonomy even when the body carries a result payload.
type BulkCreateResponse struct {
	Code    string                     `json:"code,omitempty"`
	Message string                     `json:"message,omitempty"`
	Result  *services.BulkCreateResult `json:"result"`
}

// BulkDeleteResponse reports a bulk delete outcome when some ids were not found.
type BulkDeleteResponse struct {
	Message     string `json:"message"`
	DeletedIDs  []uint `json:"deleted_ids"`
	NotFoundIDs []uint `json:"not_found_ids"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 10
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// bookID parses the :id path parameter as an unsigned integer.
func bookID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// svcDB exposes the concrete service's DB handle for best-effort extras
// (ETag stats, idempotency records). Returns nil for fakes in tests.
func (h *Handlers) svcDB() *gorm.DB {
	if svc, ok := h.bookSvc.(*services.BookService); ok {
		return svc.DB
	}
	return nil
}

//
// Handlers
//

// ListBooks godoc
// @ID          listBooks
// @Summary     List popular books (paginated)
// @Description Returns a page of non-deleted books ranked by popularity score
// @Description (view count and publication age), recomputed per request.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Books
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(10)
//
// @Success     200  {object} services.PopularBooksPage
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /books [get]
func (h *Handlers) ListBooks(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.svcDB(); db != nil {
		count, views, err := repo.BooksStats(ctx, db)
		if err == nil {
			etag := fmt.Sprintf(`W/"books:%d:%d:%d:%d"`, count, views, page, pageSize)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	result, err := h.bookSvc.ListPopular(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, result)
}

// GetBook godoc
// @ID          getBook
// @Summary     Get a single book
// @Description Returns the detail view of a non-deleted book. Every call
// @Description increments the stored view count by one; the returned view
// @Description count and popularity score reflect this read.
// @Tags        Books
// @Produce     json
//
// @Param       id  path  int  true  "Book ID"  minimum(1)
//
// @Success     200  {object} services.BookDetail
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Book not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /books/{id} [get]
func (h *Handlers) GetBook(c *gin.Context) {
	id, okID := bookID(c)
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "book id must be a positive integer")
		return
	}

	detail, err := h.bookSvc.Get(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBookNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "book not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, detail)
}

// CreateBook godoc
// @ID          createBook
// @Summary     Create a book
// @Description Creates a book with a unique (case-insensitive) title among
// @Description non-deleted books. Supports idempotency via the
// @Description Idempotency-Key header (same key → same created book).
// @Tags        Books
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.CreateBookRequest  true  "Create book payload"
//
// @Success     201  {object} services.BookDetail
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Duplicate title"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /books [post]
func (h *Handlers) CreateBook(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			"title and author must be 2–200 chars, publication_year in [1300, 2025]")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – return the previously created book.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if db := h.svcDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, currentUser, idempotencyScope, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetBook(ctx, db, rec.BookID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, rec.Status, replayDetail(prev))
					return
				}
			}
		}
	}

	detail, err := h.bookSvc.Create(ctx, services.CreateBookInput{
		Title:           req.Title,
		Author:          req.Author,
		PublicationYear: req.PublicationYear,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateTitle):
			fail(c, http.StatusConflict, ErrCodeConflict, "a book with the same title already exists")
		case errors.Is(err, repo.ErrConflict):
			fail(c, http.StatusConflict, ErrCodeConflict, "book was created concurrently")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if db := h.svcDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, currentUser, idempotencyScope, idemKey,
				detail.ID, http.StatusCreated, idempotencyTTL)
		}
	}

	ok(c, http.StatusCreated, detail)
}

// CreateBooks godoc
// @ID          createBooks
// @Summary     Create books in bulk
// @Description Creates a batch of books in one insert. Entries whose titles
// @Description already exist (case-insensitive) are reported as duplicates;
// @Description the remainder is created. A batch where every title collides
// @Description is rejected outright with 409 and creates nothing.
// @Tags        Books
// @Accept      json
// @Produce     json
//
// @Param       body  body  []handlers.CreateBookRequest  true  "Books to create"
//
// @Success     201  {object} handlers.BulkCreateResponse "All created"
// @Success     207  {object} handlers.BulkCreateResponse "Partially created"
// @Failure     400  {object} handlers.ErrorResponse      "Bad request / empty list"
// @Failure     409  {object} handlers.BulkCreateResponse "All duplicates"
// @Failure     500  {object} handlers.ErrorResponse      "Internal error"
// @Router      /books/bulk [post]
func (h *Handlers) CreateBooks(c *gin.Context) {
	var reqs []CreateBookRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if len(reqs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no books provided")
		return
	}
	for _, r := range reqs {
		if !validCreate(r) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest,
				"title and author must be 2–200 chars, publication_year in [1300, 2025]")
			return
		}
	}

	inputs := make([]services.CreateBookInput, 0, len(reqs))
	for _, r := range reqs {
		inputs = append(inputs, services.CreateBookInput{
			Title:           r.Title,
			Author:          r.Author,
			PublicationYear: r.PublicationYear,
		})
	}

	result, err := h.bookSvc.CreateBulk(c.Request.Context(), inputs)
	if err != nil {
		var all *services.AllDuplicatesError
		switch {
		case errors.As(err, &all):
			c.JSON(http.StatusConflict, BulkCreateResponse{
				Code:    ErrCodeAllDuplicates,
				Message: "all provided books already exist",
				Result:  &services.BulkCreateResult{Created: []services.BookDetail{}, Duplicates: all.Duplicates},
			})
		case errors.Is(err, services.ErrNoBooksProvided):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no books provided")
		case errors.Is(err, repo.ErrConflict):
			fail(c, http.StatusConflict, ErrCodeConflict, "a book was created concurrently")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	if len(result.Duplicates) > 0 {
		ok(c, http.StatusMultiStatus, BulkCreateResponse{
			Message: "some books were created, but some already existed",
			Result:  result,
		})
		return
	}
	ok(c, http.StatusCreated, BulkCreateResponse{Result: result})
}

// UpdateBook godoc
// @ID          updateBook
// @Summary     Update a book
// @Description Applies a field-level update. Empty title/author are left
// @Description unchanged; publication_year must always be supplied. A request
// @Description that changes nothing is rejected with 400.
// @Tags        Books
// @Accept      json
// @Produce     json
//
// @Param       id    path  int                          true  "Book ID"  minimum(1)
// @Param       body  body  handlers.UpdateBookRequest  true  "Update payload"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request / no changes"
// @Failure     404  {object} handlers.ErrorResponse "Book not found"
// @Failure     409  {object} handlers.ErrorResponse "Duplicate title"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /books/{id} [patch]
func (h *Handlers) UpdateBook(c *gin.Context) {
	id, okID := bookID(c)
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "book id must be a positive integer")
		return
	}

	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			"title/author must be 2–200 chars when set, publication_year in [1300, 2025]")
		return
	}

	err := h.bookSvc.Update(c.Request.Context(), id, services.UpdateBookInput{
		Title:           req.Title,
		Author:          req.Author,
		PublicationYear: req.PublicationYear,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBookNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "book not found")
		case errors.Is(err, services.ErrNoChanges):
			fail(c, http.StatusBadRequest, ErrCodeNoChanges, "no changes were made to the book")
		case errors.Is(err, services.ErrDuplicateTitle):
			fail(c, http.StatusConflict, ErrCodeConflict, "a book with the same title already exists")
		case errors.Is(err, repo.ErrConflict):
			fail(c, http.StatusConflict, ErrCodeConflict, "title was taken concurrently")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		}
		return
	}
	noContent(c)
}

// DeleteBook godoc
// @ID          deleteBook
// @Summary     Delete a book
// @Description Soft-deletes the book: the row is retained but never surfaces
// @Description in subsequent reads, and its title becomes reusable.
// @Tags        Books
// @Produce     json
//
// @Param       id  path  int  true  "Book ID"  minimum(1)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Book not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /books/{id} [delete]
func (h *Handlers) DeleteBook(c *gin.Context) {
	id, okID := bookID(c)
	if !okID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "book id must be a positive integer")
		return
	}

	if err := h.bookSvc.Delete(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, services.ErrBookNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "book not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		}
		return
	}
	noContent(c)
}

// DeleteBooks godoc
// @ID          deleteBooks
// @Summary     Delete books in bulk
// @Description Soft-deletes every id that resolves to a non-deleted book.
// @Description Unresolved ids are reported back, not treated as an error:
// @Description 204 when everything was deleted, 200 with the partition when
// @Description some ids were not found.
// @Tags        Books
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.DeleteBooksRequest  true  "Book IDs to delete"
//
// @Success     204  {string} string "No Content (all deleted)"
// @Success     200  {object} handlers.BulkDeleteResponse "Partial: some ids not found"
// @Failure     400  {object} handlers.ErrorResponse "Bad request / empty list"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /books/bulk [delete]
func (h *Handlers) DeleteBooks(c *gin.Context) {
	var req DeleteBooksRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no book ids provided")
		return
	}

	result, err := h.bookSvc.DeleteBulk(c.Request.Context(), req.IDs)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		return
	}

	if len(result.NotFoundIDs) > 0 {
		ok(c, http.StatusOK, BulkDeleteResponse{
			Message:     "some books were deleted, but some were not found",
			DeletedIDs:  result.DeletedIDs,
			NotFoundIDs: result.NotFoundIDs,
		})
		return
	}
	noContent(c)
}

// validCreate re-applies the binding constraints for bulk elements, since gin
// does not dive into slice elements bound at the top level.
func validCreate(r CreateBookRequest) bool {
	if n := len(r.Title); n < 2 || n > 200 {
		return false
	}
	if n := len(r.Author); n < 2 || n > 200 {
		return false
	}
	return r.PublicationYear >= 1300 && r.PublicationYear <= 2025
}

// replayDetail rebuilds a detail view for an idempotent replay without
// bumping the view counter.
func replayDetail(b *domain.Book) *services.BookDetail {
	return &services.BookDetail{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		PublicationYear: b.PublicationYear,
		ViewCount:       b.ViewCount,
		PopularityScore: b.Popularity(time.Now().UTC().Year()),
	}
}
