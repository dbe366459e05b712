package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/internal/model"
	"github.com/etekin/library-backend/internal/repository"
)

// Reconciler freshens lifecycle state before reads that depend on it.
type Reconciler interface {
	Reconcile(ctx context.Context, today model.Date) error
}

const (
	defaultPageSize = 50
	maxListLimit    = 100
	maxSearchLimit  = 50
)

type Catalog struct {
	repo repository.Repository
	rec  Reconciler
	log  *zap.Logger

	now func() time.Time
}

func NewCatalog(repo repository.Repository, rec Reconciler, log *zap.Logger) *Catalog {
	return &Catalog{
		repo: repo,
		rec:  rec,
		log:  log.Named("catalog"),
		now:  time.Now,
	}
}

func (s *Catalog) ListBooks(ctx context.Context, limit, offset int) (model.ListBooks, error) {
	if err := s.rec.Reconcile(ctx, model.ToDate(s.now())); err != nil {
		return model.ListBooks{}, err
	}
	limit = clampLimit(limit, maxListLimit)

	books, total, err := s.repo.ListBooks(ctx, limit, offset)
	if err != nil {
		return model.ListBooks{}, err
	}
	return s.annotate(ctx, books, total, offset, limit)
}

func (s *Catalog) SearchBooks(ctx context.Context, query string, limit, offset int) (model.ListBooks, error) {
	if query == "" {
		return model.ListBooks{}, errors.Wrap(errs.ErrInvalidInput, "search query is required")
	}
	if err := s.rec.Reconcile(ctx, model.ToDate(s.now())); err != nil {
		return model.ListBooks{}, err
	}
	limit = clampLimit(limit, maxSearchLimit)

	books, total, err := s.repo.SearchBooks(ctx, query, limit, offset)
	if err != nil {
		return model.ListBooks{}, err
	}
	return s.annotate(ctx, books, total, offset, limit)
}

func (s *Catalog) GetBook(ctx context.Context, isbn string) (model.BookView, error) {
	if err := s.rec.Reconcile(ctx, model.ToDate(s.now())); err != nil {
		return model.BookView{}, err
	}
	book, err := s.repo.GetBook(ctx, isbn)
	if err != nil {
		return model.BookView{}, err
	}
	avail, err := s.Availability(ctx, isbn)
	if err != nil {
		return model.BookView{}, err
	}
	return model.BookView{Book: book, Availability: avail}, nil
}

// Availability derives the live answer from the borrow ledger: the open
// borrow with the latest due date sets the expected return. A missing book
// reports unavailable with no date, which is a defensive default rather
// than a real availability statement.
func (s *Catalog) Availability(ctx context.Context, isbn string) (model.Availability, error) {
	if _, err := s.repo.GetBook(ctx, isbn); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Availability{Available: false}, nil
		}
		return model.Availability{}, err
	}

	open, err := s.repo.LatestOpenBorrowByBook(ctx, isbn)
	switch {
	case err == nil:
		due := open.DueDate
		return model.Availability{Available: false, ExpectedReturnDate: &due}, nil
	case errors.Is(err, errs.ErrNotFound):
		return model.Availability{Available: true}, nil
	default:
		return model.Availability{}, err
	}
}

func (s *Catalog) CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error) {
	book := model.Book{
		ISBN:        req.ISBN,
		Name:        req.Name,
		Author:      req.Author,
		Publisher:   req.Publisher,
		Category:    req.Category,
		Explanation: req.Explanation,
		Image:       req.Image,
		Year:        req.Year,
		Status:      model.BookAvailable,
	}
	if err := s.repo.CreateBook(ctx, book); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return model.Book{}, errors.Wrap(errs.ErrConflict, "book already exists")
		}
		return model.Book{}, err
	}
	return book, nil
}

func (s *Catalog) UpdateBook(ctx context.Context, isbn string, req model.UpdateBookRequest) (model.Book, error) {
	// Nothing to change; answer with the current record.
	if req == (model.UpdateBookRequest{}) {
		return s.repo.GetBook(ctx, isbn)
	}
	if err := s.repo.UpdateBook(ctx, isbn, req); err != nil {
		return model.Book{}, err
	}
	return s.repo.GetBook(ctx, isbn)
}

// DeleteBook refuses while any non-returned borrow references the book.
func (s *Catalog) DeleteBook(ctx context.Context, isbn string) error {
	if _, err := s.repo.GetBook(ctx, isbn); err != nil {
		return err
	}
	open, err := s.repo.CountOpenBorrowsByBook(ctx, isbn)
	if err != nil {
		return err
	}
	if open > 0 {
		return errors.Wrap(errs.ErrConflict, "book has open borrows")
	}
	return s.repo.DeleteBook(ctx, isbn)
}

func (s *Catalog) annotate(ctx context.Context, books []model.Book, total, offset, limit int) (model.ListBooks, error) {
	views := make([]model.BookView, 0, len(books))
	for _, book := range books {
		avail, err := s.Availability(ctx, book.ISBN)
		if err != nil {
			return model.ListBooks{}, err
		}
		views = append(views, model.BookView{Book: book, Availability: avail})
	}
	return model.ListBooks{
		Results: views,
		Count:   len(views),
		Total:   total,
		Offset:  offset,
		HasMore: offset+limit < total,
	}, nil
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > max {
		return max
	}
	return limit
}
