package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/internal/events"
	"github.com/etekin/library-backend/internal/model"
)

func newCatalogFixture(t *testing.T) (*Catalog, *lendingFixture) {
	t.Helper()
	f := newLendingFixture(t)
	cat := NewCatalog(f.repo, f.svc, zap.NewNop())
	cat.now = func() time.Time { return time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC) }
	return cat, f
}

func TestAvailability(t *testing.T) {
	cat, f := newCatalogFixture(t)
	ctx := context.Background()

	free := f.repo.addBook(model.Book{ISBN: "978-100", Name: "Dune"})
	taken := f.repo.addBook(model.Book{ISBN: "978-101", Name: "Solaris", Status: model.BookBorrowed})
	due := model.NewDate(2024, time.March, 11)
	f.repo.addBorrow(model.Borrow{
		BookISBN: taken.ISBN, StudentID: f.student.ID, StaffID: f.staff.ID,
		BorrowDate: model.NewDate(2024, time.March, 1), DueDate: due,
	})

	avail, err := cat.Availability(ctx, free.ISBN)
	require.NoError(t, err)
	require.True(t, avail.Available)
	require.Nil(t, avail.ExpectedReturnDate)

	avail, err = cat.Availability(ctx, taken.ISBN)
	require.NoError(t, err)
	require.False(t, avail.Available)
	require.NotNil(t, avail.ExpectedReturnDate)
	require.Equal(t, due, *avail.ExpectedReturnDate)

	avail, err = cat.Availability(ctx, "missing")
	require.NoError(t, err)
	require.False(t, avail.Available)
	require.Nil(t, avail.ExpectedReturnDate)
}

func TestGetBook(t *testing.T) {
	cat, f := newCatalogFixture(t)
	ctx := context.Background()

	f.repo.addBook(model.Book{ISBN: "978-110", Name: "Neuromancer", Author: "William Gibson"})

	view, err := cat.GetBook(ctx, "978-110")
	require.NoError(t, err)
	require.Equal(t, "Neuromancer", view.Name)
	require.True(t, view.Available)

	_, err = cat.GetBook(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListBooksPagination(t *testing.T) {
	cat, f := newCatalogFixture(t)
	ctx := context.Background()

	f.repo.addBook(model.Book{ISBN: "978-120", Name: "A"})
	f.repo.addBook(model.Book{ISBN: "978-121", Name: "B"})
	f.repo.addBook(model.Book{ISBN: "978-122", Name: "C"})

	page, err := cat.ListBooks(ctx, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Equal(t, 3, page.Total)
	require.True(t, page.HasMore)

	page, err = cat.ListBooks(ctx, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	require.Equal(t, 2, page.Offset)
	require.False(t, page.HasMore)
}

func TestSearchBooks(t *testing.T) {
	cat, f := newCatalogFixture(t)
	ctx := context.Background()

	f.repo.addBook(model.Book{ISBN: "978-130", Name: "Dune", Author: "Frank Herbert"})
	f.repo.addBook(model.Book{ISBN: "978-131", Name: "Solaris", Author: "Stanislaw Lem"})

	_, err := cat.SearchBooks(ctx, "", 10, 0)
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	page, err := cat.SearchBooks(ctx, "herbert", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	require.Equal(t, "Dune", page.Results[0].Name)
}

func TestCreateBook(t *testing.T) {
	cat, _ := newCatalogFixture(t)
	ctx := context.Background()

	created, err := cat.CreateBook(ctx, model.CreateBookRequest{ISBN: "978-140", Name: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, created.Status)

	_, err = cat.CreateBook(ctx, model.CreateBookRequest{ISBN: "978-140", Name: "Dune", Author: "Frank Herbert"})
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestUpdateBookWithNoFields(t *testing.T) {
	cat, f := newCatalogFixture(t)
	ctx := context.Background()

	f.repo.addBook(model.Book{ISBN: "978-141", Name: "Dune", Author: "Frank Herbert"})

	// An empty payload is a no-op, not an error.
	book, err := cat.UpdateBook(ctx, "978-141", model.UpdateBookRequest{})
	require.NoError(t, err)
	require.Equal(t, "Dune", book.Name)
	require.Equal(t, "Frank Herbert", book.Author)
}

func TestDeleteBookWithOpenBorrow(t *testing.T) {
	cat, f := newCatalogFixture(t)
	lending := NewLending(f.repo, events.NewNop(), zap.NewNop(), testPolicy())
	lending.now = func() time.Time { return time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	book := f.repo.addBook(model.Book{ISBN: "978-150", Name: "Dune", Status: model.BookBorrowed})
	borrow := f.repo.addBorrow(model.Borrow{
		BookISBN: book.ISBN, StudentID: f.student.ID, StaffID: f.staff.ID,
		DueDate: model.NewDate(2024, time.March, 11),
	})

	err := cat.DeleteBook(ctx, book.ISBN)
	require.ErrorIs(t, err, errs.ErrConflict)

	require.NoError(t, lending.ReturnBorrow(ctx, f.staff.ID, borrow.ID))
	require.NoError(t, cat.DeleteBook(ctx, book.ISBN))

	_, err = f.repo.GetBook(ctx, book.ISBN)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
