package repository

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/internal/model"
)

var bookColumns = []string{"isbn", "name", "author", "publisher", "category", "explanation", "image", "year", "status"}

func (r *repository) GetBook(ctx context.Context, isbn string) (model.Book, error) {
	query, args, err := qb.Select(bookColumns...).
		From(booksTableName).
		Where(sq.Eq{"isbn": isbn}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Book{}, err
	}

	var book model.Book
	if err := sqlx.GetContext(ctx, r.ext(ctx), &book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, err
	}
	return book, nil
}

func (r *repository) ListBooks(ctx context.Context, limit, offset int) ([]model.Book, int, error) {
	query, args, err := qb.Select(bookColumns...).
		From(booksTableName).
		OrderBy("isbn").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	var books []model.Book
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &books, query, args...); err != nil {
		return nil, 0, err
	}

	var total int
	countQ, countArgs, err := qb.Select("count(*)").From(booksTableName).ToSql()
	if err != nil {
		return nil, 0, err
	}
	if err := sqlx.GetContext(ctx, r.ext(ctx), &total, countQ, countArgs...); err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (r *repository) SearchBooks(ctx context.Context, query string, limit, offset int) ([]model.Book, int, error) {
	pattern := "%" + query + "%"
	match := sq.Or{
		sq.ILike{"name": pattern},
		sq.ILike{"author": pattern},
		sq.ILike{"category": pattern},
		sq.ILike{"publisher": pattern},
	}

	q, args, err := qb.Select(bookColumns...).
		From(booksTableName).
		Where(match).
		OrderBy("isbn").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	r.log.Debug("SearchBooks", zap.String("query", q), zap.Any("args", args))

	var books []model.Book
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &books, q, args...); err != nil {
		return nil, 0, err
	}

	var total int
	countQ, countArgs, err := qb.Select("count(*)").From(booksTableName).Where(match).ToSql()
	if err != nil {
		return nil, 0, err
	}
	if err := sqlx.GetContext(ctx, r.ext(ctx), &total, countQ, countArgs...); err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (r *repository) CreateBook(ctx context.Context, book model.Book) error {
	query, args, err := qb.Insert(booksTableName).
		Columns(bookColumns...).
		Values(book.ISBN, book.Name, book.Author, book.Publisher, book.Category,
			book.Explanation, book.Image, book.Year, book.Status).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := r.ext(ctx).ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return err
	}
	return nil
}

func (r *repository) UpdateBook(ctx context.Context, isbn string, req model.UpdateBookRequest) error {
	upd := qb.Update(booksTableName).Where(sq.Eq{"isbn": isbn})
	if req.Name != "" {
		upd = upd.Set("name", req.Name)
	}
	if req.Author != "" {
		upd = upd.Set("author", req.Author)
	}
	if req.Publisher != "" {
		upd = upd.Set("publisher", req.Publisher)
	}
	if req.Category != "" {
		upd = upd.Set("category", req.Category)
	}
	if req.Explanation != "" {
		upd = upd.Set("explanation", req.Explanation)
	}
	if req.Image != "" {
		upd = upd.Set("image", req.Image)
	}
	if req.Year != nil {
		upd = upd.Set("year", *req.Year)
	}

	query, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *repository) DeleteBook(ctx context.Context, isbn string) error {
	query, args, err := qb.Delete(booksTableName).Where(sq.Eq{"isbn": isbn}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *repository) SetBookStatus(ctx context.Context, isbn string, status model.BookStatus) error {
	query, args, err := qb.Update(booksTableName).
		Set("status", status).
		Where(sq.Eq{"isbn": isbn}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// LatestOpenBorrowByBook returns the active/late borrow with the latest due
// date, the expected-return source for availability.
func (r *repository) LatestOpenBorrowByBook(ctx context.Context, isbn string) (model.Borrow, error) {
	query, args, err := qb.Select(borrowColumns...).
		From(borrowsTableName).
		Where(sq.Eq{"book_isbn": isbn}).
		Where(sq.Eq{"status": []model.BorrowStatus{model.BorrowActive, model.BorrowLate}}).
		OrderBy("due_date desc").
		Limit(1).
		ToSql()
	if err != nil {
		return model.Borrow{}, err
	}

	var b model.Borrow
	if err := sqlx.GetContext(ctx, r.ext(ctx), &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Borrow{}, errs.ErrNotFound
		}
		return model.Borrow{}, err
	}
	return b, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
