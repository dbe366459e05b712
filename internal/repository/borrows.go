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

var borrowColumns = []string{"id", "book_isbn", "student_id", "staff_id", "borrow_date", "due_date", "status"}

func (r *repository) CreateBorrow(ctx context.Context, b model.Borrow) (model.Borrow, error) {
	query, args, err := qb.Insert(borrowsTableName).
		Columns("book_isbn", "student_id", "staff_id", "borrow_date", "due_date", "status").
		Values(b.BookISBN, b.StudentID, b.StaffID, b.BorrowDate, b.DueDate, model.BorrowActive).
		Suffix("returning id, book_isbn, student_id, staff_id, borrow_date, due_date, status").
		ToSql()
	if err != nil {
		return model.Borrow{}, err
	}

	var created model.Borrow
	if err := sqlx.GetContext(ctx, r.ext(ctx), &created, query, args...); err != nil {
		// The partial unique index backstops one open borrow per book.
		if isUniqueViolation(err) {
			return model.Borrow{}, errs.ErrConflict
		}
		r.log.Error("CreateBorrow", zap.String("q", query), zap.Any("args", args))
		return model.Borrow{}, err
	}
	return created, nil
}

func (r *repository) GetBorrow(ctx context.Context, id int) (model.Borrow, error) {
	query, args, err := qb.Select(borrowColumns...).
		From(borrowsTableName).
		Where(sq.Eq{"id": id}).
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

// MarkBorrowLate promotes active -> late. The status guard keeps the
// transition forward-only under concurrent reconcilers.
func (r *repository) MarkBorrowLate(ctx context.Context, id int) error {
	query, args, err := qb.Update(borrowsTableName).
		Set("status", model.BorrowLate).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": model.BorrowActive}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.ext(ctx).ExecContext(ctx, query, args...)
	return err
}

// MarkBorrowReturned closes the borrow from either open state.
func (r *repository) MarkBorrowReturned(ctx context.Context, id int) error {
	query, args, err := qb.Update(borrowsTableName).
		Set("status", model.BorrowReturned).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": []model.BorrowStatus{model.BorrowActive, model.BorrowLate}}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.ext(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrConflict
	}
	return nil
}

func (r *repository) ListOverdueBorrows(ctx context.Context, today model.Date) ([]model.Borrow, error) {
	query, args, err := qb.Select(borrowColumns...).
		From(borrowsTableName).
		Where(sq.Eq{"status": []model.BorrowStatus{model.BorrowActive, model.BorrowLate}}).
		Where(sq.Lt{"due_date": today}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var borrows []model.Borrow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &borrows, query, args...); err != nil {
		return nil, err
	}
	return borrows, nil
}

func (r *repository) CountOpenBorrowsByStudent(ctx context.Context, studentID int) (int, error) {
	q := `
	select count(*) from borrows
	where student_id = $1 and status in ('active', 'late')
`
	var count int
	if err := sqlx.GetContext(ctx, r.ext(ctx), &count, q, studentID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) CountOpenBorrowsByBook(ctx context.Context, isbn string) (int, error) {
	q := `
	select count(*) from borrows
	where book_isbn = $1 and status in ('active', 'late')
`
	var count int
	if err := sqlx.GetContext(ctx, r.ext(ctx), &count, q, isbn); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) ListBorrows(ctx context.Context, filter model.BorrowFilter) ([]model.BorrowRow, error) {
	q := qb.Select(
		"b.id as borrow_id",
		"b.student_id",
		"st.name as student_name",
		"sf.name as staff_name",
		"b.book_isbn",
		"bk.name as book_name",
		"b.borrow_date",
		"b.due_date",
		"b.status",
	).
		From(borrowsTableName + " b").
		Join(usersTableName + " st on st.id = b.student_id").
		Join(usersTableName + " sf on sf.id = b.staff_id").
		Join(booksTableName + " bk on bk.isbn = b.book_isbn").
		OrderBy("b.id")

	if filter.Status != "" {
		q = q.Where(sq.Eq{"b.status": filter.Status})
	}
	if filter.StudentID != 0 {
		q = q.Where(sq.Eq{"b.student_id": filter.StudentID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	r.log.Debug("ListBorrows", zap.String("query", query), zap.Any("args", args))

	var rows []model.BorrowRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListLateBorrows(ctx context.Context, today model.Date) ([]model.LateBorrowRow, error) {
	q := `
select b.id as borrow_id,
	b.student_id,
	st.name as student_name,
	st.email as student_email,
	st.phone as student_phone,
	b.book_isbn,
	bk.name as book_name,
	bk.author as book_author,
	b.borrow_date,
	b.due_date,
	($1::date - b.due_date) as days_late,
	b.status
from borrows b
	join users st on st.id = b.student_id
	join books bk on bk.isbn = b.book_isbn
where b.status in ('active', 'late') and b.due_date < $1
order by b.due_date`

	var rows []model.LateBorrowRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, q, today); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MemberBorrowings(ctx context.Context, studentID int) ([]model.MemberBorrowingRow, error) {
	q := `
select b.id as borrow_id,
	bk.isbn as book_isbn,
	bk.name as book_name,
	bk.author as book_author,
	bk.image as book_image,
	b.borrow_date,
	b.due_date,
	b.status,
	f.amount as fine_amount,
	f.status as fine_status,
	f.accrual_date as fine_date,
	f.payment_date
from borrows b
	join books bk on bk.isbn = b.book_isbn
	left join lateral (
		select amount, status, accrual_date, payment_date
		from fines
		where borrow_id = b.id
		order by id
		limit 1
	) f on true
where b.student_id = $1
order by b.borrow_date desc, b.id desc`

	var rows []model.MemberBorrowingRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, q, studentID); err != nil {
		return nil, err
	}
	return rows, nil
}
