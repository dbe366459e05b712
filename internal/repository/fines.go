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

var fineColumns = []string{"id", "borrow_id", "student_id", "staff_id", "accrual_date", "amount", "status", "payment_date"}

func (r *repository) GetFine(ctx context.Context, id int) (model.Fine, error) {
	query, args, err := qb.Select(fineColumns...).
		From(finesTableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Fine{}, err
	}

	var f model.Fine
	if err := sqlx.GetContext(ctx, r.ext(ctx), &f, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Fine{}, errs.ErrNotFound
		}
		return model.Fine{}, err
	}
	return f, nil
}

func (r *repository) GetUnpaidFineByBorrow(ctx context.Context, borrowID int) (model.Fine, error) {
	query, args, err := qb.Select(fineColumns...).
		From(finesTableName).
		Where(sq.Eq{"borrow_id": borrowID}).
		Where(sq.Eq{"status": model.FineUnpaid}).
		Limit(1).
		ToSql()
	if err != nil {
		return model.Fine{}, err
	}

	var f model.Fine
	if err := sqlx.GetContext(ctx, r.ext(ctx), &f, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Fine{}, errs.ErrNotFound
		}
		return model.Fine{}, err
	}
	return f, nil
}

func (r *repository) CreateFine(ctx context.Context, f model.Fine) (model.Fine, error) {
	query, args, err := qb.Insert(finesTableName).
		Columns("borrow_id", "student_id", "staff_id", "accrual_date", "amount", "status").
		Values(f.BorrowID, f.StudentID, f.StaffID, f.AccrualDate, f.Amount, model.FineUnpaid).
		Suffix("returning id, borrow_id, student_id, staff_id, accrual_date, amount, status, payment_date").
		ToSql()
	if err != nil {
		return model.Fine{}, err
	}

	var created model.Fine
	if err := sqlx.GetContext(ctx, r.ext(ctx), &created, query, args...); err != nil {
		// The partial unique index backstops one unpaid fine per borrow.
		if isUniqueViolation(err) {
			return model.Fine{}, errs.ErrConflict
		}
		r.log.Error("CreateFine", zap.String("q", query), zap.Any("args", args))
		return model.Fine{}, err
	}
	return created, nil
}

// UpdateFineAccrual refreshes amount and accrual date of a still-unpaid
// fine. Paid fines are frozen, hence the status guard.
func (r *repository) UpdateFineAccrual(ctx context.Context, id int, amount float64, accrual model.Date) error {
	query, args, err := qb.Update(finesTableName).
		Set("amount", amount).
		Set("accrual_date", accrual).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": model.FineUnpaid}).
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

func (r *repository) MarkFinePaid(ctx context.Context, id int, paymentDate model.Date) error {
	query, args, err := qb.Update(finesTableName).
		Set("status", model.FinePaid).
		Set("payment_date", paymentDate).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": model.FineUnpaid}).
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

func (r *repository) SumUnpaidFinesByStudent(ctx context.Context, studentID int) (float64, error) {
	q := `
	select coalesce(sum(amount), 0) from fines
	where student_id = $1 and status = 'unpaid'
`
	var sum float64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &sum, q, studentID); err != nil {
		return 0, err
	}
	return sum, nil
}

func (r *repository) CountUnpaidFinesByStudent(ctx context.Context, studentID int) (int, error) {
	q := `
	select count(*) from fines
	where student_id = $1 and status = 'unpaid'
`
	var count int
	if err := sqlx.GetContext(ctx, r.ext(ctx), &count, q, studentID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) ListFines(ctx context.Context, filter model.FineFilter) ([]model.FineRow, error) {
	q := qb.Select(
		"f.id as fine_id",
		"f.student_id",
		"st.name as student_name",
		"sf.name as staff_name",
		"f.borrow_id",
		"bk.name as book_name",
		"f.accrual_date",
		"f.amount",
		"f.status",
		"f.payment_date",
	).
		From(finesTableName + " f").
		Join(usersTableName + " st on st.id = f.student_id").
		Join(usersTableName + " sf on sf.id = f.staff_id").
		LeftJoin(borrowsTableName + " b on b.id = f.borrow_id").
		LeftJoin(booksTableName + " bk on bk.isbn = b.book_isbn").
		OrderBy("f.id")

	if filter.Status != "" {
		q = q.Where(sq.Eq{"f.status": filter.Status})
	}
	if filter.StudentID != 0 {
		q = q.Where(sq.Eq{"f.student_id": filter.StudentID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []model.FineRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
