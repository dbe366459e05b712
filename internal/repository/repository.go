package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/etekin/library-backend/internal/model"
)

type Repository interface {
	// WithinTx runs fn with a transaction carried in the context; every
	// repository call made with that context joins the same transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Catalog store.
	GetBook(ctx context.Context, isbn string) (model.Book, error)
	ListBooks(ctx context.Context, limit, offset int) ([]model.Book, int, error)
	SearchBooks(ctx context.Context, query string, limit, offset int) ([]model.Book, int, error)
	CreateBook(ctx context.Context, book model.Book) error
	UpdateBook(ctx context.Context, isbn string, req model.UpdateBookRequest) error
	DeleteBook(ctx context.Context, isbn string) error
	SetBookStatus(ctx context.Context, isbn string, status model.BookStatus) error
	LatestOpenBorrowByBook(ctx context.Context, isbn string) (model.Borrow, error)

	// Membership store.
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	GetUserByID(ctx context.Context, id int) (model.User, error)
	GetUserByRole(ctx context.Context, id int, role model.Role) (model.User, error)
	CreateStudent(ctx context.Context, user model.User) (model.User, error)
	UpdateUserContact(ctx context.Context, id int, email, phone, passwordHash string) error
	DeleteStudent(ctx context.Context, id int) error
	ListMembers(ctx context.Context) ([]model.MemberRow, error)
	SearchMembers(ctx context.Context, query string) ([]model.MemberRow, error)

	// Borrow ledger.
	CreateBorrow(ctx context.Context, b model.Borrow) (model.Borrow, error)
	GetBorrow(ctx context.Context, id int) (model.Borrow, error)
	MarkBorrowLate(ctx context.Context, id int) error
	MarkBorrowReturned(ctx context.Context, id int) error
	ListOverdueBorrows(ctx context.Context, today model.Date) ([]model.Borrow, error)
	CountOpenBorrowsByStudent(ctx context.Context, studentID int) (int, error)
	CountOpenBorrowsByBook(ctx context.Context, isbn string) (int, error)
	ListBorrows(ctx context.Context, filter model.BorrowFilter) ([]model.BorrowRow, error)
	ListLateBorrows(ctx context.Context, today model.Date) ([]model.LateBorrowRow, error)
	MemberBorrowings(ctx context.Context, studentID int) ([]model.MemberBorrowingRow, error)

	// Fine ledger.
	GetFine(ctx context.Context, id int) (model.Fine, error)
	GetUnpaidFineByBorrow(ctx context.Context, borrowID int) (model.Fine, error)
	CreateFine(ctx context.Context, f model.Fine) (model.Fine, error)
	UpdateFineAccrual(ctx context.Context, id int, amount float64, accrual model.Date) error
	MarkFinePaid(ctx context.Context, id int, paymentDate model.Date) error
	SumUnpaidFinesByStudent(ctx context.Context, studentID int) (float64, error)
	CountUnpaidFinesByStudent(ctx context.Context, studentID int) (int, error)
	ListFines(ctx context.Context, filter model.FineFilter) ([]model.FineRow, error)
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
	}, nil
}

const (
	usersTableName   = `users`
	booksTableName   = `books`
	borrowsTableName = `borrows`
	finesTableName   = `fines`
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type txKey struct{}

func (r *repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ext returns the transaction joined to ctx, or the pool.
func (r *repository) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}
