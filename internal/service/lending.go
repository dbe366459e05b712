package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/etekin/library-backend/config"
	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/internal/events"
	"github.com/etekin/library-backend/internal/model"
	"github.com/etekin/library-backend/internal/repository"
	"github.com/etekin/library-backend/pkg/auth"
)

// Lending owns the borrow/fine lifecycle: the borrow state machine
// (active -> late -> returned), fine accrual, and the reconciler that keeps
// the two ledgers and the book statuses in sync. Every call site that needs
// current state goes through Reconcile instead of re-implementing the sweep.
type Lending struct {
	repo   repository.Repository
	pub    events.Publisher
	log    *zap.Logger
	policy config.Lending

	now func() time.Time
}

func NewLending(repo repository.Repository, pub events.Publisher, log *zap.Logger, policy config.Lending) *Lending {
	return &Lending{
		repo:   repo,
		pub:    pub,
		log:    log.Named("lending"),
		policy: policy,
		now:    time.Now,
	}
}

// Reconcile sweeps every open borrow whose due date is strictly before
// today: promotes active -> late, marks the book late, and creates or
// refreshes the borrow's unpaid fine. Idempotent for a fixed today.
//
// Fines created here are attributed to the staff identity on the request
// context; without one (a student logging in), the configured system staff
// identity is used instead.
func (s *Lending) Reconcile(ctx context.Context, today model.Date) error {
	overdue, err := s.repo.ListOverdueBorrows(ctx, today)
	if err != nil {
		return errors.Wrap(err, "list overdue borrows")
	}

	for _, b := range overdue {
		b := b
		if err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
			return s.reconcileBorrow(ctx, b, today)
		}); err != nil {
			// Borrows are independent; one failed sweep must not block the rest.
			s.log.Error("reconcile borrow", zap.Int("borrow_id", b.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Lending) reconcileBorrow(ctx context.Context, b model.Borrow, today model.Date) error {
	if b.Status == model.BorrowActive {
		if err := s.repo.MarkBorrowLate(ctx, b.ID); err != nil {
			return errors.Wrap(err, "mark borrow late")
		}
		s.pub.Publish(model.LendingEvent{
			Kind:     model.EventBorrowLate,
			BorrowID: b.ID,
			BookISBN: b.BookISBN,
			Date:     today,
		})
	}

	// The book status is synced for every overdue borrow, not only on the
	// active -> late edge, so a drifted cache heals on the next sweep.
	book, err := s.repo.GetBook(ctx, b.BookISBN)
	if err != nil {
		return errors.Wrap(err, "get book")
	}
	if book.Status != model.BookLate {
		if err := s.repo.SetBookStatus(ctx, b.BookISBN, model.BookLate); err != nil {
			return errors.Wrap(err, "set book status")
		}
	}
	return s.syncFine(ctx, b, today, 0)
}

// syncFine computes the fine snapshot for an overdue borrow and upserts the
// single unpaid fine row: updated in place while unpaid, never duplicated.
// actorID, when non-zero, names the staff member a created fine is
// attributed to; the sweep passes zero and attribution falls back to the
// request identity or the system staff account.
func (s *Lending) syncFine(ctx context.Context, b model.Borrow, today model.Date, actorID int) error {
	daysLate := b.DueDate.DaysUntil(today)
	if daysLate <= 0 {
		return nil
	}
	amount := float64(daysLate) * s.policy.DailyRate

	fine, err := s.repo.GetUnpaidFineByBorrow(ctx, b.ID)
	switch {
	case err == nil:
		return s.repo.UpdateFineAccrual(ctx, fine.ID, amount, today)
	case errors.Is(err, errs.ErrNotFound):
		staffID, err := s.fineStaff(ctx, actorID)
		if err != nil {
			// Degraded mode: without any staff identity the fine is skipped,
			// not failed. The next sweep with one will create it.
			s.log.Warn("no staff identity resolvable, skipping fine",
				zap.Int("borrow_id", b.ID), zap.Error(err))
			return nil
		}
		borrowID := b.ID
		created, err := s.repo.CreateFine(ctx, model.Fine{
			BorrowID:    &borrowID,
			StudentID:   b.StudentID,
			StaffID:     staffID,
			AccrualDate: today,
			Amount:      amount,
		})
		if err != nil {
			if errors.Is(err, errs.ErrConflict) {
				// Lost the race to a concurrent sweep; its row is ours too.
				return nil
			}
			return errors.Wrap(err, "create fine")
		}
		s.pub.Publish(model.LendingEvent{
			Kind:      model.EventFineAccrued,
			BorrowID:  b.ID,
			FineID:    created.ID,
			StudentID: b.StudentID,
			Amount:    amount,
			Date:      today,
		})
		return nil
	default:
		return errors.Wrap(err, "get unpaid fine")
	}
}

// fineStaff resolves who an auto-created fine is attributed to: the explicit
// actor first, then the staff identity on the request context, else the
// configured system staff identity.
func (s *Lending) fineStaff(ctx context.Context, actorID int) (int, error) {
	if actorID != 0 {
		return actorID, nil
	}
	if id, err := auth.FromContext(ctx); err == nil && id.IsStaff() {
		return id.UserID, nil
	}
	system, err := s.repo.GetUserByUsername(ctx, s.policy.SystemStaffUsername)
	if err != nil {
		return 0, errors.Wrap(err, "system staff lookup")
	}
	if system.Role != model.RoleStaff {
		return 0, errors.Errorf("user %q is not staff", s.policy.SystemStaffUsername)
	}
	return system.ID, nil
}

// CreateBorrow records a new loan. Preconditions run in order, first
// failure wins, against state freshened by a reconcile pass.
func (s *Lending) CreateBorrow(ctx context.Context, staffID int, req model.CreateBorrowRequest) (model.CreatedBorrow, error) {
	today := model.ToDate(s.now())
	if err := s.Reconcile(ctx, today); err != nil {
		return model.CreatedBorrow{}, err
	}

	student, err := s.repo.GetUserByRole(ctx, req.StudentID, model.RoleStudent)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.CreatedBorrow{}, errors.Wrap(errs.ErrNotFound, "student")
		}
		return model.CreatedBorrow{}, err
	}
	book, err := s.repo.GetBook(ctx, req.ISBN)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.CreatedBorrow{}, errors.Wrap(errs.ErrNotFound, "book")
		}
		return model.CreatedBorrow{}, err
	}
	if book.Status != model.BookAvailable {
		return model.CreatedBorrow{}, errors.Wrap(errs.ErrConflict, "book is not available")
	}

	open, err := s.repo.CountOpenBorrowsByStudent(ctx, student.ID)
	if err != nil {
		return model.CreatedBorrow{}, err
	}
	if open >= s.policy.MaxOpenBorrows {
		return model.CreatedBorrow{}, errors.Wrap(errs.ErrLimitExceeded, "maximum number of borrowed books reached")
	}

	unpaid, err := s.repo.SumUnpaidFinesByStudent(ctx, student.ID)
	if err != nil {
		return model.CreatedBorrow{}, err
	}
	if unpaid >= s.policy.MaxUnpaidFines {
		return model.CreatedBorrow{}, errors.Wrap(errs.ErrLimitExceeded, "unpaid fines exceed the allowed limit")
	}

	if !req.DueDate.After(req.BorrowDate.Time) {
		return model.CreatedBorrow{}, errors.Wrap(errs.ErrInvalidInput, "due date must be after borrow date")
	}
	if req.BorrowDate.DaysUntil(req.DueDate) > s.policy.MaxLoanDays {
		return model.CreatedBorrow{}, errors.Wrapf(errs.ErrInvalidInput, "loan duration exceeds %d days", s.policy.MaxLoanDays)
	}

	var created model.Borrow
	if err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		created, err = s.repo.CreateBorrow(ctx, model.Borrow{
			BookISBN:   book.ISBN,
			StudentID:  student.ID,
			StaffID:    staffID,
			BorrowDate: req.BorrowDate,
			DueDate:    req.DueDate,
		})
		if err != nil {
			if errors.Is(err, errs.ErrConflict) {
				// Lost the book to a concurrent lend between the
				// availability check and the insert.
				return errors.Wrap(errs.ErrConflict, "book is not available")
			}
			return err
		}
		return s.repo.SetBookStatus(ctx, book.ISBN, model.BookBorrowed)
	}); err != nil {
		return model.CreatedBorrow{}, err
	}

	s.pub.Publish(model.LendingEvent{
		Kind:      model.EventBorrowCreated,
		BorrowID:  created.ID,
		BookISBN:  created.BookISBN,
		StudentID: created.StudentID,
		Date:      today,
	})

	return model.CreatedBorrow{
		ID:          created.ID,
		StudentName: student.Name,
		BookName:    book.Name,
		BorrowDate:  created.BorrowDate,
		DueDate:     created.DueDate,
		Status:      created.Status,
	}, nil
}

// ReturnBorrow closes a loan. An overdue return synchronizes the fine
// through the same path the reconciler uses, so an existing unpaid fine is
// refreshed rather than left at its last sweep amount; a fine created here
// is attributed to the staff member processing the return.
func (s *Lending) ReturnBorrow(ctx context.Context, staffID, borrowID int) error {
	b, err := s.repo.GetBorrow(ctx, borrowID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errors.Wrap(errs.ErrNotFound, "borrow record")
		}
		return err
	}
	if b.Status == model.BorrowReturned {
		return errors.Wrap(errs.ErrConflict, "book already returned")
	}

	today := model.ToDate(s.now())
	if err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if today.After(b.DueDate.Time) {
			if err := s.syncFine(ctx, b, today, staffID); err != nil {
				return err
			}
		}
		if err := s.repo.MarkBorrowReturned(ctx, b.ID); err != nil {
			return err
		}
		// The single open borrow per book is gone, so the book is available
		// again regardless of what status the sweep left on it.
		return s.repo.SetBookStatus(ctx, b.BookISBN, model.BookAvailable)
	}); err != nil {
		return err
	}

	s.pub.Publish(model.LendingEvent{
		Kind:      model.EventBorrowReturned,
		BorrowID:  b.ID,
		BookISBN:  b.BookISBN,
		StudentID: b.StudentID,
		Date:      today,
	})
	return nil
}

func (s *Lending) ListBorrows(ctx context.Context, filter model.BorrowFilter) ([]model.BorrowRow, error) {
	if err := s.Reconcile(ctx, model.ToDate(s.now())); err != nil {
		return nil, err
	}
	return s.repo.ListBorrows(ctx, filter)
}

func (s *Lending) ListLateBorrows(ctx context.Context) ([]model.LateBorrowRow, error) {
	today := model.ToDate(s.now())
	if err := s.Reconcile(ctx, today); err != nil {
		return nil, err
	}
	return s.repo.ListLateBorrows(ctx, today)
}

func (s *Lending) MemberBorrowings(ctx context.Context, studentID int) ([]model.MemberBorrowing, error) {
	if err := s.Reconcile(ctx, model.ToDate(s.now())); err != nil {
		return nil, err
	}
	rows, err := s.repo.MemberBorrowings(ctx, studentID)
	if err != nil {
		return nil, err
	}

	out := make([]model.MemberBorrowing, 0, len(rows))
	for _, row := range rows {
		item := model.MemberBorrowing{
			BorrowID: row.BorrowID,
			Book: model.BorrowedBook{
				ISBN:   row.BookISBN,
				Name:   row.BookName,
				Author: row.BookAuthor,
				Image:  row.BookImage,
			},
			BorrowDate:     row.BorrowDate,
			LastReturnDate: row.DueDate,
			Status:         row.Status,
		}
		if row.FineAmount != nil && row.FineStatus != nil && row.FineDate != nil {
			item.Fine = &model.FineInfo{
				Amount:      *row.FineAmount,
				Status:      *row.FineStatus,
				Date:        *row.FineDate,
				PaymentDate: row.PaymentDate,
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// PayFine freezes the fine: status paid, payment date today, amount kept at
// its last reconciled value.
func (s *Lending) PayFine(ctx context.Context, fineID int) error {
	f, err := s.repo.GetFine(ctx, fineID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errors.Wrap(errs.ErrNotFound, "fine")
		}
		return err
	}
	if f.Status == model.FinePaid {
		return errors.Wrap(errs.ErrConflict, "fine already marked as paid")
	}

	today := model.ToDate(s.now())
	if err := s.repo.MarkFinePaid(ctx, f.ID, today); err != nil {
		return err
	}

	s.pub.Publish(model.LendingEvent{
		Kind:      model.EventFinePaid,
		FineID:    f.ID,
		StudentID: f.StudentID,
		Amount:    f.Amount,
		Date:      today,
	})
	return nil
}

func (s *Lending) ListFines(ctx context.Context, filter model.FineFilter) ([]model.FineRow, error) {
	return s.repo.ListFines(ctx, filter)
}
