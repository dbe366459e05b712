package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/internal/model"
	"github.com/etekin/library-backend/internal/repository"
)

// fakeRepo is an in-memory repository. The lending lifecycle is stateful
// across calls (reconcile reads what the previous sweep wrote), so the
// scenario tests use this instead of per-call expectations.
type fakeRepo struct {
	mu sync.Mutex

	books   map[string]model.Book
	users   map[int]model.User
	borrows map[int]model.Borrow
	fines   map[int]model.Fine

	nextUserID   int
	nextBorrowID int
	nextFineID   int
}

var _ repository.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		books:        map[string]model.Book{},
		users:        map[int]model.User{},
		borrows:      map[int]model.Borrow{},
		fines:        map[int]model.Fine{},
		nextUserID:   1,
		nextBorrowID: 1,
		nextFineID:   1,
	}
}

func (f *fakeRepo) addUser(u model.User) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextUserID
	f.nextUserID++
	f.users[u.ID] = u
	return u
}

func (f *fakeRepo) addBook(b model.Book) model.Book {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.Status == "" {
		b.Status = model.BookAvailable
	}
	f.books[b.ISBN] = b
	return b
}

func (f *fakeRepo) addBorrow(b model.Borrow) model.Borrow {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = f.nextBorrowID
	f.nextBorrowID++
	if b.Status == "" {
		b.Status = model.BorrowActive
	}
	f.borrows[b.ID] = b
	return b
}

func (f *fakeRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeRepo) GetBook(_ context.Context, isbn string) (model.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[isbn]
	if !ok {
		return model.Book{}, errors.Wrap(errs.ErrNotFound, "book")
	}
	return b, nil
}

func (f *fakeRepo) ListBooks(_ context.Context, limit, offset int) ([]model.Book, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]model.Book, 0, len(f.books))
	for _, b := range f.books {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ISBN < all[j].ISBN })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (f *fakeRepo) SearchBooks(ctx context.Context, query string, limit, offset int) ([]model.Book, int, error) {
	all, _, err := f.ListBooks(ctx, len(f.books), 0)
	if err != nil {
		return nil, 0, err
	}
	q := strings.ToLower(query)
	var hits []model.Book
	for _, b := range all {
		if strings.Contains(strings.ToLower(b.Name), q) ||
			strings.Contains(strings.ToLower(b.Author), q) ||
			strings.Contains(strings.ToLower(b.Category), q) ||
			strings.Contains(strings.ToLower(b.Publisher), q) {
			hits = append(hits, b)
		}
	}
	total := len(hits)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return hits[offset:end], total, nil
}

func (f *fakeRepo) CreateBook(_ context.Context, book model.Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[book.ISBN]; ok {
		return errors.Wrap(errs.ErrConflict, "book exists")
	}
	if book.Status == "" {
		book.Status = model.BookAvailable
	}
	f.books[book.ISBN] = book
	return nil
}

func (f *fakeRepo) UpdateBook(_ context.Context, isbn string, req model.UpdateBookRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[isbn]
	if !ok {
		return errors.Wrap(errs.ErrNotFound, "book")
	}
	if req.Name != "" {
		b.Name = req.Name
	}
	if req.Author != "" {
		b.Author = req.Author
	}
	if req.Publisher != "" {
		b.Publisher = req.Publisher
	}
	if req.Category != "" {
		b.Category = req.Category
	}
	if req.Explanation != "" {
		b.Explanation = req.Explanation
	}
	if req.Image != "" {
		b.Image = req.Image
	}
	if req.Year != nil {
		b.Year = req.Year
	}
	f.books[isbn] = b
	return nil
}

func (f *fakeRepo) DeleteBook(_ context.Context, isbn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[isbn]; !ok {
		return errors.Wrap(errs.ErrNotFound, "book")
	}
	delete(f.books, isbn)
	return nil
}

func (f *fakeRepo) SetBookStatus(_ context.Context, isbn string, status model.BookStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[isbn]
	if !ok {
		return errors.Wrap(errs.ErrNotFound, "book")
	}
	b.Status = status
	f.books[isbn] = b
	return nil
}

func (f *fakeRepo) LatestOpenBorrowByBook(_ context.Context, isbn string) (model.Borrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest model.Borrow
	found := false
	for _, b := range f.borrows {
		if b.BookISBN != isbn || b.Status == model.BorrowReturned {
			continue
		}
		if !found || b.DueDate.After(latest.DueDate.Time) {
			latest = b
			found = true
		}
	}
	if !found {
		return model.Borrow{}, errors.Wrap(errs.ErrNotFound, "open borrow")
	}
	return latest, nil
}

func (f *fakeRepo) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, errors.Wrap(errs.ErrNotFound, "user")
}

func (f *fakeRepo) GetUserByID(_ context.Context, id int) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.User{}, errors.Wrap(errs.ErrNotFound, "user")
	}
	return u, nil
}

func (f *fakeRepo) GetUserByRole(_ context.Context, id int, role model.Role) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Role != role {
		return model.User{}, errors.Wrap(errs.ErrNotFound, "user")
	}
	return u, nil
}

func (f *fakeRepo) CreateStudent(_ context.Context, user model.User) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username {
			return model.User{}, errors.Wrap(errs.ErrConflict, "username taken")
		}
	}
	user.ID = f.nextUserID
	f.nextUserID++
	user.Role = model.RoleStudent
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeRepo) UpdateUserContact(_ context.Context, id int, email, phone, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return errors.Wrap(errs.ErrNotFound, "user")
	}
	if email != "" {
		u.Email = email
	}
	if phone != "" {
		u.Phone = phone
	}
	if passwordHash != "" {
		u.PasswordHash = passwordHash
	}
	f.users[id] = u
	return nil
}

func (f *fakeRepo) DeleteStudent(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Role != model.RoleStudent {
		return errors.Wrap(errs.ErrNotFound, "student")
	}
	delete(f.users, id)
	return nil
}

func (f *fakeRepo) ListMembers(_ context.Context) ([]model.MemberRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []model.MemberRow
	for _, u := range f.users {
		if u.Role != model.RoleStudent {
			continue
		}
		rows = append(rows, model.MemberRow{
			UserID:   u.ID,
			Name:     u.Name,
			Email:    u.Email,
			Phone:    u.Phone,
			Username: u.Username,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows, nil
}

func (f *fakeRepo) SearchMembers(ctx context.Context, query string) ([]model.MemberRow, error) {
	all, err := f.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var hits []model.MemberRow
	for _, m := range all {
		if strings.Contains(strings.ToLower(m.Name), q) || strings.Contains(strings.ToLower(m.Username), q) {
			hits = append(hits, m)
		}
	}
	return hits, nil
}

func (f *fakeRepo) CreateBorrow(_ context.Context, b model.Borrow) (model.Borrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.borrows {
		if existing.BookISBN == b.BookISBN && existing.Status != model.BorrowReturned {
			return model.Borrow{}, errors.Wrap(errs.ErrConflict, "open borrow exists")
		}
	}
	b.ID = f.nextBorrowID
	f.nextBorrowID++
	b.Status = model.BorrowActive
	f.borrows[b.ID] = b
	return b, nil
}

func (f *fakeRepo) GetBorrow(_ context.Context, id int) (model.Borrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.borrows[id]
	if !ok {
		return model.Borrow{}, errors.Wrap(errs.ErrNotFound, "borrow")
	}
	return b, nil
}

func (f *fakeRepo) MarkBorrowLate(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.borrows[id]
	if !ok {
		return errors.Wrap(errs.ErrNotFound, "borrow")
	}
	if b.Status != model.BorrowActive {
		return errors.Wrap(errs.ErrConflict, "borrow is not active")
	}
	b.Status = model.BorrowLate
	f.borrows[id] = b
	return nil
}

func (f *fakeRepo) MarkBorrowReturned(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.borrows[id]
	if !ok {
		return errors.Wrap(errs.ErrNotFound, "borrow")
	}
	if b.Status == model.BorrowReturned {
		return errors.Wrap(errs.ErrConflict, "already returned")
	}
	b.Status = model.BorrowReturned
	f.borrows[id] = b
	return nil
}

func (f *fakeRepo) ListOverdueBorrows(_ context.Context, today model.Date) ([]model.Borrow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Borrow
	for _, b := range f.borrows {
		if b.Status == model.BorrowReturned {
			continue
		}
		if b.DueDate.Before(today.Time) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CountOpenBorrowsByStudent(_ context.Context, studentID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.borrows {
		if b.StudentID == studentID && b.Status != model.BorrowReturned {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CountOpenBorrowsByBook(_ context.Context, isbn string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.borrows {
		if b.BookISBN == isbn && b.Status != model.BorrowReturned {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ListBorrows(_ context.Context, filter model.BorrowFilter) ([]model.BorrowRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.BorrowRow
	for _, b := range f.borrows {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.StudentID != 0 && b.StudentID != filter.StudentID {
			continue
		}
		row := model.BorrowRow{
			BorrowID:   b.ID,
			StudentID:  b.StudentID,
			BookISBN:   b.BookISBN,
			BorrowDate: b.BorrowDate,
			DueDate:    b.DueDate,
			Status:     b.Status,
		}
		if u, ok := f.users[b.StudentID]; ok {
			row.StudentName = u.Name
		}
		if u, ok := f.users[b.StaffID]; ok {
			row.StaffName = u.Name
		}
		if bk, ok := f.books[b.BookISBN]; ok {
			row.BookName = bk.Name
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BorrowID < out[j].BorrowID })
	return out, nil
}

func (f *fakeRepo) ListLateBorrows(_ context.Context, today model.Date) ([]model.LateBorrowRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.LateBorrowRow
	for _, b := range f.borrows {
		if b.Status != model.BorrowLate {
			continue
		}
		row := model.LateBorrowRow{
			BorrowID:   b.ID,
			StudentID:  b.StudentID,
			BookISBN:   b.BookISBN,
			BorrowDate: b.BorrowDate,
			DueDate:    b.DueDate,
			DaysLate:   b.DueDate.DaysUntil(today),
			Status:     b.Status,
		}
		if u, ok := f.users[b.StudentID]; ok {
			row.StudentName = u.Name
			row.StudentEmail = u.Email
			row.StudentPhone = u.Phone
		}
		if bk, ok := f.books[b.BookISBN]; ok {
			row.BookName = bk.Name
			row.BookAuthor = bk.Author
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BorrowID < out[j].BorrowID })
	return out, nil
}

func (f *fakeRepo) MemberBorrowings(_ context.Context, studentID int) ([]model.MemberBorrowingRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MemberBorrowingRow
	for _, b := range f.borrows {
		if b.StudentID != studentID {
			continue
		}
		row := model.MemberBorrowingRow{
			BorrowID:   b.ID,
			BookISBN:   b.BookISBN,
			BorrowDate: b.BorrowDate,
			DueDate:    b.DueDate,
			Status:     b.Status,
		}
		if bk, ok := f.books[b.BookISBN]; ok {
			row.BookName = bk.Name
			row.BookAuthor = bk.Author
			row.BookImage = bk.Image
		}
		for _, fine := range f.fines {
			if fine.BorrowID != nil && *fine.BorrowID == b.ID {
				amount, status, date := fine.Amount, fine.Status, fine.AccrualDate
				row.FineAmount = &amount
				row.FineStatus = &status
				row.FineDate = &date
				row.PaymentDate = fine.PaymentDate
				break
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BorrowID < out[j].BorrowID })
	return out, nil
}

func (f *fakeRepo) GetFine(_ context.Context, id int) (model.Fine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fine, ok := f.fines[id]
	if !ok {
		return model.Fine{}, errors.Wrap(errs.ErrNotFound, "fine")
	}
	return fine, nil
}

func (f *fakeRepo) GetUnpaidFineByBorrow(_ context.Context, borrowID int) (model.Fine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fine := range f.fines {
		if fine.BorrowID != nil && *fine.BorrowID == borrowID && fine.Status == model.FineUnpaid {
			return fine, nil
		}
	}
	return model.Fine{}, errors.Wrap(errs.ErrNotFound, "unpaid fine")
}

func (f *fakeRepo) CreateFine(_ context.Context, fine model.Fine) (model.Fine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fine.BorrowID != nil {
		for _, existing := range f.fines {
			if existing.BorrowID != nil && *existing.BorrowID == *fine.BorrowID && existing.Status == model.FineUnpaid {
				return model.Fine{}, errors.Wrap(errs.ErrConflict, "unpaid fine exists")
			}
		}
	}
	fine.ID = f.nextFineID
	f.nextFineID++
	fine.Status = model.FineUnpaid
	f.fines[fine.ID] = fine
	return fine, nil
}

func (f *fakeRepo) UpdateFineAccrual(_ context.Context, id int, amount float64, accrual model.Date) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fine, ok := f.fines[id]
	if !ok {
		return errors.Wrap(errs.ErrNotFound, "fine")
	}
	if fine.Status != model.FineUnpaid {
		return errors.Wrap(errs.ErrConflict, "fine is not unpaid")
	}
	fine.Amount = amount
	fine.AccrualDate = accrual
	f.fines[id] = fine
	return nil
}

func (f *fakeRepo) MarkFinePaid(_ context.Context, id int, paymentDate model.Date) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fine, ok := f.fines[id]
	if !ok {
		return errors.Wrap(errs.ErrNotFound, "fine")
	}
	if fine.Status == model.FinePaid {
		return errors.Wrap(errs.ErrConflict, "already paid")
	}
	fine.Status = model.FinePaid
	fine.PaymentDate = &paymentDate
	f.fines[id] = fine
	return nil
}

func (f *fakeRepo) SumUnpaidFinesByStudent(_ context.Context, studentID int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum float64
	for _, fine := range f.fines {
		if fine.StudentID == studentID && fine.Status == model.FineUnpaid {
			sum += fine.Amount
		}
	}
	return sum, nil
}

func (f *fakeRepo) CountUnpaidFinesByStudent(_ context.Context, studentID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fine := range f.fines {
		if fine.StudentID == studentID && fine.Status == model.FineUnpaid {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ListFines(_ context.Context, filter model.FineFilter) ([]model.FineRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.FineRow
	for _, fine := range f.fines {
		if filter.Status != "" && fine.Status != filter.Status {
			continue
		}
		if filter.StudentID != 0 && fine.StudentID != filter.StudentID {
			continue
		}
		row := model.FineRow{
			FineID:      fine.ID,
			StudentID:   fine.StudentID,
			BorrowID:    fine.BorrowID,
			Date:        fine.AccrualDate,
			Amount:      fine.Amount,
			Status:      fine.Status,
			PaymentDate: fine.PaymentDate,
		}
		if u, ok := f.users[fine.StudentID]; ok {
			row.StudentName = u.Name
		}
		if u, ok := f.users[fine.StaffID]; ok {
			row.StaffName = u.Name
		}
		if fine.BorrowID != nil {
			if b, ok := f.borrows[*fine.BorrowID]; ok {
				if bk, ok := f.books[b.BookISBN]; ok {
					name := bk.Name
					row.BookName = &name
				}
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FineID < out[j].FineID })
	return out, nil
}
