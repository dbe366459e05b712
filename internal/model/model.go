package model

import (
	"database/sql/driver"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
)

type BookStatus string

const (
	BookAvailable BookStatus = "available"
	BookBorrowed  BookStatus = "borrowed"
	BookLate      BookStatus = "late"
)

type BorrowStatus string

const (
	BorrowActive   BorrowStatus = "active"
	BorrowLate     BorrowStatus = "late"
	BorrowReturned BorrowStatus = "returned"
)

type FineStatus string

const (
	FineUnpaid FineStatus = "unpaid"
	FinePaid   FineStatus = "paid"
)

// Date is a calendar date marshaled as YYYY-MM-DD. Borrow and fine
// arithmetic is whole-days, never wall-clock.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ToDate(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return errors.Wrap(err, "date must be YYYY-MM-DD")
	}
	d.Time = t
	return nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = v
		return nil
	case nil:
		return nil
	default:
		return errors.Errorf("cannot scan %T into Date", src)
	}
}

func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

// DaysUntil reports the whole days from d to other (negative if other is
// earlier).
func (d Date) DaysUntil(other Date) int {
	return int(other.Time.Sub(d.Time).Hours() / 24)
}

type User struct {
	ID           int    `json:"user_id" db:"id"`
	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	Phone        string `json:"phone" db:"phone"`
	Username     string `json:"username" db:"username"`
	PasswordHash string `json:"-" db:"password_hash"`
	Role         Role   `json:"type" db:"role"`
}

type Book struct {
	ISBN        string     `json:"isbn" db:"isbn"`
	Name        string     `json:"name" db:"name"`
	Author      string     `json:"author" db:"author"`
	Publisher   string     `json:"publisher" db:"publisher"`
	Category    string     `json:"type" db:"category"`
	Explanation string     `json:"explanation" db:"explanation"`
	Image       string     `json:"image" db:"image"`
	Year        *int       `json:"year" db:"year"`
	Status      BookStatus `json:"status" db:"status"`
}

type Borrow struct {
	ID         int          `json:"borrow_id" db:"id"`
	BookISBN   string       `json:"book_isbn" db:"book_isbn"`
	StudentID  int          `json:"student_id" db:"student_id"`
	StaffID    int          `json:"staff_id" db:"staff_id"`
	BorrowDate Date         `json:"borrow_date" db:"borrow_date"`
	DueDate    Date         `json:"due_date" db:"due_date"`
	Status     BorrowStatus `json:"status" db:"status"`
}

type Fine struct {
	ID          int        `json:"fine_id" db:"id"`
	BorrowID    *int       `json:"borrow_id" db:"borrow_id"`
	StudentID   int        `json:"student_id" db:"student_id"`
	StaffID     int        `json:"staff_id" db:"staff_id"`
	AccrualDate Date       `json:"date" db:"accrual_date"`
	Amount      float64    `json:"amount" db:"amount"`
	Status      FineStatus `json:"status" db:"status"`
	PaymentDate *Date      `json:"payment_date" db:"payment_date"`
}

// Availability is the live view derived from the borrow ledger, not the
// denormalized books.status column.
type Availability struct {
	Available          bool  `json:"available"`
	ExpectedReturnDate *Date `json:"expected_return_date"`
}

type BookView struct {
	Book
	Availability
}

type ListBooks struct {
	Results []BookView `json:"results"`
	Count   int        `json:"count"`
	Total   int        `json:"total"`
	Offset  int        `json:"offset"`
	HasMore bool       `json:"has_more"`
}

type CreateBookRequest struct {
	ISBN        string `json:"isbn" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Author      string `json:"author" validate:"required"`
	Publisher   string `json:"publisher"`
	Category    string `json:"type"`
	Explanation string `json:"explanation"`
	Image       string `json:"image"`
	Year        *int   `json:"year"`
}

type UpdateBookRequest struct {
	Name        string `json:"name"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	Category    string `json:"type"`
	Explanation string `json:"explanation"`
	Image       string `json:"image"`
	Year        *int   `json:"year"`
}

type CreateBorrowRequest struct {
	StudentID  int    `json:"student_id" validate:"required"`
	ISBN       string `json:"isbn" validate:"required"`
	BorrowDate Date   `json:"borrow_date" validate:"required"`
	DueDate    Date   `json:"due_date" validate:"required"`
}

// CreatedBorrow carries denormalized display fields for the caller; the
// names are response shaping, not stored state.
type CreatedBorrow struct {
	ID          int          `json:"id"`
	StudentName string       `json:"student_name"`
	BookName    string       `json:"book_name"`
	BorrowDate  Date         `json:"borrow_date"`
	DueDate     Date         `json:"due_date"`
	Status      BorrowStatus `json:"status"`
}

type BorrowRow struct {
	BorrowID    int          `json:"borrow_id" db:"borrow_id"`
	StudentID   int          `json:"student_id" db:"student_id"`
	StudentName string       `json:"student_name" db:"student_name"`
	StaffName   string       `json:"staff_name" db:"staff_name"`
	BookISBN    string       `json:"book_isbn" db:"book_isbn"`
	BookName    string       `json:"book_name" db:"book_name"`
	BorrowDate  Date         `json:"borrow_date" db:"borrow_date"`
	DueDate     Date         `json:"due_date" db:"due_date"`
	Status      BorrowStatus `json:"status" db:"status"`
}

type LateBorrowRow struct {
	BorrowID     int          `json:"borrow_id" db:"borrow_id"`
	StudentID    int          `json:"student_id" db:"student_id"`
	StudentName  string       `json:"student_name" db:"student_name"`
	StudentEmail string       `json:"student_email" db:"student_email"`
	StudentPhone string       `json:"student_phone" db:"student_phone"`
	BookISBN     string       `json:"book_isbn" db:"book_isbn"`
	BookName     string       `json:"book_name" db:"book_name"`
	BookAuthor   string       `json:"book_author" db:"book_author"`
	BorrowDate   Date         `json:"borrow_date" db:"borrow_date"`
	DueDate      Date         `json:"due_date" db:"due_date"`
	DaysLate     int          `json:"days_late" db:"days_late"`
	Status       BorrowStatus `json:"status" db:"status"`
}

type BorrowFilter struct {
	Status    BorrowStatus
	StudentID int
}

type FineRow struct {
	FineID      int        `json:"fine_id" db:"fine_id"`
	StudentID   int        `json:"student_id" db:"student_id"`
	StudentName string     `json:"student_name" db:"student_name"`
	StaffName   string     `json:"staff_name" db:"staff_name"`
	BorrowID    *int       `json:"borrow_id" db:"borrow_id"`
	BookName    *string    `json:"book_name" db:"book_name"`
	Date        Date       `json:"date" db:"accrual_date"`
	Amount      float64    `json:"amount" db:"amount"`
	Status      FineStatus `json:"status" db:"status"`
	PaymentDate *Date      `json:"payment_date" db:"payment_date"`
}

type FineFilter struct {
	Status    FineStatus
	StudentID int
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	UserID      int    `json:"user_id"`
	Name        string `json:"name"`
	Type        Role   `json:"type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type SessionResponse struct {
	LoggedIn bool   `json:"logged_in"`
	UserID   int    `json:"user_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     Role   `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
}

type AddMemberRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UpdateProfileRequest struct {
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	CurrentPassword string `json:"current_password"`
}

type MemberRow struct {
	UserID        int     `json:"user_id" db:"user_id"`
	Name          string  `json:"name" db:"name"`
	Email         string  `json:"email" db:"email"`
	Phone         string  `json:"phone" db:"phone"`
	Username      string  `json:"username" db:"username"`
	ActiveBorrows int     `json:"active_borrows" db:"active_borrows"`
	TotalBorrows  int     `json:"total_borrows" db:"total_borrows"`
	UnpaidFines   float64 `json:"unpaid_fines" db:"unpaid_fines"`
}

type FineInfo struct {
	Amount      float64    `json:"amount"`
	Status      FineStatus `json:"status"`
	Date        Date       `json:"date"`
	PaymentDate *Date      `json:"payment_date"`
}

// MemberBorrowingRow is the flat join shape from the store; the service
// nests book and fine details for the response.
type MemberBorrowingRow struct {
	BorrowID    int          `db:"borrow_id"`
	BookISBN    string       `db:"book_isbn"`
	BookName    string       `db:"book_name"`
	BookAuthor  string       `db:"book_author"`
	BookImage   string       `db:"book_image"`
	BorrowDate  Date         `db:"borrow_date"`
	DueDate     Date         `db:"due_date"`
	Status      BorrowStatus `db:"status"`
	FineAmount  *float64     `db:"fine_amount"`
	FineStatus  *FineStatus  `db:"fine_status"`
	FineDate    *Date        `db:"fine_date"`
	PaymentDate *Date        `db:"payment_date"`
}

type MemberBorrowing struct {
	BorrowID       int          `json:"borrow_id"`
	Book           BorrowedBook `json:"book"`
	BorrowDate     Date         `json:"borrow_date"`
	LastReturnDate Date         `json:"last_return_date"`
	Status         BorrowStatus `json:"status"`
	Fine           *FineInfo    `json:"fine"`
}

type BorrowedBook struct {
	ISBN   string `json:"isbn"`
	Name   string `json:"name"`
	Author string `json:"author"`
	Image  string `json:"image"`
}

// LendingEvent is published to Kafka on lifecycle transitions, best-effort.
type LendingEvent struct {
	Kind      string  `json:"kind"`
	BorrowID  int     `json:"borrow_id,omitempty"`
	FineID    int     `json:"fine_id,omitempty"`
	BookISBN  string  `json:"book_isbn,omitempty"`
	StudentID int     `json:"student_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Date      Date    `json:"date"`
}

const (
	EventBorrowCreated  = "borrow_created"
	EventBorrowLate     = "borrow_late"
	EventBorrowReturned = "borrow_returned"
	EventFineAccrued    = "fine_accrued"
	EventFinePaid       = "fine_paid"
)
