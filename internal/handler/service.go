package handler

import (
	"context"

	"github.com/etekin/library-backend/internal/model"
	"github.com/etekin/library-backend/internal/service"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

type CatalogService interface {
	ListBooks(ctx context.Context, limit, offset int) (model.ListBooks, error)
	SearchBooks(ctx context.Context, query string, limit, offset int) (model.ListBooks, error)
	GetBook(ctx context.Context, isbn string) (model.BookView, error)
	CreateBook(ctx context.Context, req model.CreateBookRequest) (model.Book, error)
	UpdateBook(ctx context.Context, isbn string, req model.UpdateBookRequest) (model.Book, error)
	DeleteBook(ctx context.Context, isbn string) error
}

type MembershipService interface {
	Login(ctx context.Context, req model.LoginRequest) (model.LoginResponse, error)
	Session(ctx context.Context) (model.SessionResponse, error)
	AddMember(ctx context.Context, req model.AddMemberRequest) (model.User, error)
	ListMembers(ctx context.Context) ([]model.MemberRow, error)
	SearchMembers(ctx context.Context, query string) ([]model.MemberRow, error)
	DeleteMember(ctx context.Context, studentID int) error
	Profile(ctx context.Context) (model.User, error)
	UpdateProfile(ctx context.Context, req model.UpdateProfileRequest) (model.User, error)
}

type LendingService interface {
	CreateBorrow(ctx context.Context, staffID int, req model.CreateBorrowRequest) (model.CreatedBorrow, error)
	ReturnBorrow(ctx context.Context, staffID, borrowID int) error
	ListBorrows(ctx context.Context, filter model.BorrowFilter) ([]model.BorrowRow, error)
	ListLateBorrows(ctx context.Context) ([]model.LateBorrowRow, error)
	MemberBorrowings(ctx context.Context, studentID int) ([]model.MemberBorrowing, error)
	PayFine(ctx context.Context, fineID int) error
	ListFines(ctx context.Context, filter model.FineFilter) ([]model.FineRow, error)
}

var (
	_ CatalogService    = (*service.Catalog)(nil)
	_ MembershipService = (*service.Membership)(nil)
	_ LendingService    = (*service.Lending)(nil)
)
