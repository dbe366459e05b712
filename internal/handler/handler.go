package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/etekin/library-backend/internal/errs"
	"github.com/etekin/library-backend/pkg/auth"
	md "github.com/etekin/library-backend/pkg/middleware"
	"github.com/etekin/library-backend/pkg/validate"
)

type Handler struct {
	catalogSvc    CatalogService
	membershipSvc MembershipService
	lendingSvc    LendingService
	log           *zap.Logger
}

func New(catalogSvc CatalogService, membershipSvc MembershipService, lendingSvc LendingService, log *zap.Logger) *Handler {
	return &Handler{
		catalogSvc:    catalogSvc,
		membershipSvc: membershipSvc,
		lendingSvc:    lendingSvc,
		log:           log,
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig()),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
	)

	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/session", h.Session, md.JwtAuthentication)

	api.GET("/books", h.ListBooks)
	api.GET("/books/search", h.SearchBooks)
	api.GET("/books/:isbn", h.GetBook)

	member := api.Group("/member", md.JwtAuthentication)
	member.GET("/profile", h.Profile)
	member.PUT("/profile", h.UpdateProfile)
	member.GET("/borrowings", h.MemberBorrowings, md.RequireRole(auth.RoleStudent))

	staff := api.Group("", md.JwtAuthentication, md.RequireRole(auth.RoleStaff))
	staff.POST("/books", h.CreateBook)
	staff.PUT("/books/:isbn", h.UpdateBook)
	staff.DELETE("/books/:isbn", h.DeleteBook)

	staff.POST("/members", h.AddMember)
	staff.GET("/members", h.ListMembers)
	staff.GET("/members/search", h.SearchMembers)
	staff.DELETE("/members/:id", h.DeleteMember)

	staff.POST("/borrows", h.CreateBorrow)
	staff.PUT("/borrows/:id/return", h.ReturnBorrow)
	staff.GET("/borrows", h.ListBorrows)
	staff.GET("/borrows/late", h.ListLateBorrows)

	staff.GET("/fines", h.ListFines)
	staff.PUT("/fines/:id/pay", h.PayFine)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// httpError is the single place the error taxonomy meets transport codes.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrLimitExceeded):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
