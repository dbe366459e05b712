package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/etekin/library-backend/internal/model"
	"github.com/etekin/library-backend/pkg/auth"
)

func (h *Handler) CreateBorrow(c echo.Context) error {
	ctx := c.Request().Context()
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	var req model.CreateBorrowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	borrow, err := h.lendingSvc.CreateBorrow(ctx, identity.UserID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"message": "Borrow record created successfully",
		"borrow":  borrow,
	})
}

func (h *Handler) ReturnBorrow(c echo.Context) error {
	ctx := c.Request().Context()
	identity, err := auth.FromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	borrowID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id is invalid")
	}

	if err := h.lendingSvc.ReturnBorrow(ctx, identity.UserID, borrowID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Book returned successfully"})
}

func (h *Handler) ListBorrows(c echo.Context) error {
	var filter model.BorrowFilter
	if status := c.QueryParam("status"); status != "" {
		filter.Status = model.BorrowStatus(status)
	}
	if studentParam := c.QueryParam("student_id"); studentParam != "" {
		studentID, err := strconv.Atoi(studentParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "student_id is invalid")
		}
		filter.StudentID = studentID
	}

	rows, err := h.lendingSvc.ListBorrows(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"results": rows, "count": len(rows)})
}

func (h *Handler) ListLateBorrows(c echo.Context) error {
	rows, err := h.lendingSvc.ListLateBorrows(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"results": rows, "count": len(rows)})
}
