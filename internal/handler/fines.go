package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/etekin/library-backend/internal/model"
)

func (h *Handler) ListFines(c echo.Context) error {
	var filter model.FineFilter
	if status := c.QueryParam("status"); status != "" {
		filter.Status = model.FineStatus(status)
	}
	if studentParam := c.QueryParam("student_id"); studentParam != "" {
		studentID, err := strconv.Atoi(studentParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "student_id is invalid")
		}
		filter.StudentID = studentID
	}

	rows, err := h.lendingSvc.ListFines(c.Request().Context(), filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"results": rows, "count": len(rows)})
}

func (h *Handler) PayFine(c echo.Context) error {
	fineID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id is invalid")
	}

	if err := h.lendingSvc.PayFine(c.Request().Context(), fineID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Fine marked as paid successfully"})
}
