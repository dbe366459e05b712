package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/etekin/library-backend/internal/model"
)

func (h *Handler) ListBooks(c echo.Context) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	books, err := h.catalogSvc.ListBooks(c.Request().Context(), limit, offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) SearchBooks(c echo.Context) error {
	query := c.QueryParam("q")
	limit, offset, err := pagination(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	books, err := h.catalogSvc.SearchBooks(c.Request().Context(), query, limit, offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) GetBook(c echo.Context) error {
	isbn := c.Param("isbn")
	book, err := h.catalogSvc.GetBook(c.Request().Context(), isbn)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) CreateBook(c echo.Context) error {
	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	book, err := h.catalogSvc.CreateBook(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) UpdateBook(c echo.Context) error {
	isbn := c.Param("isbn")
	var req model.UpdateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	book, err := h.catalogSvc.UpdateBook(c.Request().Context(), isbn, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) DeleteBook(c echo.Context) error {
	isbn := c.Param("isbn")
	if err := h.catalogSvc.DeleteBook(c.Request().Context(), isbn); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pagination(c echo.Context) (limit, offset int, err error) {
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if limit, err = strconv.Atoi(limitParam); err != nil {
			return 0, 0, errors.New("limit is invalid")
		}
	}
	if offsetParam := c.QueryParam("offset"); offsetParam != "" {
		if offset, err = strconv.Atoi(offsetParam); err != nil {
			return 0, 0, errors.New("offset is invalid")
		}
	}
	return limit, offset, nil
}
