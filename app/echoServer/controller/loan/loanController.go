package loan

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"unilibrary/app/echoServer/jwtx"
	"unilibrary/model"
	"unilibrary/service/circulation"
	loansvc "unilibrary/service/loan"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Svc loansvc.Service
	V   *validator.Validate
	Log *slog.Logger
}

func withBusyRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); circulation.Code(err) != circulation.ErrBusy {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

// POST /v1/loans  (direct borrow)
func (h *Controller) Borrow(c echo.Context) error {
	var req BorrowReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid := jwtx.UserID(c)

	var l *model.Loan
	err := withBusyRetry(func() error {
		var err error
		l, err = h.Svc.Borrow(c.Request().Context(), uid, req.BookID)
		return err
	})
	if err != nil {
		switch circulation.Code(err) {
		case circulation.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "book not found"})
		case circulation.ErrBookUnavailable:
			return c.JSON(http.StatusConflict, echo.Map{"message": "book is not available for direct borrowing"})
		case circulation.ErrLoanLimit:
			return c.JSON(http.StatusConflict, echo.Map{"message": "you have reached the limit of 5 active loans"})
		case circulation.ErrBusy:
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"message": "book is busy, please retry"})
		default:
			h.Log.Error("loan borrow", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{"loan": l, "message": "book borrowed"})
}

// POST /v1/loans/fulfill/:reservationId
func (h *Controller) Fulfill(c echo.Context) error {
	rid, err := strconv.ParseInt(c.Param("reservationId"), 10, 64)
	if err != nil || rid <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid := jwtx.UserID(c)

	var l *model.Loan
	err = withBusyRetry(func() error {
		var err error
		l, err = h.Svc.Fulfill(c.Request().Context(), uid, rid)
		return err
	})
	if err != nil {
		switch circulation.Code(err) {
		case circulation.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "reservation not found"})
		case circulation.ErrForbidden:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case circulation.ErrInvalidState:
			return c.JSON(http.StatusConflict, echo.Map{"message": "reservation is not ready for pickup"})
		case circulation.ErrLoanLimit:
			return c.JSON(http.StatusConflict, echo.Map{"message": "you have reached the limit of 5 active loans"})
		case circulation.ErrBusy:
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"message": "book is busy, please retry"})
		default:
			h.Log.Error("loan fulfill", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{"loan": l, "message": "reservation fulfilled"})
}

// POST /v1/loans/:id/return
func (h *Controller) Return(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid := jwtx.UserID(c)

	err = withBusyRetry(func() error {
		return h.Svc.Return(c.Request().Context(), uid, jwtx.IsAdmin(c), id)
	})
	if err != nil {
		switch circulation.Code(err) {
		case circulation.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "loan not found"})
		case circulation.ErrForbidden:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case circulation.ErrInvalidState:
			return c.JSON(http.StatusConflict, echo.Map{"message": "loan already returned"})
		case circulation.ErrBusy:
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"message": "book is busy, please retry"})
		default:
			h.Log.Error("loan return", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "book returned"})
}

// GET /v1/loans/mine
func (h *Controller) Mine(c echo.Context) error {
	rows, err := h.Svc.Mine(c.Request().Context(), jwtx.UserID(c))
	if err != nil {
		h.Log.Error("loan list", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}
