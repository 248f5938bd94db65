package reservation

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"unilibrary/app/echoServer/jwtx"
	"unilibrary/service/circulation"
	ressvc "unilibrary/service/reservation"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Controller struct {
	Svc ressvc.Service
	V   *validator.Validate
	Log *slog.Logger
}

// withBusyRetry retries the retryable BUSY outcome a few times before
// surfacing it.
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

// POST /v1/reservations
func (h *Controller) Create(c echo.Context) error {
	var req CreateReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid := jwtx.UserID(c)

	var (
		res interface{}
		pos int64
	)
	err := withBusyRetry(func() error {
		r, p, err := h.Svc.Reserve(c.Request().Context(), uid, req.BookID)
		res, pos = r, p
		return err
	})
	if err != nil {
		switch circulation.Code(err) {
		case circulation.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "book not found"})
		case circulation.ErrDuplicateReservation:
			return c.JSON(http.StatusConflict, echo.Map{"message": "you have already reserved this book"})
		case circulation.ErrReservationLimit:
			return c.JSON(http.StatusConflict, echo.Map{"message": "you have reached the limit of 5 active reservations"})
		case circulation.ErrBusy:
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"message": "book is busy, please retry"})
		default:
			h.Log.Error("reservation create", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation":    res,
		"queue_position": pos,
		"message":        "reservation placed",
	})
}

// DELETE /v1/reservations/:id
func (h *Controller) Cancel(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid := jwtx.UserID(c)

	err = withBusyRetry(func() error {
		return h.Svc.Cancel(c.Request().Context(), uid, jwtx.IsAdmin(c), id)
	})
	if err != nil {
		switch circulation.Code(err) {
		case circulation.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "reservation not found"})
		case circulation.ErrForbidden:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case circulation.ErrInvalidState:
			return c.JSON(http.StatusConflict, echo.Map{"message": "reservation is no longer active"})
		case circulation.ErrBusy:
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"message": "book is busy, please retry"})
		default:
			h.Log.Error("reservation cancel", "err", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "reservation cancelled"})
}

// GET /v1/reservations/mine
func (h *Controller) Mine(c echo.Context) error {
	rows, err := h.Svc.Mine(c.Request().Context(), jwtx.UserID(c))
	if err != nil {
		h.Log.Error("reservation list", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}
