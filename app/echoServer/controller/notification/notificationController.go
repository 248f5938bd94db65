package notification

import (
	"log/slog"
	"net/http"

	"unilibrary/app/echoServer/jwtx"
	notifrepo "unilibrary/repository/notification"

	"github.com/labstack/echo/v4"
)

type Controller struct {
	Repo notifrepo.Repo
	Log  *slog.Logger
}

// GET /v1/notifications/mine
func (h *Controller) Mine(c echo.Context) error {
	rows, err := h.Repo.ListMine(c.Request().Context(), jwtx.UserID(c))
	if err != nil {
		h.Log.Error("notification list", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"data": rows})
}
