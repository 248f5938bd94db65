package echoServer

import (
	"net/http"

	"unilibrary/app/echoServer/controller/auth"
	"unilibrary/app/echoServer/controller/book"
	"unilibrary/app/echoServer/controller/loan"
	"unilibrary/app/echoServer/controller/notification"
	"unilibrary/app/echoServer/controller/reservation"
	jwtutil "unilibrary/util/jwt"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

type C struct {
	Auth         *auth.Controller
	Book         *book.Controller
	Reservation  *reservation.Controller
	Loan         *loan.Controller
	Notification *notification.Controller
	JWTSecret    string
}

func Register(e *echo.Echo, c C) {
	// Public
	pub := e.Group("/v1")
	pub.POST("/users/register", c.Auth.Register)
	pub.POST("/users/login", c.Auth.Login)

	// Auth
	sec := e.Group("/v1")
	sec.Use(echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:Authorization",
		ParseTokenFunc: func(_ echo.Context, auth string) (interface{}, error) {
			return jwtutil.ParseAuth(auth, c.JWTSecret)
		},
	}))
	// user_id + role extraction
	sec.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, ok := ctx.Get("user").(jwt.MapClaims)
			if !ok {
				return ctx.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
			}
			sub, ok := claims["sub"].(float64)
			if !ok {
				return ctx.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
			}
			ctx.Set("user_id", int64(sub))
			if role, ok := claims["role"].(string); ok {
				ctx.Set("role", role)
			}
			return next(ctx)
		}
	})

	sec.GET("/me", c.Auth.Me)

	// Books
	sec.GET("/books", c.Book.List)
	sec.GET("/books/:id", c.Book.Detail)
	// Admin endpoints
	sec.POST("/books", c.Book.Create)
	sec.POST("/books/:id/copies", c.Book.AddCopies)

	// Reservations
	sec.POST("/reservations", c.Reservation.Create)
	sec.DELETE("/reservations/:id", c.Reservation.Cancel)
	sec.GET("/reservations/mine", c.Reservation.Mine)

	// Loans
	sec.POST("/loans", c.Loan.Borrow)
	sec.POST("/loans/fulfill/:reservationId", c.Loan.Fulfill)
	sec.POST("/loans/:id/return", c.Loan.Return)
	sec.GET("/loans/mine", c.Loan.Mine)

	// Notifications
	sec.GET("/notifications/mine", c.Notification.Mine)
}
