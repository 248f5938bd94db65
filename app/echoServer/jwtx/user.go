// app/echoServer/jwtx/user.go
package jwtx

import (
	"unilibrary/model"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated user extracted by the auth
// middleware; zero when the route is somehow unauthenticated.
func UserID(c echo.Context) int64 {
	id, _ := c.Get("user_id").(int64)
	return id
}

func IsAdmin(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == model.RoleAdmin
}
