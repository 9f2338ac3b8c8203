package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const userIDKey = "user_id"

func NewAuthMiddleware(auther *Authenticator) echo.MiddlewareFunc {
	type authStrategy func(c echo.Context) (bool, error)
	strategies := []authStrategy{
		auther.authWithCookie,
		auther.authWithBasicAuth,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, strategy := range strategies {
				ok, err := strategy(c)
				if err != nil {
					continue
				}

				if ok {
					return next(c)
				}
			}
			return echo.ErrUnauthorized
		}
	}
}

// UserID returns the id of the authenticated user, or 0 outside the auth
// middleware.
func UserID(c echo.Context) int64 {
	id, _ := c.Get(userIDKey).(int64)
	return id
}

func SetUserID(c echo.Context, id int64) {
	c.Set(userIDKey, id)
}

func (a *Authenticator) authWithCookie(c echo.Context) (bool, error) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || cookie == nil || cookie.Value == "" {
		return false, nil
	}

	claims, err := ValidateToken(cookie.Value, a.jwtSecret)
	if err != nil {
		return false, nil
	}
	userID, err := claims.UserID()
	if err != nil {
		return false, nil
	}

	refreshedCookie, err := a.generateCookie(userID)
	if err != nil {
		return false, fmt.Errorf("failed to generate cookie: %w", err)
	}
	refreshedCookie.Secure = c.IsTLS()
	c.SetCookie(refreshedCookie)

	SetUserID(c, userID)
	return true, nil
}

func (a *Authenticator) authWithBasicAuth(c echo.Context) (bool, error) {
	email, password, ok := c.Request().BasicAuth()
	if !ok {
		return false, nil
	}

	user, cookie, err := a.Authenticate(c.Request().Context(), Credentials{Email: email, Password: password})
	if err != nil {
		return false, fmt.Errorf("failed to authenticate: %w", err)
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	SetUserID(c, user.ID)
	return true, nil
}

func ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	}
}
