package handler

import (
	"net/http"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	auth *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{auth: authenticator}
}

type UserResponse struct {
	User *internal.User `json:"user"`
}

// Register handles POST /register
func (h *AuthHandler) Register(c echo.Context) error {
	var req auth.Registration
	if err := c.Bind(&req); err != nil {
		return internal.Validation("invalid request")
	}

	user, err := h.auth.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}

	log.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("user registered")
	return c.JSON(http.StatusCreated, UserResponse{User: user})
}

// Login handles POST /login - validates credentials and sets JWT cookie
func (h *AuthHandler) Login(c echo.Context) error {
	var req auth.Credentials
	if err := c.Bind(&req); err != nil {
		return internal.Validation("invalid request")
	}

	user, cookie, err := h.auth.Authenticate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, UserResponse{User: user})
}

// Logout handles GET /logout - clears the JWT cookie
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(auth.ExpireCookie())
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
