package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/abdusco/qrlinks/internal"
	"github.com/asaskevich/govalidator"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type UserStore interface {
	Create(ctx context.Context, user *internal.User) error
	GetByEmail(ctx context.Context, email string) (*internal.User, error)
	GetByID(ctx context.Context, id int64) (*internal.User, error)
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (r *Registration) normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Username = strings.TrimSpace(r.Username)
	r.Name = strings.TrimSpace(r.Name)
}

func (r Registration) Validate() error {
	if r.Email == "" || r.Password == "" {
		return internal.Validation("email and password are required")
	}
	if !govalidator.IsEmail(r.Email) {
		return internal.Validation("email is not valid")
	}
	if len(r.Password) < minPasswordLength {
		return internal.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}

type Authenticator struct {
	users     UserStore
	jwtSecret string
	cost      int
}

func NewAuthenticator(users UserStore, jwtSecret string) *Authenticator {
	return &Authenticator{users: users, jwtSecret: jwtSecret, cost: bcrypt.DefaultCost}
}

// Register creates an account on the free plan. The correlativo defaults to
// the username, or the email when there is none.
func (a *Authenticator) Register(ctx context.Context, reg Registration) (*internal.User, error) {
	reg.normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &internal.User{
		Email:        reg.Email,
		Username:     reg.Username,
		Name:         reg.Name,
		PasswordHash: string(hash),
		Correlativo:  reg.Username,
	}
	if user.Correlativo == "" {
		user.Correlativo = reg.Email
	}

	if err := a.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate checks the credentials and returns the user with a fresh
// session cookie.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*internal.User, *http.Cookie, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || creds.Password == "" {
		return nil, nil, internal.Validation("email and password are required")
	}

	user, err := a.users.GetByEmail(ctx, email)
	if errors.Is(err, internal.ErrUserNotFound) {
		return nil, nil, internal.ErrUnauthorized
	}
	if err != nil {
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		log.Debug().Str("email", email).Msg("password mismatch")
		return nil, nil, internal.ErrUnauthorized
	}

	cookie, err := a.generateCookie(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, cookie, nil
}

func (a *Authenticator) generateCookie(userID int64) (*http.Cookie, error) {
	token, err := SignToken(userID, a.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenExpiry.Seconds()),
	}
	return cookie, nil
}
