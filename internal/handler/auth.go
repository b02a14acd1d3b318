package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
)

// ErrUnauthenticated is returned when the request carries no valid session.
var ErrUnauthenticated = errors.New("authentication required")

// Authenticator resolves the user behind a request.
type Authenticator interface {
	UserID(c echo.Context) (uint, error)
}

const sessionUserKey = "user_id"

// SessionAuthenticator reads the user id from a signed session cookie issued
// by the sign-in flow.
type SessionAuthenticator struct {
	store sessions.Store
	name  string
}

// NewSessionAuthenticator signs cookies called name with secret.
func NewSessionAuthenticator(secret []byte, name string, secure bool) *SessionAuthenticator {
	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionAuthenticator{store: store, name: name}
}

func (a *SessionAuthenticator) UserID(c echo.Context) (uint, error) {
	sess, err := a.store.Get(c.Request(), a.name)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	switch v := sess.Values[sessionUserKey].(type) {
	case uint:
		if v > 0 {
			return v, nil
		}
	case int:
		if v > 0 {
			return uint(v), nil
		}
	case int64:
		if v > 0 {
			return uint(v), nil
		}
	}
	return 0, ErrUnauthenticated
}
