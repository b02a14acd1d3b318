package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signIn stores userID in the session cookie the way the sign-in flow does.
func (a *SessionAuthenticator) signIn(c echo.Context, userID uint) error {
	sess, err := a.store.Get(c.Request(), a.name)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	sess.Values[sessionUserKey] = userID
	return sess.Save(c.Request(), c.Response())
}

func TestSessionAuthenticatorRoundTrip(t *testing.T) {
	auth := NewSessionAuthenticator([]byte("0123456789abcdef0123456789abcdef"), "session", false)

	rec := httptest.NewRecorder()
	require.NoError(t, auth.signIn(echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec), 42))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	id, err := auth.UserID(echo.New().NewContext(req, httptest.NewRecorder()))
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
}

func TestSessionAuthenticatorRejectsForgedCookie(t *testing.T) {
	auth := NewSessionAuthenticator([]byte("0123456789abcdef0123456789abcdef"), "session", false)
	forged := &http.Cookie{Name: "session", Value: "not-a-signed-value"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(forged)
	_, err := auth.UserID(echo.New().NewContext(req, httptest.NewRecorder()))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(forged)
	err = auth.signIn(echo.New().NewContext(req, httptest.NewRecorder()), 42)
	assert.Error(t, err, "a broken session is reported instead of silently replaced")

	_, err = auth.UserID(echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()))
	assert.ErrorIs(t, err, ErrUnauthenticated, "no cookie at all")
}
