package common

import (
	"net/http"
	"time"

	"github.com/jo-hoe/goprint/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	SessionCookieName = "goprint_session"
	sessionContextKey = "session"
)

// RequireSession rejects requests without a valid session cookie through
// onMissing and stores the session in the echo context otherwise.
func RequireSession(sessions *core.SessionManager, onMissing echo.HandlerFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			cookie, err := ctx.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				return onMissing(ctx)
			}
			session, ok := sessions.Get(cookie.Value)
			if !ok {
				return onMissing(ctx)
			}
			ctx.Set(sessionContextKey, session)
			return next(ctx)
		}
	}
}

// CurrentSession returns the session RequireSession stored, if any.
func CurrentSession(ctx echo.Context) (core.Session, bool) {
	session, ok := ctx.Get(sessionContextKey).(core.Session)
	return session, ok
}

func SetSessionCookie(ctx echo.Context, session core.Session) {
	ctx.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   ctx.IsTLS(),
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   ctx.IsTLS(),
		SameSite: http.SameSiteLaxMode,
	})
}
