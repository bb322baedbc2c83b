package session

import (
	"net/http"
	"time"
)

const CookieName = "access_token"

// CookieSetter writes and clears the session cookie.
type CookieSetter struct {
	Path     string
	Secure   bool
	SameSite http.SameSite
}

func NewCookieSetter(secure bool) CookieSetter {
	return CookieSetter{Path: "/", Secure: secure, SameSite: http.SameSiteLaxMode}
}

func (c CookieSetter) Set(w http.ResponseWriter, s Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.Token,
		Path:     c.Path,
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

func (c CookieSetter) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     c.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// TokenFromCookie reads the session token from the access_token cookie.
func TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
