package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	anonIDHeader = "X-Anon-Id"
	anonIDCookie = "anon_id"

	// anonCookieMaxAge keeps the identity for a year of inactivity.
	anonCookieMaxAge = 365 * 24 * 60 * 60
)

// resolveAnonID returns the caller's anonymous identity. The X-Anon-Id
// header wins over the anon_id cookie; when neither is present a UUID
// is minted and set as a cookie so the next request carries it.
func resolveAnonID(w http.ResponseWriter, r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(anonIDHeader)); id != "" {
		return id
	}

	if cookie, err := r.Cookie(anonIDCookie); err == nil {
		if id := strings.TrimSpace(cookie.Value); id != "" {
			return id
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     anonIDCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   anonCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
