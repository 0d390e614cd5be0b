package httpx

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
)

func newCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// IssueCSRFToken sets a token cookie if the request does not already
// carry one, and echoes the current token in the response header so the
// client can submit it on the next mutating call.
func IssueCSRFToken(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(csrfCookieName); err == nil && c.Value != "" {
		w.Header().Set(csrfHeaderName, c.Value)
		return
	}
	token, err := newCSRFToken()
	if err != nil {
		return
	}
	setCSRFCookie(w, token)
	w.Header().Set(csrfHeaderName, token)
}

// RequireCSRF enforces the double-submit token on mutating endpoints: the
// X-CSRF-Token header must match the csrf_token cookie. On success a
// fresh token is rotated onto the response before the handler runs.
func RequireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			WriteError(w, http.StatusForbidden, "missing csrf token", "forbidden")
			return
		}

		header := r.Header.Get(csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			WriteError(w, http.StatusForbidden, "invalid csrf token", "forbidden")
			return
		}

		if token, err := newCSRFToken(); err == nil {
			setCSRFCookie(w, token)
			w.Header().Set(csrfHeaderName, token)
		}

		next(w, r)
	}
}
