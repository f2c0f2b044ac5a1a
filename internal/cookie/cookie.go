package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/handoff/internal/envutil"
	"github.com/dgellow/handoff/internal/log"
)

// Cookie names used by handoff
const (
	SessionCookie = "handoff_session"
	StateCookie   = "handoff_oauth_state"
	CSRFCookie    = "handoff_csrf"
)

// SetSession sets a session cookie with appropriate security settings
func SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge":   maxAge.String(),
		"secure":   secure,
		"sameSite": "Lax",
	})
}

// SetState sets the short-lived OAuth state nonce cookie. It must be Lax so
// the provider's top-level redirect back to the callback carries it.
func SetState(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// SetCSRF sets the browser binding that login form tokens are signed against.
// It lives as long as the browser session.
func SetCSRF(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie)
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// ClearState removes the OAuth state cookie
func ClearState(w http.ResponseWriter) {
	Clear(w, StateCookie)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}

// GetState retrieves the OAuth state cookie value
func GetState(r *http.Request) (string, error) {
	return Get(r, StateCookie)
}

// GetCSRF retrieves the CSRF binding cookie value
func GetCSRF(r *http.Request) (string, error) {
	return Get(r, CSRFCookie)
}
