package auth

import (
	"net/http"
	"strings"
)

// DefaultSessionCookieName is used when CookieConfig.Name is empty
const DefaultSessionCookieName = "fieldnotes_session"

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Name     string
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultSessionCookieName
	}
	return c.Name
}

// SetSessionCookie writes the session handle as a browser-session cookie
func SetSessionCookie(w http.ResponseWriter, sessionID string, config CookieConfig) {
	replaceCookie(w, &http.Cookie{
		Name:     config.name(),
		Value:    sessionID,
		Path:     "/",
		Domain:   config.Domain,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	replaceCookie(w, &http.Cookie{
		Name:     config.name(),
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// GetSessionCookie returns the session handle sent by the client, or ""
func GetSessionCookie(r *http.Request, config CookieConfig) string {
	cookie, err := r.Cookie(config.name())
	if err != nil {
		return ""
	}
	return cookie.Value
}

// replaceCookie drops any Set-Cookie already queued under c.Name so a
// session rotated twice in one request sends a single cookie
func replaceCookie(w http.ResponseWriter, c *http.Cookie) {
	prefix := c.Name + "="
	var kept []string
	for _, v := range w.Header().Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	w.Header().Del("Set-Cookie")
	for _, v := range kept {
		w.Header().Add("Set-Cookie", v)
	}
	http.SetCookie(w, c)
}

// parseSameSite converts string to http.SameSite constant. Unknown values fall back to strict.
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
