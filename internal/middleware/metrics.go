package middleware

import (
	"crypto/subtle"
	"net/http"
)

// BasicAuth guards an operational endpoint such as /metrics.
// With both credentials empty it is a pass-through.
type BasicAuth struct {
	realm    string
	username []byte
	password []byte
}

// NewBasicAuth creates a BasicAuth for the given realm.
func NewBasicAuth(realm, username, password string) *BasicAuth {
	return &BasicAuth{
		realm:    realm,
		username: []byte(username),
		password: []byte(password),
	}
}

// Enabled reports whether credentials are configured.
func (b *BasicAuth) Enabled() bool {
	return len(b.username) > 0 || len(b.password) > 0
}

// Handler returns middleware that requires the configured credentials.
func (b *BasicAuth) Handler(next http.Handler) http.Handler {
	if !b.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		// Compare both fields every time so timing does not reveal which one failed.
		userOK := subtle.ConstantTimeCompare([]byte(user), b.username) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), b.password) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+b.realm+`"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
