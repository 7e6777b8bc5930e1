package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// AuthLevel is a route's declared auth requirement (spec §4.10).
type AuthLevel int

const (
	// AuthNone allows unauthenticated read-only status queries.
	AuthNone AuthLevel = iota
	// AuthRequired accepts the normal auth key or the admin key.
	AuthRequired
	// AuthAdmin accepts only the admin key.
	AuthAdmin
)

const authHeader = "X-Auth-Key"

// authenticator checks a request's auth key against the configured
// normal/admin keys in constant time, mirroring the teacher's
// check-first-business-logic-second gate in api.Server.ensureLeader.
type authenticator struct {
	key      string
	adminKey string
}

func (a authenticator) authorized(r *http.Request, level AuthLevel) bool {
	if level == AuthNone {
		return true
	}
	got := r.Header.Get(authHeader)
	if got == "" {
		return false
	}
	if a.adminKey != "" && constantTimeEqual(got, a.adminKey) {
		return true
	}
	if level == AuthAdmin {
		return false
	}
	return a.key != "" && constantTimeEqual(got, a.key)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// require wraps next so it only runs when the request's auth key
// satisfies level.
func (a authenticator) require(level AuthLevel, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.authorized(r, level) {
			Respond(w, http.StatusUnauthorized, Envelope{Success: false, Error: "invalid or missing auth key"})
			return
		}
		next(w, r)
	}
}
