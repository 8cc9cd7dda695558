package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

const (
	RoleAdmin     = "ADMIN"
	RoleLibrarian = "LIBRARIAN"

	// Set by the authenticating proxy in front of this service.
	HeaderPrincipalRole = "X-Principal-Role"
	HeaderPrincipalID   = "X-Principal-ID"
)

// RequireRole rejects requests whose principal role is not one of roles.
func RequireRole(roles ...string) mux.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderPrincipalRole)))
			if _, ok := allowed[role]; !ok {
				respondError(w, http.StatusForbidden, "Forbidden", r.Method, routeTemplate(r))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestBodyLimit caps request bodies at maxBytes. Reads past the cap fail
// with *http.MaxBytesError. A non-positive maxBytes disables the cap.
func RequestBodyLimit(maxBytes int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// routeTemplate keeps metric labels bounded by reporting the matched pattern
// instead of the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return strings.TrimPrefix(tpl, "/api/v1")
		}
	}
	return "unmatched"
}
