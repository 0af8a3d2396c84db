package middleware

import (
	"net/http"

	goGate "github.com/MrEthical07/goGate"
)

// RequireAuthority rejects requests whose principal lacks authority. It must
// run after a gate; anonymous requests get 401, others 403.
func RequireAuthority(authority string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := goGate.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !p.HasAuthority(authority) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
