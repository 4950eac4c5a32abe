package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	pkghttp "github.com/kestrelhq/warden/pkg/http"
)

// AdminAuth guards the admin surface with a static bearer token. The
// comparison is constant time.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				pkghttp.WriteForbidden(w, "Admin API is disabled")
				return
			}

			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				pkghttp.WriteUnauthorized(w, "Missing admin token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				pkghttp.WriteUnauthorized(w, "Invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
