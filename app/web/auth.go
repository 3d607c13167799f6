package web

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// authUser is the basic auth user name for the api
const authUser = "wflib"

// authMiddleware checks basic auth credentials against the configured bcrypt hash
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if ok && username == authUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="Workflow Library"`)
		s.writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	})
}
