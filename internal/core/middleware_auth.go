package core

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"vitalog/internal/types"
)

// adminKeyHeader carries the plaintext admin key on operator requests.
// Only its bcrypt hash is held in configuration.
const adminKeyHeader = "X-Admin-Key"

// AdminAuthMiddleware guards the /v1/admin subtree. The presented key
// is compared against the configured bcrypt hash; both missing and
// wrong keys produce 401 with distinct codes.
func (s *Server) AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(adminKeyHeader)
		if key == "" {
			Error(w, r, types.NewAppError(
				types.ErrCodeAdminKeyMissing,
				"admin key is required",
				nil,
			))
			return
		}

		hash := s.Config.Security.AdminAPIKeyHash.Value()
		if hash == "" {
			// No hash configured means admin access is disabled outright.
			Error(w, r, types.NewAppError(
				types.ErrCodeAdminKeyInvalid,
				"invalid admin key",
				nil,
			))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			Error(w, r, types.NewAppError(
				types.ErrCodeAdminKeyInvalid,
				"invalid admin key",
				err,
			))
			return
		}

		next.ServeHTTP(w, r)
	})
}
