package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates requests by their HMAC-SHA256 hashed API key.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler returns a SecurityHandler.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{apikeys: apikeys, pepper: pepper}
}

// Authenticate rejects requests without a known API key and stores the
// caller's auth.Identity in the request context.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeError(w, &apiError{Status: http.StatusUnauthorized, Message: "missing api key"})
			return
		}

		hash := auth.HashKey(key, s.pepper)
		info, err := s.apikeys.FindByHash(r.Context(), hash)
		switch {
		case errors.Is(err, auth.ErrKeyNotFound):
			writeError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
			return
		case err != nil:
			fail(w, r, errors.Wrap(err, "find api key"))
			return
		}

		// Constant-time check of the stored hash.
		want, err := hex.DecodeString(info.KeyHash)
		got, _ := hex.DecodeString(hash)
		if err != nil || subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
			return
		}

		id := auth.Identity{KeyID: info.ID, UserID: info.UserID, Scopes: info.Scopes}
		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireStaff allows only identities with the orders:manage scope.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.Staff() {
			writeError(w, &apiError{Status: http.StatusForbidden, Message: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
