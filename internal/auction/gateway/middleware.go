package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bidhaus/auctiond/internal/auctionerrors"
	"github.com/bidhaus/auctiond/internal/identity"
)

type contextKey string

const userIDKey contextKey = "user_id"

// withAuth resolves the bearer token to a user id and stashes it in the
// request context. Requests without a resolvable token are answered 401.
func withAuth(provider identity.Provider, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeRejection(w, auctionerrors.ErrUnauthorized)
			return
		}
		userID, err := provider.UserForToken(r.Context(), token)
		if err != nil {
			writeRejection(w, auctionerrors.ErrUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func userIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}
