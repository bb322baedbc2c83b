package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
)

// Identity is the signed-in user behind a request.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	SessionID string
	ExpiresAt time.Time
}

type contextKey struct {
	name string
}

var identityKey = &contextKey{"Identity"}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Verifier finds a token in the Authorization header or the access_token
// cookie and verifies it.
func Verifier(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return jwtauth.Verify(ja, jwtauth.TokenFromHeader, TokenFromCookie)
}

// RequireActive rejects requests without a valid, unrevoked session and puts
// the Identity in the request context. It must run after Verifier.
func RequireActive(revoker Revoker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				apperrors.WriteError(w, r, apperrors.New(apperrors.ErrCodeTokenInvalid, "Authentication required"))
				return
			}

			userID, err := uuid.Parse(token.Subject())
			if err != nil || token.JwtID() == "" {
				apperrors.WriteError(w, r, apperrors.New(apperrors.ErrCodeTokenInvalid, "Authentication required"))
				return
			}

			revoked, err := revoker.IsRevoked(r.Context(), token.JwtID())
			if err != nil {
				apperrors.WriteError(w, r, apperrors.InternalWrap(err, "failed to check session"))
				return
			}
			if revoked {
				slog.Info("Rejected revoked session", "user_id", userID, "session_id", token.JwtID())
				apperrors.WriteError(w, r, apperrors.New(apperrors.ErrCodeSessionExpired, "Session expired"))
				return
			}

			email, _ := claims["email"].(string)
			id := Identity{
				UserID:    userID,
				Email:     email,
				SessionID: token.JwtID(),
				ExpiresAt: token.Expiration(),
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Authenticate chains Verifier and RequireActive.
func Authenticate(ja *jwtauth.JWTAuth, revoker Revoker) func(http.Handler) http.Handler {
	verify := Verifier(ja)
	require := RequireActive(revoker)
	return func(next http.Handler) http.Handler {
		return verify(require(next))
	}
}
