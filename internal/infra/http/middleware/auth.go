package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/jwt"
	"github.com/openctemio/entitlements/pkg/logger"
)

// Auth-related context keys.
const (
	UserIDKey                   = logger.ContextKeyUserID
	ClaimsKey logger.ContextKey = "claims"
	ActorKey  logger.ContextKey = "actor"
)

// OrganizationParam is the path parameter carrying the tenant organization id.
const OrganizationParam = "orgID"

// TokenValidator validates bearer tokens. *jwt.Generator implements it.
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// GetClaims extracts the validated token claims from context.
func GetClaims(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

// GetActor extracts the caller's authorization context.
func GetActor(ctx context.Context) (shared.Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(shared.Actor)
	return actor, ok
}

// MustGetActor is for handlers mounted behind Authenticate. A missing actor is a
// routing bug, not a client error.
func MustGetActor(ctx context.Context) shared.Actor {
	actor, ok := GetActor(ctx)
	if !ok {
		panic("MustGetActor: actor not found in context - ensure Authenticate() middleware is applied")
	}
	return actor
}

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// Authenticate requires a valid bearer token and stores its claims and actor in the context.
func Authenticate(validator TokenValidator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				RecordAuthFailure("missing_token")
				apierror.Unauthorized("Missing bearer token").WriteJSON(w)
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				reason := "invalid_token"
				if errors.Is(err, jwt.ErrExpiredToken) {
					reason = "expired_token"
				}
				RecordAuthFailure(reason)
				log.Debug("token rejected", "reason", reason, "request_id", GetRequestID(r.Context()))
				apierror.Unauthorized("Invalid or expired token").WriteJSON(w)
				return
			}

			actor, err := claims.Actor()
			if err != nil {
				RecordAuthFailure("bad_claims")
				apierror.Unauthorized("Invalid token claims").WriteJSON(w)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = context.WithValue(ctx, ActorKey, actor)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers whose token lacks the admin claim.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				apierror.Unauthorized("Authentication required").WriteJSON(w)
				return
			}
			if !claims.IsAdmin {
				apierror.Forbidden("Administrative rights required").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOrganizationAccess rejects callers whose token does not cover the
// organization in the {orgID} path parameter.
func RequireOrganizationAccess() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				apierror.Unauthorized("Authentication required").WriteJSON(w)
				return
			}

			orgID, err := shared.IDFromString(chi.URLParam(r, OrganizationParam))
			if err != nil {
				apierror.BadRequest("Invalid organization id").WriteJSON(w)
				return
			}
			if !claims.HasOrganizationAccess(orgID.String()) {
				apierror.Forbidden("No access to this organization").WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
