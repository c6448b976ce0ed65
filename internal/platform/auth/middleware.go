package auth

import (
	"context"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/shopeasy/storefront/internal/platform/httpx"
)

const roleClaim = "role"

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into identities.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Require verifies the bearer token and, when roles are given, that the identity holds one of them.
// Tokens without a role claim are customers.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication unavailable", http.StatusUnauthorized))
				return
			}
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			if err != nil {
				code, msg := "invalid_token", "id token verification failed"
				if firebaseauth.IsIDTokenExpired(err) {
					code, msg = "token_expired", "id token expired"
				}
				httpx.WriteError(ctx, w, httpx.NewError(code, msg, http.StatusUnauthorized))
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: stringClaim(token.Claims, "email"),
				Phone: stringClaim(token.Claims, "phone_number"),
				Roles: claimRoles(token.Claims),
			}
			if len(roles) > 0 && !hasAny(identity, roles) {
				httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func hasAny(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

func claimRoles(claims map[string]any) []string {
	var out []string
	switch v := claims[roleClaim].(type) {
	case string:
		out = append(out, v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	roles := make([]string, 0, len(out)+1)
	for _, role := range out {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, RoleCustomer)
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
