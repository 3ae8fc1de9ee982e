package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/cuemby/foundry/pkg/config"
	"github.com/cuemby/foundry/pkg/errdefs"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID    string
	ProjectID string
	Roles     []string
}

// IsAdmin reports whether the identity carries the admin role.
func (id *Identity) IsAdmin() bool {
	for _, r := range id.Roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

// TokenValidator resolves a bearer token to an identity. Deployments fronted
// by an external identity service provide their own implementation.
type TokenValidator interface {
	Validate(token string) (*Identity, error)
}

// StaticTokenValidator resolves tokens from the configuration file.
type StaticTokenValidator struct {
	tokens map[string]config.TokenIdentity
}

// NewStaticTokenValidator builds a validator over the configured token map.
func NewStaticTokenValidator(cfg *config.Config) *StaticTokenValidator {
	return &StaticTokenValidator{tokens: cfg.API.Tokens}
}

func (v *StaticTokenValidator) Validate(token string) (*Identity, error) {
	ident, ok := v.tokens[token]
	if !ok {
		return nil, errdefs.ErrNotAuthorized
	}
	return &Identity{
		UserID:    ident.UserID,
		ProjectID: ident.ProjectID,
		Roles:     ident.Roles,
	}, nil
}

type contextKey int

const identityKey contextKey = iota

// IdentityFrom extracts the authenticated identity, or nil on public routes.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// requireAuth wraps a handler with bearer token authentication.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody("authentication required"))
			return
		}
		ident, err := s.tokens.Validate(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("invalid token"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	}
}

// canAccess reports whether the identity may act on hardware owned by
// projectID.
func canAccess(id *Identity, projectID string) bool {
	return id.IsAdmin() || id.ProjectID == projectID
}
