package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/R3E-Network/zkgate/internal/auth"
	"github.com/R3E-Network/zkgate/internal/errors"
	internalhttputil "github.com/R3E-Network/zkgate/internal/httputil"
	"github.com/R3E-Network/zkgate/internal/logging"
)

// AuthMiddleware guards admin routes with an HS256 bearer token carrying role admin.
// With an empty secret it lets every request through.
type AuthMiddleware struct {
	secret []byte
	logger *logging.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(secret string, logger *logging.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		logger: logger,
	}
}

// Enabled reports whether tokens are checked.
func (m *AuthMiddleware) Enabled() bool {
	return len(m.secret) > 0
}

// RequireAdmin returns the middleware handler
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Authorization") == "" {
			m.respondError(w, r, errors.Unauthorized("Missing Authorization header"))
			return
		}
		tokenString, ok := bearerToken(r)
		if !ok {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}

		claims, err := auth.Parse(m.secret, tokenString)
		if err != nil {
			m.respondError(w, r, errors.InvalidToken(err))
			return
		}
		if !claims.IsAdmin() {
			m.respondError(w, r, errors.Forbidden("admin role required"))
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.Subject)
		ctx = logging.WithRole(ctx, claims.Role)

		m.logger.WithContext(ctx).Debug("Authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject returns the subject of a valid bearer token on r, or "" when auth is
// disabled or the token is missing or invalid. Any role counts.
func (m *AuthMiddleware) Subject(r *http.Request) string {
	if !m.Enabled() {
		return ""
	}
	tokenString, ok := bearerToken(r)
	if !ok {
		return ""
	}
	claims, err := auth.Parse(m.secret, tokenString)
	if err != nil {
		return ""
	}
	return claims.Subject
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err *errors.ServiceError) {
	internalhttputil.WriteServiceError(w, r, err)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": err.HTTPStatus,
		"reason": err.Message,
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}
