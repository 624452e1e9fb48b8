package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware authenticates API requests with JWTs and checks the caller's
// role against the policy.
type Middleware struct {
	secret []byte
	policy Policy
	logger *zap.Logger
}

// NewMiddleware constructs an auth middleware. A nil logger disables logging.
func NewMiddleware(secret []byte, policy Policy, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{secret: secret, policy: policy, logger: logger}
}

// Wrap applies the policy to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := m.policy.Route(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.authorize(r, route)
		switch {
		case errors.Is(err, ErrForbidden):
			m.logger.Debug("request forbidden",
				zap.String("path", r.URL.Path),
				zap.String("subject", id.Subject),
				zap.String("role", string(id.Role)))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		case err != nil:
			m.logger.Debug("request unauthorized", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) authorize(r *http.Request, route Route) (Identity, error) {
	raw := bearerToken(r)
	if raw == "" && route.QueryToken {
		raw = r.URL.Query().Get("access_token")
	}
	id, err := ParseToken(raw, m.secret)
	if err != nil {
		return Identity{}, err
	}
	if !id.Role.Satisfies(route.Role) {
		return id, ErrForbidden
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
