package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Middleware provides authentication middleware for HTTP
type Middleware struct {
	staticToken string
	jwtManager  *JWTManager
}

// NewMiddleware accepts a static token, a JWT secret, both or neither.
// With neither, every request passes unauthenticated.
func NewMiddleware(staticToken, jwtSecret string) *Middleware {
	m := &Middleware{staticToken: staticToken}
	if jwtSecret != "" {
		m.jwtManager = NewJWTManager(jwtSecret)
	}
	return m
}

// Enabled reports whether requests must authenticate.
func (m *Middleware) Enabled() bool {
	return m.staticToken != "" || m.jwtManager != nil
}

// HTTPMiddleware provides HTTP authentication middleware
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := ""
		if h := r.Header.Get("Authorization"); h != "" {
			t, err := ExtractBearerToken(h)
			if err != nil {
				unauthorized(w, "invalid authorization header")
				return
			}
			token = t
		} else if isStreamPath(r.URL.Path) {
			// Browser EventSource and WebSocket clients cannot set headers.
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			unauthorized(w, "authorization required")
			return
		}

		userCtx, ok := m.authenticate(token)
		if !ok {
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userCtx)))
	})
}

func (m *Middleware) authenticate(token string) (*UserContext, bool) {
	if m.staticToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(m.staticToken)) == 1 {
		return &UserContext{TokenType: TokenTypeStatic}, true
	}
	if m.jwtManager != nil {
		if u, err := m.jwtManager.ValidateAccessToken(token); err == nil {
			return u, true
		}
	}
	return nil, false
}

func isStreamPath(path string) bool {
	return strings.HasSuffix(path, "/events") || strings.HasSuffix(path, "/ws")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="probeai"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
