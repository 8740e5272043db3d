// Package auth protects the API with bearer tokens. Two verification
// modes exist: Firebase ID tokens (when the deployment delegates sign-in
// to Firebase) and locally issued HMAC device tokens (self-hosted
// setups). With neither configured the API runs open, which is the dev
// default.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Identity describes the caller associated with a verified token.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Claims represents JWT claims for device tokens.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Service verifies bearer tokens and issues device tokens.
type Service struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	fb         *fbauth.Client
}

// New creates an auth service. fb may be nil (no Firebase verification);
// signingKey may be empty (no local device tokens).
func New(signingKey, issuer string, tokenTTL time.Duration, fb *fbauth.Client) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
		fb:         fb,
	}
}

// Enabled reports whether any verification mode is configured.
func (s *Service) Enabled() bool {
	return s.fb != nil || len(s.signingKey) > 0
}

// IssueDeviceToken creates a signed token identifying a device. Only
// available in local-token mode.
func (s *Service) IssueDeviceToken(name string) (string, error) {
	if len(s.signingKey) == 0 {
		return "", ErrDisabled
	}

	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   "device-" + uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// Verify checks a bearer token and returns the caller identity.
// Firebase verification wins when configured; otherwise the token is
// parsed as a locally issued device token.
func (s *Service) Verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	if s.fb != nil {
		token, err := s.fb.VerifyIDToken(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		id := &Identity{UserID: token.UID}
		if name, ok := token.Claims["name"].(string); ok {
			id.Name = name
		}
		return id, nil
	}

	claims, err := s.parseDeviceToken(raw)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.Subject, Name: claims.Name}, nil
}

func (s *Service) parseDeviceToken(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// identityContextKey stores the verified caller in request context.
const identityContextKey contextKey = "identity"

// Middleware requires a valid bearer token on every request. When no
// verification mode is configured the middleware passes everything
// through unchanged.
func Middleware(s *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			id, err := s.Verify(r.Context(), raw)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext extracts the verified caller from request context.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
