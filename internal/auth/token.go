// Package auth issues and verifies the gateway's bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"papers-gateway/internal/config"
	"papers-gateway/internal/domain"
)

// ErrInvalidToken is the single verification failure. Callers do not learn
// whether the signature, the payload or the expiry was at fault.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Claims is the signed token payload.
type Claims struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 tokens with a process-wide secret.
// Changing the secret invalidates every outstanding token.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService builds a token service from the auth section of the config.
func NewService(cfg *config.Auth, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("auth: config must not be nil")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	s := &Service{
		secret: cfg.Secret,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for email carrying the admin flag as of now.
func (s *Service) Issue(email string, isAdmin bool) (string, error) {
	now := s.now()
	claims := Claims{
		Email:   email,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the token's subject.
func (s *Service) Verify(tokenString string) (domain.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return domain.Identity{}, ErrInvalidToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return domain.Identity{}, ErrInvalidToken
	}
	if claims.Email == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	return domain.Identity{Email: claims.Email, IsAdmin: claims.IsAdmin}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
