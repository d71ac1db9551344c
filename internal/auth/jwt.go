// Package auth issues and validates operator tokens for privileged Firewatch
// endpoints such as a manual refetch.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// OperatorTokenExpiry is how long operator tokens are valid.
	OperatorTokenExpiry = 12 * time.Hour

	// ScopeRefetch allows triggering a refresh cycle.
	ScopeRefetch = "fire-risk:refetch"

	// ScopeStatus allows reading provider and subsystem status.
	ScopeStatus = "ops:status"
)

var (
	ErrInvalidToken = errors.New("invalid operator token")
	ErrTokenExpired = errors.New("operator token has expired")
	ErrMissingScope = errors.New("operator token lacks required scope")
)

// OperatorClaims are the claims carried by operator tokens.
type OperatorClaims struct {
	jwt.RegisteredClaims

	Scopes []string `json:"scp,omitempty"`
}

// HasScope reports whether the token grants scope.
func (c *OperatorClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenConfig holds configuration for the TokenService.
type TokenConfig struct {
	// SigningKey is the HS256 secret.
	SigningKey string

	// Issuer and Audience default to "firewatch".
	Issuer   string
	Audience string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// TokenService handles operator token creation and validation.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(cfg TokenConfig) *TokenService {
	s := &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		now:        cfg.Now,
	}
	if s.issuer == "" {
		s.issuer = "firewatch"
	}
	if s.audience == "" {
		s.audience = "firewatch"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// IssueOperatorToken signs a token for operator with the given scopes.
func (s *TokenService) IssueOperatorToken(operator string, scopes ...string) (string, time.Time, error) {
	if operator == "" {
		return "", time.Time{}, errors.New("operator is required")
	}

	now := s.now()
	expiresAt := now.Add(OperatorTokenExpiry)

	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   operator,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing operator token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken validates an operator token and returns its claims.
func (s *TokenService) ValidateToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
