// Package jwt provides JWT token generation and validation utilities.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyUserID is returned when user_id is empty.
	ErrEmptyUserID = errors.New("user_id cannot be empty")
	// ErrInvalidTokenType is returned when token type is invalid.
	ErrInvalidTokenType = errors.New("invalid token type")
)

// TokenType represents the type of JWT token.
type TokenType string

// TokenTypeAccess is the only token type this service issues.
const TokenTypeAccess TokenType = "access"

// Claims represents the JWT claims structure.
type Claims struct {
	UserID    string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	TokenType TokenType `json:"token_type,omitempty"`

	// Organizations the caller may read entitlements for.
	Organizations []string `json:"orgs,omitempty"`
	// IsAdmin grants the administrative surface.
	IsAdmin bool `json:"admin,omitempty"`

	jwt.RegisteredClaims
}

// HasOrganizationAccess reports whether the token covers orgID.
// Administrators can access every organization.
func (c *Claims) HasOrganizationAccess(orgID string) bool {
	if c.IsAdmin {
		return true
	}
	for _, id := range c.Organizations {
		if id == orgID {
			return true
		}
	}
	return false
}

// Actor converts the claims into the explicit authorization context services take.
func (c *Claims) Actor() (shared.Actor, error) {
	id, err := shared.IDFromString(c.UserID)
	if err != nil {
		return shared.Actor{}, fmt.Errorf("%w: subject is not an id", ErrInvalidToken)
	}
	orgs := make([]shared.ID, 0, len(c.Organizations))
	for _, raw := range c.Organizations {
		orgID, err := shared.IDFromString(raw)
		if err != nil {
			return shared.Actor{}, fmt.Errorf("%w: bad organization id %q", ErrInvalidToken, raw)
		}
		orgs = append(orgs, orgID)
	}
	return shared.Actor{
		ID:            id,
		Email:         c.Email,
		IsAdmin:       c.IsAdmin,
		Organizations: orgs,
	}, nil
}

// TokenConfig holds signing configuration.
type TokenConfig struct {
	Secret              string
	Issuer              string
	AccessTokenDuration time.Duration
}

// Subject describes whom a token is issued to.
type Subject struct {
	UserID        string
	Email         string
	Name          string
	Organizations []string
	IsAdmin       bool
}

// Generator handles JWT token generation and validation.
type Generator struct {
	config TokenConfig
	now    func() time.Time
}

// NewGenerator creates a new token generator.
func NewGenerator(config TokenConfig) *Generator {
	return &Generator{config: config, now: time.Now}
}

// GenerateAccessToken signs an access token for sub.
func (g *Generator) GenerateAccessToken(sub Subject) (string, time.Time, error) {
	if sub.UserID == "" {
		return "", time.Time{}, ErrEmptyUserID
	}

	now := g.now()
	expiresAt := now.Add(g.config.AccessTokenDuration)

	claims := Claims{
		UserID:        sub.UserID,
		Email:         sub.Email,
		Name:          sub.Name,
		TokenType:     TokenTypeAccess,
		Organizations: sub.Organizations,
		IsAdmin:       sub.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    g.config.Issuer,
			Subject:   sub.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(g.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signedToken, expiresAt, nil
}

// ValidateAccessToken validates an access token and its issuer.
func (g *Generator) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(tokenString, g.config.Secret)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeAccess {
		return nil, ErrInvalidTokenType
	}
	if g.config.Issuer != "" && claims.Issuer != g.config.Issuer {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ValidateToken validates the token and returns the claims.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
