// Package auth verifies bearer tokens minted by the identity provider.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v4"
)

const (
	RoleCustomer = "customer"
	RoleService  = "service"
	RoleAdmin    = "admin"
)

var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
	ErrNoSecret     = errors.New("jwt secret not configured")
)

// Claims carries the identity fields the marketplace relies on. The subject
// is the user's snowflake id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified caller.
type Identity struct {
	UserID snowflake.ID
	Email  string
	Name   string
	Role   string
}

// IsStaff reports whether the identity may call service endpoints.
func (i Identity) IsStaff() bool {
	return i.Role == RoleAdmin || i.Role == RoleService
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// Parse validates an HS256 token and returns its identity. Tokens without a
// role are treated as customers.
func (v *Verifier) Parse(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || userID == 0 {
		return nil, ErrInvalidToken
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	switch role {
	case "":
		role = RoleCustomer
	case RoleCustomer, RoleService, RoleAdmin:
	default:
		return nil, ErrInvalidToken
	}

	return &Identity{
		UserID: userID,
		Email:  strings.TrimSpace(claims.Email),
		Name:   strings.TrimSpace(claims.Name),
		Role:   role,
	}, nil
}

// Issue mints a token for the identity. It backs the CLI token command and tests.
func (v *Verifier) Issue(identity Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Email: identity.Email,
		Name:  identity.Name,
		Role:  identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
