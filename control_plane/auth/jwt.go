// Package auth issues and validates the bearer tokens that protect the API
// when authentication is enabled.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer   = "tierroute"
	Audience = "tierroute-api"

	// MinSecretLength is enforced at construction.
	MinSecretLength = 32
)

// Roles. A viewer may read history and status; a submitter may also submit.
const (
	RoleViewer    = "viewer"
	RoleSubmitter = "submitter"
)

var (
	ErrWeakSecret   = fmt.Errorf("auth: secret must be at least %d bytes", MinSecretLength)
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrUnknownRole  = errors.New("auth: unknown role")
)

// Claims are the registered claims plus the caller's role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authority signs and verifies HS256 tokens with a shared secret.
type Authority struct {
	secret []byte
	now    func() time.Time
}

func NewAuthority(secret string) (*Authority, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &Authority{secret: []byte(secret), now: time.Now}, nil
}

// Issue creates a token for subject valid for ttl.
func (a *Authority) Issue(subject, role string, ttl time.Duration) (string, error) {
	if role != RoleViewer && role != RoleSubmitter {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a token and checks signature, expiry, issuer and audience.
func (a *Authority) Validate(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Role != RoleViewer && claims.Role != RoleSubmitter {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidToken, ErrUnknownRole, claims.Role)
	}
	return &claims, nil
}
