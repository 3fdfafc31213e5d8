package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"faceattend/internal/model"
)

// Token is a signed access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Claims represents JWT payload. The registered subject is the caller's
// external key.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Caller converts the claims into the actor seen by the core.
func (c Claims) Caller() model.Caller {
	return model.Caller{ExternalKey: c.Subject, Role: model.ParseRole(c.Role)}
}

// Issue signs an HS256 access token for subject.
func Issue(subject string, role model.Role, issuer, key string, ttl time.Duration, now time.Time) (Token, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Token{}, errors.New("subject is required")
	}
	exp := now.Add(ttl)
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, errors.New("token has no subject")
	}
	return *claims, nil
}
