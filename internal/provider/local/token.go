package local

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hnrobert/trydo/internal/provider"
)

const issuer = "trydo-local"

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (d *Directory) issue(rec Record) (*provider.Session, error) {
	now := d.now()
	exp := now.Add(d.ttl)
	claims := sessionClaims{
		Email: rec.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   rec.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
	if err != nil {
		return nil, err
	}
	return &provider.Session{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
		User:        rec.user(),
	}, nil
}

func (d *Directory) parse(token string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return d.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(d.now))
	if err != nil {
		return nil, err
	}
	cl, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if d.isRevoked(cl.ID) {
		return nil, errors.New("token revoked")
	}
	return cl, nil
}

// expiry returns the token's exp, or the zero time if unreadable.
func expiry(cl *sessionClaims) time.Time {
	if cl == nil || cl.ExpiresAt == nil {
		return time.Time{}
	}
	return cl.ExpiresAt.Time
}
