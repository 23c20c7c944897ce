// Package auth turns bearer tokens into principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/park285/tictactoe-live/internal/domain"
)

// Authenticator validates a token; failures carry domain.ErrUnauthorized.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Principal, error)
}

// Func adapts a plain function to Authenticator.
type Func func(ctx context.Context, token string) (domain.Principal, error)

func (f Func) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	return f(ctx, token)
}

// Claims is the token body: sub = user id, username = display name.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type JWT struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	issuer string
	now    func() time.Time
}

type Option func(*JWT)

// WithAlgorithm selects HS256, HS384 or HS512.
func WithAlgorithm(name string) Option {
	return func(j *JWT) {
		if m, ok := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(name))).(*jwt.SigningMethodHMAC); ok {
			j.method = m
		}
	}
}

func WithIssuer(iss string) Option { return func(j *JWT) { j.issuer = iss } }

func WithClock(now func() time.Time) Option { return func(j *JWT) { j.now = now } }

func NewJWT(secret string, opts ...Option) (*JWT, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is empty")
	}
	j := &JWT{secret: []byte(secret), method: jwt.SigningMethodHS256, now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// Authenticate accepts "Bearer <token>" or the bare token.
func (j *JWT) Authenticate(_ context.Context, token string) (domain.Principal, error) {
	raw := strings.TrimSpace(token)
	if scheme, rest, found := strings.Cut(raw, " "); found {
		if !strings.EqualFold(scheme, "Bearer") {
			return domain.Principal{}, fmt.Errorf("%w: invalid authentication scheme", domain.ErrUnauthorized)
		}
		raw = strings.TrimSpace(rest)
	}
	if raw == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		popts = append(popts, jwt.WithIssuer(j.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, popts...)
	if err != nil {
		return domain.Principal{}, domain.Wrap(domain.CodeUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing subject", domain.ErrUnauthorized)
	}
	name := strings.TrimSpace(claims.Username)
	if name == "" {
		name = claims.Subject
	}
	return domain.Principal{ID: claims.Subject, Username: name}, nil
}

// Issue signs a token for p valid for ttl.
func (j *JWT) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	now := j.now()
	claims := &Claims{
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(j.method, claims).SignedString(j.secret)
}
