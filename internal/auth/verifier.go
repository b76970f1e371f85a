package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const (
	defaultLeeway       = 30 * time.Second
	jwksRefreshInterval = time.Hour
)

var (
	ErrMissingSecret  = errors.New("token verifier requires a secret")
	ErrMissingJWKSURL = errors.New("token verifier requires a jwks url")
	ErrMissingSubject = errors.New("token subject missing")
	ErrVerifyOnly     = errors.New("verifier cannot sign with provider keys")
)

// Claims carried by identity-provider session tokens. Plan is the active
// subscription tier; Features lists the entitlement flags granted to it.
type Claims struct {
	Plan     string   `json:"plan,omitempty"`
	Features []string `json:"features,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates session tokens. Provider tokens are RS/ES signed and checked
// against the provider's JWKS; a shared HS256 secret serves tests and tooling.
type Verifier struct {
	keyFunc jwt.Keyfunc
	methods []string
	secret  []byte
	jwks    *keyfunc.JWKS
	issuer  string
	leeway  time.Duration
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	key := []byte(secret)
	return &Verifier{
		keyFunc: func(*jwt.Token) (any, error) { return key, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		secret:  key,
		issuer:  strings.TrimSpace(issuer),
		leeway:  defaultLeeway,
	}, nil
}

// NewJWKSVerifier fetches the provider's key set and refreshes it in the
// background until ctx ends or Close is called. Unknown key ids trigger a refresh.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*Verifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, ErrMissingJWKSURL
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   jwksRefreshInterval,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Str("url", jwksURL).Msg("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}

	return &Verifier{
		keyFunc: jwks.Keyfunc,
		methods: []string{"RS256", "RS384", "RS512", "ES256", "ES384"},
		jwks:    jwks,
		issuer:  strings.TrimSpace(issuer),
		leeway:  defaultLeeway,
	}, nil
}

// Close stops the background JWKS refresh, if any.
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Verify parses the token and returns the identity it asserts.
func (v *Verifier) Verify(token string) (*Identity, error) {
	claims := Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &claims, v.keyFunc, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, ErrMissingSubject
	}

	return &Identity{
		UserID:   subject,
		Plan:     claims.Plan,
		Features: claims.Features,
	}, nil
}

// Sign issues an HS256 token for the given identity. Used by tooling and tests.
func (v *Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	if v.secret == nil {
		return "", ErrVerifyOnly
	}
	now := time.Now()
	claims := Claims{
		Plan:     id.Plan,
		Features: id.Features,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
