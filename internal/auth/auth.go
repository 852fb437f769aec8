// Package auth verifies bearer tokens and carries the caller identity through
// request contexts.
//
// Tokens are compact JWS objects signed with HS256. Their payload is a JSON
// claim set whose time claims (exp, nbf, iat) are RFC 3339 strings.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/zeebo/errs"
)

// Error is the class of every authentication failure.
var Error = errs.Class("unauthenticated")

// Claims is the claim set carried by an access token.
type Claims struct {
	Issuer     string            `json:"iss"`
	Subject    uuid.UUID         `json:"sub"`
	Audience   string            `json:"aud"`
	Expiration time.Time         `json:"exp"`
	NotBefore  time.Time         `json:"nbf"`
	IssuedAt   time.Time         `json:"iat"`
	ID         uuid.UUID         `json:"jti"`
	Extra      map[string]string `json:"claims,omitempty"`
}

func (c *Claims) validate() error {
	switch {
	case c.Issuer == "":
		return Error.New("missing iss claim")
	case c.Subject == uuid.Nil:
		return Error.New("missing sub claim")
	case c.Audience == "":
		return Error.New("missing aud claim")
	case c.Expiration.IsZero():
		return Error.New("missing exp claim")
	case c.NotBefore.IsZero():
		return Error.New("missing nbf claim")
	case c.IssuedAt.IsZero():
		return Error.New("missing iat claim")
	case c.ID == uuid.Nil:
		return Error.New("missing jti claim")
	}
	return nil
}

// Verifier checks bearer tokens against a shared HS256 key.
type Verifier struct {
	key      []byte
	issuer   string
	audience string
	clock    clock.Clock
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithAudience requires the aud claim to equal audience.
func WithAudience(audience string) Option {
	return func(v *Verifier) { v.audience = audience }
}

// WithClock replaces the wall clock used for exp and nbf checks.
func WithClock(c clock.Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

// NewVerifier creates a verifier for tokens signed with key.
func NewVerifier(key []byte, opts ...Option) *Verifier {
	v := &Verifier{
		key:   key,
		clock: clock.WallClock,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyHeader parses an authorization header value of the form
// "<scheme> <token>" and verifies the token. The scheme must be bearer, in
// any case.
func (v *Verifier) VerifyHeader(header string) (*Claims, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return nil, Error.New("malformed authorization header")
	}
	if !strings.EqualFold(scheme, "bearer") {
		return nil, Error.New("unsupported authorization scheme %q", scheme)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, Error.New("empty bearer token")
	}
	return v.Verify(token)
}

// Verify checks the signature and claims of a compact token.
func (v *Verifier) Verify(token string) (*Claims, error) {
	payload, err := jws.Verify([]byte(token), jws.WithKey(jwa.HS256, v.key))
	if err != nil {
		return nil, Error.New("invalid token signature: %v", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, Error.New("malformed claims: %v", err)
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}

	now := v.clock.Now()
	if !now.Before(claims.Expiration) {
		return nil, Error.New("token expired at %s", claims.Expiration.Format(time.RFC3339))
	}
	if now.Before(claims.NotBefore) {
		return nil, Error.New("token not valid before %s", claims.NotBefore.Format(time.RFC3339))
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, Error.New("unexpected issuer %q", claims.Issuer)
	}
	if v.audience != "" && claims.Audience != v.audience {
		return nil, Error.New("unexpected audience %q", claims.Audience)
	}

	return &claims, nil
}

// Sign produces a compact HS256 token for claims.
func Sign(claims *Claims, key []byte) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}
	token, err := jws.Sign(payload, jws.WithKey(jwa.HS256, key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(token), nil
}

// NewClaims returns a complete claim set for subject valid for ttl from now.
func NewClaims(subject uuid.UUID, issuer, audience string, now time.Time, ttl time.Duration) *Claims {
	now = now.UTC().Truncate(time.Second)
	return &Claims{
		Issuer:     issuer,
		Subject:    subject,
		Audience:   audience,
		Expiration: now.Add(ttl),
		NotBefore:  now,
		IssuedAt:   now,
		ID:         uuid.New(),
	}
}

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, callerKey{}, claims)
}

// ClaimsFrom returns the claims stored by WithCaller.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(callerKey{}).(*Claims)
	return claims, ok
}

// Caller returns the caller's user id.
func Caller(ctx context.Context) (uuid.UUID, error) {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return uuid.Nil, Error.New("no caller identity")
	}
	return claims.Subject, nil
}
