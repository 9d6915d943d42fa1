// Package jwtsigner signs and verifies grant tokens with HMAC-SHA256.
package jwtsigner

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// Compile-time interface satisfaction check.
var _ driven.GrantSigner = (*Signer)(nil)

type grantClaims struct {
	Resource string `json:"res"`
	OneTime  bool   `json:"one_time,omitempty"`
	jwt.RegisteredClaims
}

// Signer implements driven.GrantSigner.
type Signer struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

// New returns a Signer. The secret must be at least MinSecretLength bytes.
func New(secret, issuer string, clk clock.Clock) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("grant signing secret must be at least %d bytes", MinSecretLength)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Signer{secret: []byte(secret), issuer: issuer, clock: clk}, nil
}

// Sign issues a compact JWS for the grant.
func (s *Signer) Sign(c model.GrantClaims) (string, error) {
	claims := grantClaims{
		Resource: c.Resource.String(),
		OneTime:  c.OneTime,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.TokenID,
			Subject:   c.Contractor,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry. Any failure is
// reported as driven.ErrInvalidGrant.
func (s *Signer) Verify(raw string) (*model.GrantClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)

	var claims grantClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("grant expired: %w", driven.ErrInvalidGrant)
		}
		return nil, driven.ErrInvalidGrant
	}

	ref, err := model.ParseResourceRef(claims.Resource)
	if err != nil {
		return nil, driven.ErrInvalidGrant
	}

	out := &model.GrantClaims{
		TokenID:    claims.ID,
		Contractor: claims.Subject,
		Resource:   ref,
		OneTime:    claims.OneTime,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return out, nil
}
