package driven

import (
	"errors"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// ErrInvalidGrant is returned by GrantSigner.Verify for any unverifiable grant.
var ErrInvalidGrant = errors.New("invalid grant token")

// GrantSigner issues and verifies the signed grant handed to contractors
// alongside the opaque token string.
type GrantSigner interface {
	Sign(claims model.GrantClaims) (string, error)
	Verify(raw string) (*model.GrantClaims, error)
}
