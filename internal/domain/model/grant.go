package model

import "time"

// GrantClaims is the verifiable summary of a grant, carried in a signed JWT.
type GrantClaims struct {
	TokenID    string
	Contractor string
	Resource   ResourceRef
	OneTime    bool
	IssuedAt   time.Time
	ExpiresAt  time.Time
}
