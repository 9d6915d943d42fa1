package model

import "time"

// AccessToken is a temporary, revocable grant of one resource to one contractor.
type AccessToken struct {
	ID                 string
	Token              string
	Resource           ResourceRef
	ContractorIdentity string
	ExpiresAt          time.Time
	IsRevoked          bool
	RevokedAt          *time.Time
	RevokedBy          string
	RevokeReason       string
	IsOneTime          bool
	AllowedIP          string
	CreatedBy          string
	CreatedAt          time.Time
	LastUsedAt         *time.Time
	UseCount           int
}

// StateAt evaluates the token's lifecycle state at now. Revocation and
// consumption take precedence over expiry.
func (t AccessToken) StateAt(now time.Time) TokenState {
	switch {
	case t.IsOneTime && t.UseCount >= 1:
		return TokenStateConsumed
	case t.IsRevoked:
		return TokenStateRevoked
	case !now.Before(t.ExpiresAt):
		return TokenStateExpired
	default:
		return TokenStateActive
	}
}

// Remaining returns the time left before expiry, floored at zero.
func (t AccessToken) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RejectionReason maps a terminal state to its claim rejection code.
func RejectionReason(s TokenState) Reason {
	switch s {
	case TokenStateExpired:
		return ReasonExpired
	case TokenStateRevoked:
		return ReasonRevoked
	case TokenStateConsumed:
		return ReasonConsumed
	case TokenStateActive:
		return ""
	default:
		return ReasonRevoked
	}
}

// TokenFilter narrows token listings.
type TokenFilter struct {
	ContractorIdentity string
	ActiveOnly         bool
	Limit              int
}

// TokenStatus is the side-effect free answer to a status probe.
type TokenStatus struct {
	Valid     bool
	Reason    Reason
	ExpiresAt *time.Time
	Remaining time.Duration
}

// RevokedToken identifies a token revoked as part of a batch.
type RevokedToken struct {
	ID       string
	Resource ResourceRef
}
