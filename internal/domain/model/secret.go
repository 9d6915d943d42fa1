package model

import "time"

// Secret is a long-lived credential held encrypted at rest. EncryptedValue
// only ever leaves the store through a claim.
type Secret struct {
	ID                   string
	Name                 string
	Type                 SecretType
	EncryptedValue       []byte
	Metadata             map[string]string
	CreatedBy            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	IsActive             bool
	ExpiresAt            *time.Time
	LastRotatedAt        *time.Time
	RotationReminderDays *int
	AccessCount          int
	LastAccessedAt       *time.Time
}

// NeedsRotation reports whether the rotation reminder window has elapsed.
// A secret without a reminder never needs rotation.
func (s Secret) NeedsRotation(now time.Time) bool {
	if s.RotationReminderDays == nil {
		return false
	}
	base := s.CreatedAt
	if s.LastRotatedAt != nil {
		base = *s.LastRotatedAt
	}
	return !now.Before(base.AddDate(0, 0, *s.RotationReminderDays))
}

// IsExpired reports whether the secret itself has passed its own expiry.
func (s Secret) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
