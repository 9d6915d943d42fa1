package model

import "time"

// Device is a client environment recognised by its fingerprint for one owner.
type Device struct {
	ID                   string
	Fingerprint          string
	OwnerIdentity        string
	UserAgent            string
	Browser              string
	OS                   string
	DeviceType           string
	IPAddress            string
	IsTrusted            bool
	IsBlocked            bool
	TrustScore           int
	FirstSeen            time.Time
	LastSeen             time.Time
	AccessCount          int
	FailedAttempts       int
	ConsecutiveSuccesses int
	LastFailedAt         *time.Time
	TrustedBy            string
	TrustedAt            *time.Time
	BlockedBy            string
	BlockedAt            *time.Time
	BlockReason          string
}

// DeviceContext holds the client-reported environment used for fingerprinting.
type DeviceContext struct {
	Fingerprint      string `json:"fingerprint,omitempty"`
	UserAgent        string `json:"user_agent,omitempty"`
	Browser          string `json:"browser,omitempty"`
	OS               string `json:"os,omitempty"`
	DeviceType       string `json:"device_type,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
}

// DeviceValidation is the advisory verdict for a device at claim time.
type DeviceValidation struct {
	Allowed                bool
	DeviceID               string
	TrustScore             int
	IsNew                  bool
	IsTrusted              bool
	IsBlocked              bool
	RequiresAdditionalAuth bool
	Warnings               []string
}
