package model

import "time"

// Notification is an outbound, best-effort message about a token lifecycle event.
type Notification struct {
	Kind       NotificationKind
	Contractor string
	Actor      string
	Resource   string
	Reason     string
	IPAddress  string
	Count      int
	ExpiresAt  *time.Time
	OccurredAt time.Time
}
