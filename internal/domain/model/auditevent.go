package model

import "time"

// AuditEvent is one immutable entry in the forensic trail.
type AuditEvent struct {
	ID             string
	Timestamp      time.Time
	Actor          string
	Action         AuditAction
	TargetResource string
	IPAddress      string
	ExtraData      map[string]any
	Description    string
}

// AuditFilter narrows an audit query. Zero values mean "no constraint".
// From is inclusive, To is exclusive.
type AuditFilter struct {
	Actor          string
	Action         AuditAction
	TargetResource string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}
