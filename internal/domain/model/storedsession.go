package model

import "time"

// StoredSession is a captured browser session (cookie jar) that can be
// injected for a contractor without revealing the account password.
type StoredSession struct {
	ID               string
	Name             string
	TargetURL        string
	TargetDomain     string
	EncryptedCookies []byte
	CookieCount      int
	Notes            string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	IsActive         bool
}
