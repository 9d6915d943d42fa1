package driven

import "context"

// Stores bundles the store views bound to one transaction.
type Stores struct {
	Tokens   TokenStore
	Secrets  SecretStore
	Sessions SessionStore
	Audit    AuditStore
	Devices  DeviceStore
}

// Transactor runs fn inside a single store transaction. If fn returns an
// error, nothing fn wrote through the provided stores is persisted.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
