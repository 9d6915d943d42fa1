package model

import (
	"fmt"
	"strings"
)

// ResourceRef points an access token at the protected resource it releases.
// It is either Secret(id) or StoredSession(id); construct it with SecretRef or
// StoredSessionRef and branch on Kind exhaustively.
type ResourceRef struct {
	Kind ResourceKind
	ID   string
}

// SecretRef references a secret record.
func SecretRef(id string) ResourceRef {
	return ResourceRef{Kind: ResourceSecret, ID: id}
}

// StoredSessionRef references a stored browser session.
func StoredSessionRef(id string) ResourceRef {
	return ResourceRef{Kind: ResourceStoredSession, ID: id}
}

// String renders the reference as "kind:id".
func (r ResourceRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// Validate checks that the reference names a known kind and a non-empty id.
func (r ResourceRef) Validate() error {
	if !r.Kind.Valid() {
		return InvalidInput(ReasonInvalidInput, "unknown resource kind %q", r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return InvalidInput(ReasonInvalidInput, "resource id is required")
	}
	return nil
}

// ParseResourceRef parses the "kind:id" form produced by String.
func ParseResourceRef(s string) (ResourceRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return ResourceRef{}, fmt.Errorf("parse resource ref %q: missing kind separator", s)
	}
	ref := ResourceRef{Kind: ResourceKind(kind), ID: id}
	if err := ref.Validate(); err != nil {
		return ResourceRef{}, err
	}
	return ref, nil
}

// ProtectedResource is a resolved resource whose payload is still ciphertext.
type ProtectedResource struct {
	Ref        ResourceRef
	Name       string
	Target     string // target URL for stored sessions, secret type for secrets
	Ciphertext []byte
	IsActive   bool
}
