package model

import "fmt"

// TokenState is the lifecycle state of an access token at a given instant.
// Every state other than TokenStateActive is terminal.
type TokenState int

const (
	TokenStateActive TokenState = iota
	TokenStateExpired
	TokenStateRevoked
	TokenStateConsumed
)

// String returns the stable reason code for the state.
func (s TokenState) String() string {
	switch s {
	case TokenStateActive:
		return "active"
	case TokenStateExpired:
		return "expired"
	case TokenStateRevoked:
		return "revoked"
	case TokenStateConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("TokenState(%d)", int(s))
	}
}

// Terminal reports whether no claim can ever succeed from this state.
func (s TokenState) Terminal() bool {
	return s != TokenStateActive
}

// AuditAction is the closed set of security-relevant events the audit trail records.
type AuditAction string

const (
	ActionGrantAccess       AuditAction = "GRANT_ACCESS"
	ActionRevokeAccess      AuditAction = "REVOKE_ACCESS"
	ActionInjectionSuccess  AuditAction = "INJECTION_SUCCESS"
	ActionSessionExpired    AuditAction = "SESSION_EXPIRED"
	ActionCredentialCreated AuditAction = "CREDENTIAL_CREATED"
	ActionCredentialUpdated AuditAction = "CREDENTIAL_UPDATED"
	ActionCredentialDeleted AuditAction = "CREDENTIAL_DELETED"
	ActionLoginSuccess      AuditAction = "LOGIN_SUCCESS"
	ActionLoginFailure      AuditAction = "LOGIN_FAILURE"
	ActionTokenValidated    AuditAction = "TOKEN_VALIDATED"
	ActionSecurityAlert     AuditAction = "SECURITY_ALERT"
	ActionDeviceTrusted     AuditAction = "DEVICE_TRUSTED"
	ActionDeviceBlocked     AuditAction = "DEVICE_BLOCKED"
	ActionDeviceUnblocked   AuditAction = "DEVICE_UNBLOCKED"
	ActionTokensPurged      AuditAction = "TOKENS_PURGED"
)

// Valid reports whether a is a member of the closed action set.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionGrantAccess, ActionRevokeAccess, ActionInjectionSuccess, ActionSessionExpired,
		ActionCredentialCreated, ActionCredentialUpdated, ActionCredentialDeleted,
		ActionLoginSuccess, ActionLoginFailure, ActionTokenValidated, ActionSecurityAlert,
		ActionDeviceTrusted, ActionDeviceBlocked, ActionDeviceUnblocked, ActionTokensPurged:
		return true
	default:
		return false
	}
}

// SecretType classifies what kind of credential a secret holds.
type SecretType string

const (
	SecretTypeAPIKey      SecretType = "api_key"
	SecretTypeDatabase    SecretType = "database"
	SecretTypeSSHKey      SecretType = "ssh_key"
	SecretTypeEnvVar      SecretType = "env_var"
	SecretTypeOAuthToken  SecretType = "oauth_token"
	SecretTypeCertificate SecretType = "certificate"
	SecretTypeOther       SecretType = "other"
)

// Valid reports whether t is a known secret type.
func (t SecretType) Valid() bool {
	switch t {
	case SecretTypeAPIKey, SecretTypeDatabase, SecretTypeSSHKey, SecretTypeEnvVar,
		SecretTypeOAuthToken, SecretTypeCertificate, SecretTypeOther:
		return true
	default:
		return false
	}
}

// ResourceKind discriminates the targets an access token can reference.
type ResourceKind string

const (
	ResourceSecret        ResourceKind = "secret"
	ResourceStoredSession ResourceKind = "stored_session"
)

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceSecret, ResourceStoredSession:
		return true
	default:
		return false
	}
}

// NotificationKind identifies the event an outbound notification describes.
type NotificationKind string

const (
	NotifyAccessGranted NotificationKind = "access_granted"
	NotifyAccessClaimed NotificationKind = "access_claimed"
	NotifyAccessRevoked NotificationKind = "access_revoked"
	NotifyKillSwitch    NotificationKind = "kill_switch"
	NotifySecurityAlert NotificationKind = "security_alert"
)
