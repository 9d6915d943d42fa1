package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ericfisherdev/contractorvault/internal/application"
	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// Reason codes produced by the HTTP layer itself.
const (
	reasonBadRequest      = "bad_request"
	reasonUnauthenticated = "unauthenticated"
	reasonRateLimited     = "rate_limited"
	reasonInternal        = "internal"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error","reason":"internal"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code, message and reason.
func writeError(w http.ResponseWriter, status int, message, reason string) {
	writeJSON(w, status, errorResponse{Error: message, Reason: reason})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// statusFor maps an application error kind to its HTTP status.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindConflict:
		return http.StatusConflict
	case model.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a service failure. Infrastructure and decryption
// details stay in the log.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		h.logger.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("unexpected handler error")
		writeError(w, http.StatusInternalServerError, "internal server error", reasonInternal)
		return
	}

	status := statusFor(e.Kind)
	message := e.Detail
	switch e.Kind {
	case model.KindUnavailable:
		h.logger.Error().Err(err).Str("op", op).Msg("service unavailable")
		message = "service temporarily unavailable"
	case model.KindDecryptionFailed:
		h.logger.Error().Str("op", op).Msg("stored value could not be decrypted")
		message = "stored value could not be decrypted"
	}
	if message == "" {
		message = e.Kind.String()
	}
	writeError(w, status, message, string(model.ReasonOf(err)))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// SecretResponse is the JSON representation of a secret. The value is never
// included.
type SecretResponse struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Type                 string            `json:"type"`
	Metadata             map[string]string `json:"metadata"`
	CreatedBy            string            `json:"created_by"`
	CreatedAt            string            `json:"created_at"`
	UpdatedAt            string            `json:"updated_at"`
	IsActive             bool              `json:"is_active"`
	ExpiresAt            *string           `json:"expires_at"`
	LastRotatedAt        *string           `json:"last_rotated_at"`
	RotationReminderDays *int              `json:"rotation_reminder_days"`
	NeedsRotation        bool              `json:"needs_rotation"`
	AccessCount          int               `json:"access_count"`
	LastAccessedAt       *string           `json:"last_accessed_at"`
}

func toSecretResponse(s model.Secret, now time.Time) SecretResponse {
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return SecretResponse{
		ID:                   s.ID,
		Name:                 s.Name,
		Type:                 string(s.Type),
		Metadata:             metadata,
		CreatedBy:            s.CreatedBy,
		CreatedAt:            formatTime(s.CreatedAt),
		UpdatedAt:            formatTime(s.UpdatedAt),
		IsActive:             s.IsActive,
		ExpiresAt:            formatTimePtr(s.ExpiresAt),
		LastRotatedAt:        formatTimePtr(s.LastRotatedAt),
		RotationReminderDays: s.RotationReminderDays,
		NeedsRotation:        s.NeedsRotation(now),
		AccessCount:          s.AccessCount,
		LastAccessedAt:       formatTimePtr(s.LastAccessedAt),
	}
}

// StoredSessionResponse is the JSON representation of a stored session
// without its cookies.
type StoredSessionResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TargetURL    string `json:"target_url"`
	TargetDomain string `json:"target_domain"`
	CookieCount  int    `json:"cookie_count"`
	Notes        string `json:"notes"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	IsActive     bool   `json:"is_active"`
}

func toStoredSessionResponse(s model.StoredSession) StoredSessionResponse {
	return StoredSessionResponse{
		ID:           s.ID,
		Name:         s.Name,
		TargetURL:    s.TargetURL,
		TargetDomain: s.TargetDomain,
		CookieCount:  s.CookieCount,
		Notes:        s.Notes,
		CreatedBy:    s.CreatedBy,
		CreatedAt:    formatTime(s.CreatedAt),
		UpdatedAt:    formatTime(s.UpdatedAt),
		IsActive:     s.IsActive,
	}
}

// TokenResponse is the JSON representation of an access token. Token is only
// populated in the response to a grant.
type TokenResponse struct {
	ID                 string  `json:"id"`
	Token              string  `json:"token,omitempty"`
	ResourceType       string  `json:"resource_type"`
	ResourceID         string  `json:"resource_id"`
	ContractorIdentity string  `json:"contractor_email"`
	ExpiresAt          string  `json:"expires_at"`
	Status             string  `json:"status"`
	IsRevoked          bool    `json:"is_revoked"`
	RevokedAt          *string `json:"revoked_at"`
	RevokedBy          string  `json:"revoked_by,omitempty"`
	RevokeReason       string  `json:"revoke_reason,omitempty"`
	IsOneTime          bool    `json:"one_time"`
	AllowedIP          string  `json:"allowed_ip,omitempty"`
	CreatedBy          string  `json:"created_by"`
	CreatedAt          string  `json:"created_at"`
	LastUsedAt         *string `json:"last_used_at"`
	UseCount           int     `json:"use_count"`
}

func toTokenResponse(t model.AccessToken, now time.Time) TokenResponse {
	return TokenResponse{
		ID:                 t.ID,
		Token:              t.Token,
		ResourceType:       string(t.Resource.Kind),
		ResourceID:         t.Resource.ID,
		ContractorIdentity: t.ContractorIdentity,
		ExpiresAt:          formatTime(t.ExpiresAt),
		Status:             t.StateAt(now).String(),
		IsRevoked:          t.IsRevoked,
		RevokedAt:          formatTimePtr(t.RevokedAt),
		RevokedBy:          t.RevokedBy,
		RevokeReason:       t.RevokeReason,
		IsOneTime:          t.IsOneTime,
		AllowedIP:          t.AllowedIP,
		CreatedBy:          t.CreatedBy,
		CreatedAt:          formatTime(t.CreatedAt),
		LastUsedAt:         formatTimePtr(t.LastUsedAt),
		UseCount:           t.UseCount,
	}
}

// GrantResponse is returned by the generate endpoint.
type GrantResponse struct {
	TokenResponse
	GrantJWT string `json:"grant_jwt"`
}

// DeviceValidationResponse is the advisory device verdict.
type DeviceValidationResponse struct {
	Allowed                bool     `json:"allowed"`
	DeviceID               string   `json:"device_id"`
	TrustScore             int      `json:"trust_score"`
	IsNew                  bool     `json:"is_new"`
	IsTrusted              bool     `json:"is_trusted"`
	IsBlocked              bool     `json:"is_blocked"`
	RequiresAdditionalAuth bool     `json:"requires_additional_auth"`
	Warnings               []string `json:"warnings"`
}

func toDeviceValidationResponse(v *model.DeviceValidation) *DeviceValidationResponse {
	if v == nil {
		return nil
	}
	warnings := v.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return &DeviceValidationResponse{
		Allowed:                v.Allowed,
		DeviceID:               v.DeviceID,
		TrustScore:             v.TrustScore,
		IsNew:                  v.IsNew,
		IsTrusted:              v.IsTrusted,
		IsBlocked:              v.IsBlocked,
		RequiresAdditionalAuth: v.RequiresAdditionalAuth,
		Warnings:               warnings,
	}
}

// ClaimResponse carries the released credential.
type ClaimResponse struct {
	ResourceType string                    `json:"resource_type"`
	ResourceID   string                    `json:"resource_id"`
	ResourceName string                    `json:"resource_name"`
	Target       string                    `json:"target"`
	Value        string                    `json:"value"`
	ExpiresAt    string                    `json:"expires_at"`
	UseCount     int                       `json:"use_count"`
	Device       *DeviceValidationResponse `json:"device,omitempty"`
}

func toClaimResponse(c *application.ClaimResult) ClaimResponse {
	return ClaimResponse{
		ResourceType: string(c.Resource.Kind),
		ResourceID:   c.Resource.ID,
		ResourceName: c.ResourceName,
		Target:       c.Target,
		Value:        c.Plaintext,
		ExpiresAt:    formatTime(c.ExpiresAt),
		UseCount:     c.UseCount,
		Device:       toDeviceValidationResponse(c.Device),
	}
}

// TokenStatusResponse is the answer to a status probe.
type TokenStatusResponse struct {
	Valid            bool    `json:"valid"`
	Reason           string  `json:"reason"`
	ExpiresAt        *string `json:"expires_at"`
	RemainingSeconds int64   `json:"remaining_seconds"`
}

func toTokenStatusResponse(s model.TokenStatus) TokenStatusResponse {
	return TokenStatusResponse{
		Valid:            s.Valid,
		Reason:           string(s.Reason),
		ExpiresAt:        formatTimePtr(s.ExpiresAt),
		RemainingSeconds: int64(s.Remaining / time.Second),
	}
}

// IntrospectionResponse is the verified content of a grant JWT.
type IntrospectionResponse struct {
	TokenID    string              `json:"token_id"`
	Contractor string              `json:"contractor_email"`
	Resource   string              `json:"resource"`
	OneTime    bool                `json:"one_time"`
	IssuedAt   string              `json:"issued_at"`
	ExpiresAt  string              `json:"expires_at"`
	Status     TokenStatusResponse `json:"status"`
}

// KillSwitchResponse reports the outcome of a contractor-wide revoke.
type KillSwitchResponse struct {
	Contractor        string   `json:"contractor_email"`
	RevokedCount      int      `json:"revoked_count"`
	AffectedResources []string `json:"affected_resources"`
}

// AuditEventResponse is the JSON representation of one audit entry.
type AuditEventResponse struct {
	ID             string         `json:"id"`
	Timestamp      string         `json:"timestamp"`
	Actor          string         `json:"actor"`
	Action         string         `json:"action"`
	TargetResource string         `json:"target_resource"`
	IPAddress      string         `json:"ip_address,omitempty"`
	ExtraData      map[string]any `json:"extra_data"`
	Description    string         `json:"description,omitempty"`
}

func toAuditEventResponse(e model.AuditEvent) AuditEventResponse {
	extra := e.ExtraData
	if extra == nil {
		extra = map[string]any{}
	}
	return AuditEventResponse{
		ID:             e.ID,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:          e.Actor,
		Action:         string(e.Action),
		TargetResource: e.TargetResource,
		IPAddress:      e.IPAddress,
		ExtraData:      extra,
		Description:    e.Description,
	}
}

// DeviceResponse is the JSON representation of a known device.
type DeviceResponse struct {
	ID             string  `json:"id"`
	Fingerprint    string  `json:"fingerprint"`
	OwnerIdentity  string  `json:"owner"`
	Browser        string  `json:"browser"`
	OS             string  `json:"os"`
	DeviceType     string  `json:"device_type"`
	IPAddress      string  `json:"ip_address"`
	IsTrusted      bool    `json:"is_trusted"`
	IsBlocked      bool    `json:"is_blocked"`
	TrustScore     int     `json:"trust_score"`
	FirstSeen      string  `json:"first_seen"`
	LastSeen       string  `json:"last_seen"`
	AccessCount    int     `json:"access_count"`
	FailedAttempts int     `json:"failed_attempts"`
	TrustedBy      string  `json:"trusted_by,omitempty"`
	TrustedAt      *string `json:"trusted_at"`
	BlockedBy      string  `json:"blocked_by,omitempty"`
	BlockedAt      *string `json:"blocked_at"`
	BlockReason    string  `json:"block_reason,omitempty"`
}

func toDeviceResponse(d model.Device) DeviceResponse {
	return DeviceResponse{
		ID:             d.ID,
		Fingerprint:    d.Fingerprint,
		OwnerIdentity:  d.OwnerIdentity,
		Browser:        d.Browser,
		OS:             d.OS,
		DeviceType:     d.DeviceType,
		IPAddress:      d.IPAddress,
		IsTrusted:      d.IsTrusted,
		IsBlocked:      d.IsBlocked,
		TrustScore:     d.TrustScore,
		FirstSeen:      formatTime(d.FirstSeen),
		LastSeen:       formatTime(d.LastSeen),
		AccessCount:    d.AccessCount,
		FailedAttempts: d.FailedAttempts,
		TrustedBy:      d.TrustedBy,
		TrustedAt:      formatTimePtr(d.TrustedAt),
		BlockedBy:      d.BlockedBy,
		BlockedAt:      formatTimePtr(d.BlockedAt),
		BlockReason:    d.BlockReason,
	}
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status        string            `json:"status"`
	Components    map[string]string `json:"components"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Time          string            `json:"time"`
}
