package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
	"github.com/ericfisherdev/contractorvault/internal/metrics"
)

const (
	tokenBytes = 32

	// DefaultMaxDuration caps how long any grant may live.
	DefaultMaxDuration = 8 * time.Hour
	// DefaultDuration applies when a grant names no duration.
	DefaultDuration = time.Hour

	defaultTokenListLimit = 200
	unknownIP             = "unknown"
	killSwitchPrefix      = "KILL_SWITCH:"
)

// errClaimRaced marks a claim whose conditional update matched no row.
var errClaimRaced = errors.New("token changed state during claim")

// errNothingRevoked marks a revoke that lost to a concurrent revoke.
var errNothingRevoked = errors.New("token already revoked")

// TokenPolicy bounds grant durations.
type TokenPolicy struct {
	MaxDuration     time.Duration
	DefaultDuration time.Duration
}

// GrantRequest asks for a new access token.
type GrantRequest struct {
	Resource           model.ResourceRef
	ContractorIdentity string
	Duration           time.Duration
	OneTime            bool
	AllowedIP          string
	Actor              string
	IPAddress          string
}

// Grant is an issued token plus its signed, verifiable summary.
type Grant struct {
	Token    model.AccessToken
	GrantJWT string
}

// ClaimRequest redeems a token. Device is optional.
type ClaimRequest struct {
	Token    string
	CallerIP string
	Device   *model.DeviceContext
}

// ClaimResult carries the decrypted payload of a successful claim.
type ClaimResult struct {
	Plaintext    string
	Resource     model.ResourceRef
	ResourceName string
	Target       string
	ExpiresAt    time.Time
	UseCount     int
	Device       *model.DeviceValidation
}

// KillSwitchResult reports what RevokeAll revoked.
type KillSwitchResult struct {
	Contractor        string
	RevokedCount      int
	AffectedResources []string
}

// GrantIntrospection is the verified content of a grant JWT plus the live
// status of the token it names.
type GrantIntrospection struct {
	Claims model.GrantClaims
	Status model.TokenStatus
}

// TokenServiceDeps bundles the collaborators of TokenService.
type TokenServiceDeps struct {
	Tokens    driven.TokenStore
	Tx        driven.Transactor
	Resolver  *ResourceResolver
	Cipher    driven.Cipher
	Devices   *DeviceService
	Audit     *AuditService
	Signer    driven.GrantSigner
	Publisher publisher
	Metrics   *metrics.Recorder
	Clock     clock.Clock
	Logger    zerolog.Logger
	Policy    TokenPolicy
}

// TokenService runs the access token lifecycle: grant, claim, revoke and
// status. Every state transition is a conditional store update, so any
// number of service instances may share one store.
type TokenService struct {
	tokens    driven.TokenStore
	tx        driven.Transactor
	resolver  *ResourceResolver
	cipher    driven.Cipher
	devices   *DeviceService
	audit     *AuditService
	signer    driven.GrantSigner
	publisher publisher
	metrics   *metrics.Recorder
	clock     clock.Clock
	logger    zerolog.Logger
	policy    TokenPolicy
}

// NewTokenService creates a new TokenService.
func NewTokenService(deps TokenServiceDeps) *TokenService {
	if deps.Policy.MaxDuration <= 0 {
		deps.Policy.MaxDuration = DefaultMaxDuration
	}
	if deps.Policy.DefaultDuration <= 0 {
		deps.Policy.DefaultDuration = DefaultDuration
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &TokenService{
		tokens:    deps.Tokens,
		tx:        deps.Tx,
		resolver:  deps.Resolver,
		cipher:    deps.Cipher,
		devices:   deps.Devices,
		audit:     deps.Audit,
		signer:    deps.Signer,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger.With().Str("component", "tokens").Logger(),
		policy:    deps.Policy,
	}
}

func newTokenString() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DefaultDuration is the grant lifetime callers should use when a request
// names none. Generate itself never substitutes it.
func (s *TokenService) DefaultDuration() time.Duration {
	return s.policy.DefaultDuration
}

// Generate issues a token for one resource to one contractor.
func (s *TokenService) Generate(ctx context.Context, req GrantRequest) (*Grant, error) {
	req.ContractorIdentity = strings.TrimSpace(req.ContractorIdentity)
	req.AllowedIP = strings.TrimSpace(req.AllowedIP)

	if req.Duration <= 0 || req.Duration > s.policy.MaxDuration {
		return nil, model.InvalidInput(model.ReasonInvalidDuration,
			"duration must be positive and at most %s", s.policy.MaxDuration)
	}
	if req.ContractorIdentity == "" {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "contractor identity is required")
	}
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	if req.AllowedIP != "" {
		if _, err := netip.ParseAddr(req.AllowedIP); err != nil {
			return nil, model.InvalidInput(model.ReasonInvalidInput, "allowed ip %q is not an ip address", req.AllowedIP)
		}
	}
	if err := req.Resource.Validate(); err != nil {
		return nil, err
	}

	res, err := s.resolver.resolveActive(ctx, req.Resource)
	if err != nil {
		return nil, err
	}

	raw, err := newTokenString()
	if err != nil {
		return nil, model.Unavailable("generate token", err)
	}

	now := s.clock.Now().UTC()
	token := model.AccessToken{
		ID:                 uuid.NewString(),
		Token:              raw,
		Resource:           req.Resource,
		ContractorIdentity: req.ContractorIdentity,
		ExpiresAt:          now.Add(req.Duration),
		IsOneTime:          req.OneTime,
		AllowedIP:          req.AllowedIP,
		CreatedBy:          req.Actor,
		CreatedAt:          now,
	}

	signed, err := s.signer.Sign(model.GrantClaims{
		TokenID:    token.ID,
		Contractor: token.ContractorIdentity,
		Resource:   token.Resource,
		OneTime:    token.IsOneTime,
		IssuedAt:   now,
		ExpiresAt:  token.ExpiresAt,
	})
	if err != nil {
		return nil, model.Unavailable("sign grant", err)
	}

	var event model.AuditEvent
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		if err := st.Tokens.Create(ctx, token); err != nil {
			return err
		}
		extra := map[string]any{
			"token_id":         token.ID,
			"contractor_email": token.ContractorIdentity,
			"expires_at":       token.ExpiresAt.Format(time.RFC3339),
			"duration_minutes": int(req.Duration / time.Minute),
			"one_time":         token.IsOneTime,
		}
		if token.AllowedIP != "" {
			extra["allowed_ip"] = token.AllowedIP
		}
		var err error
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          req.Actor,
			Action:         model.ActionGrantAccess,
			TargetResource: token.Resource.String(),
			IPAddress:      req.IPAddress,
			ExtraData:      extra,
			Description:    "access granted to " + res.Name,
		})
		return err
	})
	if err != nil {
		return nil, storeFailure("issue token", err)
	}

	s.audit.published(event)
	s.metrics.GrantIssued()
	s.publisher.Publish(model.Notification{
		Kind:       model.NotifyAccessGranted,
		Contractor: token.ContractorIdentity,
		Actor:      req.Actor,
		Resource:   res.Name,
		ExpiresAt:  &token.ExpiresAt,
		OccurredAt: now,
	})

	return &Grant{Token: token, GrantJWT: signed}, nil
}

// Claim redeems a token and returns the decrypted resource. Rejections are
// Forbidden with a reason; an unknown token is NotFound.
func (s *TokenService) Claim(ctx context.Context, req ClaimRequest) (result *ClaimResult, err error) {
	started := s.clock.Now()
	defer func() {
		s.metrics.ClaimFinished(claimOutcome(err), s.clock.Since(started))
	}()

	if req.Token == "" {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "token is required")
	}

	tok, err := s.tokens.GetByToken(ctx, req.Token)
	if err != nil {
		return nil, storeFailure("look up token", err)
	}
	if tok == nil {
		return nil, model.NotFound("token", "(redacted)")
	}

	now := s.clock.Now()
	switch state := tok.StateAt(now); state {
	case model.TokenStateActive:
	case model.TokenStateExpired:
		return nil, s.rejectExpired(ctx, tok, req.CallerIP)
	case model.TokenStateRevoked, model.TokenStateConsumed:
		return nil, model.Forbidden(model.RejectionReason(state), "token is "+state.String())
	}

	if ipMismatch(tok.AllowedIP, req.CallerIP) {
		if err := s.securityAlert(ctx, tok, req.CallerIP, map[string]any{
			"token_id":    tok.ID,
			"expected_ip": tok.AllowedIP,
			"alert_type":  "ip_mismatch",
		}, "claim from unexpected ip"); err != nil {
			return nil, err
		}
		return nil, model.Forbidden(model.ReasonIPNotAllowed, "caller ip is not allowed for this token")
	}

	var validation *model.DeviceValidation
	if req.Device != nil {
		validation, err = s.devices.Validate(ctx, tok.ContractorIdentity, *req.Device, req.CallerIP)
		if err != nil {
			return nil, err
		}
		if validation.IsBlocked {
			if err := s.securityAlert(ctx, tok, req.CallerIP, map[string]any{
				"token_id":   tok.ID,
				"device_id":  validation.DeviceID,
				"alert_type": "device_blocked",
			}, "claim from blocked device"); err != nil {
				return nil, err
			}
			if _, err := s.devices.RecordFailure(ctx, validation.DeviceID); err != nil {
				s.logger.Error().Err(err).Str("device_id", validation.DeviceID).Msg("record device failure")
			}
			s.metrics.DeviceBlocked()
			return nil, model.Forbidden(model.ReasonDeviceBlocked, "device is blocked")
		}
	}

	res, err := s.resolver.resolveActive(ctx, tok.Resource)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.cipher.Decrypt(ctx, res.Ciphertext)
	if err != nil {
		s.logger.Error().Str("resource", res.Ref.String()).Msg("stored ciphertext failed to decrypt")
		return nil, &model.Error{
			Kind:   model.KindDecryptionFailed,
			Reason: model.ReasonDecryptionFailed,
			Detail: "resource could not be decrypted",
		}
	}

	var (
		useCount int
		event    model.AuditEvent
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		ok, err := st.Tokens.MarkUsed(ctx, tok.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimRaced
		}

		current, err := st.Tokens.GetByID(ctx, tok.ID)
		if err != nil {
			return err
		}
		useCount = current.UseCount

		if tok.Resource.Kind == model.ResourceSecret {
			if err := st.Secrets.RecordAccess(ctx, tok.Resource.ID, now); err != nil {
				return err
			}
		}

		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          tok.ContractorIdentity,
			Action:         model.ActionInjectionSuccess,
			TargetResource: tok.Resource.String(),
			IPAddress:      req.CallerIP,
			ExtraData:      map[string]any{"token_id": tok.ID, "use_count": useCount},
		})
		return err
	})
	if errors.Is(err, errClaimRaced) {
		return nil, s.raceRejection(ctx, tok.ID, req.CallerIP)
	}
	if err != nil {
		return nil, storeFailure("record claim", err)
	}

	s.audit.published(event)

	if validation != nil {
		if dev, err := s.devices.RecordSuccess(ctx, validation.DeviceID); err != nil {
			s.logger.Error().Err(err).Str("device_id", validation.DeviceID).Msg("record device success")
		} else {
			validation.TrustScore = dev.TrustScore
		}
	}

	if useCount == 1 {
		s.publisher.Publish(model.Notification{
			Kind:       model.NotifyAccessClaimed,
			Contractor: tok.ContractorIdentity,
			Resource:   res.Name,
			IPAddress:  req.CallerIP,
			OccurredAt: now,
		})
	}

	return &ClaimResult{
		Plaintext:    plaintext,
		Resource:     res.Ref,
		ResourceName: res.Name,
		Target:       res.Target,
		ExpiresAt:    tok.ExpiresAt,
		UseCount:     useCount,
		Device:       validation,
	}, nil
}

// raceRejection re-reads a token whose conditional update failed and reports
// the state it moved to.
func (s *TokenService) raceRejection(ctx context.Context, id, callerIP string) error {
	current, err := s.tokens.GetByID(ctx, id)
	if err != nil {
		return storeFailure("re-read token", err)
	}
	if current == nil {
		return model.NotFound("token", id)
	}
	state := current.StateAt(s.clock.Now())
	if state == model.TokenStateExpired {
		return s.rejectExpired(ctx, current, callerIP)
	}
	if reason := model.RejectionReason(state); reason != "" {
		return model.Forbidden(reason, "token is "+state.String())
	}
	return model.Forbidden(model.ReasonConflict, "token changed state during claim")
}

// rejectExpired records SESSION_EXPIRED for a claim on an expired token and
// returns the rejection. A failed append is returned instead.
func (s *TokenService) rejectExpired(ctx context.Context, tok *model.AccessToken, callerIP string) error {
	if _, err := s.audit.Append(ctx, model.AuditEvent{
		Actor:          tok.ContractorIdentity,
		Action:         model.ActionSessionExpired,
		TargetResource: tok.Resource.String(),
		IPAddress:      callerIP,
		ExtraData:      map[string]any{"token_id": tok.ID},
	}); err != nil {
		return err
	}
	return model.Forbidden(model.ReasonExpired, "token has expired")
}

func (s *TokenService) securityAlert(ctx context.Context, tok *model.AccessToken, ip string, extra map[string]any, description string) error {
	if _, err := s.audit.Append(ctx, model.AuditEvent{
		Actor:          tok.ContractorIdentity,
		Action:         model.ActionSecurityAlert,
		TargetResource: tok.Resource.String(),
		IPAddress:      ip,
		ExtraData:      extra,
		Description:    description,
	}); err != nil {
		return err
	}

	reason, _ := extra["alert_type"].(string)
	s.publisher.Publish(model.Notification{
		Kind:       model.NotifySecurityAlert,
		Contractor: tok.ContractorIdentity,
		Resource:   tok.Resource.String(),
		Reason:     reason,
		IPAddress:  ip,
		OccurredAt: s.clock.Now(),
	})
	return nil
}

// ipMismatch reports whether a known caller ip differs from the token's
// allowed ip. An unbound token or an unknown caller never mismatches.
func ipMismatch(allowed, caller string) bool {
	if allowed == "" || caller == "" || caller == unknownIP {
		return false
	}
	a, errA := netip.ParseAddr(allowed)
	c, errC := netip.ParseAddr(caller)
	if errA == nil && errC == nil {
		return a.Unmap() != c.Unmap()
	}
	return allowed != caller
}

func claimOutcome(err error) string {
	switch model.KindOf(err) {
	case 0:
		if err == nil {
			return metrics.OutcomeSuccess
		}
		return metrics.OutcomeError
	case model.KindForbidden, model.KindNotFound, model.KindInvalidInput:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// Revoke revokes one token. It returns 1 when this call revoked it and 0 when
// it was already revoked, in which case nothing is audited.
func (s *TokenService) Revoke(ctx context.Context, tokenID, actor, reason string) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}

	tok, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return 0, storeFailure("look up token", err)
	}
	if tok == nil {
		return 0, model.NotFound("token", tokenID)
	}
	if tok.IsRevoked {
		return 0, nil
	}

	now := s.clock.Now()
	var event model.AuditEvent
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		ok, err := st.Tokens.Revoke(ctx, tokenID, actor, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return errNothingRevoked
		}
		extra := map[string]any{
			"token_id":         tok.ID,
			"contractor_email": tok.ContractorIdentity,
		}
		if reason != "" {
			extra["reason"] = reason
		}
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          actor,
			Action:         model.ActionRevokeAccess,
			TargetResource: tok.Resource.String(),
			ExtraData:      extra,
		})
		return err
	})
	if errors.Is(err, errNothingRevoked) {
		return 0, nil
	}
	if err != nil {
		return 0, storeFailure("revoke token", err)
	}

	s.audit.published(event)
	s.metrics.Revoked(metrics.RevokeSingle, 1)
	s.publisher.Publish(model.Notification{
		Kind:       model.NotifyAccessRevoked,
		Contractor: tok.ContractorIdentity,
		Actor:      actor,
		Resource:   tok.Resource.String(),
		Reason:     reason,
		OccurredAt: now,
	})
	return 1, nil
}

// RevokeAll is the kill switch: it revokes every active token of a contractor
// and records a single high priority audit event, all or nothing.
func (s *TokenService) RevokeAll(ctx context.Context, identity, actor, reason string) (*KillSwitchResult, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "contractor identity is required")
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := &KillSwitchResult{Contractor: identity, AffectedResources: []string{}}

	var event model.AuditEvent
	err := s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		revoked, err := st.Tokens.RevokeActiveForContractor(ctx, identity, actor, reason, now)
		if err != nil {
			return err
		}
		if len(revoked) == 0 {
			return nil
		}

		result.RevokedCount = len(revoked)
		result.AffectedResources = distinctResources(revoked)

		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          actor,
			Action:         model.ActionRevokeAccess,
			TargetResource: killSwitchPrefix + identity,
			Description:    "kill switch activated",
			ExtraData: map[string]any{
				"contractor_email":   identity,
				"revoked_count":      result.RevokedCount,
				"affected_resources": result.AffectedResources,
				"reason":             reason,
				"priority":           "HIGH",
			},
		})
		return err
	})
	if err != nil {
		return nil, storeFailure("kill switch", err)
	}

	if result.RevokedCount == 0 {
		s.logger.Info().Str("contractor", identity).Msg("kill switch found no active tokens")
		return result, nil
	}

	s.audit.published(event)
	s.metrics.Revoked(metrics.RevokeKillSwitch, result.RevokedCount)
	s.publisher.Publish(model.Notification{
		Kind:       model.NotifyKillSwitch,
		Contractor: identity,
		Actor:      actor,
		Reason:     reason,
		Count:      result.RevokedCount,
		OccurredAt: now,
	})
	return result, nil
}

func distinctResources(revoked []model.RevokedToken) []string {
	seen := make(map[string]struct{}, len(revoked))
	out := make([]string, 0, len(revoked))
	for _, r := range revoked {
		key := r.Resource.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// ValidateStatus reports whether a token could currently be claimed. It only
// reads.
func (s *TokenService) ValidateStatus(ctx context.Context, token string) (model.TokenStatus, error) {
	if token == "" {
		return model.TokenStatus{Reason: model.ReasonNotFound}, nil
	}
	tok, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		return model.TokenStatus{}, storeFailure("look up token", err)
	}
	return s.statusOf(tok), nil
}

func (s *TokenService) statusOf(tok *model.AccessToken) model.TokenStatus {
	if tok == nil {
		return model.TokenStatus{Reason: model.ReasonNotFound}
	}

	now := s.clock.Now()
	state := tok.StateAt(now)
	expires := tok.ExpiresAt
	status := model.TokenStatus{
		Valid:     state == model.TokenStateActive,
		Reason:    model.Reason(state.String()),
		ExpiresAt: &expires,
	}
	if status.Valid {
		status.Remaining = tok.Remaining(now)
	}
	return status
}

// ListTokens lists tokens for the admin surface.
func (s *TokenService) ListTokens(ctx context.Context, filter model.TokenFilter) ([]model.AccessToken, error) {
	if filter.Limit <= 0 || filter.Limit > defaultTokenListLimit {
		filter.Limit = defaultTokenListLimit
	}
	tokens, err := s.tokens.List(ctx, filter, s.clock.Now())
	if err != nil {
		return nil, storeFailure("list tokens", err)
	}
	for i := range tokens {
		tokens[i].Token = ""
	}
	return tokens, nil
}

// IntrospectGrant verifies a grant JWT and reports the live status of the
// token it names. It only reads.
func (s *TokenService) IntrospectGrant(ctx context.Context, raw string) (*GrantIntrospection, error) {
	claims, err := s.signer.Verify(raw)
	if err != nil {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "grant token is invalid")
	}

	tok, err := s.tokens.GetByID(ctx, claims.TokenID)
	if err != nil {
		return nil, storeFailure("look up token", err)
	}
	return &GrantIntrospection{Claims: *claims, Status: s.statusOf(tok)}, nil
}
