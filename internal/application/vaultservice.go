package application

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// CreateSecretRequest carries a new secret. Value is plaintext and is
// encrypted before it reaches any store.
type CreateSecretRequest struct {
	Name                 string
	Type                 model.SecretType
	Value                string
	Metadata             map[string]string
	ExpiresAt            *time.Time
	RotationReminderDays *int
	Actor                string
	IPAddress            string
}

// CreateStoredSessionRequest carries a captured browser session. Cookies is
// a JSON array of cookie objects.
type CreateStoredSessionRequest struct {
	Name      string
	TargetURL string
	Cookies   string
	Notes     string
	Actor     string
	IPAddress string
}

// RekeyFunc re-encrypts one ciphertext from one cipher to another.
type RekeyFunc func(ctx context.Context, from, to driven.Cipher, ciphertext []byte) ([]byte, error)

// RekeyReport summarises a RekeyAll run.
type RekeyReport struct {
	Secrets  int
	Sessions int
	Skipped  []string
	Failed   []string
}

// VaultService manages the protected resources: secrets and stored sessions.
type VaultService struct {
	secrets  driven.SecretStore
	sessions driven.SessionStore
	tx       driven.Transactor
	cipher   driven.Cipher
	audit    *AuditService
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewVaultService creates a new VaultService.
func NewVaultService(
	secrets driven.SecretStore,
	sessions driven.SessionStore,
	tx driven.Transactor,
	cipher driven.Cipher,
	audit *AuditService,
	clk clock.Clock,
	logger zerolog.Logger,
) *VaultService {
	return &VaultService{
		secrets:  secrets,
		sessions: sessions,
		tx:       tx,
		cipher:   cipher,
		audit:    audit,
		clock:    clk,
		logger:   logger.With().Str("component", "vault").Logger(),
	}
}

func (s *VaultService) encrypt(ctx context.Context, plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "value is required")
	}
	ct, err := s.cipher.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, model.Unavailable("encrypt value", err)
	}
	return ct, nil
}

// CreateSecret encrypts and stores a secret and records CREDENTIAL_CREATED.
func (s *VaultService) CreateSecret(ctx context.Context, req CreateSecretRequest) (*model.Secret, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "secret name is required")
	}
	if !req.Type.Valid() {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "unknown secret type %q", req.Type)
	}
	if req.RotationReminderDays != nil && *req.RotationReminderDays <= 0 {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "rotation reminder must be positive")
	}
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}

	ct, err := s.encrypt(ctx, req.Value)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	secret := model.Secret{
		ID:                   uuid.NewString(),
		Name:                 req.Name,
		Type:                 req.Type,
		EncryptedValue:       ct,
		Metadata:             req.Metadata,
		CreatedBy:            req.Actor,
		CreatedAt:            now,
		UpdatedAt:            now,
		IsActive:             true,
		ExpiresAt:            req.ExpiresAt,
		RotationReminderDays: req.RotationReminderDays,
	}

	var event model.AuditEvent
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		if err := st.Secrets.Create(ctx, secret); err != nil {
			return err
		}
		var err error
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          req.Actor,
			Action:         model.ActionCredentialCreated,
			TargetResource: model.SecretRef(secret.ID).String(),
			IPAddress:      req.IPAddress,
			ExtraData:      map[string]any{"name": secret.Name, "type": string(secret.Type)},
		})
		return err
	})
	if err != nil {
		return nil, storeFailure("create secret", err)
	}

	s.audit.published(event)
	return redactSecret(&secret), nil
}

// redactSecret strips the ciphertext from a secret leaving the admin surface.
func redactSecret(secret *model.Secret) *model.Secret {
	out := *secret
	out.EncryptedValue = nil
	return &out
}

// GetSecret returns a secret's metadata. The value is never returned.
func (s *VaultService) GetSecret(ctx context.Context, id string) (*model.Secret, error) {
	secret, err := s.secrets.GetByID(ctx, id)
	if err != nil {
		return nil, storeFailure("get secret", err)
	}
	if secret == nil {
		return nil, model.NotFound("secret", id)
	}
	return redactSecret(secret), nil
}

// ListSecrets returns secret metadata, newest first.
func (s *VaultService) ListSecrets(ctx context.Context, includeInactive bool) ([]model.Secret, error) {
	secrets, err := s.secrets.List(ctx, includeInactive)
	if err != nil {
		return nil, storeFailure("list secrets", err)
	}
	for i := range secrets {
		secrets[i].EncryptedValue = nil
	}
	return secrets, nil
}

// RotateSecret replaces a secret's value and records CREDENTIAL_UPDATED.
func (s *VaultService) RotateSecret(ctx context.Context, id, value, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	ct, err := s.encrypt(ctx, value)
	if err != nil {
		return err
	}

	var event model.AuditEvent
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		if err := st.Secrets.UpdateValue(ctx, id, ct, s.clock.Now()); err != nil {
			return err
		}
		var err error
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          actor,
			Action:         model.ActionCredentialUpdated,
			TargetResource: model.SecretRef(id).String(),
			Description:    "secret rotated",
		})
		return err
	})
	if err != nil {
		return storeFailure("rotate secret "+id, err)
	}

	s.audit.published(event)
	return nil
}

// DeactivateSecret soft-deletes a secret and records CREDENTIAL_DELETED.
// Tokens that reference it can no longer be claimed.
func (s *VaultService) DeactivateSecret(ctx context.Context, id, actor string) error {
	return s.deactivate(ctx, model.SecretRef(id), actor)
}

// CreateStoredSession encrypts and stores a cookie jar and records
// CREDENTIAL_CREATED.
func (s *VaultService) CreateStoredSession(ctx context.Context, req CreateStoredSessionRequest) (*model.StoredSession, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "session name is required")
	}
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}

	target, err := url.Parse(req.TargetURL)
	if err != nil || target.Hostname() == "" || (target.Scheme != "https" && target.Scheme != "http") {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "target url must be an absolute http(s) url")
	}

	var cookies []map[string]any
	if err := json.Unmarshal([]byte(req.Cookies), &cookies); err != nil {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "cookies must be a JSON array of objects")
	}
	if len(cookies) == 0 {
		return nil, model.InvalidInput(model.ReasonInvalidInput, "at least one cookie is required")
	}

	ct, err := s.encrypt(ctx, req.Cookies)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	session := model.StoredSession{
		ID:               uuid.NewString(),
		Name:             req.Name,
		TargetURL:        req.TargetURL,
		TargetDomain:     target.Hostname(),
		EncryptedCookies: ct,
		CookieCount:      len(cookies),
		Notes:            req.Notes,
		CreatedBy:        req.Actor,
		CreatedAt:        now,
		UpdatedAt:        now,
		IsActive:         true,
	}

	var event model.AuditEvent
	err = s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		if err := st.Sessions.Create(ctx, session); err != nil {
			return err
		}
		var err error
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          req.Actor,
			Action:         model.ActionCredentialCreated,
			TargetResource: model.StoredSessionRef(session.ID).String(),
			IPAddress:      req.IPAddress,
			ExtraData: map[string]any{
				"name":          session.Name,
				"target_domain": session.TargetDomain,
				"cookie_count":  session.CookieCount,
			},
		})
		return err
	})
	if err != nil {
		return nil, storeFailure("create stored session", err)
	}

	s.audit.published(event)
	session.EncryptedCookies = nil
	return &session, nil
}

// GetStoredSession returns a stored session without its cookies.
func (s *VaultService) GetStoredSession(ctx context.Context, id string) (*model.StoredSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, storeFailure("get stored session", err)
	}
	if session == nil {
		return nil, model.NotFound("stored session", id)
	}
	session.EncryptedCookies = nil
	return session, nil
}

// ListStoredSessions returns stored sessions without their cookies.
func (s *VaultService) ListStoredSessions(ctx context.Context, includeInactive bool) ([]model.StoredSession, error) {
	sessions, err := s.sessions.List(ctx, includeInactive)
	if err != nil {
		return nil, storeFailure("list stored sessions", err)
	}
	for i := range sessions {
		sessions[i].EncryptedCookies = nil
	}
	return sessions, nil
}

// DeactivateStoredSession soft-deletes a stored session.
func (s *VaultService) DeactivateStoredSession(ctx context.Context, id, actor string) error {
	return s.deactivate(ctx, model.StoredSessionRef(id), actor)
}

func (s *VaultService) deactivate(ctx context.Context, ref model.ResourceRef, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	var event model.AuditEvent
	err := s.tx.WithinTx(ctx, func(ctx context.Context, st driven.Stores) error {
		now := s.clock.Now()
		var err error
		switch ref.Kind {
		case model.ResourceSecret:
			err = st.Secrets.Deactivate(ctx, ref.ID, now)
		case model.ResourceStoredSession:
			err = st.Sessions.Deactivate(ctx, ref.ID, now)
		default:
			return model.InvalidInput(model.ReasonInvalidInput, "unknown resource kind %q", ref.Kind)
		}
		if err != nil {
			return err
		}
		event, err = s.audit.record(ctx, st.Audit, model.AuditEvent{
			Actor:          actor,
			Action:         model.ActionCredentialDeleted,
			TargetResource: ref.String(),
		})
		return err
	})
	if err != nil {
		return storeFailure("deactivate "+ref.String(), err)
	}

	s.audit.published(event)
	return nil
}

// RekeyAll re-encrypts every secret and stored session from one cipher to
// another, row by row. A row whose ciphertext changed concurrently is
// skipped; a row that fails to re-encrypt keeps its old ciphertext and is
// reported in Failed.
func (s *VaultService) RekeyAll(ctx context.Context, from, to driven.Cipher, rekey RekeyFunc) (*RekeyReport, error) {
	report := &RekeyReport{Skipped: []string{}, Failed: []string{}}

	secrets, err := s.secrets.List(ctx, true)
	if err != nil {
		return nil, storeFailure("list secrets", err)
	}
	for _, secret := range secrets {
		ref := model.SecretRef(secret.ID)
		switch s.rekeyOne(ctx, ref, secret.EncryptedValue, from, to, rekey, s.secrets.ReplaceCiphertext) {
		case rekeyDone:
			report.Secrets++
		case rekeySkipped:
			report.Skipped = append(report.Skipped, ref.String())
		case rekeyFailed:
			report.Failed = append(report.Failed, ref.String())
		}
	}

	sessions, err := s.sessions.List(ctx, true)
	if err != nil {
		return nil, storeFailure("list stored sessions", err)
	}
	for _, session := range sessions {
		ref := model.StoredSessionRef(session.ID)
		switch s.rekeyOne(ctx, ref, session.EncryptedCookies, from, to, rekey, s.sessions.ReplaceCiphertext) {
		case rekeyDone:
			report.Sessions++
		case rekeySkipped:
			report.Skipped = append(report.Skipped, ref.String())
		case rekeyFailed:
			report.Failed = append(report.Failed, ref.String())
		}
	}

	if _, err := s.audit.Append(ctx, model.AuditEvent{
		Actor:          actorRekey,
		Action:         model.ActionCredentialUpdated,
		TargetResource: "REKEY",
		Description:    "vault re-encrypted under a new key",
		ExtraData: map[string]any{
			"secrets":  report.Secrets,
			"sessions": report.Sessions,
			"skipped":  len(report.Skipped),
			"failed":   len(report.Failed),
		},
	}); err != nil {
		return report, err
	}
	return report, nil
}

type rekeyOutcome int

const (
	rekeyDone rekeyOutcome = iota
	rekeySkipped
	rekeyFailed
)

type replaceFunc func(ctx context.Context, id string, old, next []byte, now time.Time) (bool, error)

func (s *VaultService) rekeyOne(
	ctx context.Context,
	ref model.ResourceRef,
	ciphertext []byte,
	from, to driven.Cipher,
	rekey RekeyFunc,
	replace replaceFunc,
) rekeyOutcome {
	next, err := rekey(ctx, from, to, ciphertext)
	if err != nil {
		s.logger.Error().Str("resource", ref.String()).Msg("rekey failed, ciphertext left unchanged")
		return rekeyFailed
	}

	ok, err := replace(ctx, ref.ID, ciphertext, next, s.clock.Now())
	if err != nil {
		s.logger.Error().Err(err).Str("resource", ref.String()).Msg("store rekeyed ciphertext")
		return rekeyFailed
	}
	if !ok {
		s.logger.Warn().Str("resource", ref.String()).Msg("ciphertext changed during rekey, skipped")
		return rekeySkipped
	}
	return rekeyDone
}

// ResourceResolver loads the protected resource a token references.
type ResourceResolver struct {
	secrets  driven.SecretStore
	sessions driven.SessionStore
	clock    clock.Clock
}

// NewResourceResolver creates a new ResourceResolver.
func NewResourceResolver(secrets driven.SecretStore, sessions driven.SessionStore, clk clock.Clock) *ResourceResolver {
	return &ResourceResolver{secrets: secrets, sessions: sessions, clock: clk}
}

// Resolve returns the resource for ref, or NotFound if it does not exist.
// A secret past its own expiry is reported inactive.
func (r *ResourceResolver) Resolve(ctx context.Context, ref model.ResourceRef) (*model.ProtectedResource, error) {
	switch ref.Kind {
	case model.ResourceSecret:
		secret, err := r.secrets.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, storeFailure("resolve secret", err)
		}
		if secret == nil {
			return nil, model.NotFound("secret", ref.ID)
		}
		return &model.ProtectedResource{
			Ref:        ref,
			Name:       secret.Name,
			Target:     string(secret.Type),
			Ciphertext: secret.EncryptedValue,
			IsActive:   secret.IsActive && !secret.IsExpired(r.clock.Now()),
		}, nil
	case model.ResourceStoredSession:
		session, err := r.sessions.GetByID(ctx, ref.ID)
		if err != nil {
			return nil, storeFailure("resolve stored session", err)
		}
		if session == nil {
			return nil, model.NotFound("stored session", ref.ID)
		}
		return &model.ProtectedResource{
			Ref:        ref,
			Name:       session.Name,
			Target:     session.TargetURL,
			Ciphertext: session.EncryptedCookies,
			IsActive:   session.IsActive,
		}, nil
	default:
		return nil, model.InvalidInput(model.ReasonInvalidInput, "unknown resource kind %q", ref.Kind)
	}
}

// resolveActive resolves ref and treats an inactive resource as missing.
func (r *ResourceResolver) resolveActive(ctx context.Context, ref model.ResourceRef) (*model.ProtectedResource, error) {
	res, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !res.IsActive {
		return nil, model.NotFound(string(ref.Kind), ref.ID)
	}
	return res, nil
}
