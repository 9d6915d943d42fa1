package application

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/contractorvault/internal/adapter/driven/jwtsigner"
	"github.com/ericfisherdev/contractorvault/internal/adapter/driven/kms"
	"github.com/ericfisherdev/contractorvault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

const (
	testAdmin      = "admin@corp.test"
	testContractor = "c@x.com"
)

// recordingPublisher captures published notifications.
type recordingPublisher struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (p *recordingPublisher) Publish(n model.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
}

func (p *recordingPublisher) kinds() []model.NotificationKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.NotificationKind, 0, len(p.sent))
	for _, n := range p.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (p *recordingPublisher) count(kind model.NotificationKind) int {
	n := 0
	for _, k := range p.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// failingAuditStore rejects every append.
type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, model.AuditEvent) error {
	return errors.New("audit store unavailable")
}

func (failingAuditStore) GetByID(context.Context, string) (*model.AuditEvent, error) {
	return nil, nil
}

func (failingAuditStore) Query(context.Context, model.AuditFilter) ([]model.AuditEvent, error) {
	return nil, nil
}

// failingAuditTx runs real transactions whose audit store always fails, so
// every write in the same transaction must roll back.
type failingAuditTx struct {
	inner driven.Transactor
}

func (f failingAuditTx) WithinTx(ctx context.Context, fn func(ctx context.Context, s driven.Stores) error) error {
	return f.inner.WithinTx(ctx, func(ctx context.Context, s driven.Stores) error {
		s.Audit = failingAuditStore{}
		return fn(ctx, s)
	})
}

// expiringTokenStore loses every MarkUsed race because the clock jumps
// past the token's expiry in the middle of the claim.
type expiringTokenStore struct {
	driven.TokenStore
	clock *clock.Mock
	jump  time.Duration
}

func (s expiringTokenStore) MarkUsed(context.Context, string, time.Time) (bool, error) {
	s.clock.Add(s.jump)
	return false, nil
}

// expiringTx swaps in expiringTokenStore for every transaction.
type expiringTx struct {
	inner driven.Transactor
	clock *clock.Mock
	jump  time.Duration
}

func (e expiringTx) WithinTx(ctx context.Context, fn func(ctx context.Context, s driven.Stores) error) error {
	return e.inner.WithinTx(ctx, func(ctx context.Context, s driven.Stores) error {
		s.Tokens = expiringTokenStore{TokenStore: s.Tokens, clock: e.clock, jump: e.jump}
		return fn(ctx, s)
	})
}

type fixture struct {
	db        *sqlite.DB
	clock     *clock.Mock
	cipher    *kms.Boundary
	signer    *jwtsigner.Signer
	published *recordingPublisher

	tokenStore  *sqlite.TokenRepo
	secretStore *sqlite.SecretRepo
	auditStore  *sqlite.AuditRepo
	deviceStore *sqlite.DeviceRepo
	tx          driven.Transactor

	audit    *AuditService
	devices  *DeviceService
	vault    *VaultService
	resolver *ResourceResolver
	tokens   *TokenService
}

func newTestCipher(t *testing.T) *kms.Boundary {
	t.Helper()
	ctx := context.Background()
	key, err := kms.GenerateKey()
	require.NoError(t, err)
	w, err := kms.NewWrapper(ctx, kms.Config{Provider: kms.ProviderAEAD, KeyID: "test", Key: key})
	require.NoError(t, err)
	b, err := kms.NewBoundary(ctx, w, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = sqlite.RunMigrations(db.Writer)
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(testNow)

	signer, err := jwtsigner.New("0123456789abcdef0123456789abcdef", "contractor-vault", clk)
	require.NoError(t, err)

	f := &fixture{
		db:          db,
		clock:       clk,
		cipher:      newTestCipher(t),
		signer:      signer,
		published:   &recordingPublisher{},
		tokenStore:  sqlite.NewTokenRepo(db),
		secretStore: sqlite.NewSecretRepo(db),
		auditStore:  sqlite.NewAuditRepo(db),
		deviceStore: sqlite.NewDeviceRepo(db),
		tx:          sqlite.NewTxRunner(db),
	}
	sessions := sqlite.NewSessionRepo(db)
	logger := zerolog.Nop()

	f.audit = NewAuditService(f.auditStore, clk, logger, nil)
	f.devices = NewDeviceService(f.deviceStore, f.tx, f.audit, clk, logger)
	f.vault = NewVaultService(f.secretStore, sessions, f.tx, f.cipher, f.audit, clk, logger)
	f.resolver = NewResourceResolver(f.secretStore, sessions, clk)
	f.tokens = f.tokenService(f.tx)
	return f
}

// tokenService builds a TokenService over the fixture with a custom transactor.
func (f *fixture) tokenService(tx driven.Transactor) *TokenService {
	return NewTokenService(TokenServiceDeps{
		Tokens:    f.tokenStore,
		Tx:        tx,
		Resolver:  f.resolver,
		Cipher:    f.cipher,
		Devices:   f.devices,
		Audit:     f.audit,
		Signer:    f.signer,
		Publisher: f.published,
		Clock:     f.clock,
		Logger:    zerolog.Nop(),
	})
}

func (f *fixture) createSecret(t *testing.T, value string) string {
	t.Helper()
	s, err := f.vault.CreateSecret(context.Background(), CreateSecretRequest{
		Name:  "prod-db",
		Type:  model.SecretTypeDatabase,
		Value: value,
		Actor: testAdmin,
	})
	require.NoError(t, err)
	return s.ID
}

func (f *fixture) grant(t *testing.T, req GrantRequest) *Grant {
	t.Helper()
	if req.ContractorIdentity == "" {
		req.ContractorIdentity = testContractor
	}
	if req.Actor == "" {
		req.Actor = testAdmin
	}
	if req.Duration == 0 {
		req.Duration = f.tokens.DefaultDuration()
	}
	g, err := f.tokens.Generate(context.Background(), req)
	require.NoError(t, err)
	return g
}

func (f *fixture) events(t *testing.T, action model.AuditAction) []model.AuditEvent {
	t.Helper()
	events, err := f.auditStore.Query(context.Background(), model.AuditFilter{Action: action, Limit: 1000})
	require.NoError(t, err)
	return events
}

func (f *fixture) allEvents(t *testing.T) []model.AuditEvent {
	t.Helper()
	events, err := f.auditStore.Query(context.Background(), model.AuditFilter{Limit: 1000})
	require.NoError(t, err)
	return events
}

func (f *fixture) token(t *testing.T, id string) *model.AccessToken {
	t.Helper()
	tok, err := f.tokenStore.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, tok)
	return tok
}
