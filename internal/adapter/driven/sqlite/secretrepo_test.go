package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

func newTestSecret(id string) model.Secret {
	reminder := 90
	return model.Secret{
		ID:                   id,
		Name:                 "prod-db-" + id,
		Type:                 model.SecretTypeDatabase,
		EncryptedValue:       []byte{0x01, 0x02, 0x03},
		Metadata:             map[string]string{"host": "db.internal"},
		CreatedBy:            "admin@corp.test",
		CreatedAt:            testNow,
		UpdatedAt:            testNow,
		IsActive:             true,
		RotationReminderDays: &reminder,
	}
}

func TestSecretRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSecretRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestSecret("s1")))

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SecretTypeDatabase, got.Type)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got.EncryptedValue)
	assert.Equal(t, "db.internal", got.Metadata["host"])
	require.NotNil(t, got.RotationReminderDays)
	assert.Equal(t, 90, *got.RotationReminderDays)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.ExpiresAt)
}

func TestSecretRepo_UpdateValueAndRecordAccess(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSecretRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestSecret("s1")))

	later := testNow.Add(time.Hour)
	require.NoError(t, repo.UpdateValue(ctx, "s1", []byte{0x09}, later))
	require.NoError(t, repo.RecordAccess(ctx, "s1", later))
	require.NoError(t, repo.RecordAccess(ctx, "s1", later))

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09}, got.EncryptedValue)
	require.NotNil(t, got.LastRotatedAt)
	assert.True(t, got.LastRotatedAt.Equal(later))
	assert.Equal(t, 2, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
}

func TestSecretRepo_DeactivateHidesFromList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSecretRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestSecret("s1")))
	require.NoError(t, repo.Create(ctx, newTestSecret("s2")))
	require.NoError(t, repo.Deactivate(ctx, "s1", testNow))

	active, err := repo.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].ID)

	all, err := repo.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = repo.Deactivate(ctx, "s1", testNow)
	assert.ErrorIs(t, err, driven.ErrRecordNotFound)

	err = repo.UpdateValue(ctx, "s1", []byte{0x01}, testNow)
	assert.ErrorIs(t, err, driven.ErrRecordNotFound)
}

func TestSecretRepo_ReplaceCiphertextIsConditional(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSecretRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestSecret("s1")))

	ok, err := repo.ReplaceCiphertext(ctx, "s1", []byte{0xff}, []byte{0x05}, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ReplaceCiphertext(ctx, "s1", []byte{0x01, 0x02, 0x03}, []byte{0x05}, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, got.EncryptedValue)
}

func TestSessionRepo_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()

	sess := model.StoredSession{
		ID:               "ss1",
		Name:             "Stripe dashboard",
		TargetURL:        "https://dashboard.stripe.com",
		TargetDomain:     "dashboard.stripe.com",
		EncryptedCookies: []byte{0x0a, 0x0b},
		CookieCount:      4,
		CreatedBy:        "admin@corp.test",
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
		IsActive:         true,
	}
	require.NoError(t, repo.Create(ctx, sess))

	got, err := repo.GetByID(ctx, "ss1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.TargetDomain, got.TargetDomain)
	assert.Equal(t, 4, got.CookieCount)

	ok, err := repo.ReplaceCiphertext(ctx, "ss1", []byte{0x0a, 0x0b}, []byte{0x0c}, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Deactivate(ctx, "ss1", testNow))
	listed, err := repo.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
