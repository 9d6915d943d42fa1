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

func observeTestDevice(t *testing.T, repo *DeviceRepo, id, ip string, at time.Time) *model.Device {
	t.Helper()
	dev, err := repo.Observe(context.Background(), model.Device{
		ID:            id,
		Fingerprint:   "fp-laptop",
		OwnerIdentity: "c@x.com",
		UserAgent:     "Mozilla/5.0",
		Browser:       "Firefox",
		OS:            "Linux",
		DeviceType:    "desktop",
		IPAddress:     ip,
	}, 30, at)
	require.NoError(t, err)
	return dev
}

func TestDeviceRepo_ObserveRegistersThenRefreshes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepo(db)

	first := observeTestDevice(t, repo, "d1", "10.0.0.1", testNow)
	assert.Equal(t, "d1", first.ID)
	assert.Equal(t, 1, first.AccessCount)
	assert.Equal(t, 30, first.TrustScore)
	assert.True(t, first.FirstSeen.Equal(testNow))

	second := observeTestDevice(t, repo, "ignored-new-id", "10.0.0.2", testNow.Add(time.Hour))
	assert.Equal(t, "d1", second.ID)
	assert.Equal(t, 2, second.AccessCount)
	assert.Equal(t, "10.0.0.2", second.IPAddress)
	assert.True(t, second.FirstSeen.Equal(testNow))
	assert.True(t, second.LastSeen.Equal(testNow.Add(time.Hour)))
}

func TestDeviceRepo_ObserveKeepsIPWhenUnknown(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepo(db)

	observeTestDevice(t, repo, "d1", "10.0.0.1", testNow)
	again := observeTestDevice(t, repo, "d2", "", testNow)
	assert.Equal(t, "10.0.0.1", again.IPAddress)
}

func TestDeviceRepo_ScoreIsClamped(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepo(db)
	ctx := context.Background()

	dev := observeTestDevice(t, repo, "d1", "10.0.0.1", testNow)

	var err error
	for i := 0; i < 5; i++ {
		dev, err = repo.RecordFailure(ctx, "d1", 10, testNow)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, dev.TrustScore)
	assert.Equal(t, 5, dev.FailedAttempts)
	require.NotNil(t, dev.LastFailedAt)

	for i := 0; i < 60; i++ {
		dev, err = repo.RecordSuccess(ctx, "d1", 2, testNow)
		require.NoError(t, err)
	}
	assert.Equal(t, 100, dev.TrustScore)
	assert.Equal(t, 0, dev.FailedAttempts)
	assert.Equal(t, 60, dev.ConsecutiveSuccesses)

	dev, err = repo.RecordFailure(ctx, "d1", 10, testNow)
	require.NoError(t, err)
	assert.Equal(t, 90, dev.TrustScore)
	assert.Equal(t, 0, dev.ConsecutiveSuccesses)
}

func TestDeviceRepo_BlockTrustUnblock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepo(db)
	ctx := context.Background()

	observeTestDevice(t, repo, "d1", "10.0.0.1", testNow)

	trusted, err := repo.SetTrusted(ctx, "d1", "admin@corp.test", 90, testNow)
	require.NoError(t, err)
	assert.True(t, trusted.IsTrusted)
	assert.Equal(t, 90, trusted.TrustScore)
	assert.Equal(t, "admin@corp.test", trusted.TrustedBy)

	blocked, err := repo.SetBlocked(ctx, "d1", "sec@corp.test", "stolen laptop", testNow)
	require.NoError(t, err)
	assert.True(t, blocked.IsBlocked)
	assert.False(t, blocked.IsTrusted)
	assert.Equal(t, 0, blocked.TrustScore)
	assert.Equal(t, "stolen laptop", blocked.BlockReason)
	require.NotNil(t, blocked.BlockedAt)

	unblocked, err := repo.ClearBlock(ctx, "d1", 30)
	require.NoError(t, err)
	assert.False(t, unblocked.IsBlocked)
	assert.False(t, unblocked.IsTrusted)
	assert.Equal(t, 30, unblocked.TrustScore)
	assert.Empty(t, unblocked.BlockedBy)
	assert.Nil(t, unblocked.BlockedAt)
}

func TestDeviceRepo_MutateMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepo(db)

	_, err := repo.SetBlocked(context.Background(), "missing", "a", "b", testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrRecordNotFound)
}

func TestDeviceRepo_ListByOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepo(db)
	ctx := context.Background()

	observeTestDevice(t, repo, "d1", "10.0.0.1", testNow)
	_, err := repo.Observe(ctx, model.Device{ID: "d2", Fingerprint: "fp-phone", OwnerIdentity: "c@x.com"}, 30, testNow.Add(time.Minute))
	require.NoError(t, err)
	_, err = repo.Observe(ctx, model.Device{ID: "d3", Fingerprint: "fp-laptop", OwnerIdentity: "d@x.com"}, 30, testNow)
	require.NoError(t, err)

	devices, err := repo.ListByOwner(ctx, "c@x.com")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "d2", devices[0].ID)
}
