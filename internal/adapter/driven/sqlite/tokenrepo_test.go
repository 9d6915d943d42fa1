package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

func newTestToken(id, contractor string, oneTime bool, ttl time.Duration) model.AccessToken {
	return model.AccessToken{
		ID:                 id,
		Token:              "tok-" + id,
		Resource:           model.SecretRef("sec-1"),
		ContractorIdentity: contractor,
		ExpiresAt:          testNow.Add(ttl),
		IsOneTime:          oneTime,
		CreatedBy:          "admin@corp.test",
		CreatedAt:          testNow,
	}
}

func TestTokenRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	tok := newTestToken("t1", "c@x.com", true, time.Hour)
	tok.AllowedIP = "10.0.0.7"
	require.NoError(t, repo.Create(ctx, tok))

	got, err := repo.GetByToken(ctx, "tok-t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, model.SecretRef("sec-1"), got.Resource)
	assert.Equal(t, "c@x.com", got.ContractorIdentity)
	assert.True(t, got.ExpiresAt.Equal(testNow.Add(time.Hour)))
	assert.True(t, got.IsOneTime)
	assert.False(t, got.IsRevoked)
	assert.Equal(t, "10.0.0.7", got.AllowedIP)
	assert.Nil(t, got.LastUsedAt)

	byID, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, got, byID)
}

func TestTokenRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)

	got, err := repo.GetByToken(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTokenRepo_CreateDuplicateToken(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	tok := newTestToken("t1", "c@x.com", false, time.Hour)
	require.NoError(t, repo.Create(ctx, tok))

	dup := tok
	dup.ID = "t2"
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrDuplicate)
}

func TestTokenRepo_MarkUsed(t *testing.T) {
	tests := []struct {
		name        string
		oneTime     bool
		ttl         time.Duration
		wantOK      bool
		wantRevoked bool
		wantUses    int
	}{
		{name: "reusable token stays active", oneTime: false, ttl: time.Hour, wantOK: true, wantRevoked: false, wantUses: 1},
		{name: "one-time token burns", oneTime: true, ttl: time.Hour, wantOK: true, wantRevoked: true, wantUses: 1},
		{name: "expired token does not match", oneTime: false, ttl: -time.Minute, wantOK: false, wantRevoked: false, wantUses: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			repo := NewTokenRepo(db)
			ctx := context.Background()

			require.NoError(t, repo.Create(ctx, newTestToken("t1", "c@x.com", tt.oneTime, tt.ttl)))

			ok, err := repo.MarkUsed(ctx, "t1", testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)

			got, err := repo.GetByID(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRevoked, got.IsRevoked)
			assert.Equal(t, tt.wantUses, got.UseCount)
			if tt.wantRevoked {
				assert.Equal(t, revokedByOneTime, got.RevokedBy)
				require.NotNil(t, got.RevokedAt)
			}
		})
	}
}

func TestTokenRepo_MarkUsed_OneTimeSecondUseFails(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestToken("t1", "c@x.com", true, time.Hour)))

	ok, err := repo.MarkUsed(ctx, "t1", testNow)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.MarkUsed(ctx, "t1", testNow.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenRepo_MarkUsed_ConcurrentOneTimeHasSingleWinner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestToken("t1", "c@x.com", true, time.Hour)))

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.MarkUsed(ctx, "t1", testNow)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	got, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
	assert.True(t, got.IsRevoked)
}

func TestTokenRepo_RevokeIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestToken("t1", "c@x.com", false, time.Hour)))

	ok, err := repo.Revoke(ctx, "t1", "admin@corp.test", "offboarded", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Revoke(ctx, "t1", "someone-else", "again", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked)
	assert.Equal(t, "admin@corp.test", got.RevokedBy)
	assert.Equal(t, "offboarded", got.RevokeReason)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(testNow))
}

func TestTokenRepo_RevokeActiveForContractor(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		tok := newTestToken(fmt.Sprintf("active-%d", i), "c@x.com", false, time.Hour)
		tok.Resource = model.SecretRef(fmt.Sprintf("sec-%d", i))
		require.NoError(t, repo.Create(ctx, tok))
	}
	require.NoError(t, repo.Create(ctx, newTestToken("expired", "c@x.com", false, -time.Minute)))
	require.NoError(t, repo.Create(ctx, newTestToken("other", "d@x.com", false, time.Hour)))
	already := newTestToken("already", "c@x.com", false, time.Hour)
	already.IsRevoked = true
	require.NoError(t, repo.Create(ctx, already))

	revoked, err := repo.RevokeActiveForContractor(ctx, "c@x.com", "admin@corp.test", "kill", testNow)
	require.NoError(t, err)
	require.Len(t, revoked, 3)

	ids := make([]string, 0, len(revoked))
	for _, rt := range revoked {
		ids = append(ids, rt.ID)
		assert.Equal(t, model.ResourceSecret, rt.Resource.Kind)
	}
	assert.ElementsMatch(t, []string{"active-1", "active-2", "active-3"}, ids)

	other, err := repo.GetByID(ctx, "other")
	require.NoError(t, err)
	assert.False(t, other.IsRevoked)

	expired, err := repo.GetByID(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, expired.IsRevoked)

	again, err := repo.RevokeActiveForContractor(ctx, "c@x.com", "admin@corp.test", "kill", testNow)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestTokenRepo_ListActiveOnly(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestToken("live", "c@x.com", false, time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestToken("dead", "c@x.com", false, -time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestToken("theirs", "d@x.com", false, time.Hour)))

	all, err := repo.List(ctx, model.TokenFilter{ContractorIdentity: "c@x.com"}, testNow)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := repo.List(ctx, model.TokenFilter{ContractorIdentity: "c@x.com", ActiveOnly: true}, testNow)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].ID)
}

func TestTokenRepo_PurgeExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestToken("old", "c@x.com", false, -48*time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestToken("recent", "c@x.com", false, -time.Hour)))
	require.NoError(t, repo.Create(ctx, newTestToken("live", "c@x.com", false, time.Hour)))

	n, err := repo.PurgeExpired(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := repo.GetByID(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
