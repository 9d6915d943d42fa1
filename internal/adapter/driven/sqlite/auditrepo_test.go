package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

func appendEvent(t *testing.T, repo *AuditRepo, id string, at time.Time, actor string, action model.AuditAction) {
	t.Helper()
	err := repo.Append(context.Background(), model.AuditEvent{
		ID:             id,
		Timestamp:      at,
		Actor:          actor,
		Action:         action,
		TargetResource: "secret:sec-1",
		IPAddress:      "10.0.0.1",
		ExtraData:      map[string]any{"token_id": "t-" + id},
		Description:    "event " + id,
	})
	require.NoError(t, err)
}

func TestAuditRepo_AppendAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepo(db)
	ctx := context.Background()

	appendEvent(t, repo, "e1", testNow, "admin@corp.test", model.ActionGrantAccess)

	got, err := repo.GetByID(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.ActionGrantAccess, got.Action)
	assert.Equal(t, "admin@corp.test", got.Actor)
	assert.True(t, got.Timestamp.Equal(testNow))
	assert.Equal(t, "t-e1", got.ExtraData["token_id"])

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAuditRepo_QueryOrdersByTimestampThenID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepo(db)

	appendEvent(t, repo, "b", testNow, "a", model.ActionGrantAccess)
	appendEvent(t, repo, "c", testNow.Add(-time.Minute), "a", model.ActionGrantAccess)
	appendEvent(t, repo, "a", testNow, "a", model.ActionGrantAccess)

	events, err := repo.Query(context.Background(), model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{events[0].ID, events[1].ID, events[2].ID})
}

func TestAuditRepo_QueryFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepo(db)

	appendEvent(t, repo, "e1", testNow.Add(-2*time.Hour), "admin@corp.test", model.ActionGrantAccess)
	appendEvent(t, repo, "e2", testNow.Add(-time.Hour), "c@x.com", model.ActionInjectionSuccess)
	appendEvent(t, repo, "e3", testNow, "admin@corp.test", model.ActionRevokeAccess)

	from := testNow.Add(-90 * time.Minute)
	to := testNow

	tests := []struct {
		name   string
		filter model.AuditFilter
		want   []string
	}{
		{name: "actor", filter: model.AuditFilter{Actor: "admin@corp.test"}, want: []string{"e1", "e3"}},
		{name: "action", filter: model.AuditFilter{Action: model.ActionInjectionSuccess}, want: []string{"e2"}},
		{name: "time range is half open", filter: model.AuditFilter{From: &from, To: &to}, want: []string{"e2"}},
		{name: "limit and offset", filter: model.AuditFilter{Limit: 1, Offset: 1}, want: []string{"e2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := repo.Query(context.Background(), tt.filter)
			require.NoError(t, err)

			ids := make([]string, 0, len(events))
			for _, e := range events {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestAuditRepo_RejectsUpdateAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAuditRepo(db)
	ctx := context.Background()

	appendEvent(t, repo, "e1", testNow, "admin@corp.test", model.ActionGrantAccess)

	_, err := db.Writer.ExecContext(ctx, `UPDATE audit_events SET actor = 'mallory' WHERE id = 'e1'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.Writer.ExecContext(ctx, `DELETE FROM audit_events WHERE id = 'e1'`)
	require.Error(t, err)

	got, err := repo.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "admin@corp.test", got.Actor)
}
