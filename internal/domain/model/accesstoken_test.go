package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessToken_StateAt(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	tests := []struct {
		name  string
		token AccessToken
		want  TokenState
	}{
		{"active", AccessToken{ExpiresAt: future}, TokenStateActive},
		{"expires exactly now", AccessToken{ExpiresAt: now}, TokenStateExpired},
		{"expired", AccessToken{ExpiresAt: past}, TokenStateExpired},
		{"revoked before expiry", AccessToken{ExpiresAt: future, IsRevoked: true}, TokenStateRevoked},
		{"revoked wins over expired", AccessToken{ExpiresAt: past, IsRevoked: true}, TokenStateRevoked},
		{"one-time unused", AccessToken{ExpiresAt: future, IsOneTime: true}, TokenStateActive},
		{"one-time used", AccessToken{ExpiresAt: future, IsOneTime: true, UseCount: 1}, TokenStateConsumed},
		{"consumed wins over expired", AccessToken{ExpiresAt: past, IsOneTime: true, UseCount: 1}, TokenStateConsumed},
		{"reusable token used", AccessToken{ExpiresAt: future, UseCount: 5}, TokenStateActive},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.token.StateAt(now)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want != TokenStateActive, got.Terminal())
		})
	}
}

func TestAccessToken_Remaining(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 90*time.Second, AccessToken{ExpiresAt: now.Add(90 * time.Second)}.Remaining(now))
	assert.Zero(t, AccessToken{ExpiresAt: now.Add(-time.Hour)}.Remaining(now))
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, ReasonExpired, RejectionReason(TokenStateExpired))
	assert.Equal(t, ReasonRevoked, RejectionReason(TokenStateRevoked))
	assert.Equal(t, ReasonConsumed, RejectionReason(TokenStateConsumed))
	assert.Empty(t, RejectionReason(TokenStateActive))
}

func TestSecret_NeedsRotation(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	days := 30
	rotated := created.AddDate(0, 0, 20)

	assert.False(t, Secret{CreatedAt: created}.NeedsRotation(created.AddDate(1, 0, 0)),
		"no reminder configured")
	assert.False(t, Secret{CreatedAt: created, RotationReminderDays: &days}.NeedsRotation(created.AddDate(0, 0, 29)))
	assert.True(t, Secret{CreatedAt: created, RotationReminderDays: &days}.NeedsRotation(created.AddDate(0, 0, 30)))
	assert.False(t, Secret{CreatedAt: created, LastRotatedAt: &rotated, RotationReminderDays: &days}.
		NeedsRotation(created.AddDate(0, 0, 40)), "window restarts at the last rotation")
}
