package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("claim: %w", Forbidden(ReasonIPNotAllowed, "caller address does not match"))

	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, err, Forbidden(ReasonIPNotAllowed, ""))
	assert.NotErrorIs(t, err, Forbidden(ReasonRevoked, ""))
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.Equal(t, ReasonIPNotAllowed, ReasonOf(err))
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := Unavailable("append audit event", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "unavailable: append audit event: database is locked", err.Error())
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, `not_found: secret "s1" not found`, NotFound("secret", "s1").Error())
	assert.Equal(t, "invalid_input (invalid_duration): too long",
		InvalidInput(ReasonInvalidDuration, "too long").Error())
}

func TestReasonOf_NonTyped(t *testing.T) {
	assert.Empty(t, ReasonOf(errors.New("plain")))
	assert.Zero(t, KindOf(nil))
	assert.Equal(t, Reason("conflict"), ReasonOf(&Error{Kind: KindConflict}))
}

func TestParseResourceRef(t *testing.T) {
	ref, err := ParseResourceRef(StoredSessionRef("ss1").String())
	require.NoError(t, err)
	assert.Equal(t, ResourceStoredSession, ref.Kind)
	assert.Equal(t, "ss1", ref.ID)

	for _, bad := range []string{"secret", "vm:1", "secret:", "secret:  "} {
		_, err := ParseResourceRef(bad)
		assert.Error(t, err, bad)
	}

	_, err = ParseResourceRef("vm:1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuditAction_Valid(t *testing.T) {
	assert.True(t, ActionTokensPurged.Valid())
	assert.True(t, ActionSecurityAlert.Valid())
	assert.False(t, AuditAction("DROP_TABLE").Valid())
	assert.False(t, SecretType("password").Valid())
}
