// Package application contains use-case orchestration services.
package application

import (
	"errors"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

// System actors recorded in the audit trail for unattended changes.
const (
	actorPurge = "system:purge"
	actorRekey = "system:rekey"
)

// publisher accepts notifications for best-effort delivery. *Dispatcher
// implements it.
type publisher interface {
	Publish(n model.Notification)
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.Notification) {}

// storeFailure converts a store error into a typed domain error. Typed errors
// pass through, missing rows become NotFound, everything else is Unavailable.
func storeFailure(op string, err error) error {
	var typed *model.Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, driven.ErrRecordNotFound):
		return &model.Error{Kind: model.KindNotFound, Reason: model.ReasonNotFound, Detail: op, Err: err}
	case errors.Is(err, driven.ErrDuplicate):
		return &model.Error{Kind: model.KindConflict, Reason: model.ReasonConflict, Detail: op, Err: err}
	default:
		return model.Unavailable(op, err)
	}
}

// requireActor rejects an empty acting identity.
func requireActor(actor string) error {
	if actor == "" {
		return model.InvalidInput(model.ReasonInvalidInput, "actor is required")
	}
	return nil
}
