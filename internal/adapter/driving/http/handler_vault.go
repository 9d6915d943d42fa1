package httphandler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/contractorvault/internal/application"
	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// CreateSecretRequest is the JSON body for the create secret endpoint.
type CreateSecretRequest struct {
	Name                 string            `json:"name"`
	Type                 string            `json:"type"`
	Value                string            `json:"value"`
	Metadata             map[string]string `json:"metadata"`
	ExpiresAt            *time.Time        `json:"expires_at"`
	RotationReminderDays *int              `json:"rotation_reminder_days"`
}

// RotateSecretRequest is the JSON body for the rotate endpoint.
type RotateSecretRequest struct {
	Value string `json:"value"`
}

// CreateStoredSessionRequest is the JSON body for the create session
// endpoint. Cookies is the raw JSON array exported from the browser.
type CreateStoredSessionRequest struct {
	Name      string          `json:"name"`
	TargetURL string          `json:"target_url"`
	Cookies   json.RawMessage `json:"cookies"`
	Notes     string          `json:"notes"`
}

func includeInactive(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	return v
}

// CreateSecret stores a new encrypted secret.
func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	var req CreateSecretRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	secret, err := h.vault.CreateSecret(r.Context(), application.CreateSecretRequest{
		Name:                 req.Name,
		Type:                 model.SecretType(req.Type),
		Value:                req.Value,
		Metadata:             req.Metadata,
		ExpiresAt:            req.ExpiresAt,
		RotationReminderDays: req.RotationReminderDays,
		Actor:                actorFrom(r.Context()),
		IPAddress:            clientIP(r),
	})
	if err != nil {
		h.writeServiceError(w, r, "create secret", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSecretResponse(*secret, h.clock.Now()))
}

// ListSecrets returns secret metadata.
func (h *Handler) ListSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := h.vault.ListSecrets(r.Context(), includeInactive(r))
	if err != nil {
		h.writeServiceError(w, r, "list secrets", err)
		return
	}

	now := h.clock.Now()
	resp := make([]SecretResponse, 0, len(secrets))
	for _, s := range secrets {
		resp = append(resp, toSecretResponse(s, now))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSecret returns one secret's metadata.
func (h *Handler) GetSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.vault.GetSecret(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "get secret", err)
		return
	}

	writeJSON(w, http.StatusOK, toSecretResponse(*secret, h.clock.Now()))
}

// RotateSecret replaces a secret's value.
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	var req RotateSecretRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.vault.RotateSecret(r.Context(), chi.URLParam(r, "id"), req.Value, actorFrom(r.Context())); err != nil {
		h.writeServiceError(w, r, "rotate secret", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteSecret soft-deletes a secret.
func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.DeactivateSecret(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context())); err != nil {
		h.writeServiceError(w, r, "delete secret", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateStoredSession stores an encrypted cookie jar.
func (h *Handler) CreateStoredSession(w http.ResponseWriter, r *http.Request) {
	var req CreateStoredSessionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	session, err := h.vault.CreateStoredSession(r.Context(), application.CreateStoredSessionRequest{
		Name:      req.Name,
		TargetURL: req.TargetURL,
		Cookies:   string(req.Cookies),
		Notes:     req.Notes,
		Actor:     actorFrom(r.Context()),
		IPAddress: clientIP(r),
	})
	if err != nil {
		h.writeServiceError(w, r, "create stored session", err)
		return
	}

	writeJSON(w, http.StatusCreated, toStoredSessionResponse(*session))
}

// ListStoredSessions returns stored session metadata.
func (h *Handler) ListStoredSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.vault.ListStoredSessions(r.Context(), includeInactive(r))
	if err != nil {
		h.writeServiceError(w, r, "list stored sessions", err)
		return
	}

	resp := make([]StoredSessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, toStoredSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetStoredSession returns one stored session's metadata.
func (h *Handler) GetStoredSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.vault.GetStoredSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "get stored session", err)
		return
	}

	writeJSON(w, http.StatusOK, toStoredSessionResponse(*session))
}

// DeleteStoredSession soft-deletes a stored session.
func (h *Handler) DeleteStoredSession(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.DeactivateStoredSession(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context())); err != nil {
		h.writeServiceError(w, r, "delete stored session", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
