package httphandler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/contractorvault/internal/application"
	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// GenerateTokenRequest is the JSON body for the grant endpoint.
type GenerateTokenRequest struct {
	ResourceType       string `json:"resource_type"`
	ResourceID         string `json:"resource_id"`
	ContractorIdentity string `json:"contractor_email"`
	DurationMinutes    *int   `json:"duration_minutes"`
	OneTime            bool   `json:"one_time"`
	AllowedIP          string `json:"allowed_ip"`
}

// ClaimRequest is the JSON body for the claim endpoint.
type ClaimRequest struct {
	Token  string               `json:"token"`
	Device *model.DeviceContext `json:"device,omitempty"`
}

// RevokeRequest is the optional JSON body for revoke endpoints.
type RevokeRequest struct {
	Reason string `json:"reason"`
}

// GenerateToken issues a new access token.
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req GenerateTokenRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	duration := h.tokens.DefaultDuration()
	if req.DurationMinutes != nil {
		duration = time.Duration(*req.DurationMinutes) * time.Minute
	}

	grant, err := h.tokens.Generate(r.Context(), application.GrantRequest{
		Resource:           model.ResourceRef{Kind: model.ResourceKind(req.ResourceType), ID: req.ResourceID},
		ContractorIdentity: req.ContractorIdentity,
		Duration:           duration,
		OneTime:            req.OneTime,
		AllowedIP:          req.AllowedIP,
		Actor:              actorFrom(r.Context()),
		IPAddress:          clientIP(r),
	})
	if err != nil {
		h.writeServiceError(w, r, "generate token", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, GrantResponse{
		TokenResponse: toTokenResponse(grant.Token, h.clock.Now()),
		GrantJWT:      grant.GrantJWT,
	})
}

// ListTokens lists tokens, optionally for one contractor and active only.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	active, _ := strconv.ParseBool(q.Get("active"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	tokens, err := h.tokens.ListTokens(r.Context(), model.TokenFilter{
		ContractorIdentity: q.Get("contractor"),
		ActiveOnly:         active,
		Limit:              limit,
	})
	if err != nil {
		h.writeServiceError(w, r, "list tokens", err)
		return
	}

	now := h.clock.Now()
	resp := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, toTokenResponse(t, now))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RevokeToken revokes one token.
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	n, err := h.tokens.Revoke(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "revoke token", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

// KillSwitch revokes every active token of one contractor.
func (h *Handler) KillSwitch(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	result, err := h.tokens.RevokeAll(r.Context(), chi.URLParam(r, "identity"), actorFrom(r.Context()), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "kill switch", err)
		return
	}

	writeJSON(w, http.StatusOK, KillSwitchResponse{
		Contractor:        result.Contractor,
		RevokedCount:      result.RevokedCount,
		AffectedResources: result.AffectedResources,
	})
}

// Claim redeems a token and returns the decrypted credential.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	device := req.Device
	if device != nil && device.UserAgent == "" {
		device.UserAgent = r.UserAgent()
	}

	result, err := h.tokens.Claim(r.Context(), application.ClaimRequest{
		Token:    req.Token,
		CallerIP: clientIP(r),
		Device:   device,
	})
	if err != nil {
		h.writeServiceError(w, r, "claim", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, toClaimResponse(result))
}

// TokenStatus reports whether a token could currently be claimed.
func (h *Handler) TokenStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tokens.ValidateStatus(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeServiceError(w, r, "token status", err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenStatusResponse(status))
}

// Introspect verifies the bearer grant JWT and reports its token's status.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusUnauthorized, "bearer grant token required", reasonUnauthenticated)
		return
	}

	in, err := h.tokens.IntrospectGrant(r.Context(), strings.TrimSpace(raw))
	if err != nil {
		h.writeServiceError(w, r, "introspect grant", err)
		return
	}

	writeJSON(w, http.StatusOK, IntrospectionResponse{
		TokenID:    in.Claims.TokenID,
		Contractor: in.Claims.Contractor,
		Resource:   in.Claims.Resource.String(),
		OneTime:    in.Claims.OneTime,
		IssuedAt:   formatTime(in.Claims.IssuedAt),
		ExpiresAt:  formatTime(in.Claims.ExpiresAt),
		Status:     toTokenStatusResponse(in.Status),
	})
}
