package httphandler

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/contractorvault/internal/application"
	"github.com/ericfisherdev/contractorvault/internal/domain/model"
)

// auditFilterFrom parses actor, action, target, from, to, limit and offset
// query parameters.
func auditFilterFrom(q url.Values) (model.AuditFilter, string) {
	filter := model.AuditFilter{
		Actor:          q.Get("actor"),
		Action:         model.AuditAction(q.Get("action")),
		TargetResource: q.Get("target"),
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, p.name + " must be an RFC 3339 timestamp"
		}
		*p.dst = &t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, p.name + " must be an integer"
		}
		*p.dst = n
	}
	return filter, ""
}

// ListAuditEvents queries the audit trail.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter, problem := auditFilterFrom(r.URL.Query())
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem, string(model.ReasonInvalidInput))
		return
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "query audit", err)
		return
	}

	resp := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toAuditEventResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAuditEvent returns one audit event.
func (h *Handler) GetAuditEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.audit.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "get audit event", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuditEventResponse(*e))
}

// ExportAudit returns the filtered audit trail as CSV.
func (h *Handler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	filter, problem := auditFilterFrom(r.URL.Query())
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem, string(model.ReasonInvalidInput))
		return
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "export audit", err)
		return
	}

	out, err := application.ExportCSV(events)
	if err != nil {
		h.writeServiceError(w, r, "export audit", err)
		return
	}

	name := "audit-" + h.clock.Now().UTC().Format("20060102-150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}
