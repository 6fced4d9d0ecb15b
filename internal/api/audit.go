package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/audit"
)

// AuditLog records and lists operator actions.
// *audit.Recorder satisfies it.
type AuditLog interface {
	Record(e audit.Entry)
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// auditAction queues an audit entry for an API action (best-effort).
// The token subject and request id are taken from the request context.
func (s *Server) auditAction(r *http.Request, action, target string, details map[string]any) {
	if s.audit == nil {
		return
	}

	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled
	if details == nil {
		details = make(map[string]any, 1)
	}
	if requestID, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		details["request_id"] = requestID
	}

	s.audit.Record(audit.Entry{
		Action:  action,
		Source:  audit.SourceAPI,
		Subject: subject,
		Target:  target,
		Details: details,
	})
}

// handleListAudit returns paginated audit entries.
//
// Query parameters:
//   - action: filter by action (startup, shutdown, refresh, ws_ticket)
//   - source: filter by source (api, system)
//   - since: RFC 3339 timestamp, entries at or after it
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Source: q.Get("source"),
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
