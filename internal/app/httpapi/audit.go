package httpapi

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/R3E-Network/vetclinic/internal/app/auth"
	"github.com/R3E-Network/vetclinic/internal/httputil"
	"github.com/R3E-Network/vetclinic/internal/logging"
)

// AuditEntry records one authenticated request.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	TraceID    string    `json:"trace_id,omitempty"`
	User       string    `json:"user"`
	Role       string    `json:"role,omitempty"`
	Tenant     string    `json:"tenant,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditLog keeps the most recent entries in memory and appends every entry
// to an optional JSONL sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	full    bool
	sink    *zerolog.Logger
	now     func() time.Time
}

// NewAuditLog keeps up to max entries (200 when max <= 0). A nil sink
// disables persistence.
func NewAuditLog(max int, sink io.Writer) *AuditLog {
	if max <= 0 {
		max = 200
	}
	l := &AuditLog{entries: make([]AuditEntry, max), now: time.Now}
	if sink != nil {
		zl := zerolog.New(sink)
		l.sink = &zl
	}
	return l
}

// OpenAuditFile opens path for appending.
func OpenAuditFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// Add records entry.
func (l *AuditLog) Add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	if l.sink != nil {
		l.sink.Log().
			Time("time", entry.Time).
			Str("trace_id", entry.TraceID).
			Str("user", entry.User).
			Str("role", entry.Role).
			Str("tenant", entry.Tenant).
			Str("method", entry.Method).
			Str("path", entry.Path).
			Int("status", entry.Status).
			Int64("duration_ms", entry.DurationMS).
			Str("remote_addr", entry.RemoteAddr).
			Str("user_agent", entry.UserAgent).
			Send()
	}
}

// List returns up to limit of the newest entries, oldest first. A non-empty
// tenantID keeps only that tenant's entries.
func (l *AuditLog) List(tenantID string, limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	ordered := make([]AuditEntry, 0, len(l.entries))
	if l.full {
		ordered = append(ordered, l.entries[l.next:]...)
	}
	ordered = append(ordered, l.entries[:l.next]...)

	out := make([]AuditEntry, 0, len(ordered))
	for _, e := range ordered {
		if tenantID == "" || e.Tenant == tenantID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

type auditSlot struct {
	role string
}

type auditSlotKey struct{}

func auditSlotFrom(ctx context.Context) *auditSlot {
	slot, _ := ctx.Value(auditSlotKey{}).(*auditSlot)
	return slot
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// auditMiddleware records authenticated requests. The tenant middleware
// fills in the resolved role through the slot stored in the context.
func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		slot := &auditSlot{role: string(principal.Role)}
		rec := &statusRecorder{ResponseWriter: w}
		start := h.audit.now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), auditSlotKey{}, slot)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		h.audit.Add(AuditEntry{
			Time:       start.UTC(),
			TraceID:    logging.GetTraceID(r.Context()),
			User:       principal.Subject(),
			Role:       slot.role,
			Tenant:     pathVar(r, "tenantID"),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     status,
			DurationMS: h.audit.now().Sub(start).Milliseconds(),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if err := auth.RequireManager(actor); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.List(actor.TenantID, limit))
}
