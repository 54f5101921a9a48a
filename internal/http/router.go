// Package httpx wires the uplog request surface to the user and session
// services.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/SOORAJTS2001/uplog/internal/domain"
	"github.com/SOORAJTS2001/uplog/internal/repository"
	sessionsvc "github.com/SOORAJTS2001/uplog/internal/service/session"
	usersvc "github.com/SOORAJTS2001/uplog/internal/service/user"
	"github.com/SOORAJTS2001/uplog/internal/stream"
	"github.com/SOORAJTS2001/uplog/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitCreate    = 10
	rateLimitUpload    = 600
	rateLimitRead      = 120
	rateLimitConsume   = 30
	healthCheckTimeout = 2 * time.Second
	maxUploadEntries   = 10000
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	users        usersvc.Service
	sessions     sessionsvc.Service
	registry     *ws.Registry
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	dbHealth     func(context.Context) error
	brokerHealth func() error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, userSvc usersvc.Service, sessionSvc sessionsvc.Service, registry *ws.Registry, limiter RateLimiter, dbHealth func(context.Context) error, brokerHealth func() error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		users:    userSvc,
		sessions: sessionSvc,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		dbHealth:     dbHealth,
		brokerHealth: brokerHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/user/create", r.audit(r.withRateLimit(rateLimitCreate, rateWindowDefault, rateLimitKeyIP, r.handleUserCreate)))
	r.mux.HandleFunc("/session/create", r.audit(r.withRateLimit(rateLimitCreate, rateWindowDefault, rateLimitKeyUser, r.handleSessionCreate)))
	r.mux.HandleFunc("/session/list", r.audit(r.withRateLimit(rateLimitRead, rateWindowDefault, rateLimitKeyUser, r.handleSessionList)))
	r.mux.HandleFunc("/session/delete", r.audit(r.withRateLimit(rateLimitCreate, rateWindowDefault, rateLimitKeyUser, r.handleSessionDelete)))
	r.mux.HandleFunc("/session/upload", r.audit(r.withRateLimit(rateLimitUpload, rateWindowDefault, rateLimitKeySession, r.handleUpload)))
	r.mux.HandleFunc("/session/consume", r.audit(r.withRateLimit(rateLimitConsume, rateWindowRealtime, rateLimitKeySession, r.handleConsumeSSE)))
	r.mux.HandleFunc("/ws/session/consume", r.audit(r.withRateLimit(rateLimitConsume, rateWindowRealtime, rateLimitKeySession, r.handleConsumeWS)))
}

func (r *Router) handleUserCreate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user, err := r.users.Create(req.Context(), clientIP(req))
	if err != nil {
		var provErr *stream.ProvisioningError
		if errors.As(err, &provErr) {
			writeError(w, http.StatusBadGateway, "stream provisioning failed")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": user.ID})
}

func (r *Router) handleSessionCreate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	userID := strings.TrimSpace(req.Header.Get("User-Id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "User-Id header required")
		return
	}
	var payload struct {
		Tag           string `json:"tag"`
		EnableSharing bool   `json:"enable_sharing"`
	}
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&payload)
	}
	sess, err := r.sessions.Create(req.Context(), userID, strings.TrimSpace(payload.Tag), payload.EnableSharing)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID})
}

func (r *Router) handleSessionList(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	userID := strings.TrimSpace(req.Header.Get("User-Id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "User-Id header required")
		return
	}
	sessions, err := r.sessions.List(req.Context(), userID)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, marshalSession(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleSessionDelete(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}
	if err := r.sessions.Delete(req.Context(), sessionID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// wireEntry is the upload/consume wire shape for one log line.
type wireEntry struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
}

func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}
	tag := strings.TrimSpace(req.URL.Query().Get("tag"))

	var payload []wireEntry
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payload) > maxUploadEntries {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d entries", maxUploadEntries))
		return
	}
	entries := make([]domain.LogEntry, 0, len(payload))
	for i, item := range payload {
		ts, err := time.Parse(time.RFC3339Nano, item.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("entry %d: timestamp must be ISO-8601 with offset", i))
			return
		}
		entries = append(entries, domain.LogEntry{
			Message:   item.Message,
			Timestamp: ts,
			Level:     strings.ToUpper(strings.TrimSpace(item.Level)),
		})
	}

	published, err := r.sessions.Upload(req.Context(), sessionID, tag, entries)
	if err != nil {
		var pubErr *stream.PublishError
		if errors.As(err, &pubErr) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":          "some entries were not acknowledged",
				"published":      published,
				"failed_indexes": pubErr.FailedIndexes,
			})
			return
		}
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "published", "published": published})
}

func (r *Router) handleConsumeSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}
	// resolve before committing to the event stream so missing sessions
	// still get a JSON 404
	if _, err := r.sessions.Get(req.Context(), sessionID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	defer client.Close()

	if err := r.sessions.Consume(req.Context(), sessionID, client); err != nil {
		r.logger.Warn("consume stream ended with error", "session_id", sessionID, "error", err)
	}
}

func (r *Router) handleConsumeWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}
	if _, err := r.sessions.Get(req.Context(), sessionID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	defer client.Close()

	// surface peer close as cancellation so the consume loop tears down
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := r.sessions.Consume(ctx, sessionID, client); err != nil {
		r.logger.Warn("consume stream ended with error", "session_id", sessionID, "error", err)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.brokerHealth != nil {
		if err := r.brokerHealth(); err != nil {
			status = "degraded"
			components["broker"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["broker"] = map[string]any{"status": "up"}
		}
	}
	if r.registry != nil {
		components["consumers"] = map[string]any{"active": r.registry.Total()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, domain.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func marshalSession(s domain.Session) map[string]any {
	return map[string]any{
		"session_id":     s.ID,
		"user_id":        s.UserID,
		"subject_name":   s.SubjectName,
		"stream_name":    s.StreamName,
		"tag":            s.Tag,
		"enable_sharing": s.EnableSharing,
		"log_line_count": s.LogLineCount,
		"expires_at":     s.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"created_at":     s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
