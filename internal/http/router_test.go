package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SOORAJTS2001/uplog/internal/broker"
	"github.com/SOORAJTS2001/uplog/internal/domain"
	"github.com/SOORAJTS2001/uplog/internal/repository"
	sessionsvc "github.com/SOORAJTS2001/uplog/internal/service/session"
	usersvc "github.com/SOORAJTS2001/uplog/internal/service/user"
	"github.com/SOORAJTS2001/uplog/internal/stream"
	"github.com/SOORAJTS2001/uplog/internal/ws"
)

// ---- in-memory fixtures ----

type memoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	sessions map[string]domain.Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[string]domain.User), sessions: make(map[string]domain.Session)}
}

func (m *memoryStore) CreateUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return nil
}

func (m *memoryStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) CreateSession(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return repository.ErrConflict
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memoryStore) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) ListSessionsByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memoryStore) AddLogLines(ctx context.Context, id string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.LogLineCount += n
	m.sessions[id] = s
	return nil
}

func (m *memoryStore) SetSessionTag(ctx context.Context, id, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok && s.Tag == "" {
		s.Tag = tag
		m.sessions[id] = s
	}
	return nil
}

func (m *memoryStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memoryBroker struct {
	mu        sync.Mutex
	streamErr error
	published map[string][][]byte
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{published: make(map[string][][]byte)}
}

func (b *memoryBroker) EnsureStream(ctx context.Context, cfg broker.StreamConfig) error {
	return b.streamErr
}

func (b *memoryBroker) Publish(ctx context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[subject] = append(b.published[subject], payload)
	return nil
}

func (b *memoryBroker) Subscribe(subject string) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &memorySubscription{msgs: make(chan []byte, 1024)}
	for _, payload := range b.published[subject] {
		sub.msgs <- payload
	}
	return sub, nil
}

type memorySubscription struct {
	msgs chan []byte
}

func (s *memorySubscription) Next(wait time.Duration) (broker.Message, error) {
	select {
	case payload := <-s.msgs:
		return memoryMessage(payload), nil
	case <-time.After(wait):
		return nil, broker.ErrTimeout
	}
}

func (s *memorySubscription) Unsubscribe() error { return nil }

type memoryMessage []byte

func (m memoryMessage) Data() []byte { return m }
func (m memoryMessage) Ack() error   { return nil }

func newTestRouter(t *testing.T, b *memoryBroker) (*Router, *memoryStore, *ws.Registry) {
	t.Helper()
	store := newMemoryStore()
	registry := ws.NewRegistry()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	provisioner := stream.NewProvisioner(b, 1000, time.Hour)
	publisher := stream.NewPublisher(b, 4, time.Second)
	userSvc := usersvc.New(store, provisioner, "salt", log)
	sessionSvc := sessionsvc.New(store, store, b, publisher, registry, log, sessionsvc.Options{
		BatchSize:  10,
		PullWait:   20 * time.Millisecond,
		SessionTTL: time.Hour,
	})

	router := NewRouter(log, userSvc, sessionSvc, registry, nil, nil, nil)
	t.Cleanup(router.Close)
	return router, store, registry
}

func createUser(t *testing.T, router *Router) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/user/create", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode user response: %v", err)
	}
	if payload["user_id"] == "" {
		t.Fatal("user_id missing from response")
	}
	return payload["user_id"]
}

func createSession(t *testing.T, router *Router, userID string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/session/create", nil)
	req.Header.Set("User-Id", userID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return payload["session_id"]
}

const uploadBody = `[
	{"message":"a","timestamp":"2025-11-22T08:41:14.509427+00:00","level":"INFO"},
	{"message":"b","timestamp":"2025-11-22T08:41:15.509427+00:00","level":"ERROR"}
]`

// ---- tests ----

func TestUserSessionLifecycle(t *testing.T) {
	router, store, _ := newTestRouter(t, newMemoryBroker())

	userID := createUser(t, router)
	sessionID := createSession(t, router, userID)

	stored, err := store.GetSessionByID(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if stored.SubjectName != "subject."+userID+"."+sessionID {
		t.Fatalf("unexpected subject name: %s", stored.SubjectName)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/list", nil)
	req.Header.Set("User-Id", userID)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var listed []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one session, got %d", len(listed))
	}

	req = httptest.NewRequest(http.MethodDelete, "/session/delete?session_id="+sessionID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d body %s", rec.Code, rec.Body.String())
	}
	if _, err := store.GetSessionByID(context.Background(), sessionID); err == nil {
		t.Fatal("session should be gone after delete")
	}
}

func TestUserCreateFailsWhenProvisioningFails(t *testing.T) {
	b := newMemoryBroker()
	b.streamErr = broker.ErrTimeout
	router, store, _ := newTestRouter(t, b)

	req := httptest.NewRequest(http.MethodPost, "/user/create", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if len(store.users) != 0 {
		t.Fatal("no user row may exist after provisioning failure")
	}
}

func TestUploadPublishesBatch(t *testing.T) {
	b := newMemoryBroker()
	router, store, _ := newTestRouter(t, b)
	userID := createUser(t, router)
	sessionID := createSession(t, router, userID)

	req := httptest.NewRequest(http.MethodPost, "/session/upload?session_id="+sessionID+"&tag=ci", strings.NewReader(uploadBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body.String())
	}

	stored, err := store.GetSessionByID(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.LogLineCount != 2 {
		t.Fatalf("expected counter 2, got %d", stored.LogLineCount)
	}
	if got := len(b.published[stored.SubjectName]); got != 2 {
		t.Fatalf("expected 2 broker messages, got %d", got)
	}
	if stored.Tag != "ci" {
		t.Fatalf("expected tag from upload, got %q", stored.Tag)
	}
}

func TestUploadRejectsBadTimestamp(t *testing.T) {
	router, _, _ := newTestRouter(t, newMemoryBroker())
	userID := createUser(t, router)
	sessionID := createSession(t, router, userID)

	body := `[{"message":"a","timestamp":"2025-11-22 08:41:14","level":"INFO"}]`
	req := httptest.NewRequest(http.MethodPost, "/session/upload?session_id="+sessionID, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUploadUnknownSessionIs404(t *testing.T) {
	router, _, _ := newTestRouter(t, newMemoryBroker())
	req := httptest.NewRequest(http.MethodPost, "/session/upload?session_id=ghost", strings.NewReader(uploadBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConsumeSSEDeliversBatchAndHeartbeat(t *testing.T) {
	router, _, _ := newTestRouter(t, newMemoryBroker())
	userID := createUser(t, router)
	sessionID := createSession(t, router, userID)

	upload := httptest.NewRequest(http.MethodPost, "/session/upload?session_id="+sessionID, strings.NewReader(uploadBody))
	uploadRec := httptest.NewRecorder()
	router.ServeHTTP(uploadRec, upload)
	if uploadRec.Code != http.StatusOK {
		t.Fatalf("upload: status %d", uploadRec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/session/consume?session_id="+sessionID, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Fatalf("expected a data event, got %q", body)
	}
	if !strings.Contains(body, `"message":"a"`) || !strings.Contains(body, `"message":"b"`) {
		t.Fatalf("both entries must be delivered even below batch size, got %q", body)
	}
	if !strings.Contains(body, ": ping") {
		t.Fatalf("expected keep-alive comments on idle, got %q", body)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConsumeWebSocketDeliversBatchAndReleasesOnDisconnect(t *testing.T) {
	router, _, registry := newTestRouter(t, newMemoryBroker())
	userID := createUser(t, router)
	sessionID := createSession(t, router, userID)

	upload := httptest.NewRequest(http.MethodPost, "/session/upload?session_id="+sessionID, strings.NewReader(uploadBody))
	uploadRec := httptest.NewRecorder()
	router.ServeHTTP(uploadRec, upload)
	if uploadRec.Code != http.StatusOK {
		t.Fatalf("upload: status %d", uploadRec.Code)
	}

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/consume?session_id=" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read batch frame: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("expected text frame, got type %d", msgType)
	}
	body := string(payload)
	if !strings.Contains(body, `"message":"a"`) || !strings.Contains(body, `"message":"b"`) {
		t.Fatalf("both entries must be delivered, got %q", body)
	}
	if registry.Count(sessionID) != 1 {
		t.Fatalf("expected one live consumer, got %d", registry.Count(sessionID))
	}

	// closing the peer must end the consume loop and free its slot
	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return registry.Count(sessionID) == 0 })
}

func TestConsumeUnknownSessionIs404(t *testing.T) {
	router, _, _ := newTestRouter(t, newMemoryBroker())
	req := httptest.NewRequest(http.MethodGet, "/session/consume?session_id=ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t, newMemoryBroker())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected status: %v", payload["status"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router, _, _ := newTestRouter(t, newMemoryBroker())
	req := httptest.NewRequest(http.MethodGet, "/user/create", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
