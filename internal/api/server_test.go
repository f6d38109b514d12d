package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/registry"
	"github.com/Marraneitor/BOTLY/internal/session"
	"github.com/Marraneitor/BOTLY/internal/store"
)

type fakeBots struct {
	status    registry.Status
	challenge string
	stats     registry.Stats
	startErr  error
	sendErr   error
	stopped   []string
	sent      []string
}

func (f *fakeBots) Start(ctx context.Context, tenantID string) (registry.Status, error) {
	if f.startErr != nil {
		return registry.StatusOff, f.startErr
	}
	return registry.StatusStarting, nil
}

func (f *fakeBots) Stop(tenantID string) { f.stopped = append(f.stopped, tenantID) }

func (f *fakeBots) Reset(ctx context.Context, tenantID string) (registry.Status, error) {
	return f.Start(ctx, tenantID)
}

func (f *fakeBots) Send(ctx context.Context, tenantID, chatID, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, chatID+": "+text)
	return "wire-id", nil
}

func (f *fakeBots) Snapshot(tenantID string) (registry.Status, string, registry.Stats) {
	return f.status, f.challenge, f.stats
}

type fakeTenantDir struct {
	tenants map[string]*store.Tenant
	saved   map[string]*store.Subscription
}

func newFakeTenantDir(tenants ...*store.Tenant) *fakeTenantDir {
	d := &fakeTenantDir{
		tenants: make(map[string]*store.Tenant),
		saved:   make(map[string]*store.Subscription),
	}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

func (d *fakeTenantDir) GetByToken(_ context.Context, token string) (*store.Tenant, error) {
	for _, t := range d.tenants {
		if t.Token == token {
			return t, nil
		}
	}
	return nil, store.ErrTenantNotFound
}

func (d *fakeTenantDir) Get(_ context.Context, tenantID string) (*store.Tenant, error) {
	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, store.ErrTenantNotFound
	}
	return t, nil
}

func (d *fakeTenantDir) Upsert(_ context.Context, t *store.Tenant) error {
	d.tenants[t.ID] = t
	return nil
}

func (d *fakeTenantDir) SaveSubscription(_ context.Context, tenantID string, sub *store.Subscription) error {
	d.saved[tenantID] = sub
	return nil
}

type fakeMessageLog struct {
	msgs     []store.StoredMessage
	appended []store.StoredMessage
	cleared  bool
}

func (l *fakeMessageLog) Append(_ context.Context, _ string, m store.StoredMessage) error {
	l.appended = append(l.appended, m)
	return nil
}

func (l *fakeMessageLog) List(_ context.Context, _ string, _ int) ([]store.StoredMessage, error) {
	return l.msgs, nil
}

func (l *fakeMessageLog) ListByContact(_ context.Context, _ string, contact string) ([]store.StoredMessage, error) {
	var out []store.StoredMessage
	for _, m := range l.msgs {
		if m.From == contact {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *fakeMessageLog) Clear(_ context.Context, _ string) error {
	l.cleared = true
	return nil
}

type fakeMemory struct {
	cleared []string
}

func (m *fakeMemory) ClearTenant(tenantID string) { m.cleared = append(m.cleared, tenantID) }

type fixture struct {
	server  *Server
	bots    *fakeBots
	tenants *fakeTenantDir
	log     *fakeMessageLog
	memory  *fakeMemory
	hub     *notify.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bots := &fakeBots{status: registry.StatusOff}
	tenants := newFakeTenantDir(&store.Tenant{ID: "t1", Token: "tok-1", BusinessName: "Taquería El Sol"})
	msgLog := &fakeMessageLog{}
	memory := &fakeMemory{}
	hub := notify.NewHub()
	return &fixture{
		server:  NewServer(bots, tenants, msgLog, hub, memory, "admin-secret"),
		bots:    bots,
		tenants: tenants,
		log:     msgLog,
		memory:  memory,
		hub:     hub,
	}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("token", token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestTenantAuthRequired(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodGet, "/api/bot/status", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d, want 401", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/bot/status", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d, want 401", rec.Code)
	}
}

func TestBotStatus(t *testing.T) {
	f := newFixture(t)
	f.bots.status = registry.StatusAwaitingScan
	f.bots.challenge = "data:image/png;base64,xxx"
	f.bots.stats = registry.Stats{MessagesToday: 3, ContactsCount: 2}

	rec := f.do(http.MethodGet, "/api/bot/status", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != string(registry.StatusAwaitingScan) {
		t.Errorf("status = %v", body["status"])
	}
	if body["qrPending"] != true {
		t.Errorf("qrPending = %v, want true", body["qrPending"])
	}
}

func TestBotQR(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/bot/qr", "tok-1", nil)
	if body := decode(t, rec); body["qr"] != nil {
		t.Errorf("qr = %v, want null when no challenge pending", body["qr"])
	}

	f.bots.challenge = "data:image/png;base64,abc"
	rec = f.do(http.MethodGet, "/api/bot/qr", "tok-1", nil)
	if body := decode(t, rec); body["qr"] != f.bots.challenge {
		t.Errorf("qr = %v, want the pending challenge", body["qr"])
	}
}

func TestBotStartRejectedWithoutEntitlement(t *testing.T) {
	f := newFixture(t)
	f.bots.startErr = &session.EntitlementError{Reason: "expired"}

	rec := f.do(http.MethodPost, "/api/bot/start", "tok-1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rec.Code)
	}
	if body := decode(t, rec); body["reason"] != "expired" {
		t.Errorf("reason = %v, want expired", body["reason"])
	}
}

func TestBotStartAndStop(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/bot/start", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: got %d, want 200", rec.Code)
	}
	if body := decode(t, rec); body["status"] != string(registry.StatusStarting) {
		t.Errorf("status = %v, want starting", body["status"])
	}

	rec = f.do(http.MethodPost, "/api/bot/stop", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: got %d, want 200", rec.Code)
	}
	if len(f.bots.stopped) != 1 || f.bots.stopped[0] != "t1" {
		t.Errorf("stopped = %v, want [t1]", f.bots.stopped)
	}
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/messages/send", "tok-1", map[string]string{"phone": "5215512345678"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing message: got %d, want 400", rec.Code)
	}

	f.bots.sendErr = errors.New("not connected")
	rec = f.do(http.MethodPost, "/api/messages/send", "tok-1", map[string]string{
		"phone": "5215512345678", "message": "Hola",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("disconnected: got %d, want 409", rec.Code)
	}
	if len(f.log.appended) != 0 {
		t.Fatalf("failed send must not be persisted, got %d records", len(f.log.appended))
	}

	f.bots.sendErr = nil
	rec = f.do(http.MethodPost, "/api/messages/send", "tok-1", map[string]string{
		"phone": "5215512345678", "message": "Hola",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(f.log.appended) != 1 {
		t.Fatalf("appended %d records, want 1", len(f.log.appended))
	}
	got := f.log.appended[0]
	if got.Direction != store.DirectionOutgoing || got.SenderName != "Tú (manual)" {
		t.Errorf("record = %+v", got)
	}
	if !strings.HasPrefix(got.ID, "manual_") {
		t.Errorf("id = %q, want manual_ prefix", got.ID)
	}
}

func TestConversations(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	f.log.msgs = []store.StoredMessage{
		{ID: "a1", Direction: store.DirectionIncoming, From: "111", SenderName: "Ana", Body: "Hola", Timestamp: base},
		{ID: "a2", Direction: store.DirectionOutgoing, From: "111", Body: "¡Hola!", Timestamp: base.Add(time.Minute)},
		{ID: "b1", Direction: store.DirectionIncoming, From: "222", SenderName: "Beto", Body: "¿Menú?", Timestamp: base.Add(2 * time.Minute)},
	}

	rec := f.do(http.MethodGet, "/api/conversations", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var body struct {
		Conversations []conversation `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Conversations) != 2 {
		t.Fatalf("got %d conversations, want 2", len(body.Conversations))
	}
	if body.Conversations[0].Phone != "222" {
		t.Errorf("first = %q, want most recent contact 222", body.Conversations[0].Phone)
	}
	second := body.Conversations[1]
	if second.Phone != "111" || second.SenderName != "Ana" || second.Count != 2 {
		t.Errorf("second = %+v", second)
	}
	if second.LastMessage != "¡Hola!" {
		t.Errorf("lastMessage = %q, want the outgoing reply", second.LastMessage)
	}
}

func TestClearMessages(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodDelete, "/api/messages", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if !f.log.cleared {
		t.Error("log was not cleared")
	}
	if len(f.memory.cleared) != 1 || f.memory.cleared[0] != "t1" {
		t.Errorf("AI history cleared for %v, want [t1]", f.memory.cleared)
	}
}

func TestClearMessagesWithoutMemory(t *testing.T) {
	f := newFixture(t)
	f.server = NewServer(f.bots, f.tenants, f.log, f.hub, nil, "")
	rec := f.do(http.MethodDelete, "/api/messages", "tok-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/admin/tenants/t1/kill-bot", "tok-1", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tenant token on admin route: got %d, want 401", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/admin/tenants/t1/kill-bot", "admin-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if len(f.bots.stopped) != 1 {
		t.Errorf("stopped = %v, want one entry", f.bots.stopped)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	f := newFixture(t)
	f.server = NewServer(f.bots, f.tenants, f.log, f.hub, f.memory, "")

	rec := f.do(http.MethodPost, "/api/admin/tenants/t1/kill-bot", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401 when admin token unset", rec.Code)
	}
}

func TestSaveSubscriptionPublishesUpdate(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.hub.Subscribe("t1")
	defer cancel()

	expires := time.Now().Add(30 * 24 * time.Hour)
	rec := f.do(http.MethodPut, "/api/admin/tenants/t1/subscription", "admin-secret", store.Subscription{
		Active: true, PlanID: "pro", ExpiresAt: &expires,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	saved := f.tenants.saved["t1"]
	if saved == nil || !saved.Active || saved.PlanID != "pro" {
		t.Fatalf("saved = %+v", saved)
	}

	select {
	case ev := <-events:
		if ev.Name != notify.EventSubscriptionUpdated {
			t.Errorf("event = %q, want %q", ev.Name, notify.EventSubscriptionUpdated)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription_updated event published")
	}
}

func TestSaveSubscriptionUnknownTenant(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPut, "/api/admin/tenants/ghost/subscription", "admin-secret", store.Subscription{Active: true})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestUpsertTenant(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/admin/tenants", "admin-secret", map[string]any{
		"id": "t2", "token": "tok-2", "businessName": "Florería Rosa",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body.String())
	}
	created := f.tenants.tenants["t2"]
	if created == nil || created.Token != "tok-2" || created.BusinessName != "Florería Rosa" {
		t.Fatalf("created = %+v", created)
	}

	rec = f.do(http.MethodGet, "/api/bot/status", "tok-2", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("new tenant token rejected: %d", rec.Code)
	}
}

func TestRevokeSubscription(t *testing.T) {
	f := newFixture(t)
	f.tenants.tenants["t1"].Subscription = &store.Subscription{Active: true, PlanID: "pro"}

	rec := f.do(http.MethodDelete, "/api/admin/tenants/t1/subscription", "admin-secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	saved := f.tenants.saved["t1"]
	if saved == nil || saved.Active {
		t.Fatalf("saved = %+v, want deactivated", saved)
	}
	if saved.ExpiresAt == nil {
		t.Error("ExpiresAt not backdated on revoke")
	}
}
