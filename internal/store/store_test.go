package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open("sqlite", "file:"+filepath.Join(t.TempDir(), "test.db")+"?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTenantRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := NewTenantStore(openTestDB(t), 30*time.Second)

	expires := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	in := &Tenant{
		ID:           "t1",
		Token:        "secret-token",
		Name:         "Yoel",
		Email:        "yoel@example.com",
		BusinessName: "Taquería El Sol",
		Menu:         "Tacos al pastor $20",
		Subscription: &Subscription{Active: true, PlanID: "monthly", ExpiresAt: &expires},
		CreatedAt:    time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := ts.Upsert(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, err := ts.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BusinessName != in.BusinessName || got.Menu != in.Menu {
		t.Errorf("loaded tenant differs: %+v", got)
	}
	if got.Subscription == nil || !got.Subscription.ExpiresAt.Equal(expires) {
		t.Errorf("subscription not preserved: %+v", got.Subscription)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, in.CreatedAt)
	}

	byToken, err := ts.GetByToken(ctx, "secret-token")
	if err != nil {
		t.Fatal(err)
	}
	if byToken.ID != "t1" {
		t.Errorf("token lookup returned %s", byToken.ID)
	}
}

func TestTenantNotFound(t *testing.T) {
	ctx := context.Background()
	ts := NewTenantStore(openTestDB(t), 30*time.Second)

	if _, err := ts.Get(ctx, "missing"); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("Get = %v, want ErrTenantNotFound", err)
	}
	if _, err := ts.GetByToken(ctx, "missing"); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("GetByToken = %v, want ErrTenantNotFound", err)
	}
}

func TestSaveSubscriptionInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	ts := NewTenantStore(openTestDB(t), time.Hour)

	if err := ts.Upsert(ctx, &Tenant{ID: "t1", Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	// Prime the cache with the subscription-less record.
	if _, err := ts.Get(ctx, "t1"); err != nil {
		t.Fatal(err)
	}

	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	if err := ts.SaveSubscription(ctx, "t1", &Subscription{Active: true, ExpiresAt: &expires}); err != nil {
		t.Fatal(err)
	}

	got, err := ts.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Subscription == nil || !got.Subscription.ExpiresAt.Equal(expires) {
		t.Error("subscription write must be visible on the next read")
	}

	if err := ts.SaveSubscription(ctx, "missing", &Subscription{}); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("SaveSubscription for unknown tenant = %v, want ErrTenantNotFound", err)
	}
}

func TestReadEntitlement(t *testing.T) {
	ctx := context.Background()
	ts := NewTenantStore(openTestDB(t), 30*time.Second)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := ts.Upsert(ctx, &Tenant{
		ID: "t1", Token: "tok",
		Subscription: &Subscription{Active: true, ExpiresAt: &expires, IsTrial: true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Upsert(ctx, &Tenant{ID: "t2", Token: "tok2"}); err != nil {
		t.Fatal(err)
	}

	ent, err := ts.ReadEntitlement(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if ent.ExpiresAt == nil || !ent.ExpiresAt.Equal(expires) || !ent.IsTrial {
		t.Errorf("entitlement = %+v", ent)
	}

	ent, err = ts.ReadEntitlement(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if ent.ExpiresAt != nil {
		t.Error("tenant without subscription must yield a nil expiry")
	}
}

func TestMessageLog(t *testing.T) {
	ctx := context.Background()
	ms := NewMessageStore(openTestDB(t))

	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	msgs := []StoredMessage{
		{ID: "m1", Direction: DirectionIncoming, Body: "Hola", From: "5211111", SenderName: "Ana", Timestamp: base},
		{ID: "m1_reply", Direction: DirectionOutgoing, Body: "¡Hola!", From: "5211111", SenderName: "Ana", Timestamp: base.Add(time.Second)},
		{ID: "m2", Direction: DirectionIncoming, Body: "Menú", From: "5222222", SenderName: "Beto", Timestamp: base.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		if err := ms.Append(ctx, "t1", m); err != nil {
			t.Fatal(err)
		}
	}
	// Same id under another tenant must not collide.
	if err := ms.Append(ctx, "t2", msgs[0]); err != nil {
		t.Fatal(err)
	}

	got, err := ms.List(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("List returned %d messages, want 3", len(got))
	}
	if got[0].ID != "m1" || got[2].ID != "m2" {
		t.Errorf("messages out of order: %v, %v", got[0].ID, got[2].ID)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, base)
	}

	byContact, err := ms.ListByContact(ctx, "t1", "5211111")
	if err != nil {
		t.Fatal(err)
	}
	if len(byContact) != 2 {
		t.Errorf("ListByContact returned %d, want 2", len(byContact))
	}

	if err := ms.Clear(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	got, err = ms.List(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("%d messages left after Clear", len(got))
	}

	other, err := ms.List(ctx, "t2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Error("Clear must not touch other tenants' logs")
	}
}

func TestDuplicateAppendRejected(t *testing.T) {
	ctx := context.Background()
	ms := NewMessageStore(openTestDB(t))

	m := StoredMessage{ID: "m1", Direction: DirectionIncoming, Body: "x", From: "1", Timestamp: time.Now()}
	if err := ms.Append(ctx, "t1", m); err != nil {
		t.Fatal(err)
	}
	if err := ms.Append(ctx, "t1", m); err == nil {
		t.Error("second append of the same id must fail")
	}
}
