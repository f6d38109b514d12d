package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeReader struct {
	ent Entitlement
	err error
}

func (f *fakeReader) ReadEntitlement(ctx context.Context, tenantID string) (Entitlement, error) {
	return f.ent, f.err
}

var baseTime = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return baseTime }

func ptr(t time.Time) *time.Time { return &t }

func TestCheck(t *testing.T) {
	cases := []struct {
		name   string
		ent    Entitlement
		err    error
		ok     bool
		reason string
	}{
		{
			name: "active subscription",
			ent:  Entitlement{Active: true, ExpiresAt: ptr(baseTime.Add(time.Hour))},
			ok:   true,
		},
		{
			name:   "expired subscription",
			ent:    Entitlement{ExpiresAt: ptr(baseTime.Add(-time.Hour))},
			ok:     false,
			reason: ReasonExpired,
		},
		{
			name:   "expired trial",
			ent:    Entitlement{ExpiresAt: ptr(baseTime.Add(-time.Minute)), IsTrial: true},
			ok:     false,
			reason: ReasonTrialExpired,
		},
		{
			name:   "expiry exactly now",
			ent:    Entitlement{ExpiresAt: ptr(baseTime)},
			ok:     false,
			reason: ReasonExpired,
		},
		{
			name:   "never subscribed",
			ent:    Entitlement{},
			ok:     false,
			reason: ReasonNoSubscription,
		},
		{
			name:   "store failure withholds access",
			err:    errors.New("db down"),
			ok:     false,
			reason: ReasonNoSubscription,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			g := NewGate(&fakeReader{ent: c.ent, err: c.err}, nil, fixedClock)
			ok, reason := g.Check(context.Background(), "t1")
			if ok != c.ok || reason != c.reason {
				t.Errorf("Check = (%v, %q), want (%v, %q)", ok, reason, c.ok, c.reason)
			}
		})
	}
}

func TestFreePassBypassesStore(t *testing.T) {
	g := NewGate(&fakeReader{err: errors.New("unreachable")}, map[string]bool{"owner": true}, fixedClock)

	if !g.IsActive(context.Background(), "owner") {
		t.Error("free-pass tenant must always be active")
	}
	if g.IsActive(context.Background(), "other") {
		t.Error("non-listed tenant must not bypass the store")
	}
}

func TestCheckReflectsCurrentEntitlement(t *testing.T) {
	r := &fakeReader{ent: Entitlement{ExpiresAt: ptr(baseTime.Add(time.Hour))}}
	g := NewGate(r, nil, fixedClock)

	if !g.IsActive(context.Background(), "t1") {
		t.Fatal("should start active")
	}

	// Entitlement expires behind the gate's back; the next check must see it.
	r.ent = Entitlement{ExpiresAt: ptr(baseTime.Add(-time.Second))}
	if g.IsActive(context.Background(), "t1") {
		t.Error("gate must re-read entitlement on every check")
	}
}
