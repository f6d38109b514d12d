// Package entitlement decides whether a tenant's subscription or trial
// currently allows the bot to run.
package entitlement

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Rejection reasons reported to the tenant's notification channel.
const (
	ReasonNoSubscription = "no_subscription"
	ReasonExpired        = "expired"
	ReasonTrialExpired   = "trial_expired"
)

// Entitlement is a tenant's subscription state as persisted by the billing
// layer. A nil ExpiresAt means no subscription was ever granted.
type Entitlement struct {
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expiresAt"`
	IsTrial   bool       `json:"isTrial"`
}

// Reader loads a tenant's entitlement. Implemented by the tenant store.
type Reader interface {
	ReadEntitlement(ctx context.Context, tenantID string) (Entitlement, error)
}

// Gate evaluates entitlements against an injected free-pass allowlist. It is
// consulted before every session start and for every inbound message, so an
// expiry takes effect while a connection is already open.
type Gate struct {
	store    Reader
	freePass map[string]bool
	clock    func() time.Time
}

// NewGate builds a gate. A nil clock means time.Now.
func NewGate(store Reader, freePass map[string]bool, clock func() time.Time) *Gate {
	if clock == nil {
		clock = time.Now
	}
	return &Gate{store: store, freePass: freePass, clock: clock}
}

// Check reports whether the tenant may operate right now and, when not, the
// rejection reason. A read failure counts as no subscription: messaging for
// an unverifiable tenant is withheld, never granted by accident.
func (g *Gate) Check(ctx context.Context, tenantID string) (bool, string) {
	if g.freePass[tenantID] {
		return true, ""
	}

	ent, err := g.store.ReadEntitlement(ctx, tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenantID", tenantID).Msg("Entitlement read failed")
		return false, ReasonNoSubscription
	}

	if ent.ExpiresAt == nil {
		return false, ReasonNoSubscription
	}
	if !ent.ExpiresAt.After(g.clock()) {
		if ent.IsTrial {
			return false, ReasonTrialExpired
		}
		return false, ReasonExpired
	}
	return true, ""
}

// IsActive is Check without the reason.
func (g *Gate) IsActive(ctx context.Context, tenantID string) bool {
	ok, _ := g.Check(ctx, tenantID)
	return ok
}
