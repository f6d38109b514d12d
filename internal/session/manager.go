// Package session owns the per-tenant connection lifecycle: start,
// pairing, connect, reconnect with a bounded retry budget, and teardown.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"

	"github.com/Marraneitor/BOTLY/internal/authstore"
	"github.com/Marraneitor/BOTLY/internal/entitlement"
	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/registry"
	"github.com/Marraneitor/BOTLY/internal/transport"
)

// ReasonManualStop is the disconnect reason for an operator-requested stop.
const ReasonManualStop = "manual_stop"

// EntitlementError rejects a start request before any connection is opened.
type EntitlementError struct {
	Reason string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("tenant not entitled: %s", e.Reason)
}

// MessageHandler consumes inbound messages from a tenant's live connection.
type MessageHandler func(ctx context.Context, sess *registry.Session, msg transport.Inbound)

// Manager drives every tenant's session state machine. One instance
// serves all tenants; per-session state lives in the registry.
type Manager struct {
	registry *registry.Registry
	dialer   transport.Dialer
	auth     *authstore.Store
	gate     *entitlement.Gate
	hub      *notify.Hub
	onMsg    MessageHandler

	retryLimit   int
	retryBackoff time.Duration
}

func NewManager(
	reg *registry.Registry,
	dialer transport.Dialer,
	auth *authstore.Store,
	gate *entitlement.Gate,
	hub *notify.Hub,
	onMsg MessageHandler,
	retryLimit int,
	retryBackoff time.Duration,
) *Manager {
	return &Manager{
		registry:     reg,
		dialer:       dialer,
		auth:         auth,
		gate:         gate,
		hub:          hub,
		onMsg:        onMsg,
		retryLimit:   retryLimit,
		retryBackoff: retryBackoff,
	}
}

// Start brings up the tenant's session. Idempotent: if a session already
// exists in starting, awaiting_scan, or connected, its current status is
// returned and nothing else happens. The connection itself is established
// in the background; pairing codes and the ready signal arrive through
// the notification hub.
func (m *Manager) Start(ctx context.Context, tenantID string) (registry.Status, error) {
	if ok, reason := m.gate.Check(ctx, tenantID); !ok {
		return registry.StatusOff, &EntitlementError{Reason: reason}
	}

	sess := registry.NewSession(tenantID)
	current, inserted := m.registry.RegisterIfAbsent(sess)
	if !inserted {
		log.Debug().Str("tenantId", tenantID).Str("status", string(current.Status())).Msg("Bot already running")
		return current.Status(), nil
	}

	log.Info().Str("tenantId", tenantID).Msg("Starting bot")
	go m.connect(sess)
	return registry.StatusStarting, nil
}

// connect dials and wires one connection attempt for the session. Runs on
// its own goroutine; outlives the Start call that spawned it.
func (m *Manager) connect(sess *registry.Session) {
	ctx := context.Background()

	conn, err := m.dialer.Open(ctx, sess.TenantID)
	if err != nil {
		log.Error().Err(err).Str("tenantId", sess.TenantID).Msg("Failed to open connection")
		m.onDisconnected(sess, transport.CauseConnectionLost)
		return
	}

	detach := conn.Bind(transport.Handlers{
		OnChallenge:    func(code string) { m.onChallenge(sess, code) },
		OnConnected:    func() { m.onConnected(sess) },
		OnDisconnected: func(cause transport.DisconnectCause) { m.onDisconnected(sess, cause) },
		OnMessage: func(msg transport.Inbound) {
			if m.onMsg != nil {
				m.onMsg(ctx, sess, msg)
			}
		},
	})
	sess.BindConnection(conn, detach)

	// A Stop may have landed while the dial was in flight. Once the
	// connection is bound a racing Stop closes it itself; if the session
	// already lost its registry slot, nobody else owns this connection,
	// so dispose of it here before it ever connects.
	if current, ok := m.registry.Get(sess.TenantID); !ok || current != sess {
		if old := sess.Detach(); old != nil {
			old.Close()
		}
		return
	}

	if err := conn.Connect(ctx); err != nil {
		log.Error().Err(err).Str("tenantId", sess.TenantID).Msg("Connect failed")
		m.onDisconnected(sess, transport.CauseConnectionLost)
	}
}

func (m *Manager) onChallenge(sess *registry.Session, code string) {
	png, err := qrcode.Encode(code, qrcode.Medium, 400)
	if err != nil {
		log.Error().Err(err).Str("tenantId", sess.TenantID).Msg("QR encoding failed")
		return
	}
	image := dataurl.New(png, "image/png").String()
	sess.SetChallenge(image)
	log.Info().Str("tenantId", sess.TenantID).Int("bytes", len(image)).Msg("QR generated")
	m.hub.Publish(context.Background(), notify.Event{
		TenantID: sess.TenantID,
		Name:     notify.EventQR,
		Data:     map[string]any{"qr": image},
	})
}

func (m *Manager) onConnected(sess *registry.Session) {
	sess.MarkConnected()
	log.Info().Str("tenantId", sess.TenantID).Msg("Bot connected")
	m.hub.Publish(context.Background(), notify.Event{
		TenantID: sess.TenantID,
		Name:     notify.EventReady,
	})
}

// onDisconnected decides between a silent reconnect and final teardown.
// Events from a session that already lost its registry slot are ignored.
func (m *Manager) onDisconnected(sess *registry.Session, cause transport.DisconnectCause) {
	if current, ok := m.registry.Get(sess.TenantID); !ok || current != sess {
		return
	}

	if !cause.Terminal() && sess.RetryCount() < m.retryLimit {
		attempt := sess.IncrementRetry()
		sess.MarkStarting()
		if old := sess.Detach(); old != nil {
			old.Close()
		}
		log.Warn().Str("tenantId", sess.TenantID).Int("attempt", attempt).Msg("Connection lost, scheduling reconnect")
		time.AfterFunc(m.retryBackoff, func() {
			if current, ok := m.registry.Get(sess.TenantID); !ok || current != sess {
				return
			}
			m.connect(sess)
		})
		return
	}

	log.Warn().
		Str("tenantId", sess.TenantID).
		Str("cause", string(cause)).
		Int("retries", sess.RetryCount()).
		Msg("Bot disconnected")
	m.teardown(sess, cause)
}

// teardown finishes the session for good: detach, close, wipe credentials,
// and report the reason. Reached only on a terminal logout or an exhausted
// retry budget; either way the stored credentials are suspect, so the next
// Start pairs from scratch.
func (m *Manager) teardown(sess *registry.Session, cause transport.DisconnectCause) {
	if old := sess.Detach(); old != nil {
		old.Close()
	}
	if err := m.auth.Wipe(sess.TenantID); err != nil {
		log.Error().Err(err).Str("tenantId", sess.TenantID).Msg("Failed to wipe auth material")
	}
	sess.MarkOff()
	m.registry.Remove(sess)
	m.hub.Publish(context.Background(), notify.Event{
		TenantID: sess.TenantID,
		Name:     notify.EventDisconnected,
		Data:     map[string]any{"reason": string(cause)},
	})
}

// Stop shuts the tenant's session down without invalidating stored
// credentials: the next Start reconnects without a new pairing scan.
// Detachment is absolute; events still in flight from the old connection
// no longer reach any handler.
func (m *Manager) Stop(tenantID string) {
	sess, ok := m.registry.Get(tenantID)
	if !ok {
		return
	}
	if conn := sess.Detach(); conn != nil {
		conn.Close()
	}
	sess.MarkOff()
	m.registry.Remove(sess)
	m.hub.Publish(context.Background(), notify.Event{
		TenantID: tenantID,
		Name:     notify.EventDisconnected,
		Data:     map[string]any{"reason": ReasonManualStop},
	})
	log.Info().Str("tenantId", tenantID).Msg("Bot stopped")
}

// Reset stops the session, wipes the stored credentials, and starts
// again, forcing a fresh pairing challenge.
func (m *Manager) Reset(ctx context.Context, tenantID string) (registry.Status, error) {
	m.Stop(tenantID)
	if err := m.auth.Wipe(tenantID); err != nil {
		log.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to wipe auth material")
	}
	return m.Start(ctx, tenantID)
}

// Send delivers a text message through the tenant's live connection.
func (m *Manager) Send(ctx context.Context, tenantID, chatID, text string) (string, error) {
	sess, ok := m.registry.Get(tenantID)
	if !ok || sess.Status() != registry.StatusConnected {
		return "", fmt.Errorf("bot for %s is not connected", tenantID)
	}
	conn := sess.Conn()
	if conn == nil {
		return "", fmt.Errorf("bot for %s is not connected", tenantID)
	}
	return conn.Send(ctx, chatID, text)
}

// Snapshot reports the tenant's current status, pending pairing payload,
// and runtime counters. Tenants with no session are off.
func (m *Manager) Snapshot(tenantID string) (registry.Status, string, registry.Stats) {
	sess, ok := m.registry.Get(tenantID)
	if !ok {
		return registry.StatusOff, "", registry.Stats{}
	}
	return sess.Status(), sess.Challenge(), sess.Stats()
}
