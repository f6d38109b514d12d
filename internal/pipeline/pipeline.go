// Package pipeline runs the ordered filter chain over every inbound
// message: classification filters, dedup, entitlement, persistence,
// reply generation, and fan-out.
package pipeline

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Marraneitor/BOTLY/internal/ai"
	"github.com/Marraneitor/BOTLY/internal/dedup"
	"github.com/Marraneitor/BOTLY/internal/entitlement"
	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/registry"
	"github.com/Marraneitor/BOTLY/internal/schedule"
	"github.com/Marraneitor/BOTLY/internal/store"
	"github.com/Marraneitor/BOTLY/internal/transport"
)

// Messages that are nothing but a link get no reply.
var urlOnly = regexp.MustCompile(`(?i)^https?://\S+$`)

// TenantReader loads tenant bot configuration. Satisfied by
// store.TenantStore.
type TenantReader interface {
	Get(ctx context.Context, tenantID string) (*store.Tenant, error)
}

// MessageAppender persists chat log records. Satisfied by
// store.MessageStore.
type MessageAppender interface {
	Append(ctx context.Context, tenantID string, m store.StoredMessage) error
}

type Pipeline struct {
	dedup     *dedup.Cache
	gate      *entitlement.Gate
	tenants   TenantReader
	messages  MessageAppender
	responder ai.Responder
	hub       *notify.Hub
	clock     func() time.Time
}

func New(
	dd *dedup.Cache,
	gate *entitlement.Gate,
	tenants TenantReader,
	messages MessageAppender,
	responder ai.Responder,
	hub *notify.Hub,
	clock func() time.Time,
) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		dedup:     dd,
		gate:      gate,
		tenants:   tenants,
		messages:  messages,
		responder: responder,
		hub:       hub,
		clock:     clock,
	}
}

// Handle processes one inbound message end to end. Filters run in a fixed
// order and short-circuit without side effects; once the dedup gate
// passes, everything downstream happens at most once per message id.
func (p *Pipeline) Handle(ctx context.Context, sess *registry.Session, msg transport.Inbound) {
	if !msg.IsText {
		return
	}
	if msg.FromMe {
		return
	}
	if msg.IsGroup || msg.IsBroadcast {
		return
	}
	if p.dedup.Seen(msg.ID) {
		log.Debug().Str("tenantId", sess.TenantID).Str("msgId", msg.ID).Msg("Duplicate message suppressed")
		return
	}
	if urlOnly.MatchString(strings.TrimSpace(msg.Text)) {
		return
	}

	tenantID := sess.TenantID
	senderName := msg.SenderName
	if senderName == "" {
		senderName = msg.SenderID
	}

	if active, reason := p.gate.Check(ctx, tenantID); !active {
		log.Info().Str("tenantId", tenantID).Str("reason", reason).Msg("Subscription inactive, ignoring message")
		// Still recorded for audit, but no reply and no stats.
		p.persist(ctx, tenantID, store.StoredMessage{
			ID:         msg.ID,
			Direction:  store.DirectionIncoming,
			Body:       msg.Text,
			From:       msg.SenderID,
			SenderName: senderName,
			Timestamp:  p.clock(),
		})
		p.hub.Publish(ctx, notify.Event{
			TenantID: tenantID,
			Name:     notify.EventSubscriptionExpired,
			Data:     map[string]any{"reason": reason},
		})
		return
	}

	log.Info().Str("tenantId", tenantID).Str("sender", senderName).Str("text", truncate(msg.Text, 80)).Msg("Message received")

	stats := sess.RecordInbound(msg.SenderID)
	p.hub.Publish(ctx, notify.Event{
		TenantID: tenantID,
		Name:     notify.EventStats,
		Data:     map[string]any{"messagesToday": stats.MessagesToday, "contactsCount": stats.ContactsCount},
	})

	incoming := store.StoredMessage{
		ID:         msg.ID,
		Direction:  store.DirectionIncoming,
		Body:       msg.Text,
		From:       msg.SenderID,
		SenderName: senderName,
		Timestamp:  p.clock(),
	}
	p.persist(ctx, tenantID, incoming)
	p.publishMessage(ctx, tenantID, incoming)

	tenant, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to load tenant config")
		tenant = &store.Tenant{ID: tenantID}
	}

	now := p.clock()
	hours, err := schedule.Evaluate(tenant.Schedule, now)
	if err != nil {
		log.Warn().Err(err).Str("tenantId", tenantID).Msg("Schedule not evaluable, treating as unconfigured")
		hours = schedule.Status{IsOpen: true, StatusMessage: "Horario no configurado"}
	}

	reply := p.responder.Reply(ctx, ai.Request{
		Tenant:     tenant,
		ChatID:     msg.ChatID,
		SenderName: senderName,
		Message:    msg.Text,
		Now:        now,
		Hours:      hours,
	})

	conn := sess.Conn()
	if conn == nil {
		log.Error().Str("tenantId", tenantID).Msg("No live connection for reply")
		return
	}
	// A failed send is abandoned: no retry, no outgoing record.
	if _, err := conn.Send(ctx, msg.ChatID, reply); err != nil {
		log.Error().Err(err).Str("tenantId", tenantID).Str("chatId", msg.ChatID).Msg("Reply send failed")
		return
	}

	outgoing := store.StoredMessage{
		ID:         msg.ID + "_reply",
		Direction:  store.DirectionOutgoing,
		Body:       reply,
		From:       msg.SenderID,
		SenderName: senderName,
		Timestamp:  p.clock(),
	}
	p.persist(ctx, tenantID, outgoing)
	p.publishMessage(ctx, tenantID, outgoing)
}

// persist logs and swallows append failures: messaging availability wins
// over audit-log completeness.
func (p *Pipeline) persist(ctx context.Context, tenantID string, m store.StoredMessage) {
	if err := p.messages.Append(ctx, tenantID, m); err != nil {
		log.Error().Err(err).Str("tenantId", tenantID).Str("msgId", m.ID).Msg("Failed to persist message")
	}
}

func (p *Pipeline) publishMessage(ctx context.Context, tenantID string, m store.StoredMessage) {
	p.hub.Publish(ctx, notify.Event{
		TenantID: tenantID,
		Name:     notify.EventNewMessage,
		Data: map[string]any{
			"id":         m.ID,
			"from":       m.From,
			"senderName": m.SenderName,
			"body":       m.Body,
			"direction":  m.Direction,
			"timestamp":  m.Timestamp.Format(time.RFC3339),
		},
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
