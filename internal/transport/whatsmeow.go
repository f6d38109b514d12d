package transport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	wm "go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// CredentialPaths resolves where a tenant's WhatsApp credential database
// lives. Satisfied by authstore.Store.
type CredentialPaths interface {
	DBPath(tenantID string) (string, error)
}

// WhatsmeowDialer opens real WhatsApp connections, one credential
// database per tenant. With EchoQRInTerminal set, pairing codes are also
// rendered on stdout for local development.
type WhatsmeowDialer struct {
	creds            CredentialPaths
	EchoQRInTerminal bool
}

func NewWhatsmeowDialer(creds CredentialPaths) *WhatsmeowDialer {
	return &WhatsmeowDialer{creds: creds}
}

func (d *WhatsmeowDialer) Open(ctx context.Context, tenantID string) (Connection, error) {
	dbPath, err := d.creds.DBPath(tenantID)
	if err != nil {
		return nil, err
	}

	wlog := newWALogger(log.With().Str("tenantId", tenantID).Logger())
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", wlog.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open credential store for %s: %w", tenantID, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		device = container.NewDevice()
	} else if err != nil {
		return nil, fmt.Errorf("load device for %s: %w", tenantID, err)
	}

	client := wm.NewClient(device, wlog.Sub("Client"))
	return &meowConn{
		tenantID: tenantID,
		client:   client,
		echoQR:   d.EchoQRInTerminal,
	}, nil
}

type meowConn struct {
	tenantID string
	client   *wm.Client
	echoQR   bool

	mu sync.Mutex
	h  Handlers
}

func (c *meowConn) Bind(h Handlers) func() {
	c.mu.Lock()
	c.h = h
	c.mu.Unlock()

	id := c.client.AddEventHandler(c.dispatch)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.client.RemoveEventHandler(id)
			c.mu.Lock()
			c.h = Handlers{}
			c.mu.Unlock()
		})
	}
}

func (c *meowConn) handlers() Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

func (c *meowConn) Connect(ctx context.Context) error {
	if c.client.Store.ID == nil {
		// Must be requested before Connect; codes stream until a device
		// links or the pairing window times out.
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel for %s: %w", c.tenantID, err)
		}
		go c.pumpQR(qrChan)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", c.tenantID, err)
	}
	return nil
}

func (c *meowConn) pumpQR(qrChan <-chan wm.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			log.Debug().Str("tenantId", c.tenantID).Msg("Pairing code received")
			if c.echoQR {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			}
			if h := c.handlers(); h.OnChallenge != nil {
				h.OnChallenge(evt.Code)
			}
		case "success":
			return
		case "timeout":
			log.Warn().Str("tenantId", c.tenantID).Msg("Pairing window timed out")
			if h := c.handlers(); h.OnDisconnected != nil {
				h.OnDisconnected(CauseConnectionLost)
			}
			return
		}
	}
}

func (c *meowConn) dispatch(raw interface{}) {
	h := c.handlers()
	switch v := raw.(type) {
	case *events.Message:
		if h.OnMessage != nil {
			h.OnMessage(toInbound(v))
		}
	case *events.Connected:
		if h.OnConnected != nil {
			h.OnConnected()
		}
	case *events.LoggedOut:
		log.Warn().Str("tenantId", c.tenantID).Msg("Session unlinked by remote device")
		if h.OnDisconnected != nil {
			h.OnDisconnected(CauseLoggedOut)
		}
	case *events.Disconnected:
		if h.OnDisconnected != nil {
			h.OnDisconnected(CauseConnectionLost)
		}
	case *events.StreamReplaced:
		log.Warn().Str("tenantId", c.tenantID).Msg("Stream replaced by another client")
		if h.OnDisconnected != nil {
			h.OnDisconnected(CauseConnectionLost)
		}
	}
}

func toInbound(v *events.Message) Inbound {
	text := ""
	if m := v.Message; m != nil {
		switch {
		case m.GetExtendedTextMessage().GetText() != "":
			text = m.GetExtendedTextMessage().GetText()
		case m.GetConversation() != "":
			text = m.GetConversation()
		}
	}
	chat := v.Info.Chat
	return Inbound{
		ID:          v.Info.ID,
		ChatID:      chat.String(),
		SenderID:    v.Info.Sender.User,
		SenderName:  v.Info.PushName,
		Text:        text,
		ReceivedAt:  v.Info.Timestamp,
		FromMe:      v.Info.IsFromMe,
		IsGroup:     chat.Server == types.GroupServer,
		IsBroadcast: chat.Server == types.BroadcastServer,
		IsText:      text != "",
	}
}

func (c *meowConn) Send(ctx context.Context, chatID, text string) (string, error) {
	to, err := parseChatJID(chatID)
	if err != nil {
		return "", err
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	resp, err := c.client.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", chatID, err)
	}
	return resp.ID, nil
}

func (c *meowConn) Close() {
	c.client.Disconnect()
}

func parseChatJID(chatID string) (types.JID, error) {
	if !strings.Contains(chatID, "@") {
		return types.JID{User: chatID, Server: types.DefaultUserServer}, nil
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.JID{}, fmt.Errorf("bad chat id %q: %w", chatID, err)
	}
	return jid, nil
}

// waLogger bridges whatsmeow's logging interface onto zerolog.
type waLogger struct {
	l zerolog.Logger
}

func newWALogger(l zerolog.Logger) waLog.Logger {
	return &waLogger{l: l}
}

func (w *waLogger) Errorf(msg string, args ...interface{}) { w.l.Error().Msgf(msg, args...) }
func (w *waLogger) Warnf(msg string, args ...interface{})  { w.l.Warn().Msgf(msg, args...) }
func (w *waLogger) Infof(msg string, args ...interface{})  { w.l.Debug().Msgf(msg, args...) }
func (w *waLogger) Debugf(msg string, args ...interface{}) { w.l.Debug().Msgf(msg, args...) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{l: w.l.With().Str("module", module).Logger()}
}
