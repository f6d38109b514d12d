// Package transport defines the messaging-client contract consumed by the
// session lifecycle controller, plus its WhatsApp implementation.
package transport

import (
	"context"
	"time"
)

// DisconnectCause classifies why a connection dropped.
type DisconnectCause string

const (
	// CauseLoggedOut means the remote device explicitly unlinked the
	// session. Terminal: credentials are invalid and must be re-paired.
	CauseLoggedOut DisconnectCause = "logged_out"
	// CauseConnectionLost covers every recoverable drop (stream errors,
	// keepalive timeouts, network failures).
	CauseConnectionLost DisconnectCause = "connection_lost"
)

// Terminal reports whether the cause rules out automatic reconnection.
func (c DisconnectCause) Terminal() bool { return c == CauseLoggedOut }

// Inbound is one received message event, already classified by the transport.
type Inbound struct {
	ID          string
	ChatID      string
	SenderID    string
	SenderName  string
	Text        string
	ReceivedAt  time.Time
	FromMe      bool
	IsGroup     bool
	IsBroadcast bool
	IsText      bool
}

// Handlers receives connection events. All callbacks are invoked from the
// connection's event goroutine; implementations must not block for long.
type Handlers struct {
	// OnChallenge delivers a pairing code to be scanned. May fire several
	// times while unpaired; each code supersedes the previous one.
	OnChallenge func(code string)
	// OnConnected fires when the session is authenticated and online.
	OnConnected func()
	// OnDisconnected fires when the connection drops, with the classified
	// cause. It does not fire for a local Close.
	OnDisconnected func(cause DisconnectCause)
	// OnMessage delivers every inbound message event.
	OnMessage func(msg Inbound)
}

// Connection is one messaging-client connection. The expected call order
// is Bind, then Connect, so no event fires before a handler is attached.
type Connection interface {
	// Bind attaches the handler set and returns a detach function. Detach
	// is absolute: once called, no further events reach the handlers, even
	// if the underlying client keeps emitting.
	Bind(h Handlers) (detach func())
	// Connect starts the login flow. When no credentials are stored yet,
	// pairing codes arrive through OnChallenge until a device links.
	Connect(ctx context.Context) error
	// Send delivers a text message to a chat and returns the transport
	// message id.
	Send(ctx context.Context, chatID, text string) (string, error)
	// Close tears the connection down without invalidating credentials.
	Close()
}

// Dialer opens connections using a tenant's stored auth material.
type Dialer interface {
	Open(ctx context.Context, tenantID string) (Connection, error)
}
