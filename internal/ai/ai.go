// Package ai produces reply text for inbound messages. The primary
// responder calls Google Gemini; a keyword fallback covers missing API
// keys and upstream failures, so Reply always returns something usable.
package ai

import (
	"context"
	"time"

	"github.com/Marraneitor/BOTLY/internal/schedule"
	"github.com/Marraneitor/BOTLY/internal/store"
)

// Request carries everything a responder needs for one reply.
type Request struct {
	Tenant     *store.Tenant
	ChatID     string
	SenderName string
	Message    string
	Now        time.Time
	Hours      schedule.Status
}

// Responder turns an inbound message into reply text. Implementations
// never fail: when generation is impossible they degrade to a canned
// answer instead of returning an error.
type Responder interface {
	Reply(ctx context.Context, req Request) string
}
