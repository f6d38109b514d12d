package ai

import (
	"strings"
	"sync"
)

// maxHistoryExchanges bounds the retained conversation per chat. One
// exchange is a user turn plus the model's answer.
const maxHistoryExchanges = 30

// Turn is one side of a conversation exchange. Role is "user" or "model".
type Turn struct {
	Role string
	Text string
}

// historyBook keeps per-chat conversation history keyed by
// tenantID::chatID, trimmed to the most recent exchanges.
type historyBook struct {
	mu    sync.Mutex
	chats map[string][]Turn
}

func newHistoryBook() *historyBook {
	return &historyBook{chats: make(map[string][]Turn)}
}

func historyKey(tenantID, chatID string) string {
	return tenantID + "::" + chatID
}

func (h *historyBook) get(tenantID, chatID string) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := h.chats[historyKey(tenantID, chatID)]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

func (h *historyBook) append(tenantID, chatID, userText, modelText string) {
	key := historyKey(tenantID, chatID)
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append(h.chats[key],
		Turn{Role: "user", Text: userText},
		Turn{Role: "model", Text: modelText},
	)
	if len(turns) > maxHistoryExchanges*2 {
		turns = turns[len(turns)-maxHistoryExchanges*2:]
	}
	h.chats[key] = turns
}

func (h *historyBook) clearTenant(tenantID string) {
	prefix := tenantID + "::"
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.chats {
		if strings.HasPrefix(key, prefix) {
			delete(h.chats, key)
		}
	}
}
