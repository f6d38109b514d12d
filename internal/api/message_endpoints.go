package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/store"
)

const messageListLimit = 200

// ListMessages returns the tenant's recent message log, oldest first.
func (s *Server) ListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		msgs, err := s.messages.List(r.Context(), tenant.ID, messageListLimit)
		if err != nil {
			log.Error().Err(err).Str("tenantId", tenant.ID).Msg("Failed to list messages")
			s.respondError(w, http.StatusInternalServerError, "No se pudieron cargar los mensajes.")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": msgs})
	}
}

// MessagesByContact returns the full thread with one phone number.
func (s *Server) MessagesByContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		phone := mux.Vars(r)["phone"]
		msgs, err := s.messages.ListByContact(r.Context(), tenant.ID, phone)
		if err != nil {
			log.Error().Err(err).Str("tenantId", tenant.ID).Msg("Failed to list conversation")
			s.respondError(w, http.StatusInternalServerError, "No se pudo cargar la conversación.")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": msgs})
	}
}

type conversation struct {
	Phone       string    `json:"phone"`
	SenderName  string    `json:"senderName"`
	LastMessage string    `json:"lastMessage"`
	LastAt      time.Time `json:"lastAt"`
	Count       int       `json:"count"`
}

// Conversations groups the message log by contact, newest activity first.
func (s *Server) Conversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		msgs, err := s.messages.List(r.Context(), tenant.ID, messageListLimit)
		if err != nil {
			log.Error().Err(err).Str("tenantId", tenant.ID).Msg("Failed to list messages")
			s.respondError(w, http.StatusInternalServerError, "No se pudieron cargar las conversaciones.")
			return
		}

		byContact := make(map[string]*conversation)
		for _, m := range msgs {
			c, ok := byContact[m.From]
			if !ok {
				c = &conversation{Phone: m.From}
				byContact[m.From] = c
			}
			c.Count++
			if !m.Timestamp.Before(c.LastAt) {
				c.LastMessage = m.Body
				c.LastAt = m.Timestamp
			}
			if m.Direction == store.DirectionIncoming && m.SenderName != "" {
				c.SenderName = m.SenderName
			}
		}

		out := make([]*conversation, 0, len(byContact))
		for _, c := range byContact {
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].LastAt.After(out[j].LastAt) })

		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "conversations": out})
	}
}

// SendMessage pushes an operator-written message through the tenant's live
// session and records it alongside the bot's own traffic.
func (s *Server) SendMessage() http.HandlerFunc {
	type request struct {
		Phone   string `json:"phone"`
		Message string `json:"message"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Cuerpo de la petición inválido.")
			return
		}
		if req.Phone == "" || req.Message == "" {
			s.respondError(w, http.StatusBadRequest, "Se requieren phone y message.")
			return
		}

		if _, err := s.bots.Send(r.Context(), tenant.ID, req.Phone, req.Message); err != nil {
			log.Error().Err(err).Str("tenantId", tenant.ID).Msg("Manual send failed")
			s.respondError(w, http.StatusConflict, "El bot no está conectado.")
			return
		}

		msg := store.StoredMessage{
			ID:         fmt.Sprintf("manual_%d", time.Now().UnixMilli()),
			Direction:  store.DirectionOutgoing,
			Body:       req.Message,
			From:       req.Phone,
			SenderName: "Tú (manual)",
			Timestamp:  time.Now(),
		}
		if err := s.messages.Append(r.Context(), tenant.ID, msg); err != nil {
			log.Error().Err(err).Str("tenantId", tenant.ID).Msg("Failed to persist manual message")
		}
		s.hub.Publish(r.Context(), notify.Event{
			TenantID: tenant.ID,
			Name:     notify.EventNewMessage,
			Data: map[string]any{
				"id":         msg.ID,
				"from":       msg.From,
				"senderName": msg.SenderName,
				"body":       msg.Body,
				"direction":  msg.Direction,
				"timestamp":  msg.Timestamp.Format(time.RFC3339),
			},
		})

		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "id": msg.ID})
	}
}

// ClearMessages wipes the tenant's message log and, with it, the AI's
// memory of those conversations.
func (s *Server) ClearMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		if err := s.messages.Clear(r.Context(), tenant.ID); err != nil {
			log.Error().Err(err).Str("tenantId", tenant.ID).Msg("Failed to clear messages")
			s.respondError(w, http.StatusInternalServerError, "No se pudo vaciar el historial.")
			return
		}
		if s.memory != nil {
			s.memory.ClearTenant(tenant.ID)
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
