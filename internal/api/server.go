// Package api exposes the tenant-facing HTTP surface: bot lifecycle
// control, the message log, a live event stream, and admin provisioning.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/registry"
	"github.com/Marraneitor/BOTLY/internal/store"
)

// BotController is the lifecycle surface consumed by the handlers.
// Satisfied by session.Manager.
type BotController interface {
	Start(ctx context.Context, tenantID string) (registry.Status, error)
	Stop(tenantID string)
	Reset(ctx context.Context, tenantID string) (registry.Status, error)
	Send(ctx context.Context, tenantID, chatID, text string) (string, error)
	Snapshot(tenantID string) (registry.Status, string, registry.Stats)
}

// TenantDirectory is the tenant-store surface consumed by the handlers.
type TenantDirectory interface {
	GetByToken(ctx context.Context, token string) (*store.Tenant, error)
	Get(ctx context.Context, tenantID string) (*store.Tenant, error)
	Upsert(ctx context.Context, t *store.Tenant) error
	SaveSubscription(ctx context.Context, tenantID string, sub *store.Subscription) error
}

// MessageLog is the message-store surface consumed by the handlers.
type MessageLog interface {
	Append(ctx context.Context, tenantID string, m store.StoredMessage) error
	List(ctx context.Context, tenantID string, limit int) ([]store.StoredMessage, error)
	ListByContact(ctx context.Context, tenantID, contact string) ([]store.StoredMessage, error)
	Clear(ctx context.Context, tenantID string) error
}

// ConversationMemory drops a tenant's stored AI chat history. Satisfied
// by ai.Gemini; nil when no history-keeping responder is configured.
type ConversationMemory interface {
	ClearTenant(tenantID string)
}

type Server struct {
	router     *mux.Router
	bots       BotController
	tenants    TenantDirectory
	messages   MessageLog
	hub        *notify.Hub
	memory     ConversationMemory
	adminToken string
}

func NewServer(bots BotController, tenants TenantDirectory, messages MessageLog, hub *notify.Hub, memory ConversationMemory, adminToken string) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		bots:       bots,
		tenants:    tenants,
		messages:   messages,
		hub:        hub,
		memory:     memory,
		adminToken: adminToken,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	tenant := alice.New(s.tenantAuth)
	admin := alice.New(s.adminAuth)

	api := s.router.PathPrefix("/api").Subrouter()

	api.Handle("/bot/status", tenant.Then(s.BotStatus())).Methods(http.MethodGet)
	api.Handle("/bot/qr", tenant.Then(s.BotQR())).Methods(http.MethodGet)
	api.Handle("/bot/start", tenant.Then(s.BotStart())).Methods(http.MethodPost)
	api.Handle("/bot/stop", tenant.Then(s.BotStop())).Methods(http.MethodPost)
	api.Handle("/bot/reset", tenant.Then(s.BotReset())).Methods(http.MethodPost)

	api.Handle("/messages", tenant.Then(s.ListMessages())).Methods(http.MethodGet)
	api.Handle("/messages", tenant.Then(s.ClearMessages())).Methods(http.MethodDelete)
	api.Handle("/messages/send", tenant.Then(s.SendMessage())).Methods(http.MethodPost)
	api.Handle("/messages/{phone}", tenant.Then(s.MessagesByContact())).Methods(http.MethodGet)
	api.Handle("/conversations", tenant.Then(s.Conversations())).Methods(http.MethodGet)

	api.Handle("/events", tenant.Then(s.Events())).Methods(http.MethodGet)

	api.Handle("/admin/tenants", admin.Then(s.UpsertTenant())).Methods(http.MethodPost)
	api.Handle("/admin/tenants/{id}/subscription", admin.Then(s.SaveSubscription())).Methods(http.MethodPut)
	api.Handle("/admin/tenants/{id}/subscription", admin.Then(s.RevokeSubscription())).Methods(http.MethodDelete)
	api.Handle("/admin/tenants/{id}/kill-bot", admin.Then(s.KillBot())).Methods(http.MethodPost)
}

type ctxKey int

const tenantKey ctxKey = 0

// tenantAuth resolves the caller's tenant from the token header and
// stores it on the request context.
func (s *Server) tenantAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("token")
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "Token requerido.")
			return
		}
		tenant, err := s.tenants.GetByToken(r.Context(), token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "Token inválido.")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || r.Header.Get("token") != s.adminToken {
			s.respondError(w, http.StatusUnauthorized, "Token de administrador inválido.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantFrom(r *http.Request) *store.Tenant {
	return r.Context().Value(tenantKey).(*store.Tenant)
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]any{"error": message})
}
