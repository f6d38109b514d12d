package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/schedule"
	"github.com/Marraneitor/BOTLY/internal/store"
)

// UpsertTenant creates or replaces a tenant record, including its API token.
func (s *Server) UpsertTenant() http.HandlerFunc {
	type request struct {
		ID                  string              `json:"id"`
		Token               string              `json:"token"`
		Name                string              `json:"name"`
		Email               string              `json:"email"`
		BusinessName        string              `json:"businessName"`
		BusinessDescription string              `json:"businessDescription"`
		Menu                string              `json:"menu"`
		BotPrompt           string              `json:"botPrompt"`
		Schedule            schedule.Schedule   `json:"schedule"`
		Subscription        *store.Subscription `json:"subscription"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Cuerpo de la petición inválido.")
			return
		}
		if req.ID == "" || req.Token == "" {
			s.respondError(w, http.StatusBadRequest, "Se requieren id y token.")
			return
		}

		tenant := &store.Tenant{
			ID:                  req.ID,
			Token:               req.Token,
			Name:                req.Name,
			Email:               req.Email,
			BusinessName:        req.BusinessName,
			BusinessDescription: req.BusinessDescription,
			Menu:                req.Menu,
			BotPrompt:           req.BotPrompt,
			Schedule:            req.Schedule,
			Subscription:        req.Subscription,
		}
		if err := s.tenants.Upsert(r.Context(), tenant); err != nil {
			log.Error().Err(err).Str("tenantId", req.ID).Msg("Failed to upsert tenant")
			s.respondError(w, http.StatusInternalServerError, "No se pudo guardar el negocio.")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "tenant": tenant})
	}
}

// SaveSubscription grants or updates a tenant's plan and notifies the
// tenant's open dashboards.
func (s *Server) SaveSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["id"]
		if _, err := s.tenants.Get(r.Context(), tenantID); err != nil {
			if errors.Is(err, store.ErrTenantNotFound) {
				s.respondError(w, http.StatusNotFound, "Negocio no encontrado.")
				return
			}
			s.respondError(w, http.StatusInternalServerError, "No se pudo cargar el negocio.")
			return
		}

		var sub store.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			s.respondError(w, http.StatusBadRequest, "Cuerpo de la petición inválido.")
			return
		}
		if err := s.tenants.SaveSubscription(r.Context(), tenantID, &sub); err != nil {
			log.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to save subscription")
			s.respondError(w, http.StatusInternalServerError, "No se pudo guardar la suscripción.")
			return
		}

		s.hub.Publish(r.Context(), notify.Event{
			TenantID: tenantID,
			Name:     notify.EventSubscriptionUpdated,
			Data:     map[string]any{"subscription": sub},
		})
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "subscription": sub})
	}
}

// RevokeSubscription deactivates the tenant's plan without deleting the
// record, so billing history stays intact.
func (s *Server) RevokeSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["id"]
		tenant, err := s.tenants.Get(r.Context(), tenantID)
		if err != nil {
			if errors.Is(err, store.ErrTenantNotFound) {
				s.respondError(w, http.StatusNotFound, "Negocio no encontrado.")
				return
			}
			s.respondError(w, http.StatusInternalServerError, "No se pudo cargar el negocio.")
			return
		}

		sub := tenant.Subscription
		if sub == nil {
			sub = &store.Subscription{}
		}
		sub.Active = false
		now := time.Now()
		sub.ExpiresAt = &now
		if err := s.tenants.SaveSubscription(r.Context(), tenantID, sub); err != nil {
			log.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to revoke subscription")
			s.respondError(w, http.StatusInternalServerError, "No se pudo revocar la suscripción.")
			return
		}

		s.hub.Publish(r.Context(), notify.Event{
			TenantID: tenantID,
			Name:     notify.EventSubscriptionUpdated,
			Data:     map[string]any{"subscription": sub},
		})
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// KillBot force-stops a tenant's session from the admin panel.
func (s *Server) KillBot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["id"]
		s.bots.Stop(tenantID)
		s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
