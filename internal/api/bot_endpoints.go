package api

import (
	"errors"
	"net/http"

	"github.com/Marraneitor/BOTLY/internal/registry"
	"github.com/Marraneitor/BOTLY/internal/session"
)

// BotStatus reports the caller's session state and runtime counters.
func (s *Server) BotStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		status, challenge, stats := s.bots.Snapshot(tenant.ID)
		s.respondJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"status":    status,
			"qrPending": challenge != "",
			"stats":     stats,
		})
	}
}

// BotQR returns the pending pairing code as a PNG data URL, if one exists.
func (s *Server) BotQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		status, challenge, _ := s.bots.Snapshot(tenant.ID)
		if challenge == "" {
			s.respondJSON(w, http.StatusOK, map[string]any{
				"ok":     true,
				"status": status,
				"qr":     nil,
			})
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"status": status,
			"qr":     challenge,
		})
	}
}

func (s *Server) BotStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		status, err := s.bots.Start(r.Context(), tenant.ID)
		if err != nil {
			var entErr *session.EntitlementError
			if errors.As(err, &entErr) {
				s.respondJSON(w, http.StatusForbidden, map[string]any{
					"ok":      false,
					"reason":  entErr.Reason,
					"message": "Tu suscripción no está activa. Renueva tu plan para iniciar el bot.",
				})
				return
			}
			s.respondError(w, http.StatusInternalServerError, "No se pudo iniciar el bot.")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"status":  status,
			"message": "Bot iniciando... el QR aparecerá en segundos.",
		})
	}
}

func (s *Server) BotStop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		s.bots.Stop(tenant.ID)
		s.respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"status":  registry.StatusOff,
			"message": "Bot detenido.",
		})
	}
}

func (s *Server) BotReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFrom(r)
		status, err := s.bots.Reset(r.Context(), tenant.ID)
		if err != nil {
			var entErr *session.EntitlementError
			if errors.As(err, &entErr) {
				s.respondJSON(w, http.StatusForbidden, map[string]any{
					"ok":      false,
					"reason":  entErr.Reason,
					"message": "Tu suscripción no está activa. Renueva tu plan para iniciar el bot.",
				})
				return
			}
			s.respondError(w, http.StatusInternalServerError, "No se pudo resetear la sesión.")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"status":  status,
			"message": "Sesión reseteada. Un nuevo QR aparecerá en segundos.",
		})
	}
}
