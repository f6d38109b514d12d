package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Marraneitor/BOTLY/internal/notify"
	"github.com/Marraneitor/BOTLY/internal/registry"
)

// Events streams the tenant's live events over SSE. The current session
// state is replayed on connect so a reloading dashboard does not miss a
// QR code that was emitted before it subscribed.
func (s *Server) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			s.respondError(w, http.StatusInternalServerError, "Streaming no soportado.")
			return
		}
		tenant := tenantFrom(r)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		events, cancel := s.hub.Subscribe(tenant.ID)
		defer cancel()

		status, challenge, stats := s.bots.Snapshot(tenant.ID)
		if challenge != "" {
			writeSSE(w, notify.Event{
				TenantID: tenant.ID,
				Name:     notify.EventQR,
				Data:     map[string]any{"qr": challenge},
				At:       time.Now(),
			})
		}
		if status == registry.StatusConnected {
			writeSSE(w, notify.Event{
				TenantID: tenant.ID,
				Name:     notify.EventReady,
				Data:     map[string]any{"stats": stats},
				At:       time.Now(),
			})
		}
		flusher.Flush()

		keepalive := time.NewTicker(25 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case ev, open := <-events:
				if !open {
					return
				}
				writeSSE(w, ev)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev notify.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("Failed to marshal event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, payload)
}
