package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// WebhookSink POSTs every event to a single global URL. Format "json"
// sends the event object as a JSON body; anything else sends
// form-urlencoded with the event payload packed into a jsonData field.
type WebhookSink struct {
	client *resty.Client
	url    string
	format string
}

func NewWebhookSink(url, format string) *WebhookSink {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)
	return &WebhookSink{client: client, url: url, format: format}
}

func (s *WebhookSink) Deliver(ctx context.Context, ev Event) {
	log.Debug().Str("url", s.url).Str("event", ev.Name).Msg("Sending POST to webhook")

	if s.format == "json" {
		_, err := s.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(ev).
			Post(s.url)
		if err != nil {
			log.Error().Err(err).Str("url", s.url).Msg("Failed to send POST request")
		}
		return
	}

	payload := map[string]string{
		"type":       ev.Name,
		"instanceId": ev.TenantID,
		"timestamp":  ev.At.Format(time.RFC3339),
	}
	if ev.Data != nil {
		jsonData, err := json.Marshal(ev.Data)
		if err != nil {
			log.Error().Err(err).Str("event", ev.Name).Msg("Failed to marshal event data")
			return
		}
		payload["jsonData"] = string(jsonData)
	}
	_, err := s.client.R().SetContext(ctx).SetFormData(payload).Post(s.url)
	if err != nil {
		log.Error().Err(err).Str("url", s.url).Msg("Failed to send POST request")
	}
}
