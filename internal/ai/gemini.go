package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const defaultGeminiModel = "gemini-2.0-flash"

const invalidKeyReply = "⚠️ La API Key de Gemini configurada no es válida. Revisa tu configuración en el dashboard."

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Gemini generates replies through the Google Generative Language API,
// keeping per-chat history so the model sees prior exchanges. Any
// failure degrades to the keyword fallback.
type Gemini struct {
	client   *resty.Client
	apiKey   string
	model    string
	history  *historyBook
	fallback Fallback
	// retryWait is the pause before the single rate-limit retry.
	retryWait time.Duration
}

func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	client := resty.New().
		SetBaseURL("https://generativelanguage.googleapis.com/v1beta").
		SetTimeout(60 * time.Second)
	return &Gemini{
		client:    client,
		apiKey:    apiKey,
		model:     model,
		history:   newHistoryBook(),
		retryWait: 5 * time.Second,
	}
}

func (g *Gemini) Reply(ctx context.Context, req Request) string {
	if g.apiKey == "" {
		return g.fallback.Reply(ctx, req)
	}

	prompt := BuildSystemPrompt(req.Tenant, req.Now, req.Hours)
	turns := g.history.get(req.Tenant.ID, req.ChatID)

	text, err := g.generate(ctx, prompt, turns, req.Message)
	if err != nil {
		log.Error().Err(err).Str("tenantId", req.Tenant.ID).Msg("Gemini request failed")

		if isRateLimited(err) {
			select {
			case <-time.After(g.retryWait):
			case <-ctx.Done():
				return g.fallback.Reply(ctx, req)
			}
			text, err = g.generate(ctx, prompt, turns, req.Message)
		}
		if err != nil {
			if isInvalidKey(err) {
				return invalidKeyReply
			}
			return g.fallback.Reply(ctx, req)
		}
	}

	g.history.append(req.Tenant.ID, req.ChatID, req.Message, text)
	return text
}

func isRateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED")
}

func isInvalidKey(err error) bool {
	s := err.Error()
	return strings.Contains(s, "API_KEY_INVALID") || strings.Contains(s, "403")
}

func (g *Gemini) generate(ctx context.Context, systemPrompt string, turns []Turn, message string) (string, error) {
	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
	}
	for _, turn := range turns {
		body.Contents = append(body.Contents, geminiContent{
			Role:  turn.Role,
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}
	body.Contents = append(body.Contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: message}},
	})
	body.GenerationConfig.Temperature = 0.7
	body.GenerationConfig.MaxOutputTokens = 1000

	var out geminiResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/models/%s:generateContent", g.model))
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		if out.Error != nil {
			return "", fmt.Errorf("gemini: %d %s: %s", resp.StatusCode(), out.Error.Status, out.Error.Message)
		}
		return "", fmt.Errorf("gemini: unexpected status %d", resp.StatusCode())
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: empty response")
	}
	return strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text), nil
}

// ClearTenant drops all stored histories for a tenant. Called when the
// tenant wipes their message log, so the model does not keep referencing
// conversations the operator just deleted.
func (g *Gemini) ClearTenant(tenantID string) {
	g.history.clearTenant(tenantID)
}
