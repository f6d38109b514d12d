package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/Marraneitor/BOTLY/internal/schedule"
)

var (
	greetingWords = []string{"hola", "buenas", "buen día", "buenas tardes", "buenas noches", "hey", "hi", "hello", "qué onda"}
	menuWords     = []string{"menú", "menu", "carta", "que tienen", "qué tienen", "platillos", "productos"}
	hoursWords    = []string{"horario", "hora", "abren", "cierran", "abierto", "cerrado"}
)

func containsAny(msg string, words []string) bool {
	for _, w := range words {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

// Fallback is the keyword responder used when no Gemini key is
// configured or the API call fails. It recognizes greetings and menu
// and hours questions; everything else gets an acknowledgement.
type Fallback struct{}

func (Fallback) Reply(_ context.Context, req Request) string {
	msg := strings.TrimSpace(strings.ToLower(req.Message))
	name := req.Tenant.BusinessName
	if name == "" {
		name = "nuestro negocio"
	}

	switch {
	case containsAny(msg, greetingWords):
		return fmt.Sprintf("¡Hola! 👋 Bienvenido a *%s*.\n\n%s\n\n¿En qué puedo ayudarte?\n• Escribe *menú* para ver nuestros productos\n• Escribe *horarios* para ver nuestros horarios\n• O dime directamente qué necesitas 😊",
			name, req.Hours.StatusMessage)
	case containsAny(msg, menuWords):
		if req.Tenant.Menu == "" {
			return "Aún no tenemos el menú cargado. Contacta al negocio directamente."
		}
		return fmt.Sprintf("📋 *Menú de %s:*\n\n%s", name, req.Tenant.Menu)
	case containsAny(msg, hoursWords):
		return fmt.Sprintf("⏰ *Horarios de %s:*\n\n%s", name, schedule.Text(req.Tenant.Schedule))
	default:
		return fmt.Sprintf("¡Hola! Soy el asistente de *%s*. Recibí tu mensaje y te responderé pronto. 😊", name)
	}
}
