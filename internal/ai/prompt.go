package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/Marraneitor/BOTLY/internal/schedule"
	"github.com/Marraneitor/BOTLY/internal/store"
)

var dayNames = [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

func formatTime(t time.Time) string {
	s := t.Format("03:04 PM")
	s = strings.ReplaceAll(s, "AM", "a.m.")
	s = strings.ReplaceAll(s, "PM", "p.m.")
	return s
}

// BuildSystemPrompt assembles the per-tenant system instruction from the
// dashboard config: custom prompt, business info, weekly hours, the
// current open/closed state, and the menu.
func BuildSystemPrompt(t *store.Tenant, now time.Time, hours schedule.Status) string {
	name := t.BusinessName
	if name == "" {
		name = "el negocio"
	}
	menu := t.Menu
	if menu == "" {
		menu = "No hay menú configurado."
	}

	var b strings.Builder
	b.WriteString(t.BotPrompt)
	b.WriteString("\n\n═══════════════════════════════════\n")
	b.WriteString("INFORMACIÓN DEL NEGOCIO:\n")
	fmt.Fprintf(&b, "• Nombre: %s\n", name)
	if t.BusinessDescription != "" {
		fmt.Fprintf(&b, "• Descripción: %s\n", t.BusinessDescription)
	}
	b.WriteString("\n⏰ HORARIOS:\n")
	b.WriteString(schedule.Text(t.Schedule))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "🕐 Hora actual: %s del %s\n", formatTime(now), dayNames[int(now.Weekday())])
	if hours.IsOpen {
		fmt.Fprintf(&b, "✅ ESTADO: ABIERTO — %s. Puedes atender pedidos normalmente.\n", hours.StatusMessage)
	} else {
		fmt.Fprintf(&b, "🚫 ESTADO: CERRADO — %s. NO tomes pedidos. Informa amablemente el horario y que con gusto los atiendes cuando abran.\n", hours.StatusMessage)
	}
	b.WriteString("\n═══════════════════════════════════\n")
	b.WriteString("MENÚ / PRODUCTOS / SERVICIOS:\n")
	b.WriteString(menu)
	b.WriteString("\n═══════════════════════════════════\n\n")
	b.WriteString(`REGLAS IMPORTANTES:
- NUNCA inventes productos o precios que no estén en el menú.
- Si preguntan por algo que no existe, di que no lo manejas y ofrece alternativas del menú.
- Si el negocio está CERRADO, NO tomes pedidos. Disculpa e informa el horario.
- Usa *negritas* para nombres de productos y precios.
- Usa • para listas.
- Sé breve y natural, como si escribieras por WhatsApp.
- Responde siempre en el mismo idioma que el cliente.`)
	return b.String()
}
