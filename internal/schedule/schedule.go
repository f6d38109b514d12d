// Package schedule evaluates a tenant's weekly business-hours table.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedSchedule is returned for day entries whose closing time is
// earlier than the opening time (a shift crossing midnight). The evaluator
// refuses such input instead of guessing.
var ErrUnsupportedSchedule = errors.New("schedule crossing midnight is not supported")

// DaySchedule is one weekday's opening window. Times are "HH:MM" in the
// tenant's local time. A day with Open and Close both "00:00" and Active true
// is open all day.
type DaySchedule struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Active bool   `json:"active"`
}

// Schedule maps a weekday key (lunes, martes, miercoles, jueves, viernes,
// sabado, domingo) to its opening window.
type Schedule map[string]DaySchedule

// Status is the evaluation result for one instant.
type Status struct {
	IsOpen        bool
	StatusMessage string
}

var dayKeys = [7]string{"domingo", "lunes", "martes", "miercoles", "jueves", "viernes", "sabado"}

var dayNames = [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// DayKey returns the schedule map key for a weekday.
func DayKey(d time.Weekday) string { return dayKeys[int(d)] }

// Evaluate computes the open/closed state of a schedule at the given instant.
// It is a pure function: it never reads the wall clock and has no side
// effects, so the same inputs always produce the same result.
func Evaluate(s Schedule, now time.Time) (Status, error) {
	if len(s) == 0 {
		return Status{IsOpen: true, StatusMessage: "Horario no configurado"}, nil
	}

	dayName := dayNames[int(now.Weekday())]
	day, ok := s[DayKey(now.Weekday())]
	if !ok || !day.Active {
		return Status{IsOpen: false, StatusMessage: fmt.Sprintf("Hoy %s no hay servicio.", dayName)}, nil
	}

	openMin, err := parseMinutes(day.Open)
	if err != nil {
		return Status{}, fmt.Errorf("open time for %s: %w", dayName, err)
	}
	closeMin, err := parseMinutes(day.Close)
	if err != nil {
		return Status{}, fmt.Errorf("close time for %s: %w", dayName, err)
	}

	if openMin == 0 && closeMin == 0 {
		return Status{IsOpen: true, StatusMessage: "Abierto todo el día"}, nil
	}
	if closeMin < openMin {
		return Status{}, fmt.Errorf("%s %s-%s: %w", dayName, day.Open, day.Close, ErrUnsupportedSchedule)
	}

	nowMin := now.Hour()*60 + now.Minute()
	if nowMin >= openMin && nowMin <= closeMin {
		return Status{IsOpen: true, StatusMessage: fmt.Sprintf("Abierto hasta las %s", day.Close)}, nil
	}
	return Status{
		IsOpen:        false,
		StatusMessage: fmt.Sprintf("Hoy %s el horario es de %s a %s.", dayName, day.Open, day.Close),
	}, nil
}

// Text renders the full weekly table for prompts and fallback replies.
func Text(s Schedule) string {
	if len(s) == 0 {
		return "No configurado"
	}
	labels := []struct{ key, label string }{
		{"lunes", "Lunes"}, {"martes", "Martes"}, {"miercoles", "Miércoles"},
		{"jueves", "Jueves"}, {"viernes", "Viernes"}, {"sabado", "Sábado"}, {"domingo", "Domingo"},
	}
	var lines []string
	for _, l := range labels {
		d, ok := s[l.key]
		switch {
		case !ok:
			lines = append(lines, fmt.Sprintf("  - %s: Sin datos", l.label))
		case !d.Active:
			lines = append(lines, fmt.Sprintf("  - %s: Cerrado", l.label))
		default:
			lines = append(lines, fmt.Sprintf("  - %s: %s — %s", l.label, d.Open, d.Close))
		}
	}
	return strings.Join(lines, "\n")
}

func parseMinutes(hhmm string) (int, error) {
	if hhmm == "" {
		return 0, nil
	}
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed time %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed time %q", hhmm)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", hhmm)
	}
	return h*60 + m, nil
}
