package schedule

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// monday returns a fixed Monday at the given local hour and minute.
func monday(hour, min int) time.Time {
	return time.Date(2025, time.March, 3, hour, min, 0, 0, time.UTC)
}

func TestEvaluateInsideWindow(t *testing.T) {
	s := Schedule{"lunes": {Open: "09:00", Close: "18:00", Active: true}}

	st, err := Evaluate(s, monday(12, 30))
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsOpen {
		t.Error("expected open at 12:30")
	}
	if !strings.Contains(st.StatusMessage, "18:00") {
		t.Errorf("status message %q should mention closing time", st.StatusMessage)
	}
}

func TestEvaluateAfterClose(t *testing.T) {
	s := Schedule{"lunes": {Open: "09:00", Close: "18:00", Active: true}}

	st, err := Evaluate(s, monday(20, 0))
	if err != nil {
		t.Fatal(err)
	}
	if st.IsOpen {
		t.Error("expected closed at 20:00")
	}
	if !strings.Contains(st.StatusMessage, "09:00") || !strings.Contains(st.StatusMessage, "18:00") {
		t.Errorf("status message %q should mention both boundary times", st.StatusMessage)
	}
}

func TestEvaluateBoundaries(t *testing.T) {
	s := Schedule{"lunes": {Open: "09:00", Close: "18:00", Active: true}}

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"at open", monday(9, 0), true},
		{"at close", monday(18, 0), true}, // close is inclusive
		{"minute before open", monday(8, 59), false},
		{"minute after close", monday(18, 1), false},
	}
	for _, c := range cases {
		st, err := Evaluate(s, c.at)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if st.IsOpen != c.open {
			t.Errorf("%s: IsOpen = %v, want %v", c.name, st.IsOpen, c.open)
		}
	}
}

func TestEvaluateInactiveDay(t *testing.T) {
	s := Schedule{"lunes": {Open: "09:00", Close: "18:00", Active: false}}

	st, err := Evaluate(s, monday(12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if st.IsOpen {
		t.Error("inactive day must be closed")
	}
}

func TestEvaluateMissingDay(t *testing.T) {
	s := Schedule{"martes": {Open: "09:00", Close: "18:00", Active: true}}

	st, err := Evaluate(s, monday(12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if st.IsOpen {
		t.Error("day absent from schedule must be closed")
	}
}

func TestEvaluateAllDayOpen(t *testing.T) {
	s := Schedule{"lunes": {Open: "00:00", Close: "00:00", Active: true}}

	st, err := Evaluate(s, monday(3, 15))
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsOpen {
		t.Error("zero open/close means open all day")
	}
}

func TestEvaluateEmptySchedule(t *testing.T) {
	st, err := Evaluate(nil, monday(12, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsOpen {
		t.Error("unconfigured schedule defaults to open")
	}
}

func TestEvaluateMidnightCrossingRejected(t *testing.T) {
	s := Schedule{"lunes": {Open: "18:00", Close: "02:00", Active: true}}

	_, err := Evaluate(s, monday(19, 0))
	if !errors.Is(err, ErrUnsupportedSchedule) {
		t.Errorf("expected ErrUnsupportedSchedule, got %v", err)
	}
}

func TestEvaluateMalformedTime(t *testing.T) {
	s := Schedule{"lunes": {Open: "nueve", Close: "18:00", Active: true}}

	if _, err := Evaluate(s, monday(12, 0)); err == nil {
		t.Error("expected error for malformed open time")
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	s := Schedule{"lunes": {Open: "09:00", Close: "18:00", Active: true}}
	at := monday(10, 0)

	first, err := Evaluate(s, at)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		st, err := Evaluate(s, at)
		if err != nil {
			t.Fatal(err)
		}
		if st != first {
			t.Fatalf("call %d: result %+v differs from first %+v", i, st, first)
		}
	}
}

func TestText(t *testing.T) {
	s := Schedule{
		"lunes":  {Open: "09:00", Close: "18:00", Active: true},
		"martes": {Active: false},
	}
	text := Text(s)
	if !strings.Contains(text, "Lunes: 09:00 — 18:00") {
		t.Errorf("missing monday line in %q", text)
	}
	if !strings.Contains(text, "Martes: Cerrado") {
		t.Errorf("missing closed tuesday line in %q", text)
	}
	if !strings.Contains(text, "Domingo: Sin datos") {
		t.Errorf("missing no-data sunday line in %q", text)
	}
	if Text(nil) != "No configurado" {
		t.Error("nil schedule should render as unconfigured")
	}
}
