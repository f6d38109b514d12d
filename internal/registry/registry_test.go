package registry

import (
	"sync"
	"testing"
)

func TestRegisterIfAbsent(t *testing.T) {
	r := New()

	first := NewSession("t1")
	got, inserted := r.RegisterIfAbsent(first)
	if !inserted || got != first {
		t.Fatal("first registration must insert")
	}

	second := NewSession("t1")
	got, inserted = r.RegisterIfAbsent(second)
	if inserted {
		t.Error("second registration for the same tenant must be rejected")
	}
	if got != first {
		t.Error("rejection must return the existing session")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRegisterIfAbsentConcurrent(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	inserts := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted := r.RegisterIfAbsent(NewSession("t1"))
			inserts <- inserted
		}()
	}
	wg.Wait()
	close(inserts)

	n := 0
	for inserted := range inserts {
		if inserted {
			n++
		}
	}
	if n != 1 {
		t.Errorf("%d concurrent registrations succeeded, want exactly 1", n)
	}
}

func TestRemoveIgnoresStaleSession(t *testing.T) {
	r := New()

	old := NewSession("t1")
	r.RegisterIfAbsent(old)
	if !r.Remove(old) {
		t.Fatal("removing the registered session must succeed")
	}

	current := NewSession("t1")
	r.RegisterIfAbsent(current)
	if r.Remove(old) {
		t.Error("a stale session pointer must not evict the current one")
	}
	if _, ok := r.Get("t1"); !ok {
		t.Error("current session must survive stale removal")
	}
}

func TestSessionTransitions(t *testing.T) {
	s := NewSession("t1")
	if s.Status() != StatusStarting {
		t.Fatalf("fresh session status = %s, want starting", s.Status())
	}

	s.SetChallenge("data:image/png;base64,abc")
	if s.Status() != StatusAwaitingScan {
		t.Errorf("status after challenge = %s, want awaiting_scan", s.Status())
	}
	if s.Challenge() == "" {
		t.Error("challenge must be retained while awaiting scan")
	}

	s.IncrementRetry()
	s.IncrementRetry()
	s.MarkConnected()
	if s.Status() != StatusConnected {
		t.Errorf("status = %s, want connected", s.Status())
	}
	if s.Challenge() != "" {
		t.Error("connect must clear the pending challenge")
	}
	if s.RetryCount() != 0 {
		t.Errorf("retryCount after connect = %d, want 0", s.RetryCount())
	}

	s.MarkStarting()
	n := s.IncrementRetry()
	s.MarkStarting()
	if s.RetryCount() != n {
		t.Error("reconnect edge must preserve the retry counter")
	}
}

func TestRecordInbound(t *testing.T) {
	s := NewSession("t1")

	s.RecordInbound("alice")
	s.RecordInbound("alice")
	stats := s.RecordInbound("bob")

	if stats.MessagesToday != 3 {
		t.Errorf("MessagesToday = %d, want 3", stats.MessagesToday)
	}
	if stats.ContactsCount != 2 {
		t.Errorf("ContactsCount = %d, want 2", stats.ContactsCount)
	}
}

func TestStatuses(t *testing.T) {
	r := New()
	a := NewSession("a")
	b := NewSession("b")
	r.RegisterIfAbsent(a)
	r.RegisterIfAbsent(b)
	b.MarkConnected()

	statuses := r.Statuses()
	if statuses["a"] != StatusStarting || statuses["b"] != StatusConnected {
		t.Errorf("unexpected snapshot: %v", statuses)
	}
}
