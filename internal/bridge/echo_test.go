package bridge

import (
	"testing"
	"time"
)

func TestEchoSetCounted(t *testing.T) {
	s := NewEchoSet(time.Minute)

	s.Add("t")
	s.Add("t")
	if got := s.Pending("t"); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}

	if !s.Consume("t") || !s.Consume("t") {
		t.Fatal("Consume() = false with markers pending")
	}
	if s.Consume("t") {
		t.Error("Consume() = true after markers exhausted")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestEchoSetRemove(t *testing.T) {
	s := NewEchoSet(time.Minute)
	s.Add("t")
	s.Remove("t")
	s.Remove("t")
	if s.Consume("t") {
		t.Error("Consume() = true after Remove")
	}
}

func TestEchoSetExpiry(t *testing.T) {
	s := NewEchoSet(30 * time.Millisecond)
	s.Add("t")

	time.Sleep(60 * time.Millisecond)

	if s.Consume("t") {
		t.Error("Consume() = true after ttl")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestEchoSetClear(t *testing.T) {
	s := NewEchoSet(0)
	if s.ttl != DefaultEchoTTL {
		t.Errorf("ttl = %v, want %v", s.ttl, DefaultEchoTTL)
	}

	s.Add("a")
	s.Add("b")
	s.Clear()
	if s.Len() != 0 || s.Consume("a") {
		t.Error("markers survived Clear")
	}
}
