package event

import (
	"testing"
)

func TestRegistry_CancelGroup(t *testing.T) {
	reg := NewRegistry()
	sig := NewSignal[int]("changed")

	hostCalls, childCalls := 0, 0
	reg.Add("nb#py", sig.Connect(func(int) { hostCalls++ }))
	reg.Add("nb#py.r", sig.Connect(func(int) { childCalls++ }))

	if reg.Len("nb#py") != 1 {
		t.Fatalf("expected 1 subscription for host, got %d", reg.Len("nb#py"))
	}

	reg.CancelGroup("nb#py.r")
	sig.Emit(1)

	if hostCalls != 1 || childCalls != 0 {
		t.Errorf("host=%d child=%d, want host=1 child=0", hostCalls, childCalls)
	}
	if reg.Len("nb#py.r") != 0 {
		t.Error("expected group to be forgotten")
	}

	// Unknown groups are ignored.
	reg.CancelGroup("missing")
}

func TestRegistry_CloseIdempotent(t *testing.T) {
	reg := NewRegistry()
	sig := NewSignal[int]("changed")

	calls := 0
	sub := sig.Connect(func(int) { calls++ })
	reg.Add("nb#py", sub)

	reg.Close()
	reg.Close()
	sig.Emit(1)

	if calls != 0 {
		t.Errorf("expected no deliveries after Close, got %d", calls)
	}
	if sub.IsActive() {
		t.Error("expected subscription to be cancelled")
	}
	if len(reg.Groups()) != 0 {
		t.Errorf("expected no groups, got %v", reg.Groups())
	}
}

func TestRegistry_AddAfterClose(t *testing.T) {
	reg := NewRegistry()
	reg.Close()

	sig := NewSignal[int]("changed")
	sub := sig.Connect(func(int) {})
	reg.Add("late", sub)

	if sub.IsActive() {
		t.Error("expected subscription added after Close to be cancelled")
	}
	if sig.Len() != 0 {
		t.Errorf("expected signal to have no handlers, got %d", sig.Len())
	}
}
