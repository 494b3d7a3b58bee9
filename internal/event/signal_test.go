package event

import (
	"reflect"
	"testing"
)

func TestSignal_EmitInOrder(t *testing.T) {
	sig := NewSignal[string]("changed")

	var got []string
	sig.Connect(func(v string) { got = append(got, "a:"+v) })
	sig.Connect(func(v string) { got = append(got, "b:"+v) })

	sig.Emit("x")

	want := []string{"a:x", "b:x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSignal_CancelDetaches(t *testing.T) {
	sig := NewSignal[int]("changed")

	count := 0
	sub := sig.Connect(func(int) { count++ })
	sig.Emit(1)
	sub.Cancel()
	sig.Emit(2)

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
	if sig.Len() != 0 {
		t.Errorf("expected no handlers, got %d", sig.Len())
	}
}

func TestSignal_CancelDuringEmit(t *testing.T) {
	sig := NewSignal[int]("changed")

	var second Subscription
	secondCalls := 0
	sig.Connect(func(int) { second.Cancel() })
	second = sig.Connect(func(int) { secondCalls++ })

	sig.Emit(1)

	if secondCalls != 0 {
		t.Errorf("handler cancelled mid-delivery was called %d times", secondCalls)
	}
}

func TestSignal_ConnectDuringEmit(t *testing.T) {
	sig := NewSignal[int]("changed")

	late := 0
	sig.Connect(func(int) {
		sig.Connect(func(int) { late++ })
	})

	sig.Emit(1)
	if late != 0 {
		t.Errorf("handler connected during emit ran in the same emission")
	}

	sig.Emit(2)
	if late != 1 {
		t.Errorf("expected late handler to run once, ran %d times", late)
	}
}

func TestSignal_DisconnectAll(t *testing.T) {
	sig := NewSignal[int]("changed")

	count := 0
	a := sig.Connect(func(int) { count++ })
	b := sig.Connect(func(int) { count++ })

	sig.DisconnectAll()
	sig.Emit(1)

	if count != 0 {
		t.Errorf("expected no deliveries, got %d", count)
	}
	if a.IsActive() || b.IsActive() {
		t.Error("expected subscriptions to be cancelled")
	}

	// Cancelling after DisconnectAll is harmless.
	a.Cancel()
}
