package injector

import (
	"testing"

	"github.com/danmuck/injectctl/internal/device"
	"github.com/danmuck/injectctl/internal/testutil/testlog"
)

func TestListenerHoldsRepeatedEarlyIDsOnce(t *testing.T) {
	testlog.Start(t)
	sig := device.NewSignal[device.InjectionID]()
	l := listenUninjected(sig)
	defer l.disconnect()

	for i := 0; i < 1000; i++ {
		sig.Emit(7)
	}
	sig.Emit(3)

	l.mu.Lock()
	held := len(l.early)
	l.mu.Unlock()
	if held != 2 {
		t.Fatalf("expected 2 distinct early ids held, got %d", held)
	}

	l.grant(3)
	select {
	case got := <-l.delivered:
		if got != 3 {
			t.Fatalf("unexpected delivered id: %d", got)
		}
	default:
		t.Fatalf("early delivery for granted id was dropped")
	}
	if l.isConnected() {
		t.Fatalf("listener must disconnect after delivery")
	}
	l.mu.Lock()
	held = len(l.early)
	l.mu.Unlock()
	if held != 0 {
		t.Fatalf("early ids retained after grant: %d", held)
	}
}

func TestListenerGrantWithoutEarlyMatchWaitsForEmit(t *testing.T) {
	testlog.Start(t)
	sig := device.NewSignal[device.InjectionID]()
	l := listenUninjected(sig)
	defer l.disconnect()

	sig.Emit(9)
	l.grant(4)
	select {
	case got := <-l.delivered:
		t.Fatalf("unexpected delivery: %d", got)
	default:
	}

	sig.Emit(9)
	sig.Emit(4)
	select {
	case got := <-l.delivered:
		if got != 4 {
			t.Fatalf("unexpected delivered id: %d", got)
		}
	default:
		t.Fatalf("expected delivery after grant")
	}
	if sig.Len() != 0 {
		t.Fatalf("listener leaked a handler")
	}
}
