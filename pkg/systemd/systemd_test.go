package systemd

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "fsubbot/pkg/logx"
)

func TestNotifierStates(t *testing.T) {
	var got []string
	n := New(logx.Nop())
	n.send = func(s string) (bool, error) {
		got = append(got, s)
		return true, nil
	}
	n.Ready()
	n.Status("serving")
	n.Stopping()
	want := []string{"READY=1", "STATUS=serving", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	n.send = func(string) (bool, error) { return false, errors.New("no socket") }
	if n.Ready() {
		t.Fatalf("failed send reported ok")
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		New(logx.Nop()).Watchdog(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Watchdog blocked without a configured watchdog")
	}
}
