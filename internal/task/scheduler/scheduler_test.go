package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "fsubbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		bad   bool
	}{
		{in: "*/5 * * * *", kind: SpecCron},
		{in: "@hourly", kind: SpecCron},
		{in: "cron: 0 3 * * *", kind: SpecCron},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "every: 10s", kind: SpecInterval, every: 10 * time.Second},
		{in: "", bad: true},
		{in: "00:00", bad: true},
		{in: "01:75", bad: true},
		{in: "soon", bad: true},
		{in: "-5m", bad: true},
		{in: "61 * * * *", bad: true},
		{in: "cron:", bad: true},
	}
	for _, tc := range cases {
		ps, err := ParseSchedule(tc.in)
		if tc.bad {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if ps.Kind != tc.kind || ps.Every != tc.every || ps.Expr == "" {
			t.Fatalf("%q: got %+v", tc.in, ps)
		}
	}
}

func TestService_RunsAndSkipsOverlap(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var runs atomic.Int32
	release := make(chan struct{})
	if err := s.Add("slow", "@every 1s", 0, func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	time.Sleep(2500 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Fatalf("runs=%d want 1 (overlap must skip)", n)
	}
	close(release)

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Name != "slow" || snap[0].Next.IsZero() {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestService_FailuresCountedAndRemove(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	done := make(chan struct{}, 4)
	if err := s.Add("boom", "1s", 0, func(context.Context) error {
		done <- struct{}{}
		panic("boom")
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("bad", "not a schedule", 0, func(context.Context) error { return errors.New("x") }); err == nil {
		t.Fatalf("expected schedule error")
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("job never ran")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if snap := s.Snapshot(); len(snap) == 1 && snap[0].Fails >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap := s.Snapshot(); snap[0].Fails < 1 {
		t.Fatalf("panic not counted as failure: %+v", snap)
	}
	if !s.Remove("boom") || s.Remove("boom") {
		t.Fatalf("Remove semantics wrong")
	}
}
