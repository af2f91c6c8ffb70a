package storage

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	logx "fsubbot/pkg/logx"
)

const testBot = int64(123456)

// exerciseStore runs the same behavioural checks against any driver.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	d, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(d.Admins)+len(d.Gated)+len(d.Users) != 0 || d.Progress != nil || d.Restart != nil {
		t.Fatalf("expected empty document, got %+v", d)
	}

	for _, v := range []int64{-1003, -1001, -1002} {
		if added, err := s.AddValue(ctx, FieldGated, v); err != nil || !added {
			t.Fatalf("AddValue(%d) = %v, %v", v, added, err)
		}
	}
	if added, err := s.AddValue(ctx, FieldGated, -1001); err != nil || added {
		t.Fatalf("duplicate AddValue = %v, %v", added, err)
	}
	if removed, err := s.RemoveValue(ctx, FieldGated, -1001); err != nil || !removed {
		t.Fatalf("RemoveValue = %v, %v", removed, err)
	}
	if removed, err := s.RemoveValue(ctx, FieldGated, -9); err != nil || removed {
		t.Fatalf("RemoveValue missing = %v, %v", removed, err)
	}
	if err := s.ReplaceList(ctx, FieldAdmins, []int64{7, 5, 7, 9}); err != nil {
		t.Fatalf("ReplaceList: %v", err)
	}
	if _, err := s.AddValue(ctx, FieldUsers, 42); err != nil {
		t.Fatal(err)
	}

	if err := s.SetProgress(ctx, Progress{ChatID: 11, MessageID: 22}); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if err := s.SetRestart(ctx, RestartNote{ChatID: 1, MessageID: 30, CommandID: 29}); err != nil {
		t.Fatalf("SetRestart: %v", err)
	}
	if err := s.SetText(ctx, TextStart, "hi {first_name}"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFlag(ctx, FlagProtect, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddValue(ctx, ListField("bogus"), 1); err == nil {
		t.Fatalf("expected unknown field error")
	}

	d, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !slices.Equal(d.Gated, []int64{-1003, -1002}) {
		t.Fatalf("gated order = %v", d.Gated)
	}
	if !slices.Equal(d.Admins, []int64{7, 5, 9}) {
		t.Fatalf("admins = %v", d.Admins)
	}
	if !slices.Equal(d.Users, []int64{42}) {
		t.Fatalf("users = %v", d.Users)
	}
	if d.Progress == nil || *d.Progress != (Progress{ChatID: 11, MessageID: 22}) {
		t.Fatalf("progress = %+v", d.Progress)
	}
	if d.Restart == nil || *d.Restart != (RestartNote{ChatID: 1, MessageID: 30, CommandID: 29}) {
		t.Fatalf("restart = %+v", d.Restart)
	}
	if d.Progress.ChatID != 11 {
		t.Fatalf("restart note clobbered progress: %+v", d.Progress)
	}
	if d.Texts[TextStart] != "hi {first_name}" || !d.Flags[FlagProtect] {
		t.Fatalf("settings = %+v %+v", d.Texts, d.Flags)
	}
	if _, ok := d.Flags[FlagGenerate]; ok {
		t.Fatalf("unset flag must be absent")
	}

	if err := s.ClearProgress(ctx); err != nil {
		t.Fatalf("ClearProgress: %v", err)
	}
	if err := s.ClearRestart(ctx); err != nil {
		t.Fatalf("ClearRestart: %v", err)
	}
	if err := s.AppendAudit(ctx, AuditEntry{ActorID: 7, Plugin: "admin", Action: "fsub.add", Target: "-1003", OK: 1}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	d, _ = s.Load(ctx)
	if d.Progress != nil || d.Restart != nil {
		t.Fatalf("pointers not cleared: %+v %+v", d.Progress, d.Restart)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "bot.json")
	s, err := Open(Config{Driver: "file", Path: path}, testBot, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: state survives.
	s, err = Open(Config{Driver: "file", Path: path}, testBot, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	d, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(d.Gated, []int64{-1003, -1002}) {
		t.Fatalf("gated after reopen = %v", d.Gated)
	}

	if _, err := Open(Config{Driver: "file", Path: path}, 999, logx.Nop()); err != nil {
		t.Fatalf("other bot id uses its own document: %v", err)
	}
}

func TestFileStoreClosed(t *testing.T) {
	s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}, testBot, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	if _, err := s.AddValue(context.Background(), FieldUsers, 1); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.db")
	s, err := Open(Config{Driver: "sqlite", Path: path}, testBot, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("FSUBBOT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FSUBBOT_TEST_REDIS_URL not set")
	}
	prefix := "fsubbot-test-" + filepath.Base(t.TempDir())
	s, err := Open(Config{Driver: "redis", RedisURL: url, KeyPrefix: prefix}, testBot, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mongo"}, testBot, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(Config{Driver: "file", Path: "x"}, 0, logx.Nop()); err == nil {
		t.Fatalf("expected bot id error")
	}
}
