package admin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fsubbot/internal/eventbus"
	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	"fsubbot/internal/transport/transporttest"
	logx "fsubbot/pkg/logx"
)

const owner = int64(1)

type fixture struct {
	p      *Plugin
	client *transporttest.Client
	store  storage.Store
	cache  *membership.Cache
	bus    eventbus.Bus
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}, 3, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	client := transporttest.New("bot")
	cache := membership.New(owner, st, client, nil, logx.Nop())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New()
	deps := Deps{Members: cache, Store: st, Bus: bus}
	for _, o := range opts {
		o(&deps)
	}
	p := New(deps)
	return &fixture{p: p, client: client, store: st, cache: cache, bus: bus}
}

func (f *fixture) req(from int64, text string, args ...string) *router.Request {
	return &router.Request{
		Message: &kit.Message{ID: 4, ChatID: from, FromID: from, IsPrivate: true},
		Chat:    kit.ChatTarget{ChatID: from},
		FromID:  from,
		Args:    args,
		Text:    text,
		Client:  f.client,
		Logger:  logx.Nop(),
	}
}

func (f *fixture) lastText(t *testing.T) string {
	t.Helper()
	s, ok := f.client.LastSent()
	if !ok {
		t.Fatalf("nothing sent")
	}
	return s.Text
}

func TestFsubAddValidatesBeforeStoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events, unsub := f.bus.Subscribe(4)
	defer unsub()

	_ = f.p.handleFsubAdd(ctx, f.req(owner, "", "-1002"))
	if got := f.lastText(t); got != "<b>That's Chat ID isn't valid!</b>" {
		t.Fatalf("reply %q", got)
	}
	if doc, _ := f.store.Load(ctx); len(doc.Gated) != 0 {
		t.Fatalf("invalid chat stored: %v", doc.Gated)
	}

	f.client.Chats[-1002] = kit.ChatInfo{ID: -1002, Kind: kit.KindChannel, Title: "Main", InviteLink: "https://t.me/+m"}
	_ = f.p.handleFsubAdd(ctx, f.req(owner, "", "-1002"))
	if got := f.lastText(t); got != "Added new F-Sub: <code>-1002</code> (channel)" {
		t.Fatalf("reply %q", got)
	}
	select {
	case e := <-events:
		if e.Type != eventbus.GateRefreshed {
			t.Fatalf("event %+v", e)
		}
	default:
		t.Fatalf("no gate event")
	}
	_ = f.p.handleFsubAdd(ctx, f.req(owner, "", "-1002"))
	if got := f.lastText(t); got != "<b>That's Chat ID already added!</b>" {
		t.Fatalf("reply %q", got)
	}

	_ = f.p.handleFsubList(ctx, f.req(owner, ""))
	if got := f.lastText(t); !strings.Contains(got, "1. <code>-1002</code> channel") {
		t.Fatalf("list %q", got)
	}

	_ = f.p.handleFsubDel(ctx, f.req(owner, "", "-1002"))
	if got := f.lastText(t); got != "The F-Sub has been deleted: <code>-1002</code>" {
		t.Fatalf("reply %q", got)
	}
	if len(f.cache.GatedChats()) != 0 {
		t.Fatalf("cache still gated")
	}
	_ = f.p.handleFsubList(ctx, f.req(owner, ""))
	if got := f.lastText(t); got != "<b>List F-Subs</b>:\n  <code>None</code>" {
		t.Fatalf("list %q", got)
	}
}

func TestAdminMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		call func() error
		want string
	}{
		{"add", func() error { return f.p.handleAdminAdd(ctx, f.req(owner, "", "55")) }, "Added new Admin: <code>55</code>"},
		{"add again", func() error { return f.p.handleAdminAdd(ctx, f.req(owner, "", "55")) }, "<b>That's User ID already added!</b>"},
		{"add junk", func() error { return f.p.handleAdminAdd(ctx, f.req(owner, "", "abc")) }, "<b>Invalid! Just send a User ID.</b>"},
		{"del self", func() error { return f.p.handleAdminDel(ctx, f.req(owner, "", "1")) }, "<b>No rights! That's Yours.</b>"},
		{"del", func() error { return f.p.handleAdminDel(ctx, f.req(owner, "", "55")) }, "The Admin has been deleted: <code>55</code>"},
		{"del missing", func() error { return f.p.handleAdminDel(ctx, f.req(owner, "", "55")) }, "<b>That's User ID not found!</b>"},
	}
	for _, tc := range cases {
		if err := tc.call(); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := f.lastText(t); got != tc.want {
			t.Fatalf("%s: reply %q want %q", tc.name, got, tc.want)
		}
	}
	if f.cache.IsAdmin(55) {
		t.Fatalf("55 still admin")
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	protect := f.p.flagSetter(storage.FlagProtect, "Protect Content")
	_ = protect(ctx, f.req(owner, ""))
	if got := f.lastText(t); got != "Currently Protect Content is <b>False</b>" {
		t.Fatalf("reply %q", got)
	}
	_ = protect(ctx, f.req(owner, "on", "on"))
	if !f.cache.Settings().ProtectContent {
		t.Fatalf("protect not set")
	}
	_ = protect(ctx, f.req(owner, "toggle", "toggle"))
	if f.cache.Settings().ProtectContent {
		t.Fatalf("toggle did not flip")
	}

	start := f.p.textSetter(storage.TextStart, "Start")
	_ = start(ctx, f.req(owner, "Hi <b>{first_name}</b>"))
	if got := f.cache.Settings().StartText; got != "Hi <b>{first_name}</b>" {
		t.Fatalf("start text %q", got)
	}
	_ = start(ctx, f.req(owner, ""))
	if got := f.lastText(t); got != "<b>Start Text:</b>\n  Hi <b>{first_name}</b>" {
		t.Fatalf("reply %q", got)
	}

	doc, _ := f.store.Load(ctx)
	if doc.Texts[storage.TextStart] != "Hi <b>{first_name}</b>" {
		t.Fatalf("not persisted: %+v", doc.Texts)
	}
}

func TestUsersExcludesAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, uid := range []int64{owner, 8, 9} {
		_, _ = f.store.AddValue(ctx, storage.FieldUsers, uid)
	}
	_ = f.p.handleUsers(ctx, f.req(owner, ""))
	if n := len(f.client.Edits); n != 1 || !strings.HasSuffix(f.client.Edits[0].Text, "<code>Users :</code> 2") {
		t.Fatalf("edits %+v", f.client.Edits)
	}
}

func TestCloseDeletesBoth(t *testing.T) {
	f := newFixture(t)
	req := &router.Request{
		Callback: &kit.Callback{ChatID: 1, MessageID: 20, ReplyTo: &kit.MessageRef{ChatID: 1, MessageID: 19}},
		Client:   f.client,
		Logger:   logx.Nop(),
	}
	if err := f.p.handleClose(context.Background(), req, ""); err != nil {
		t.Fatal(err)
	}
	if len(f.client.Deleted) != 2 || f.client.Deleted[0].MessageID != 19 || f.client.Deleted[1].MessageID != 20 {
		t.Fatalf("deleted %+v", f.client.Deleted)
	}
}

func TestUptime(t *testing.T) {
	started := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	now := started.Add(26*time.Hour + 5*time.Minute)
	p := New(Deps{Started: started, Now: func() time.Time { return now }})
	got := p.uptimeText()
	want := "<b>Bot Uptime</b>\n  - <code>Since:</code> January 02, 2026 at 03:04 PM\n  - <code>Total:</code> 1 Day, 2 Hours"
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestOwnerOnlyProcessCommands(t *testing.T) {
	p := New(Deps{})
	want := map[string]string{"logs": "log", "restart": "r"}
	for _, c := range p.Commands() {
		alias, ok := want[c.Route]
		if !ok {
			continue
		}
		if c.Access != router.AccessOwner || len(c.Aliases) != 1 || c.Aliases[0] != alias {
			t.Fatalf("%s: access=%v aliases=%v", c.Route, c.Access, c.Aliases)
		}
		delete(want, c.Route)
	}
	if len(want) != 0 {
		t.Fatalf("missing commands: %v", want)
	}
}

func TestLogs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.log")

	f := newFixture(t)
	_ = f.p.handleLogs(ctx, f.req(owner, ""))
	if got := f.lastText(t); got != "<b>File logging is disabled.</b>" {
		t.Fatalf("reply %q", got)
	}

	f = newFixture(t, func(d *Deps) { d.LogFile = func() string { return path } })
	_ = f.p.handleLogs(ctx, f.req(owner, ""))
	if got := f.lastText(t); got != "<b>No logs yet.</b>" {
		t.Fatalf("reply %q", got)
	}

	if err := os.WriteFile(path, []byte(`{"level":"info","message":"hello"}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.p.handleLogs(ctx, f.req(owner, "")); err != nil {
		t.Fatal(err)
	}
	if len(f.client.Documents) != 1 {
		t.Fatalf("documents %+v", f.client.Documents)
	}
	d := f.client.Documents[0]
	if d.Path != path || d.Caption != "<b>Bot Logs</b>" || d.To.ChatID != owner || d.Opt.ReplyTo != 4 {
		t.Fatalf("document %+v", d)
	}
}

func TestRestartRoundTrip(t *testing.T) {
	ctx := context.Background()
	restarts := 0
	f := newFixture(t, func(d *Deps) { d.Restart = func() { restarts++ } })

	if err := f.p.handleRestart(ctx, f.req(owner, "")); err != nil {
		t.Fatal(err)
	}
	notice, _ := f.client.LastSent()
	if notice.Text != "<b>Restarting...</b>" || restarts != 1 {
		t.Fatalf("reply %q restarts=%d", notice.Text, restarts)
	}
	doc, _ := f.store.Load(ctx)
	want := storage.RestartNote{ChatID: owner, MessageID: notice.Ref.MessageID, CommandID: 4}
	if doc.Restart == nil || *doc.Restart != want {
		t.Fatalf("note %+v want %+v", doc.Restart, want)
	}

	// The next process reads the note from the same store.
	next := New(Deps{Members: f.cache, Store: f.store})
	client := transporttest.New("bot")
	if n := next.AnnounceStartup(ctx, client); n != 1 {
		t.Fatalf("reached %d admins", n)
	}
	if len(client.Sent) != 2 {
		t.Fatalf("sent %+v", client.Sent)
	}
	if s := client.Sent[0]; s.Text != "<b>Bot Restarted!</b>" || s.To.ChatID != owner || s.Opt.ReplyTo != 4 {
		t.Fatalf("restart reply %+v", s)
	}
	if len(client.Deleted) != 1 || client.Deleted[0] != (kit.MessageRef{ChatID: owner, MessageID: notice.Ref.MessageID}) {
		t.Fatalf("deleted %+v", client.Deleted)
	}
	if doc, _ := f.store.Load(ctx); doc.Restart != nil {
		t.Fatalf("note not cleared")
	}

	// A plain start answers nothing.
	client = transporttest.New("bot")
	next.AnnounceStartup(ctx, client)
	if len(client.Sent) != 1 || len(client.Deleted) != 0 || strings.Contains(client.Sent[0].Text, "Restarted") {
		t.Fatalf("sent %+v deleted %+v", client.Sent, client.Deleted)
	}
}

func TestRestartUnavailable(t *testing.T) {
	f := newFixture(t)
	_ = f.p.handleRestart(context.Background(), f.req(owner, ""))
	if got := f.lastText(t); got != "<b>Restart is not available.</b>" {
		t.Fatalf("reply %q", got)
	}
	if doc, _ := f.store.Load(context.Background()); doc.Restart != nil {
		t.Fatalf("note written without a restart hook")
	}
}

func TestAnnounceStartupSkipsUnreachableAdmins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(d *Deps) { d.OwnerUsername = "boss" })
	for _, id := range []int64{55, 66} {
		if _, err := f.cache.AddAdmin(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	f.client.SendHook = func(to kit.ChatTarget) error {
		if to.ChatID == 55 {
			return &kit.RejectedError{Code: 403, Description: "bot can't initiate conversation with a user"}
		}
		return nil
	}

	if n := f.p.AnnounceStartup(ctx, f.client); n != 2 {
		t.Fatalf("reached %d want 2", n)
	}
	var to []int64
	for _, s := range f.client.Sent {
		to = append(to, s.To.ChatID)
		if !strings.Contains(s.Text, "<b>Bot Activated!</b>") || !strings.Contains(s.Text, "@bot") {
			t.Fatalf("notice %q", s.Text)
		}
		if s.Opt.ReplyMarkupAdapter == nil {
			t.Fatalf("notice without contact button")
		}
	}
	if len(to) != 2 || to[0] != owner || to[1] != 66 {
		t.Fatalf("notified %v", to)
	}
}

type failingRestartStore struct {
	Store
}

func (failingRestartStore) SetRestart(context.Context, storage.RestartNote) error {
	return errors.New("disk full")
}

func TestRestartNotRequestedWhenNoteFails(t *testing.T) {
	restarts := 0
	f := newFixture(t, func(d *Deps) {
		d.Restart = func() { restarts++ }
		d.Store = failingRestartStore{Store: d.Store}
	})
	if err := f.p.handleRestart(context.Background(), f.req(owner, "")); err != nil {
		t.Fatal(err)
	}
	if restarts != 0 {
		t.Fatalf("restarted without a note")
	}
	if len(f.client.Edits) != 1 || f.client.Edits[0].Text != msgError {
		t.Fatalf("edits %+v", f.client.Edits)
	}
}
