package share

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"fsubbot/internal/fsub/gate"
	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/fsub/token"
	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	"fsubbot/internal/transport/transporttest"
	logx "fsubbot/pkg/logx"
)

const (
	dbChat = int64(-1001234567890)
	owner  = int64(1)
	user   = int64(77)
	gated  = int64(-1009000000001)
)

type fixture struct {
	p      *Plugin
	client *transporttest.Client
	store  storage.Store
	cache  *membership.Cache
	codec  *token.Codec
}

func newFixture(t *testing.T, lim Limits) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}, 42, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	client := transporttest.New("fsub_bot")
	cache := membership.New(owner, st, client, nil, logx.Nop())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	codec, err := token.New(dbChat)
	if err != nil {
		t.Fatal(err)
	}
	p := New(Deps{
		DatabaseChatID: dbChat,
		Codec:          codec,
		Gate:           gate.New(cache, nil),
		Settings:       cache,
		Users:          st,
	}, lim)
	return &fixture{p: p, client: client, store: st, cache: cache, codec: codec}
}

func (f *fixture) gateChannel(t *testing.T) {
	t.Helper()
	f.client.Chats[gated] = kit.ChatInfo{ID: gated, Kind: kit.KindChannel, Title: "News", InviteLink: "https://t.me/+news"}
	if _, _, err := f.cache.AddGated(context.Background(), gated); err != nil {
		t.Fatalf("AddGated: %v", err)
	}
}

func (f *fixture) request(from int64, text string, args ...string) *router.Request {
	m := &kit.Message{ID: 10, ChatID: from, FromID: from, FromFirst: "Ann", FromName: "Ann <B>", Text: text, IsPrivate: true}
	return &router.Request{
		Message: m,
		Chat:    kit.ChatTarget{ChatID: from},
		FromID:  from,
		Args:    args,
		Client:  f.client,
		Logger:  logx.Nop(),
	}
}

func keyboard(t *testing.T, s transporttest.Sent) [][]tele.InlineButton {
	t.Helper()
	rm, ok := s.Opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok || rm == nil {
		t.Fatalf("reply has no inline keyboard: %+v", s.Opt)
	}
	return rm.InlineKeyboard
}

func TestStartWithoutTokenRegistersAndGreets(t *testing.T) {
	f := newFixture(t, Limits{})
	if err := f.p.handleStart(context.Background(), f.request(user, "/start")); err != nil {
		t.Fatal(err)
	}
	doc, _ := f.store.Load(context.Background())
	if !slices.Contains(doc.Users, user) {
		t.Fatalf("user not registered: %v", doc.Users)
	}
	last, _ := f.client.LastSent()
	if !strings.Contains(last.Text, `<a href="tg://user?id=77">Ann &lt;B&gt;</a>`) {
		t.Fatalf("greeting = %q", last.Text)
	}
	if last.Opt.ReplyTo != 10 {
		t.Fatalf("greeting should reply to the command, got %d", last.Opt.ReplyTo)
	}
}

func TestStartDeliversRange(t *testing.T) {
	f := newFixture(t, Limits{})
	tok := f.codec.Encode(token.Range{Start: 12, End: 10})
	if err := f.p.handleStart(context.Background(), f.request(user, "/start "+tok, tok)); err != nil {
		t.Fatal(err)
	}
	copies := f.client.CopiesSnapshot()
	var ids []int
	for _, c := range copies {
		if c.Src.ChatID != dbChat || c.To.ChatID != user {
			t.Fatalf("copy %+v", c)
		}
		ids = append(ids, c.Src.MessageID)
	}
	if !slices.Equal(ids, []int{10, 11, 12}) {
		t.Fatalf("delivered ids %v", ids)
	}
}

func TestStartGatedShowsJoinButtons(t *testing.T) {
	f := newFixture(t, Limits{})
	f.gateChannel(t)
	tok := f.codec.Encode(token.Single(5))

	if err := f.p.handleStart(context.Background(), f.request(user, "/start "+tok, tok)); err != nil {
		t.Fatal(err)
	}
	if n := len(f.client.CopiesSnapshot()); n != 0 {
		t.Fatalf("blocked user received %d copies", n)
	}
	last, _ := f.client.LastSent()
	kb := keyboard(t, last)
	if len(kb) != 2 || kb[0][0].Text != "Join Channel" || kb[0][0].URL != "https://t.me/+news" {
		t.Fatalf("keyboard %+v", kb)
	}
	if kb[1][0].Text != "Try Again" || kb[1][0].URL != "https://t.me/fsub_bot?start="+tok {
		t.Fatalf("retry button %+v", kb[1][0])
	}

	f.client.Join(gated, user)
	if err := f.p.handleStart(context.Background(), f.request(user, "/start "+tok, tok)); err != nil {
		t.Fatal(err)
	}
	if n := len(f.client.CopiesSnapshot()); n != 1 {
		t.Fatalf("after joining copies = %d, want 1", n)
	}
}

func TestStartOwnerBypassesGate(t *testing.T) {
	f := newFixture(t, Limits{})
	f.gateChannel(t)
	tok := f.codec.Encode(token.Single(5))
	if err := f.p.handleStart(context.Background(), f.request(owner, "/start "+tok, tok)); err != nil {
		t.Fatal(err)
	}
	if n := len(f.client.CopiesSnapshot()); n != 1 {
		t.Fatalf("owner copies = %d", n)
	}
}

func TestStartRejectsBadTokens(t *testing.T) {
	f := newFixture(t, Limits{MaxBatch: 5})
	big := f.codec.Encode(token.Range{Start: 1, End: 6})
	for _, tok := range []string{"garbage!", "aWQtMTIz", big} {
		if err := f.p.handleStart(context.Background(), f.request(user, "/start "+tok, tok)); err != nil {
			t.Fatal(err)
		}
		last, _ := f.client.LastSent()
		if last.Text != msgInvalidLink {
			t.Fatalf("token %q: reply %q", tok, last.Text)
		}
	}
	if n := len(f.client.CopiesSnapshot()); n != 0 {
		t.Fatalf("copies = %d", n)
	}
}

func TestStartProtectContent(t *testing.T) {
	f := newFixture(t, Limits{})
	if _, err := f.cache.SetFlag(context.Background(), storage.FlagProtect, true); err != nil {
		t.Fatal(err)
	}
	tok := f.codec.Encode(token.Single(3))
	_ = f.p.handleStart(context.Background(), f.request(user, "/start "+tok, tok))
	copies := f.client.CopiesSnapshot()
	if len(copies) != 1 || !copies[0].Opt.Protect {
		t.Fatalf("copies %+v", copies)
	}
}

func TestGenerateLink(t *testing.T) {
	f := newFixture(t, Limits{})
	req := f.request(owner, "some file")
	if err := f.p.handleGenerate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	copies := f.client.CopiesSnapshot()
	if len(copies) != 1 || copies[0].To.ChatID != dbChat || copies[0].Src.MessageID != 10 {
		t.Fatalf("copies %+v", copies)
	}
	last, _ := f.client.LastSent()
	tok, ok := strings.CutPrefix(last.Text, "https://t.me/fsub_bot?start=")
	if !ok {
		t.Fatalf("reply %q", last.Text)
	}
	r, err := f.codec.Decode(tok)
	if err != nil || r != token.Single(int64(copies[0].Ref.MessageID)) {
		t.Fatalf("decoded %+v err=%v", r, err)
	}
	if kb := keyboard(t, last); kb[0][0].URL != "https://t.me/share/url?url="+last.Text {
		t.Fatalf("share button %+v", kb[0][0])
	}

	if _, err := f.cache.SetFlag(context.Background(), storage.FlagGenerate, false); err != nil {
		t.Fatal(err)
	}
	_ = f.p.handleGenerate(context.Background(), f.request(owner, "another"))
	if n := len(f.client.CopiesSnapshot()); n != 1 {
		t.Fatalf("generate disabled but copied: %d", n)
	}
}

func TestBatch(t *testing.T) {
	f := newFixture(t, Limits{MaxBatch: 50})
	_ = f.p.handleBatch(context.Background(), f.request(owner, "", "https://t.me/c/1234567890/40", "20"))
	last, _ := f.client.LastSent()
	tok := strings.TrimPrefix(last.Text, "https://t.me/fsub_bot?start=")
	r, err := f.codec.Decode(tok)
	if err != nil || r != (token.Range{Start: 20, End: 40}) {
		t.Fatalf("reply %q decoded %+v err=%v", last.Text, r, err)
	}

	_ = f.p.handleBatch(context.Background(), f.request(owner, "", "1", "100"))
	last, _ = f.client.LastSent()
	if !strings.HasPrefix(last.Text, "<b>Too many messages!</b>") {
		t.Fatalf("reply %q", last.Text)
	}
}

func TestParseStoredRef(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"15", 15, true},
		{"t.me/c/1234567890/15", 15, true},
		{"https://t.me/c/1234567890/7/15", 15, true},
		{"https://t.me/c/999/15", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"https://t.me/somechannel/15", 0, false},
		{"https://t.me/c/1234567890/x", 0, false},
	}
	for _, tc := range cases {
		got, err := parseStoredRef(tc.in, dbChat)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("parseStoredRef(%q) = %d, %v", tc.in, got, err)
		}
	}
}

func TestFormatGreeting(t *testing.T) {
	m := &kit.Message{FromID: 5, FromUsername: "ann", FromFirst: "Ann", FromLast: "Lee", FromName: "Ann Lee"}
	got := FormatGreeting("{first_name}|{last_name}|{full_name}|{username}|{user_id}", m)
	if got != "Ann|Lee|Ann Lee|@ann|5" {
		t.Fatalf("got %q", got)
	}
}
