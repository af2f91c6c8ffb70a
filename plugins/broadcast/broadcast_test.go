package broadcast

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	engine "fsubbot/internal/broadcast"
	"fsubbot/internal/eventbus"
	"fsubbot/internal/fsub/membership"
	rtsup "fsubbot/internal/runtime/supervisor"
	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	"fsubbot/internal/transport/transporttest"
	logx "fsubbot/pkg/logx"
)

type fakeEngine struct {
	status  engine.Status
	started []engine.StartRequest
	err     error
	stopped bool
}

func (f *fakeEngine) Start(_ context.Context, req engine.StartRequest) (engine.RunHandle, error) {
	if f.err != nil {
		return engine.RunHandle{}, f.err
	}
	f.started = append(f.started, req)
	return engine.RunHandle{ID: "run", Total: 3}, nil
}

func (f *fakeEngine) Stop() bool {
	was := f.status.Running
	f.status.Running = false
	f.stopped = true
	return was
}

func (f *fakeEngine) Status() engine.Status { return f.status }

type fixedSettings struct{ s membership.Settings }

func (f fixedSettings) Settings() membership.Settings { return f.s }

func request(client *transporttest.Client, replyTo *kit.MessageRef) *router.Request {
	return &router.Request{
		Message: &kit.Message{ID: 9, ChatID: 1, FromID: 1, IsPrivate: true, ReplyTo: replyTo},
		Chat:    kit.ChatTarget{ChatID: 1},
		FromID:  1,
		Client:  client,
		Logger:  logx.Nop(),
	}
}

func TestBroadcastNeedsReply(t *testing.T) {
	client := transporttest.New("bot")
	p := New(&fakeEngine{}, fixedSettings{})
	if err := p.handleBroadcast(context.Background(), request(client, nil)); err != nil {
		t.Fatal(err)
	}
	if last, _ := client.LastSent(); last.Text != msgNeedReply {
		t.Fatalf("reply %q", last.Text)
	}
}

func TestBroadcastStatusWhileRunning(t *testing.T) {
	client := transporttest.New("bot")
	eng := &fakeEngine{status: engine.Status{Running: true, Sent: 4, Failed: 1, Total: 10}}
	p := New(eng, fixedSettings{})
	_ = p.handleBroadcast(context.Background(), request(client, nil))
	last, _ := client.LastSent()
	if last.Text != engine.FormatStatus(eng.status) || last.Opt.ReplyMarkupAdapter == nil {
		t.Fatalf("reply %+v", last)
	}
	src := &kit.MessageRef{ChatID: 1, MessageID: 3}
	eng.err = engine.ErrAlreadyRunning
	_ = p.handleBroadcast(context.Background(), request(client, src))
	if last, _ := client.LastSent(); last.Text != msgBusy {
		t.Fatalf("reply %q", last.Text)
	}
}

func TestBroadcastStartPassesProtect(t *testing.T) {
	client := transporttest.New("bot")
	eng := &fakeEngine{}
	p := New(eng, fixedSettings{membership.Settings{ProtectContent: true}})
	src := &kit.MessageRef{ChatID: 1, MessageID: 3}
	_ = p.handleBroadcast(context.Background(), request(client, src))
	if len(eng.started) != 1 {
		t.Fatalf("started %d runs", len(eng.started))
	}
	got := eng.started[0]
	if got.Source != *src || got.CommandID != 9 || !got.Protect || got.ActorID != 1 {
		t.Fatalf("start request %+v", got)
	}
}

func TestStop(t *testing.T) {
	client := transporttest.New("bot")
	eng := &fakeEngine{status: engine.Status{Running: true}}
	p := New(eng, fixedSettings{})
	_ = p.handleStop(context.Background(), request(client, nil))
	_ = p.handleStop(context.Background(), request(client, nil))
	texts := client.Texts()
	if len(texts) != 2 || texts[0] != msgStopped || texts[1] != msgIdle {
		t.Fatalf("texts %q", texts)
	}
}

func TestRefreshCallback(t *testing.T) {
	client := transporttest.New("bot")
	eng := &fakeEngine{status: engine.Status{Running: true, Sent: 250, Total: 900}}
	p := New(eng, fixedSettings{})
	req := &router.Request{
		Callback: &kit.Callback{ID: "q", ChatID: 1, MessageID: 77},
		Client:   client,
		Logger:   logx.Nop(),
	}
	if err := p.handleRefresh(context.Background(), req, ""); err != nil {
		t.Fatal(err)
	}
	if n := len(client.Edits); n != 2 || client.Edits[1].Text != engine.FormatStatus(eng.status) || client.Edits[1].Ref.MessageID != 77 {
		t.Fatalf("edits %+v", client.Edits)
	}
}

// A full run through the real engine: the replied message reaches every
// non-admin user and the final report replies to the command.
func TestBroadcastEndToEnd(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}, 5, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	for _, uid := range []int64{1, 10, 11, 12} {
		_, _ = st.AddValue(ctx, storage.FieldUsers, uid)
	}
	client := transporttest.New("bot")
	cache := membership.New(1, st, client, nil, logx.Nop())
	if err := cache.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	sup := rtsup.New(ctx)
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	eng := engine.New(engine.Config{Markup: Markup()}, client, st, cache, sup, eventbus.Nop(), nil, logx.Nop())

	p := New(eng, cache)
	if err := p.handleBroadcast(ctx, request(client, &kit.MessageRef{ChatID: 1, MessageID: 3})); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if res, ok := eng.Last(); ok {
			if res.Label != engine.Completed || res.Sent != 3 {
				t.Fatalf("result %+v", res)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(client.CopiesSnapshot()); n != 3 {
		t.Fatalf("copies %d, want 3 (owner excluded)", n)
	}
	last, _ := client.LastSent()
	if !strings.HasPrefix(last.Text, "<b>Broadcast Completed</b>") || last.Opt.ReplyTo != 9 {
		t.Fatalf("final %+v", last)
	}
}
