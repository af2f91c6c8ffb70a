// Package broadcast fans one stored message out to every known user.
//
// A run is sequential: one outstanding send at a time. Platform rate-limit
// waits are honoured exactly and the same recipient is retried; rejected
// recipients are counted and pruned from the user list; other errors skip the
// recipient without bookkeeping. At most one run is live.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fsubbot/internal/eventbus"
	"fsubbot/internal/observability/metrics"
	rtsup "fsubbot/internal/runtime/supervisor"
	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	logx "fsubbot/pkg/logx"
)

// ProgressEvery is the number of counted deliveries between progress edits.
const ProgressEvery = 250

var ErrAlreadyRunning = errors.New("broadcast: a run is already in progress")

// Label is the terminal status of a run.
type Label string

const (
	Completed Label = "Completed"
	Stopped   Label = "Stopped"
	// Interrupted runs ended with the process and were never finalized.
	Interrupted Label = "Interrupted"
)

type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	CopyMessage(ctx context.Context, to kit.ChatTarget, src kit.MessageRef, opt *kit.CopyOptions) (kit.MessageRef, error)
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
}

type Store interface {
	Load(ctx context.Context) (storage.Document, error)
	RemoveValue(ctx context.Context, f storage.ListField, v int64) (bool, error)
	SetProgress(ctx context.Context, p storage.Progress) error
	ClearProgress(ctx context.Context) error
}

type Admins interface {
	IsAdmin(uid int64) bool
}

// Markup supplies adapter-specific keyboards for engine messages.
type Markup struct {
	Progress any
	Final    any
}

type Config struct {
	// RatePerSec paces sends on top of platform waits; 0 disables pacing.
	RatePerSec float64
	Markup     Markup
}

// StartRequest describes a run.
type StartRequest struct {
	// Chat and CommandID locate the admin's command; progress and final
	// messages reply to it.
	Chat      kit.ChatTarget
	CommandID int
	// Source is the message copied to every recipient.
	Source  kit.MessageRef
	Protect bool
	ActorID int64
}

type RunHandle struct {
	ID    string
	Total int
	Done  <-chan struct{}
}

// Status is a point-in-time view of the engine.
type Status struct {
	RunID     string
	Running   bool
	Sent      int
	Failed    int
	Skipped   int
	Total     int
	StartedAt time.Time
}

// Result is published when a run ends.
type Result struct {
	Status
	Label    Label
	Duration time.Duration
}

type Engine struct {
	send   Sender
	store  Store
	admins Admins
	sup    *rtsup.Supervisor
	bus    eventbus.Bus
	m      *metrics.Metrics
	log    logx.Logger
	markup Markup

	limiter atomic.Pointer[rate.Limiter]
	// active is the cooperative cancellation flag.
	active atomic.Bool

	mu   sync.Mutex
	st   Status
	run  *run
	last *Result
}

type run struct {
	req      StartRequest
	progress kit.MessageRef
	users    []int64
	done     chan struct{}
}

// New builds an engine whose runs live under sup; canceling sup ends a run
// without finalizing it so startup recovery can report it.
func New(cfg Config, send Sender, store Store, admins Admins, sup *rtsup.Supervisor, bus eventbus.Bus, m *metrics.Metrics, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	e := &Engine{
		send:   send,
		store:  store,
		admins: admins,
		sup:    sup,
		bus:    bus,
		m:      m,
		log:    log,
		markup: cfg.Markup,
	}
	e.SetRate(cfg.RatePerSec)
	return e
}

// SetRate changes pacing; safe while a run is active.
func (e *Engine) SetRate(perSec float64) {
	if perSec <= 0 {
		e.limiter.Store(nil)
		return
	}
	if lim := e.limiter.Load(); lim != nil {
		lim.SetLimit(rate.Limit(perSec))
		return
	}
	e.limiter.Store(rate.NewLimiter(rate.Limit(perSec), 1))
}

// Status is safe to call while running.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// Last returns the result of the most recent finished run, if any.
func (e *Engine) Last() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Result{}, false
	}
	return *e.last, true
}

// Start begins a run or returns ErrAlreadyRunning without touching counters.
func (e *Engine) Start(ctx context.Context, req StartRequest) (RunHandle, error) {
	e.mu.Lock()
	if e.st.Running || e.run != nil {
		e.mu.Unlock()
		return RunHandle{}, ErrAlreadyRunning
	}
	// Reserve the slot so concurrent starts are rejected while we set up.
	r := &run{req: req, done: make(chan struct{})}
	e.run = r
	e.mu.Unlock()

	h, err := e.prepare(ctx, r)
	if err != nil {
		e.mu.Lock()
		e.run = nil
		e.mu.Unlock()
		return RunHandle{}, err
	}
	return h, nil
}

func (e *Engine) prepare(ctx context.Context, r *run) (RunHandle, error) {
	req := r.req
	progress, err := e.send.SendText(ctx, req.Chat, "<b>Broadcasting...</b>", &kit.SendOptions{
		ParseMode:          "HTML",
		ReplyTo:            req.CommandID,
		ReplyMarkupAdapter: e.markup.Progress,
	})
	if err != nil {
		return RunHandle{}, fmt.Errorf("send progress message: %w", err)
	}

	doc, err := e.store.Load(ctx)
	if err != nil {
		_ = e.send.DeleteMessage(ctx, progress)
		return RunHandle{}, fmt.Errorf("load users: %w", err)
	}
	users := make([]int64, 0, len(doc.Users))
	for _, uid := range doc.Users {
		if e.admins == nil || !e.admins.IsAdmin(uid) {
			users = append(users, uid)
		}
	}

	if err := e.store.SetProgress(ctx, storage.Progress{ChatID: progress.ChatID, MessageID: progress.MessageID}); err != nil {
		_ = e.send.DeleteMessage(ctx, progress)
		return RunHandle{}, fmt.Errorf("persist progress pointer: %w", err)
	}

	r.progress = progress
	r.users = users
	id := uuid.NewString()

	e.mu.Lock()
	// Armed before Running is visible so a concurrent Stop always sticks.
	e.active.Store(true)
	e.st = Status{RunID: id, Running: true, Total: len(users), StartedAt: time.Now()}
	st := e.st
	e.mu.Unlock()

	e.m.BroadcastRunning(true)
	e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastStarted, Data: st})
	e.log.Info("broadcast started", logx.String("run", id), logx.Int("total", len(users)), logx.Int64("actor_id", req.ActorID))

	e.sup.Go0("broadcast.run", func(c context.Context) { e.loop(c, r) })
	return RunHandle{ID: id, Total: len(users), Done: r.done}, nil
}

// Stop clears the cancellation flag; the loop notices before the next
// recipient. It reports whether a run was live.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	running := e.st.Running
	e.mu.Unlock()
	if !running {
		return false
	}
	e.active.Store(false)
	return true
}

func (e *Engine) loop(ctx context.Context, r *run) {
	defer close(r.done)
	i := 0
	for i < len(r.users) {
		if !e.active.Load() || ctx.Err() != nil {
			break
		}
		if lim := e.limiter.Load(); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				break
			}
		}

		uid := r.users[i]
		_, err := e.send.CopyMessage(ctx, kit.ChatTarget{ChatID: uid}, r.req.Source, &kit.CopyOptions{Protect: r.req.Protect})
		if err == nil {
			e.count(ctx, r, true)
			i++
			continue
		}
		if rl, ok := kit.AsRateLimit(err); ok {
			e.m.RateLimitWait()
			e.log.Warn("broadcast rate limited", logx.Int64("user_id", uid), logx.Duration("wait", rl.Wait))
			if !sleep(ctx, rl.Wait) {
				break
			}
			continue
		}
		if kit.IsRejected(err) {
			if _, derr := e.store.RemoveValue(ctx, storage.FieldUsers, uid); derr != nil {
				e.log.Error("failed pruning unreachable user", logx.Int64("user_id", uid), logx.Err(derr))
			}
			e.log.Debug("broadcast recipient rejected", logx.Int64("user_id", uid), logx.Err(err))
			e.count(ctx, r, false)
			i++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		e.m.Delivery("skipped")
		e.mu.Lock()
		e.st.Skipped++
		e.mu.Unlock()
		e.log.Debug("broadcast recipient skipped", logx.Int64("user_id", uid), logx.Err(err))
		i++
	}

	if ctx.Err() != nil {
		e.abandon(r)
		return
	}
	e.finalize(ctx, r)
}

// count records one success or rejection and edits the progress message on
// every ProgressEvery-th counted delivery.
func (e *Engine) count(ctx context.Context, r *run, sent bool) {
	e.mu.Lock()
	if sent {
		e.st.Sent++
	} else {
		e.st.Failed++
	}
	st := e.st
	e.mu.Unlock()

	if sent {
		e.m.Delivery("sent")
	} else {
		e.m.Delivery("failed")
	}
	if (st.Sent+st.Failed)%ProgressEvery != 0 {
		return
	}
	if err := e.send.EditText(ctx, r.progress, FormatStatus(st), &kit.SendOptions{
		ParseMode:          "HTML",
		ReplyMarkupAdapter: e.markup.Progress,
	}); err != nil {
		e.log.Debug("progress edit failed", logx.Err(err))
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastProgress, Data: st})
}

func (e *Engine) finalize(ctx context.Context, r *run) {
	st := e.Status()
	label := Stopped
	if st.Sent+st.Failed == st.Total {
		label = Completed
	}

	text := fmt.Sprintf("<b>Broadcast %s</b>\n%s", label, formatCounters(st))
	if _, err := e.send.SendText(ctx, r.req.Chat, text, &kit.SendOptions{
		ParseMode:          "HTML",
		ReplyTo:            r.req.CommandID,
		ReplyMarkupAdapter: e.markup.Final,
	}); err != nil {
		e.log.Warn("final broadcast message failed", logx.Err(err))
	}
	if err := e.store.ClearProgress(ctx); err != nil {
		e.log.Error("failed clearing progress pointer", logx.Err(err))
	}
	if err := e.send.DeleteMessage(ctx, r.progress); err != nil {
		e.log.Debug("progress message delete failed", logx.Err(err))
	}
	e.reset(r, st, label)
}

// abandon resets in-memory state on shutdown and leaves the persisted
// pointer for RecoverInterrupted.
func (e *Engine) abandon(r *run) {
	st := e.Status()
	e.log.Warn("broadcast interrupted by shutdown", logx.String("run", st.RunID), logx.Int("sent", st.Sent), logx.Int("failed", st.Failed), logx.Int("total", st.Total))
	e.reset(r, st, Interrupted)
}

func (e *Engine) reset(r *run, st Status, label Label) {
	res := Result{Status: st, Label: label, Duration: time.Since(st.StartedAt)}
	res.Running = false

	e.active.Store(false)
	e.mu.Lock()
	e.st = Status{}
	if e.run == r {
		e.run = nil
	}
	e.last = &res
	e.mu.Unlock()

	e.m.BroadcastRunning(false)
	e.m.BroadcastFinished(string(label))
	e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Data: res})
	e.log.Info("broadcast finished", logx.String("run", st.RunID), logx.String("status", string(label)),
		logx.Int("sent", st.Sent), logx.Int("failed", st.Failed), logx.Int("skipped", st.Skipped),
		logx.Int("total", st.Total), logx.Duration("dur", res.Duration))
}

// RecoverInterrupted reports a run that died with the previous process and
// clears its pointer. Runs are never resumed.
func (e *Engine) RecoverInterrupted(ctx context.Context) (bool, error) {
	doc, err := e.store.Load(ctx)
	if err != nil {
		return false, err
	}
	p := doc.Progress
	if p == nil {
		return false, nil
	}
	ref := kit.MessageRef{ChatID: p.ChatID, MessageID: p.MessageID}
	e.log.Info("found interrupted broadcast", logx.Int64("chat_id", p.ChatID), logx.Int("message_id", p.MessageID))

	if _, err := e.send.SendText(ctx, kit.ChatTarget{ChatID: p.ChatID},
		"<b>Bot restarted.</b>\nThe running broadcast was interrupted; start it again if needed.",
		&kit.SendOptions{ParseMode: "HTML", ReplyTo: p.MessageID}); err != nil {
		e.log.Warn("interrupted broadcast notice failed", logx.Err(err))
	}
	if err := e.store.ClearProgress(ctx); err != nil {
		return true, err
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.BroadcastInterrupted, Data: ref})
	return true, nil
}

// FormatStatus renders the live status block.
func FormatStatus(st Status) string {
	return "<b>Broadcast Status</b>\n" + formatCounters(st)
}

func formatCounters(st Status) string {
	return fmt.Sprintf("  - <code>Sent  :</code> %d - %d\n  - <code>Failed:</code> %d", st.Sent, st.Total, st.Failed)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
