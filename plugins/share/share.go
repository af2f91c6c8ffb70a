// Package share serves stored content through deep links: /start delivery
// behind the subscription gate, link generation for admins, and /batch.
package share

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"fsubbot/internal/fsub/gate"
	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/fsub/token"
	rtsup "fsubbot/internal/runtime/supervisor"
	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
	"fsubbot/pkg/tgui"
)

const (
	msgError       = "<b>An Error Occurred!</b>"
	msgInvalidLink = "<b>Invalid link!</b>\nThe link is broken or was not made by this bot."
)

// Gate is the delivery-side view of gate.Gate.
type Gate interface {
	Check(ctx context.Context, uid int64) gate.Decision
}

type Settings interface {
	Settings() membership.Settings
}

type Users interface {
	AddValue(ctx context.Context, f storage.ListField, v int64) (bool, error)
}

// Limits are the hot-reloadable delivery knobs.
type Limits struct {
	// MaxBatch caps how many messages one link may release.
	MaxBatch int
	// AutoDelete removes delivered copies after the delay (0 = keep).
	AutoDelete time.Duration
}

type Deps struct {
	DatabaseChatID int64
	Codec          *token.Codec
	Gate           Gate
	Settings       Settings
	Users          Users
	// Sup runs auto-delete timers; nil disables auto-delete.
	Sup    *rtsup.Supervisor
	Logger logx.Logger
}

type Plugin struct {
	deps   Deps
	limits atomic.Pointer[Limits]
	log    logx.Logger
}

func New(deps Deps, lim Limits) *Plugin {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Plugin{deps: deps, log: log.With(logx.String("plugin", "share"))}
	p.Apply(lim)
	return p
}

// Apply swaps in new limits.
func (p *Plugin) Apply(lim Limits) {
	if lim.MaxBatch <= 0 {
		lim.MaxBatch = 200
	}
	if lim.AutoDelete < 0 {
		lim.AutoDelete = 0
	}
	p.limits.Store(&lim)
}

func (p *Plugin) Limits() Limits { return *p.limits.Load() }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Description: "start the bot or open a link",
			Usage:       "/start [token]",
			Access:      router.AccessEveryone,
			Handle:      p.handleStart,
		},
		{
			Route:       "batch",
			Description: "make one link for a range of stored messages",
			Usage:       "/batch <first> <last>  (message ids or t.me/c links)",
			Access:      router.AccessAdmin,
			Handle:      p.handleBatch,
		},
	}
}

// Fallback is the admin handler for plain private messages.
func (p *Plugin) Fallback() router.HandlerFunc { return p.handleGenerate }

// Link returns the deep link carrying tok.
func Link(bot, tok string) string {
	return "https://t.me/" + bot + "?start=" + tok
}

func shareURL(link string) string {
	return "https://t.me/share/url?url=" + link
}

func (p *Plugin) replyLink(ctx context.Context, req *router.Request, r token.Range) error {
	link := Link(req.Client.Username(), p.deps.Codec.Encode(r))
	rm := tgui.NewInline().Row(tgui.URLBtn("Share", shareURL(link))).Markup()
	_, err := req.Reply(ctx, link, &kit.SendOptions{DisablePreview: true, ReplyMarkupAdapter: rm})
	return err
}

func (p *Plugin) handleGenerate(ctx context.Context, req *router.Request) error {
	if !p.deps.Settings.Settings().GenerateEnabled {
		return nil
	}
	src := kit.MessageRef{ChatID: req.Message.ChatID, ThreadID: req.Message.ThreadID, MessageID: req.Message.ID}
	stored, err := req.Client.CopyMessage(ctx, kit.ChatTarget{ChatID: p.deps.DatabaseChatID}, src, nil)
	if err != nil {
		req.Logger.Error("copy to database channel failed", logx.Err(err))
		_, _ = req.Reply(ctx, msgError, nil)
		return err
	}
	return p.replyLink(ctx, req, token.Single(int64(stored.MessageID)))
}

func (p *Plugin) handleBatch(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 2 {
		_, err := req.Reply(ctx, "Usage: <code>/batch &lt;first&gt; &lt;last&gt;</code>\nUse message ids or t.me/c links from the database channel.", nil)
		return err
	}
	first, err1 := parseStoredRef(req.Args[0], p.deps.DatabaseChatID)
	last, err2 := parseStoredRef(req.Args[1], p.deps.DatabaseChatID)
	if err := errors.Join(err1, err2); err != nil {
		_, rerr := req.Reply(ctx, "<b>Invalid message!</b>\n"+tgui.Esc(err.Error()).String(), nil)
		return rerr
	}
	r := token.Range{Start: first, End: last}
	if n, lim := r.Len(), p.Limits().MaxBatch; n > int64(lim) {
		_, err := req.Reply(ctx, fmt.Sprintf("<b>Too many messages!</b>\nA link may carry at most %d, this range has %d.", lim, n), nil)
		return err
	}
	return p.replyLink(ctx, req, r)
}

// parseStoredRef accepts a positive message id or a t.me/c/<chat>/<id> link
// pointing into the database channel.
func parseStoredRef(s string, dbChat int64) (int64, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		if id <= 0 {
			return 0, fmt.Errorf("%q is not a message id", s)
		}
		return id, nil
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	rest, ok := strings.CutPrefix(rest, "t.me/c/")
	if !ok {
		return 0, fmt.Errorf("%q is neither a message id nor a t.me/c link", s)
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		return 0, fmt.Errorf("%q has no message id", s)
	}
	if want := strings.TrimPrefix(strconv.FormatInt(dbChat, 10), "-100"); parts[0] != want {
		return 0, fmt.Errorf("%q is not from the database channel", s)
	}
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q has no message id", s)
	}
	return id, nil
}
