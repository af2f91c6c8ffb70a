// Package broadcast exposes the broadcast engine to admins.
package broadcast

import (
	"context"
	"errors"

	engine "fsubbot/internal/broadcast"
	"fsubbot/internal/fsub/membership"
	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
	"fsubbot/pkg/tgui"
)

const (
	msgNeedReply  = "<b>Please reply to the message you want to broadcast!</b>"
	msgBusy       = "<b>Currently, a broadcast is running. Check the status for details.</b>"
	msgIdle       = "<b>No broadcast is currently running!</b>"
	msgStopped    = "<b>Broadcast has been stopped!</b>"
	msgRefreshing = "<b>Refreshing...</b>"
	msgError      = "<b>An Error Occurred!</b>"
)

// Engine is the control surface of broadcast.Engine.
type Engine interface {
	Start(ctx context.Context, req engine.StartRequest) (engine.RunHandle, error)
	Stop() bool
	Status() engine.Status
}

type Settings interface {
	Settings() membership.Settings
}

type Plugin struct {
	eng      Engine
	settings Settings
}

func New(eng Engine, settings Settings) *Plugin {
	return &Plugin{eng: eng, settings: settings}
}

// Markup is the keyboard set the engine attaches to its own messages.
func Markup() engine.Markup {
	return engine.Markup{
		Progress: RefreshKeyboard(),
		Final:    tgui.NewInline().Row(tgui.Btn("Close", tgui.Data("ui", "close", ""))).Markup(),
	}
}

func RefreshKeyboard() any {
	return tgui.NewInline().Row(tgui.Btn("Refresh", tgui.Data("bc", "refresh", ""))).Markup()
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "broadcast",
			Aliases:     []string{"bc"},
			Description: "send the replied message to every user",
			Usage:       "/broadcast (as a reply)",
			Access:      router.AccessAdmin,
			Handle:      p.handleBroadcast,
		},
		{
			Route:       "stop",
			Description: "stop the running broadcast",
			Usage:       "/stop",
			Access:      router.AccessAdmin,
			Handle:      p.handleStop,
		},
	}
}

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Plugin: "bc", Action: "refresh", Access: router.AccessAdmin, Handle: p.handleRefresh},
	}
}

func (p *Plugin) handleBroadcast(ctx context.Context, req *router.Request) error {
	src := req.Message.ReplyTo
	if src == nil {
		st := p.eng.Status()
		if !st.Running {
			_, err := req.Reply(ctx, msgNeedReply, nil)
			return err
		}
		_, err := req.Reply(ctx, engine.FormatStatus(st), &kit.SendOptions{
			ParseMode:          "HTML",
			ReplyMarkupAdapter: RefreshKeyboard(),
		})
		return err
	}

	h, err := p.eng.Start(ctx, engine.StartRequest{
		Chat:      req.Chat,
		CommandID: req.Message.ID,
		Source:    *src,
		Protect:   p.settings.Settings().ProtectContent,
		ActorID:   req.FromID,
	})
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		_, rerr := req.Reply(ctx, msgBusy, nil)
		return rerr
	case err != nil:
		req.Logger.Error("broadcast start failed", logx.Err(err))
		_, _ = req.Reply(ctx, msgError, nil)
		return err
	}
	req.Logger.Info("broadcast accepted", logx.String("run", h.ID), logx.Int("total", h.Total))
	return nil
}

func (p *Plugin) handleStop(ctx context.Context, req *router.Request) error {
	text := msgStopped
	if !p.eng.Stop() {
		text = msgIdle
	}
	_, err := req.Reply(ctx, text, nil)
	return err
}

func (p *Plugin) handleRefresh(ctx context.Context, req *router.Request, _ string) error {
	ref := kit.MessageRef{ChatID: req.Callback.ChatID, ThreadID: req.Callback.ThreadID, MessageID: req.Callback.MessageID}
	st := p.eng.Status()
	if !st.Running {
		return req.Client.EditText(ctx, ref, msgIdle, &kit.SendOptions{ParseMode: "HTML"})
	}
	_ = req.Client.EditText(ctx, ref, msgRefreshing, &kit.SendOptions{ParseMode: "HTML"})
	return req.Client.EditText(ctx, ref, engine.FormatStatus(p.eng.Status()), &kit.SendOptions{
		ParseMode:          "HTML",
		ReplyMarkupAdapter: RefreshKeyboard(),
	})
}
