package admin

import (
	"context"
	"fmt"
	"time"

	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
	"fsubbot/pkg/tgui"
)

var htmlOpt = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

func (p *Plugin) handleUsers(ctx context.Context, req *router.Request) error {
	counting, err := req.Reply(ctx, "<b>Counting...</b>", nil)
	if err != nil {
		return err
	}
	doc, err := p.deps.Store.Load(ctx)
	if err != nil {
		req.Logger.Error("load users failed", logx.Err(err))
		return req.Client.EditText(ctx, counting, msgError, htmlOpt)
	}
	users := 0
	for _, uid := range doc.Users {
		if !p.deps.Members.IsAdmin(uid) {
			users++
		}
	}
	admins := len(p.deps.Members.Admins())
	text := tgui.Card("Bot Members", tgui.Field("Admins:", admins), tgui.Field("Users :", users))
	return req.Client.EditText(ctx, counting, text.String(), htmlOpt)
}

func refreshRow(action string) any {
	return tgui.NewInline().Row(tgui.Btn("Refresh", tgui.Data("ui", action, ""))).Markup()
}

func formatLatency(d time.Duration) string {
	return tgui.Card("Pong!", tgui.Field("Latency:", fmt.Sprintf("%.2f ms", float64(d.Microseconds())/1000))).String()
}

// handlePing measures one platform round trip.
func (p *Plugin) handlePing(ctx context.Context, req *router.Request) error {
	start := p.deps.Now()
	ref, err := req.Reply(ctx, "<b>Pinging...</b>", nil)
	if err != nil {
		return err
	}
	took := p.deps.Now().Sub(start)
	return req.Client.EditText(ctx, ref, formatLatency(took), &kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: refreshRow("ping")})
}

func (p *Plugin) handlePingRefresh(ctx context.Context, req *router.Request, _ string) error {
	ref := callbackRef(req.Callback)
	start := p.deps.Now()
	if err := req.Client.EditText(ctx, ref, "<b>Refreshing...</b>", htmlOpt); err != nil {
		return err
	}
	took := p.deps.Now().Sub(start)
	return req.Client.EditText(ctx, ref, formatLatency(took), &kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: refreshRow("ping")})
}

func (p *Plugin) uptimeText() string {
	started := p.deps.Started
	total := p.deps.Now().Sub(started)
	return tgui.Card("Bot Uptime",
		tgui.Field("Since:", started.Format("January 02, 2006 at 03:04 PM")),
		tgui.Field("Total:", tgui.HumanDuration(total)),
	).String()
}

func (p *Plugin) handleUptime(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, p.uptimeText(), &kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: refreshRow("uptime")})
	return err
}

func (p *Plugin) handleUptimeRefresh(ctx context.Context, req *router.Request, _ string) error {
	return req.Client.EditText(ctx, callbackRef(req.Callback), p.uptimeText(),
		&kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: refreshRow("uptime")})
}

// handleClose deletes the message carrying the button and the message it
// answered.
func (p *Plugin) handleClose(ctx context.Context, req *router.Request, _ string) error {
	ref := callbackRef(req.Callback)
	if req.Callback.ReplyTo != nil {
		if err := req.Client.DeleteMessage(ctx, *req.Callback.ReplyTo); err != nil {
			req.Logger.Debug("delete replied message failed", logx.Err(err))
		}
	}
	return req.Client.DeleteMessage(ctx, ref)
}

func callbackRef(cb *kit.Callback) kit.MessageRef {
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
}
