package admin

import (
	"context"
	"errors"
	"os"

	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
	"fsubbot/pkg/tgui"
)

const (
	msgRestarting = "<b>Restarting...</b>"
	msgRestarted  = "<b>Bot Restarted!</b>"
)

var errNoUpload = errors.New("admin: transport cannot upload documents")

// handleLogs uploads the active log file.
func (p *Plugin) handleLogs(ctx context.Context, req *router.Request) error {
	path := ""
	if p.deps.LogFile != nil {
		path = p.deps.LogFile()
	}
	if path == "" {
		_, err := req.Reply(ctx, "<b>File logging is disabled.</b>", nil)
		return err
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		_, rerr := req.Reply(ctx, "<b>No logs yet.</b>", nil)
		return rerr
	}
	ds, ok := req.Client.(kit.DocumentSender)
	if !ok {
		_, _ = req.Reply(ctx, msgError, nil)
		return errNoUpload
	}
	_, err := ds.SendDocument(ctx, req.Chat, path, "<b>Bot Logs</b>", &kit.SendOptions{ParseMode: "HTML", ReplyTo: req.Message.ID})
	if err != nil {
		req.Logger.Warn("log upload failed", logx.Err(err))
		_, _ = req.Reply(ctx, msgError, nil)
	}
	return err
}

// handleRestart leaves a note for the next process and asks this one to
// restart. The note is written first so the reply can never be lost.
func (p *Plugin) handleRestart(ctx context.Context, req *router.Request) error {
	if p.deps.Restart == nil {
		_, err := req.Reply(ctx, "<b>Restart is not available.</b>", nil)
		return err
	}
	ref, err := req.Reply(ctx, msgRestarting, nil)
	if err != nil {
		return err
	}
	note := storage.RestartNote{ChatID: ref.ChatID, MessageID: ref.MessageID, CommandID: req.Message.ID}
	err = p.deps.Store.SetRestart(ctx, note)
	p.audit(ctx, req, "restart", "", err)
	if err != nil {
		req.Logger.Error("restart note not saved", logx.Err(err))
		return req.Client.EditText(ctx, ref, msgError, htmlOpt)
	}
	p.log.Info("restart requested", logx.Int64("actor_id", req.FromID))
	p.deps.Restart()
	return nil
}

// Announcer is what startup notices need from the transport.
type Announcer interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
	Username() string
}

// AnnounceStartup answers a pending /restart and tells every admin the bot
// is up. It reports how many admins were reached; failures are only logged.
func (p *Plugin) AnnounceStartup(ctx context.Context, c Announcer) int {
	p.answerRestart(ctx, c)

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if u := p.deps.OwnerUsername; u != "" {
		opt.ReplyMarkupAdapter = tgui.NewInline().Row(tgui.URLBtn("Contact", "https://t.me/"+u)).Markup()
	}
	text := tgui.Card("Bot Activated!",
		tgui.Field("Bot  :", "@"+c.Username()),
		tgui.Field("Since:", p.deps.Started.Format("January 02, 2006 at 03:04 PM")),
	).String()

	reached := 0
	for _, uid := range p.deps.Members.Admins() {
		if ctx.Err() != nil {
			break
		}
		if _, err := c.SendText(ctx, kit.ChatTarget{ChatID: uid}, text, opt); err != nil {
			// Admins who never opened a private chat cannot be messaged.
			p.log.Debug("startup notice failed", logx.Int64("user_id", uid), logx.Err(err))
			continue
		}
		reached++
	}
	p.log.Info("startup notice sent", logx.Int("admins", reached))
	return reached
}

func (p *Plugin) answerRestart(ctx context.Context, c Announcer) {
	doc, err := p.deps.Store.Load(ctx)
	if err != nil {
		p.log.Warn("restart note unreadable", logx.Err(err))
		return
	}
	n := doc.Restart
	if n == nil {
		return
	}
	if _, err := c.SendText(ctx, kit.ChatTarget{ChatID: n.ChatID}, msgRestarted, &kit.SendOptions{ParseMode: "HTML", ReplyTo: n.CommandID}); err != nil {
		p.log.Warn("restart reply failed", logx.Int64("chat_id", n.ChatID), logx.Err(err))
	}
	if err := c.DeleteMessage(ctx, kit.MessageRef{ChatID: n.ChatID, MessageID: n.MessageID}); err != nil {
		p.log.Debug("restart notice not deleted", logx.Err(err))
	}
	if err := p.deps.Store.ClearRestart(ctx); err != nil {
		p.log.Warn("restart note not cleared", logx.Err(err))
	}
}
