package share

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/fsub/token"
	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
	"fsubbot/pkg/tgui"
)

func (p *Plugin) handleStart(ctx context.Context, req *router.Request) error {
	if req.Message == nil || !req.Message.IsPrivate {
		return nil
	}
	if _, err := p.deps.Users.AddValue(ctx, storage.FieldUsers, req.FromID); err != nil {
		req.Logger.Warn("register user failed", logx.Err(err))
	}
	settings := p.deps.Settings.Settings()
	if len(req.Args) == 0 {
		_, err := req.Reply(ctx, FormatGreeting(settings.StartText, req.Message), nil)
		return err
	}

	tok := req.Args[0]
	r, err := p.deps.Codec.Decode(tok)
	if err != nil {
		req.Logger.Debug("bad start token", logx.String("token", tgui.TruncRunes(tok, 64)), logx.Err(err))
		_, rerr := req.Reply(ctx, msgInvalidLink, nil)
		return rerr
	}
	lim := p.Limits()
	if r.Len() > int64(lim.MaxBatch) {
		_, rerr := req.Reply(ctx, msgInvalidLink, nil)
		return rerr
	}

	if d := p.deps.Gate.Check(ctx, req.FromID); d.Blocked() {
		rm := JoinKeyboard(d.Missing, Link(req.Client.Username(), tok)).Markup()
		_, err := req.Reply(ctx, FormatGreeting(settings.ForceText, req.Message), &kit.SendOptions{
			ParseMode:          "HTML",
			DisablePreview:     true,
			ReplyMarkupAdapter: rm,
		})
		return err
	}
	return p.deliver(ctx, req, r, settings, lim)
}

// JoinKeyboard lists one join button per missing chat, two per row, and a
// Try Again button reopening retry.
func JoinKeyboard(missing []membership.GatedChat, retry string) *tgui.Inline {
	kb := tgui.NewInline()
	btns := make([]tgui.Button, 0, len(missing))
	for _, c := range missing {
		btns = append(btns, tgui.URLBtn("Join "+chatLabel(c.Kind), c.InviteLink))
	}
	kb.Grid(2, btns...)
	if retry != "" {
		kb.Row(tgui.URLBtn("Try Again", retry))
	}
	return kb
}

func chatLabel(k kit.ChatKind) string {
	if k == kit.KindChannel {
		return "Channel"
	}
	return "Group"
}

func (p *Plugin) deliver(ctx context.Context, req *router.Request, r token.Range, s membership.Settings, lim Limits) error {
	to := kit.ChatTarget{ChatID: req.Message.ChatID}
	var copied []kit.MessageRef
	failed := 0
	for _, id := range r.IDs() {
		if ctx.Err() != nil {
			break
		}
		src := kit.MessageRef{ChatID: p.deps.DatabaseChatID, MessageID: int(id)}
		ref, err := copyOne(ctx, req.Client, to, src, s.ProtectContent)
		if err != nil {
			// Deleted or never-existing ids are common inside ranges.
			failed++
			req.Logger.Debug("copy stored message failed", logx.Int64("message_id", id), logx.Err(err))
			continue
		}
		copied = append(copied, ref)
	}
	if len(copied) == 0 {
		_, err := req.Reply(ctx, "<b>Nothing to send!</b>\nThe content behind this link is gone.", nil)
		return err
	}
	if failed > 0 {
		req.Logger.Info("partial delivery", logx.Int("sent", len(copied)), logx.Int("missing", failed))
	}
	if lim.AutoDelete > 0 && p.deps.Sup != nil {
		notice, err := req.Client.SendText(ctx, to, fmt.Sprintf("<b>Note:</b> these files will be deleted in %s.", tgui.HumanDuration(lim.AutoDelete)),
			&kit.SendOptions{ParseMode: "HTML"})
		if err == nil {
			copied = append(copied, notice)
		}
		p.scheduleDelete(req.Client, copied, lim.AutoDelete)
	}
	return nil
}

// copyOne retries once after a platform-mandated wait.
func copyOne(ctx context.Context, c kit.Platform, to kit.ChatTarget, src kit.MessageRef, protect bool) (kit.MessageRef, error) {
	opt := &kit.CopyOptions{Protect: protect}
	ref, err := c.CopyMessage(ctx, to, src, opt)
	if rl, ok := kit.AsRateLimit(err); ok {
		t := time.NewTimer(rl.Wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return kit.MessageRef{}, ctx.Err()
		case <-t.C:
		}
		ref, err = c.CopyMessage(ctx, to, src, opt)
	}
	return ref, err
}

func (p *Plugin) scheduleDelete(c kit.Platform, refs []kit.MessageRef, after time.Duration) {
	p.deps.Sup.Go0("share.autodelete", func(ctx context.Context) {
		t := time.NewTimer(after)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, ref := range refs {
			if err := c.DeleteMessage(ctx, ref); err != nil {
				p.log.Debug("auto-delete failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
			}
		}
	})
}

// FormatGreeting fills the user placeholders of an operator-set text.
// Values are HTML-escaped; the template itself is trusted HTML.
func FormatGreeting(tmpl string, m *kit.Message) string {
	username := ""
	if m.FromUsername != "" {
		username = "@" + m.FromUsername
	}
	name := m.FromName
	if name == "" {
		name = strconv.FormatInt(m.FromID, 10)
	}
	rep := strings.NewReplacer(
		"{first_name}", tgui.Esc(m.FromFirst).String(),
		"{last_name}", tgui.Esc(m.FromLast).String(),
		"{full_name}", tgui.Esc(m.FromName).String(),
		"{username}", tgui.Esc(username).String(),
		"{mention}", tgui.Mention(name, m.FromID).String(),
		"{user_id}", strconv.FormatInt(m.FromID, 10),
	)
	return rep.Replace(tmpl)
}
