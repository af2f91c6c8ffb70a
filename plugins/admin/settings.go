package admin

import (
	"context"
	"fmt"
	"strings"

	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/storage"
	"fsubbot/internal/transport/telegram/router"
)

func textOf(s membership.Settings, f storage.TextField) string {
	if f == storage.TextForce {
		return s.ForceText
	}
	return s.StartText
}

func flagOf(s membership.Settings, f storage.FlagField) bool {
	if f == storage.FlagProtect {
		return s.ProtectContent
	}
	return s.GenerateEnabled
}

func titleCase(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// textSetter shows the text when called bare and replaces it otherwise. The
// new text keeps the operator's HTML formatting.
func (p *Plugin) textSetter(f storage.TextField, label string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		text := strings.TrimSpace(req.Text)
		if text == "" {
			_, err := req.Reply(ctx, fmt.Sprintf("<b>%s Text:</b>\n  %s", label, textOf(p.deps.Members.Settings(), f)), nil)
			return err
		}
		s, err := p.deps.Members.SetText(ctx, f, text)
		p.audit(ctx, req, "set."+string(f), "", err)
		if err != nil {
			_, _ = req.Reply(ctx, msgError, nil)
			return err
		}
		_, err = req.Reply(ctx, fmt.Sprintf("New! %s Text Message:\n  %s", label, textOf(s, f)), nil)
		return err
	}
}

// flagSetter accepts on/off (and a few synonyms); with no argument it shows
// the current value, with "toggle" it flips it.
func (p *Plugin) flagSetter(f storage.FlagField, label string) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		cur := flagOf(p.deps.Members.Settings(), f)
		if len(req.Args) == 0 {
			_, err := req.Reply(ctx, fmt.Sprintf("Currently %s is <b>%s</b>", label, titleCase(cur)), nil)
			return err
		}
		var v bool
		switch strings.ToLower(req.Args[0]) {
		case "on", "true", "yes", "1", "enable":
			v = true
		case "off", "false", "no", "0", "disable":
			v = false
		case "toggle":
			v = !cur
		default:
			_, err := req.Reply(ctx, "Usage: <code>on</code>, <code>off</code> or <code>toggle</code>", nil)
			return err
		}
		s, err := p.deps.Members.SetFlag(ctx, f, v)
		p.audit(ctx, req, "set."+string(f), titleCase(v), err)
		if err != nil {
			_, _ = req.Reply(ctx, msgError, nil)
			return err
		}
		_, err = req.Reply(ctx, fmt.Sprintf("%s has been changed to <b>%s</b>", label, titleCase(flagOf(s, f))), nil)
		return err
	}
}

func (p *Plugin) handleSettings(ctx context.Context, req *router.Request) error {
	s := p.deps.Members.Settings()
	text := fmt.Sprintf("<b>Bot Settings</b>\n"+
		"  - <code>Generate:</code> %s\n"+
		"  - <code>Protect :</code> %s\n"+
		"  - <code>F-Subs  :</code> %d\n"+
		"  - <code>Admins  :</code> %d\n\n"+
		"<b>Start Text:</b>\n  %s\n\n"+
		"<b>Force Text:</b>\n  %s",
		titleCase(s.GenerateEnabled), titleCase(s.ProtectContent),
		len(p.deps.Members.GatedChats()), len(p.deps.Members.Admins()),
		s.StartText, s.ForceText)
	_, err := req.Reply(ctx, text, nil)
	return err
}
