package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"fsubbot/internal/eventbus"
	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
	"fsubbot/pkg/tgui"
)

func (p *Plugin) handleFsubList(ctx context.Context, req *router.Request) error {
	chats := p.deps.Members.GatedChats()
	items := make([]tgui.H, 0, len(chats))
	for _, c := range chats {
		line := tgui.Code(strconv.FormatInt(c.ID, 10)) + " " + tgui.Esc(string(c.Kind))
		if c.Title != "" {
			line += " " + tgui.Link(c.Title, c.InviteLink)
		}
		items = append(items, line)
	}
	_, err := req.Reply(ctx, tgui.List("List F-Subs", items...).String(), nil)
	return err
}

func (p *Plugin) handleFsubAdd(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Args)
	if !ok {
		_, err := req.Reply(ctx, "<b>Invalid! Just send a Chat ID.</b>", nil)
		return err
	}
	chat, added, err := p.deps.Members.AddGated(ctx, id)
	p.audit(ctx, req, "fsub.add", strconv.FormatInt(id, 10), err)
	var re *membership.ResolutionError
	switch {
	case errors.As(err, &re):
		req.Logger.Info("gated chat rejected", logx.Int64("target", id), logx.Err(err))
		_, rerr := req.Reply(ctx, "<b>That's Chat ID isn't valid!</b>", nil)
		return rerr
	case err != nil:
		_, _ = req.Reply(ctx, msgError, nil)
		return err
	case !added:
		_, rerr := req.Reply(ctx, "<b>That's Chat ID already added!</b>", nil)
		return rerr
	}
	p.deps.Bus.Publish(eventbus.Event{Type: eventbus.GateRefreshed, Data: len(p.deps.Members.GatedChats())})
	_, err = req.Reply(ctx, fmt.Sprintf("Added new F-Sub: <code>%d</code> (%s)", chat.ID, chat.Kind), nil)
	return err
}

func (p *Plugin) handleFsubDel(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Args)
	if !ok {
		_, err := req.Reply(ctx, "<b>Invalid! Just send a Chat ID.</b>", nil)
		return err
	}
	removed, err := p.deps.Members.RemoveGated(ctx, id)
	p.audit(ctx, req, "fsub.del", strconv.FormatInt(id, 10), err)
	if err != nil {
		_, _ = req.Reply(ctx, msgError, nil)
		return err
	}
	if !removed {
		_, err := req.Reply(ctx, "<b>That's Chat ID not found!</b>", nil)
		return err
	}
	p.deps.Bus.Publish(eventbus.Event{Type: eventbus.GateRefreshed, Data: len(p.deps.Members.GatedChats())})
	_, err = req.Reply(ctx, fmt.Sprintf("The F-Sub has been deleted: <code>%d</code>", id), nil)
	return err
}

func (p *Plugin) handleAdminList(ctx context.Context, req *router.Request) error {
	ids := p.deps.Members.Admins()
	items := make([]tgui.H, 0, len(ids)+1)
	items = append(items, tgui.Code(strconv.FormatInt(p.deps.Members.Owner(), 10))+" (owner)")
	for _, id := range ids {
		if id == p.deps.Members.Owner() {
			continue
		}
		items = append(items, tgui.Code(strconv.FormatInt(id, 10)))
	}
	_, err := req.Reply(ctx, tgui.List("List Admins", items...).String(), nil)
	return err
}

func (p *Plugin) handleAdminAdd(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Args)
	if !ok || id < 0 {
		_, err := req.Reply(ctx, "<b>Invalid! Just send a User ID.</b>", nil)
		return err
	}
	added, err := p.deps.Members.AddAdmin(ctx, id)
	p.audit(ctx, req, "admin.add", strconv.FormatInt(id, 10), err)
	switch {
	case errors.Is(err, membership.ErrOwner):
		_, rerr := req.Reply(ctx, "<b>That's User ID already added!</b>", nil)
		return rerr
	case err != nil:
		_, _ = req.Reply(ctx, msgError, nil)
		return err
	case !added:
		_, rerr := req.Reply(ctx, "<b>That's User ID already added!</b>", nil)
		return rerr
	}
	_, err = req.Reply(ctx, fmt.Sprintf("Added new Admin: <code>%d</code>", id), nil)
	return err
}

func (p *Plugin) handleAdminDel(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Args)
	if !ok {
		_, err := req.Reply(ctx, "<b>Invalid! Just send a User ID.</b>", nil)
		return err
	}
	if id == req.FromID {
		_, err := req.Reply(ctx, "<b>No rights! That's Yours.</b>", nil)
		return err
	}
	removed, err := p.deps.Members.RemoveAdmin(ctx, id)
	p.audit(ctx, req, "admin.del", strconv.FormatInt(id, 10), err)
	switch {
	case errors.Is(err, membership.ErrOwner):
		_, rerr := req.Reply(ctx, "<b>No rights! That's the owner.</b>", nil)
		return rerr
	case err != nil:
		_, _ = req.Reply(ctx, msgError, nil)
		return err
	case !removed:
		_, rerr := req.Reply(ctx, "<b>That's User ID not found!</b>", nil)
		return rerr
	}
	_, err = req.Reply(ctx, fmt.Sprintf("The Admin has been deleted: <code>%d</code>", id), nil)
	return err
}
