// Package admin is the operator surface: gated chats, the admin set,
// display settings, liveness commands and the owner's process controls.
package admin

import (
	"context"
	"strconv"
	"strings"
	"time"

	"fsubbot/internal/eventbus"
	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/storage"
	"fsubbot/internal/transport/telegram/router"
	logx "fsubbot/pkg/logx"
)

const msgError = "<b>An Error Occurred!</b>"

// Members is the mutation surface of membership.Cache.
type Members interface {
	Owner() int64
	IsAdmin(uid int64) bool
	Admins() []int64
	GatedChats() []membership.GatedChat
	AddGated(ctx context.Context, id int64) (membership.GatedChat, bool, error)
	RemoveGated(ctx context.Context, id int64) (bool, error)
	AddAdmin(ctx context.Context, id int64) (bool, error)
	RemoveAdmin(ctx context.Context, id int64) (bool, error)
	Settings() membership.Settings
	SetText(ctx context.Context, f storage.TextField, v string) (membership.Settings, error)
	SetFlag(ctx context.Context, f storage.FlagField, v bool) (membership.Settings, error)
}

type Store interface {
	Load(ctx context.Context) (storage.Document, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	SetRestart(ctx context.Context, n storage.RestartNote) error
	ClearRestart(ctx context.Context) error
}

type Deps struct {
	Members Members
	Store   Store
	Bus     eventbus.Bus
	Logger  logx.Logger
	// Started is the process start time reported by /uptime.
	Started time.Time
	Now     func() time.Time

	// LogFile returns the active log file path ("" when file logging is off).
	LogFile func() string
	// Restart asks the process to restart and must not block. nil disables
	// /restart.
	Restart func()
	// OwnerUsername backs the Contact button of the startup notice.
	OwnerUsername string
}

type Plugin struct {
	deps Deps
	log  logx.Logger
}

func New(deps Deps) *Plugin {
	if deps.Logger.IsZero() {
		deps.Logger = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Started.IsZero() {
		deps.Started = deps.Now()
	}
	return &Plugin{deps: deps, log: deps.Logger.With(logx.String("plugin", "admin"))}
}

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{Route: "fsub list", Description: "list gated chats", Usage: "/fsub list", Access: router.AccessAdmin, Handle: p.handleFsubList},
		{Route: "fsub add", Description: "gate content behind a chat", Usage: "/fsub add <chat id>", Access: router.AccessAdmin, Handle: p.handleFsubAdd},
		{Route: "fsub del", Aliases: []string{"unfsub"}, Description: "stop gating on a chat", Usage: "/fsub del <chat id>", Access: router.AccessAdmin, Handle: p.handleFsubDel},

		{Route: "admin list", Description: "list bot admins", Usage: "/admin list", Access: router.AccessOwner, Handle: p.handleAdminList},
		{Route: "admin add", Description: "add a bot admin", Usage: "/admin add <user id>", Access: router.AccessOwner, Handle: p.handleAdminAdd},
		{Route: "admin del", Description: "remove a bot admin", Usage: "/admin del <user id>", Access: router.AccessOwner, Handle: p.handleAdminDel},

		{Route: "set start", Description: "show or change the start text", Usage: "/set start [text]", Access: router.AccessAdmin, Handle: p.textSetter(storage.TextStart, "Start")},
		{Route: "set force", Description: "show or change the force-subscribe text", Usage: "/set force [text]", Access: router.AccessAdmin, Handle: p.textSetter(storage.TextForce, "Force")},
		{Route: "set protect", Description: "show or switch content protection", Usage: "/set protect [on|off]", Access: router.AccessAdmin, Handle: p.flagSetter(storage.FlagProtect, "Protect Content")},
		{Route: "set generate", Description: "show or switch link generation", Usage: "/set generate [on|off]", Access: router.AccessAdmin, Handle: p.flagSetter(storage.FlagGenerate, "Generate Status")},
		{Route: "settings", Description: "show all settings", Usage: "/settings", Access: router.AccessAdmin, Handle: p.handleSettings},

		{Route: "users", Aliases: []string{"stats"}, Description: "count admins and users", Usage: "/users", Access: router.AccessAdmin, Handle: p.handleUsers},
		{Route: "ping", Description: "check the bot is alive", Usage: "/ping", Access: router.AccessEveryone, Handle: p.handlePing},
		{Route: "uptime", Description: "show how long the bot has been up", Usage: "/uptime", Access: router.AccessEveryone, Handle: p.handleUptime},

		{Route: "logs", Aliases: []string{"log"}, Description: "send the log file", Usage: "/logs", Access: router.AccessOwner, Handle: p.handleLogs},
		{Route: "restart", Aliases: []string{"r"}, Description: "restart the bot", Usage: "/restart", Access: router.AccessOwner, Handle: p.handleRestart},
	}
}

func (p *Plugin) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Plugin: "ui", Action: "close", Access: router.AccessEveryone, Handle: p.handleClose},
		{Plugin: "ui", Action: "ping", Access: router.AccessEveryone, Handle: p.handlePingRefresh},
		{Plugin: "ui", Action: "uptime", Access: router.AccessEveryone, Handle: p.handleUptimeRefresh},
	}
}

func (p *Plugin) audit(ctx context.Context, req *router.Request, action, target string, err error) {
	e := storage.AuditEntry{
		At:      p.deps.Now(),
		ActorID: req.FromID,
		ChatID:  req.Chat.ChatID,
		Plugin:  "admin",
		Action:  action,
		Target:  target,
	}
	if err != nil {
		e.Fail, e.Error = 1, err.Error()
	} else {
		e.OK = 1
	}
	if aerr := p.deps.Store.AppendAudit(ctx, e); aerr != nil {
		p.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

// parseID reads the single numeric argument of a mutation command.
func parseID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	return id, err == nil && id != 0
}
