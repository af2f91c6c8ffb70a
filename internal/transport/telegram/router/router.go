package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"fsubbot/internal/observability/metrics"
	rtsup "fsubbot/internal/runtime/supervisor"
	kit "fsubbot/internal/transport"
	logx "fsubbot/pkg/logx"
)

// Access is the least privilege a sender needs. Admin and owner routes are
// served in private chats only.
type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
	AccessOwner
)

type Command struct {
	// Route is a space-separated command path, e.g. "fsub add".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["bc"]
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // overrides the router default
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data "<plugin>:<action>[:payload]".
type CallbackRoute struct {
	Plugin  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
	// KeepSpinner skips the automatic empty AnswerCallback after Handle.
	KeepSpinner bool
}

type Request struct {
	Update   kit.Update
	Message  *kit.Message
	Callback *kit.Callback

	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path
	Command string   // route, or "cb:<plugin>:<action>"
	Args    []string
	// Text is everything after the matched path with its formatting kept.
	Text    string
	Payload string
	ReqID   string

	Client kit.Client
	Logger logx.Logger
}

// Reply sends text to the request chat replying to the triggering message.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	o := kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if opt != nil {
		o = *opt
	}
	if o.ReplyTo == 0 && r.Message != nil {
		o.ReplyTo = r.Message.ID
	}
	return r.Client.SendText(ctx, r.Chat, text, &o)
}

// Roles answers access questions from the live admin snapshot.
type Roles interface {
	IsAdmin(uid int64) bool
	Owner() int64
}

type Options struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

type Router struct {
	mu       sync.RWMutex
	root     *cmdNode
	alias    map[string]*cmdNode
	fallback *Command

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	client  kit.Client
	roles   Roles
	log     logx.Logger
	m       *metrics.Metrics
	opt     Options
	sup     *rtsup.Supervisor
	menuSup *rtsup.Supervisor

	jobs chan func()
}

func New(client kit.Client, roles Roles, m *metrics.Metrics, log logx.Logger, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &Router{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		client:    client,
		roles:     roles,
		log:       log,
		m:         m,
		opt:       opt,
		jobs:      make(chan func(), opt.QueueSize),
	}
}

// SetMenuSupervisor makes the Telegram menu update run under sup.
func (r *Router) SetMenuSupervisor(sup *rtsup.Supervisor) { r.menuSup = sup }

func (r *Router) access(uid int64) Access {
	if r.roles == nil {
		return AccessEveryone
	}
	if uid != 0 && uid == r.roles.Owner() {
		return AccessOwner
	}
	if r.roles.IsAdmin(uid) {
		return AccessAdmin
	}
	return AccessEveryone
}

// SetFallback handles non-command private messages from senders with at
// least access.
func (r *Router) SetFallback(name string, access Access, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		r.fallback = nil
		return
	}
	r.fallback = &Command{Route: name, Access: access, Handle: h}
}

// SetRegistry replaces every command and callback route. /help is added
// automatically.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpText(req.Args, r.access(req.FromID)), nil)
			return err
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		// Multi-token routes get a Telegram-safe "a_b" shortcut. Single-token
		// names must not be aliased or subcommand traversal short-circuits.
		if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		p, a := strings.TrimSpace(rt.Plugin), strings.TrimSpace(rt.Action)
		if p == "" || a == "" || rt.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = rt
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.mu.Unlock()

	r.cbMu.Lock()
	r.callbacks = cb
	r.cbMu.Unlock()

	if up, ok := r.client.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(cmds)
		run := func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Debug("menu update failed", logx.Err(err))
			}
		}
		if r.menuSup != nil {
			r.menuSup.Go0("telegram.menu.update", run)
		} else {
			go run(context.Background())
		}
	}
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithPanicHook(func(name string) { r.m.Panic(name) }),
	)
	r.sup = sup
	r.log.Info("command dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.m.Panic("router.job")
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	target := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	word, isCmd := commandWord(msg.Text)

	if !isCmd {
		r.mu.RLock()
		fb := r.fallback
		r.mu.RUnlock()
		if fb == nil || !msg.IsPrivate || r.access(msg.FromID) < fb.Access {
			return
		}
		r.enqueue(ctx, up, *fb, nil, nil, strings.TrimSpace(msg.Text))
		return
	}
	if mentionsOther(msg.Text, r.client.Username()) {
		return
	}

	r.mu.RLock()
	rootNode, aliasMap := r.root, r.alias
	r.mu.RUnlock()

	args := tokenizeCommandLine(msg.Text)[1:]
	if leaf, ok := aliasMap[word]; ok && leaf.cmd != nil {
		cmd := *leaf.cmd
		r.dispatchCommand(ctx, up, cmd, splitRoute(cmd.Route), args, restAfter(msg.Text, 1))
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		if msg.IsPrivate {
			_, _ = r.client.SendText(ctx, target, "Unknown command. Try /help", nil)
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		child, ok := cur.child(strings.ToLower(args[0]))
		if !ok {
			break
		}
		cur = child
		path = append(path, strings.ToLower(args[0]))
		args = args[1:]
	}
	if cur.cmd == nil {
		lvl := r.access(msg.FromID)
		if cur.minAccess() > lvl || (cur.minAccess() > AccessEveryone && !msg.IsPrivate) {
			return
		}
		_, _ = r.client.SendText(ctx, target, r.helpText(path, lvl), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}
	r.dispatchCommand(ctx, up, *cur.cmd, path, args, restAfter(msg.Text, len(path)))
}

func (r *Router) dispatchCommand(ctx context.Context, up kit.Update, cmd Command, path, args []string, text string) {
	msg := up.Message
	if cmd.Access > AccessEveryone {
		if !msg.IsPrivate || r.access(msg.FromID) < cmd.Access {
			r.log.Debug("command denied", logx.String("cmd", cmd.Route), logx.Int64("from_id", msg.FromID), logx.Bool("private", msg.IsPrivate))
			r.m.Command(cmd.Route, "denied", 0)
			return
		}
	}
	r.enqueue(ctx, up, cmd, path, args, text)
}

func (r *Router) enqueue(ctx context.Context, up kit.Update, cmd Command, path, args []string, text string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Path:    path,
		Command: cmd.Route,
		Args:    args,
		Text:    text,
		ReqID:   rid,
		Client:  r.client,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log, r.m),
		MWMetrics(r.m),
		MWRequestLog(r.log),
		MWTimeout(r.timeout(cmd.Timeout)),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		r.m.Command(cmd.Route, "busy", 0)
		_, _ = r.client.SendText(ctx, req.Chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return r.opt.HandlerTimeout
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		_ = r.client.AnswerCallback(ctx, cb.ID, "")
		return
	}
	plugin, action := parts[0], parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	r.cbMu.RLock()
	route, ok := r.callbacks[plugin][action]
	r.cbMu.RUnlock()
	if !ok {
		_ = r.client.AnswerCallback(ctx, cb.ID, "")
		return
	}
	name := "cb:" + plugin + ":" + action
	if r.access(cb.FromID) < route.Access {
		r.m.Command(name, "denied", 0)
		_ = r.client.AnswerCallback(ctx, cb.ID, "Not allowed.")
		return
	}

	rid := newReqID()
	req := &Request{
		Update:   up,
		Callback: cb,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:   cb.FromID,
		Command:  name,
		Payload:  payload,
		ReqID:    rid,
		Client:   r.client,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", name),
		),
	}
	h := func(c context.Context, rq *Request) error { return route.Handle(c, rq, payload) }
	final := Chain(h,
		MWPanicRecover(r.log, r.m),
		MWMetrics(r.m),
		MWRequestLog(r.log),
		MWTimeout(r.timeout(route.Timeout)),
	)
	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		if !route.KeepSpinner {
			_ = r.client.AnswerCallback(ctx, cb.ID, "")
		}
	}) {
		_ = r.client.AnswerCallback(ctx, cb.ID, "Busy, try again.")
	}
}
