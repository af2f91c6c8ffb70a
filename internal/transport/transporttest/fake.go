// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"sync"

	kit "fsubbot/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
	Ref  kit.MessageRef
}

type Copied struct {
	To  kit.ChatTarget
	Src kit.MessageRef
	Opt kit.CopyOptions
	Ref kit.MessageRef
}

type Document struct {
	To      kit.ChatTarget
	Path    string
	Caption string
	Opt     kit.SendOptions
	Ref     kit.MessageRef
}

type Edited struct {
	Ref  kit.MessageRef
	Text string
}

// Client records every call. Hooks, when set, decide the outcome.
type Client struct {
	mu sync.Mutex

	Bot string

	Chats map[int64]kit.ChatInfo
	// Members[chat][user] reports membership; missing means not a member.
	Members map[int64]map[int64]bool

	CopyHook func(to kit.ChatTarget, src kit.MessageRef) error
	// SendHook fails SendText for a recipient when it returns an error.
	SendHook func(to kit.ChatTarget) error

	Sent      []Sent
	Copies    []Copied
	Documents []Document
	Edits     []Edited
	Deleted   []kit.MessageRef
	Answered  []string
	Menus     [][]kit.BotCommand

	nextID int
}

var (
	_ kit.Client         = (*Client)(nil)
	_ kit.DocumentSender = (*Client)(nil)
)

func New(bot string) *Client {
	return &Client{Bot: bot, Chats: map[int64]kit.ChatInfo{}, Members: map[int64]map[int64]bool{}}
}

func (c *Client) id() int {
	c.nextID++
	return 5000 + c.nextID
}

func (c *Client) Start(ctx context.Context, _ chan<- kit.Update) error {
	<-ctx.Done()
	return nil
}

func (c *Client) Stop(context.Context) error { return nil }

func (c *Client) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendHook != nil {
		if err := c.SendHook(to); err != nil {
			return kit.MessageRef{}, err
		}
	}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: c.id()}
	s := Sent{To: to, Text: text, Ref: ref}
	if opt != nil {
		s.Opt = *opt
	}
	c.Sent = append(c.Sent, s)
	return ref, nil
}

func (c *Client) SendDocument(_ context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: c.id()}
	d := Document{To: to, Path: path, Caption: caption, Ref: ref}
	if opt != nil {
		d.Opt = *opt
	}
	c.Documents = append(c.Documents, d)
	return ref, nil
}

func (c *Client) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Edits = append(c.Edits, Edited{Ref: ref, Text: text})
	return nil
}

func (c *Client) AnswerCallback(_ context.Context, id, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Answered = append(c.Answered, id)
	return nil
}

func (c *Client) ResolveChat(_ context.Context, chatID int64) (kit.ChatInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.Chats[chatID]
	if !ok {
		return kit.ChatInfo{}, &kit.RejectedError{Code: 400, Description: "chat not found"}
	}
	return info, nil
}

func (c *Client) ChatMember(_ context.Context, chatID, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Members[chatID][userID] {
		return nil
	}
	return kit.ErrNotMember
}

// Join marks userID as a member of chatID.
func (c *Client) Join(chatID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Members[chatID] == nil {
		c.Members[chatID] = map[int64]bool{}
	}
	c.Members[chatID][userID] = true
}

func (c *Client) CopyMessage(_ context.Context, to kit.ChatTarget, src kit.MessageRef, opt *kit.CopyOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	hook := c.CopyHook
	c.mu.Unlock()
	if hook != nil {
		if err := hook(to, src); err != nil {
			return kit.MessageRef{}, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: c.id()}
	cp := Copied{To: to, Src: src, Ref: ref}
	if opt != nil {
		cp.Opt = *opt
	}
	c.Copies = append(c.Copies, cp)
	return ref, nil
}

func (c *Client) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deleted = append(c.Deleted, ref)
	return nil
}

func (c *Client) Username() string { return c.Bot }

func (c *Client) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Menus = append(c.Menus, cmds)
	return nil
}

// Texts returns a copy of every sent text in order.
func (c *Client) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Sent))
	for i, s := range c.Sent {
		out[i] = s.Text
	}
	return out
}

func (c *Client) LastSent() (Sent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sent) == 0 {
		return Sent{}, false
	}
	return c.Sent[len(c.Sent)-1], true
}

func (c *Client) CopiesSnapshot() []Copied {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Copied(nil), c.Copies...)
}

func (c *Client) AnsweredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Answered)
}
