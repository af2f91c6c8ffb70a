package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string // first and last name joined
	FromFirst    string
	FromLast     string
	Text         string
	IsGroup      bool
	IsPrivate    bool
	// ReplyTo is the message this one replies to, if any.
	ReplyTo      *MessageRef
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
	// ReplyTo is what the button's message replies to, if anything.
	ReplyTo   *MessageRef
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo makes the message a reply (0 = none).
	ReplyTo            int
	Protect            bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// ChatKind is the coarse kind of a gated chat.
type ChatKind string

const (
	KindGroup   ChatKind = "group"
	KindChannel ChatKind = "channel"
)

// ChatInfo is the live metadata of a resolved chat.
type ChatInfo struct {
	ID         int64
	Kind       ChatKind
	Title      string
	InviteLink string
}

// CopyOptions controls CopyMessage.
type CopyOptions struct {
	Protect            bool
	ReplyTo            int
	ReplyMarkupAdapter any
}

// Platform is the set of messaging operations the bot logic needs beyond
// plain text I/O.
//
// CopyMessage and the other send-like calls report a *RateLimitError when the
// platform asks the caller to wait and a *RejectedError when the API refused
// the request for this recipient. Any other error is unclassified.
type Platform interface {
	ResolveChat(ctx context.Context, chatID int64) (ChatInfo, error)
	// ChatMember returns nil when userID is a member of chatID,
	// ErrNotMember when the user left or was kicked, or the query error.
	ChatMember(ctx context.Context, chatID, userID int64) error
	CopyMessage(ctx context.Context, to ChatTarget, src MessageRef, opt *CopyOptions) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
	Username() string
}

// Client is the full transport as used by the app.
type Client interface {
	Adapter
	Platform
}

// DocumentSender is implemented by adapters that can upload a local file.
type DocumentSender interface {
	SendDocument(ctx context.Context, to ChatTarget, path, caption string, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
