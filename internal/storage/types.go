package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed       = errors.New("storage closed")
	ErrUnknownField = errors.New("storage: unknown field")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON document (tmp + rename) with a jsonl audit log
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "redis": Redis server (lists + hashes under KeyPrefix)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisURL  string
	KeyPrefix string
	// AuditCap bounds the redis audit list (0 = 10000).
	AuditCap int64
}

// ListField names an ordered id list in the bot document.
type ListField string

const (
	FieldAdmins ListField = "admins"
	FieldGated  ListField = "fsub_chats"
	FieldUsers  ListField = "users"
)

func (f ListField) valid() bool {
	switch f {
	case FieldAdmins, FieldGated, FieldUsers:
		return true
	}
	return false
}

type TextField string

const (
	TextStart TextField = "start_text"
	TextForce TextField = "force_text"
)

func (f TextField) valid() bool { return f == TextStart || f == TextForce }

type FlagField string

const (
	FlagProtect  FlagField = "protect_content"
	FlagGenerate FlagField = "generate_status"
)

func (f FlagField) valid() bool { return f == FlagProtect || f == FlagGenerate }

// Progress points at the message a running broadcast keeps editing.
type Progress struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// RestartNote is left by /restart so the next process can answer the
// command and remove its own "Restarting..." reply.
type RestartNote struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
	CommandID int   `json:"command_id"`
}

// Document is the full per-bot state. Lists keep insertion order and hold no
// duplicates. Missing Texts/Flags entries mean "use the default".
type Document struct {
	Admins   []int64
	Gated    []int64
	Users    []int64
	Progress *Progress
	Restart  *RestartNote
	Texts    map[TextField]string
	Flags    map[FlagField]bool
}

// List returns the named list.
func (d Document) List(f ListField) []int64 {
	switch f {
	case FieldAdmins:
		return d.Admins
	case FieldGated:
		return d.Gated
	case FieldUsers:
		return d.Users
	}
	return nil
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	ActorID  int64
	ChatID   int64
	Plugin   string
	Action   string
	Target   string
	OK       int
	Fail     int
	Error    string
	TookMS   int64
	MetaJSON string
}
