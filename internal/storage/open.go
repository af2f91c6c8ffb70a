package storage

import (
	"context"
	"errors"
	"strings"

	logx "fsubbot/pkg/logx"
)

// Store persists the bot document. Every method is atomic at document
// granularity.
type Store interface {
	Load(ctx context.Context) (Document, error)

	// AddValue appends v to the list unless present; reports whether it was added.
	AddValue(ctx context.Context, f ListField, v int64) (bool, error)
	// RemoveValue deletes v from the list; reports whether it was present.
	RemoveValue(ctx context.Context, f ListField, v int64) (bool, error)
	ReplaceList(ctx context.Context, f ListField, vs []int64) error

	SetProgress(ctx context.Context, p Progress) error
	ClearProgress(ctx context.Context) error

	SetRestart(ctx context.Context, n RestartNote) error
	ClearRestart(ctx context.Context) error

	SetText(ctx context.Context, f TextField, v string) error
	SetFlag(ctx context.Context, f FlagField, v bool) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store for one bot identity.
func Open(cfg Config, botID int64, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if botID == 0 {
		return nil, errors.New("storage: bot id is required")
	}

	switch driver {
	case "", "file":
		return openFile(cfg, botID, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, botID, log)
	case "redis":
		return openRedis(cfg, botID, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func dedupe(vs []int64) []int64 {
	seen := make(map[int64]struct{}, len(vs))
	out := make([]int64, 0, len(vs))
	for _, v := range vs {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
