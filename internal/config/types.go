package config

// Config is the file-backed bot configuration. Secrets and identity may also
// come from the environment (see ApplyEnv).
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Broadcast  BroadcastConfig  `json:"broadcast"`
	Membership MembershipConfig `json:"membership"`
	Router     RouterConfig     `json:"router"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type TelegramConfig struct {
	Token   string `json:"token" validate:"required,bot_token"`
	OwnerID int64  `json:"owner_id" validate:"required,gt=0"`
	// DatabaseChatID is the private channel that stores shared messages.
	// Its absolute value scales token ids.
	DatabaseChatID int64  `json:"database_chat_id" validate:"required"`
	OwnerUsername  string `json:"owner_username,omitempty" validate:"omitempty,max=32"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty" validate:"omitempty,duration"`
	// GroupLog is the chat id receiving forwarded log lines.
	GroupLog string `json:"group_log,omitempty" validate:"omitempty,number"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"gte=0"`
	Compress   bool   `json:"compress,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/fsubbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite sqlite3 redis"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`
	RedisURL    string `json:"redis_url,omitempty" validate:"required_if=Driver redis"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

type BroadcastConfig struct {
	// RatePerSec paces copies on top of platform flood waits. 0 disables pacing.
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0,lte=30"`
	// MaxBatch bounds how many messages one link may deliver.
	MaxBatch int `json:"max_batch,omitempty" validate:"gte=0,lte=1000"`
	// AutoDelete removes delivered messages after this delay; empty disables.
	AutoDelete string `json:"auto_delete,omitempty" validate:"omitempty,duration"`
}

type MembershipConfig struct {
	// RefreshSchedule is a cron spec ("*/30 * * * *"), "@every 30m" or an
	// interval ("30m", "00:30") for periodic gated-chat refresh.
	// Empty disables it; the cache is always refreshed on startup and after
	// admin changes.
	RefreshSchedule string `json:"refresh_schedule,omitempty" validate:"omitempty,schedule"`
	Timezone        string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

type RouterConfig struct {
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=256"`
	HandlerTimeout string `json:"handler_timeout,omitempty" validate:"omitempty,duration"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - A non-loopback address needs a token or allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Path          string `json:"path,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout  string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
}
