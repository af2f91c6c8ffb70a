package config

import (
	"strconv"
	"strings"
	"time"

	"fsubbot/internal/observability/metrics"
	"fsubbot/internal/storage"
	logx "fsubbot/pkg/logx"
)

const (
	DefaultPollTimeout    = 10 * time.Second
	DefaultMaxBatch       = 200
	DefaultRouterWorkers  = 8
	DefaultHandlerTimeout = 2 * time.Minute
)

// BotID is the numeric prefix of the bot token.
func (t TelegramConfig) BotID() int64 {
	head, _, ok := strings.Cut(t.Token, ":")
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return mustDuration(t.PollTimeout, DefaultPollTimeout)
}

// GroupLogID is 0 when unset.
func (t TelegramConfig) GroupLogID() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(t.GroupLog), 10, 64)
	return id
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// DefaultStorePath is used by the file driver when no path is set.
const DefaultStorePath = "data/fsubbot.json"

func (s StorageConfig) Store() storage.Config {
	path := s.Path
	if strings.TrimSpace(path) == "" && (s.Driver == "" || s.Driver == "file") {
		path = DefaultStorePath
	}
	return storage.Config{
		Driver:      s.Driver,
		Path:        path,
		BusyTimeout: mustDuration(s.BusyTimeout, 0),
		RedisURL:    s.RedisURL,
		KeyPrefix:   s.KeyPrefix,
	}
}

func (b BroadcastConfig) MaxBatchOrDefault() int {
	if b.MaxBatch <= 0 {
		return DefaultMaxBatch
	}
	return b.MaxBatch
}

func (b BroadcastConfig) AutoDeleteDuration() time.Duration {
	return mustDuration(b.AutoDelete, 0)
}

func (r RouterConfig) WorkersOrDefault() int {
	if r.Workers <= 0 {
		return DefaultRouterWorkers
	}
	return r.Workers
}

func (r RouterConfig) Timeout() time.Duration {
	return mustDuration(r.HandlerTimeout, DefaultHandlerTimeout)
}

func (m MetricsConfig) Server() metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          m.Addr,
		Path:          m.Path,
		Pprof:         m.Pprof,
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
		ReadTimeout:   mustDuration(m.ReadTimeout, 0),
		WriteTimeout:  mustDuration(m.WriteTimeout, 0),
	}
}
