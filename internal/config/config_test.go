package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123456:ABC-def_ghi"
  owner_id: 42
  database_chat_id: -1001234567890
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./data/bot.db
broadcast:
  rate_per_sec: 20
membership:
  refresh_schedule: "*/30 * * * *"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestManager_LoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", validYAML))
	m.SetEnvLookup(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotID() != 123456 {
		t.Fatalf("bot id=%d", cfg.Telegram.BotID())
	}
	if cfg.Telegram.DatabaseChatID != -1001234567890 {
		t.Fatalf("database chat=%d", cfg.Telegram.DatabaseChatID)
	}
	if got := cfg.Broadcast.MaxBatchOrDefault(); got != DefaultMaxBatch {
		t.Fatalf("max batch=%d", got)
	}
	if got := cfg.Telegram.PollTimeoutDuration(); got != DefaultPollTimeout {
		t.Fatalf("poll timeout=%s", got)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestDecode_RejectsUnknownAndTrailing(t *testing.T) {
	cases := map[string]struct {
		path string
		body string
	}{
		"unknown json key": {"c.json", `{"telegram":{"token":"1:a","nope":1}}`},
		"trailing json":    {"c.json", `{"telegram":{}} {}`},
		"unknown yaml key": {"c.yaml", "storage:\n  drvier: file\n"},
		"two yaml docs":    {"c.yml", "logging:\n  level: info\n---\nlogging:\n  level: debug\n"},
		"empty yaml":       {"c.yaml", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	env := map[string]string{
		EnvToken:          "999:zzz",
		EnvOwnerID:        "7",
		EnvDatabaseChatID: "-100555",
		EnvOwnerUsername:  "@boss",
		EnvRedisURL:       "redis://localhost:6379/0",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := &Config{}
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Telegram.Token != "999:zzz" || cfg.Telegram.OwnerID != 7 || cfg.Telegram.DatabaseChatID != -100555 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if cfg.Telegram.OwnerUsername != "boss" {
		t.Fatalf("username=%q", cfg.Telegram.OwnerUsername)
	}
	if cfg.Storage.Driver != "redis" {
		t.Fatalf("driver=%q", cfg.Storage.Driver)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	env[EnvOwnerID] = "abc"
	if err := ApplyEnv(&Config{}, lookup); err == nil {
		t.Fatalf("expected error for bad OWNER_ID")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "1:abc", OwnerID: 1, DatabaseChatID: -1001}}
	}
	cases := []struct {
		name    string
		mut     func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "Token is required"},
		{"bad token", func(c *Config) { c.Telegram.Token = "nocolon" }, "not a bot token"},
		{"missing owner", func(c *Config) { c.Telegram.OwnerID = 0 }, "OwnerID is required"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, "one of"},
		{"redis without url", func(c *Config) { c.Storage.Driver = "redis" }, "RedisURL is required"},
		{"bad redis scheme", func(c *Config) { c.Storage.RedisURL = "http://x" }, "redis_url"},
		{"bad duration", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "duration"},
		{"negative rate", func(c *Config) { c.Broadcast.RatePerSec = -1 }, "RatePerSec"},
		{"tg log needs group", func(c *Config) { c.Logging.Telegram.Enabled = true }, "group_log"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mut(c)
			err := Validate(c)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestManager_ReloadPublishesOnlyChanges(t *testing.T) {
	p := writeFile(t, "config.yaml", validYAML)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.Reload() {
		t.Fatalf("unchanged file published")
	}
	if err := os.WriteFile(p, []byte(strings.Replace(validYAML, "rate_per_sec: 20", "rate_per_sec: 5", 1)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.Reload() {
		t.Fatalf("changed file not published")
	}
	select {
	case cfg := <-ch:
		if cfg.Broadcast.RatePerSec != 5 {
			t.Fatalf("rate=%v", cfg.Broadcast.RatePerSec)
		}
	case <-time.After(time.Second):
		t.Fatalf("no publish")
	}

	// Invalid content is never committed.
	if err := os.WriteFile(p, []byte("telegram: {}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.Reload() {
		t.Fatalf("invalid config published")
	}
	if m.Get().Broadcast.RatePerSec != 5 {
		t.Fatalf("invalid config committed")
	}
}

func TestChanges_MetricsTokenChange(t *testing.T) {
	a := &Config{Metrics: MetricsConfig{Token: "secret-a"}}
	b := &Config{Metrics: MetricsConfig{Token: "secret-b"}, Broadcast: BroadcastConfig{RatePerSec: 3}}
	changed, attrs := Changes(a, b)
	want := map[string]bool{SectionBroadcast: true, SectionMetrics: true}
	if len(changed) != len(want) {
		t.Fatalf("changed=%v", changed)
	}
	for _, s := range changed {
		if !want[s] {
			t.Fatalf("unexpected section %q", s)
		}
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs for changed sections")
	}
	if got := RestartRequired([]string{SectionTelegram, SectionLogging}); len(got) != 1 || got[0] != SectionTelegram {
		t.Fatalf("restart=%v", got)
	}
}
