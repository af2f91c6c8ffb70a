package config

import (
	"strings"

	logx "fsubbot/pkg/logx"
)

// Section names reported by Changes.
const (
	SectionTelegram   = "telegram"
	SectionLogging    = "logging"
	SectionStorage    = "storage"
	SectionBroadcast  = "broadcast"
	SectionMembership = "membership"
	SectionRouter     = "router"
	SectionMetrics    = "metrics"
)

// Changes lists changed sections and safe log attrs (never secrets).
func Changes(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.OwnerID != nt.OwnerID || ot.DatabaseChatID != nt.DatabaseChatID ||
		ot.OwnerUsername != nt.OwnerUsername || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		changed = append(changed, SectionTelegram)
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int64("telegram.owner_id", nt.OwnerID),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, SectionStorage)
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, SectionBroadcast)
		attrs = append(attrs,
			logx.Float64("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.Int("broadcast.max_batch", newCfg.Broadcast.MaxBatch),
		)
	}

	if oldCfg.Membership != newCfg.Membership {
		changed = append(changed, SectionMembership)
		attrs = append(attrs, logx.String("membership.refresh_schedule", newCfg.Membership.RefreshSchedule))
	}

	if oldCfg.Router != newCfg.Router {
		changed = append(changed, SectionRouter)
		attrs = append(attrs, logx.Int("router.workers", newCfg.Router.Workers))
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	om.Token, nm.Token = tokenMark(om.Token), tokenMark(nm.Token)
	if om != nm || oldCfg.Metrics.Token != newCfg.Metrics.Token {
		changed = append(changed, SectionMetrics)
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", nm.Addr),
			logx.Bool("metrics.token_set", nm.Token != ""),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case SectionTelegram, SectionStorage, SectionRouter:
			out = append(out, s)
		}
	}
	return out
}

func tokenMark(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}
