package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"fsubbot/internal/task/scheduler"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	botTokenRe = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]+$`)
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("bot_token", func(fl validator.FieldLevel) bool {
			return botTokenRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
			return err == nil && d >= 0
		})
		_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
			_, err := scheduler.ParseSchedule(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// Validate checks field constraints plus a few cross-field rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldMessage(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Storage.RedisURL != "" {
		u, err := url.Parse(cfg.Storage.RedisURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("invalid config: storage.redis_url must be a redis:// or rediss:// url")
		}
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		return fmt.Errorf("invalid config: logging.telegram.enabled requires telegram.group_log")
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Namespace()
	switch fe.Tag() {
	case "required", "required_if":
		return name + " is required"
	case "bot_token":
		return name + " is not a bot token"
	case "schedule":
		return name + " must be a cron spec or an interval like 30m"
	case "duration":
		return name + " must be a non-negative duration like 10s"
	case "oneof":
		return name + " must be one of: " + fe.Param()
	case "gt":
		return fmt.Sprintf("%s must be > %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", name, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", name, fe.Param())
	default:
		return name + " is invalid (" + fe.Tag() + ")"
	}
}
