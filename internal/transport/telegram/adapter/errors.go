package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "fsubbot/internal/transport"
)

// classify maps telebot errors onto the transport taxonomy.
//
// Flood control becomes *kit.RateLimitError. Any error the Bot API itself
// returned (a known *tele.Error, a group migration, or an unrecognized
// "telegram: <description> (<code>)" reply) becomes *kit.RejectedError.
// Network and decoding failures pass through unclassified.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := asFlood(err); ok {
		wait := time.Duration(fe.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return &kit.RateLimitError{Wait: wait}
	}

	var te *tele.Error
	if errors.As(err, &te) {
		return &kit.RejectedError{Code: te.Code, Description: te.Description}
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return &kit.RejectedError{Description: ge.Error()}
	}
	var gep *tele.GroupError
	if errors.As(err, &gep) {
		return &kit.RejectedError{Description: gep.Error()}
	}
	if msg := err.Error(); strings.HasPrefix(msg, "telegram: ") {
		return &kit.RejectedError{Description: strings.TrimPrefix(msg, "telegram: ")}
	}
	return err
}

func asFlood(err error) (tele.FloodError, bool) {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return fe, true
	}
	var fp *tele.FloodError
	if errors.As(err, &fp) && fp != nil {
		return *fp, true
	}
	return tele.FloodError{}, false
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
