package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	kit "fsubbot/internal/transport"
)

const (
	maxTelegramLine  = 3500
	maxTelegramField = 600
	maxTelegramStack = 900
)

// tokenPattern matches a bot token ("<bot id>:<secret>"), including inside
// API URLs echoed by client errors.
var tokenPattern = regexp.MustCompile(`\d{5,}:[A-Za-z0-9_-]{30,}`)

// Redact masks the secret half of any bot token in s.
func Redact(s string) string {
	return tokenPattern.ReplaceAllStringFunc(s, maskToken)
}

func redactBytes(p []byte) []byte {
	return tokenPattern.ReplaceAllFunc(p, func(m []byte) []byte { return []byte(maskToken(string(m))) })
}

func maskToken(tok string) string {
	id, _, _ := strings.Cut(tok, ":")
	return id + ":***"
}

type telegramItem struct {
	to  kit.ChatTarget
	msg string
}

func (s *Service) startTelegramWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.tgCancel = cancel
	s.tgWG.Add(1)
	go func() {
		defer s.tgWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it := <-s.tgQueue:
				if s.sender == nil {
					continue
				}
				// Failures are not logged; they would feed back into this sink.
				_, _ = s.sender.SendText(ctx, it.to, it.msg, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			}
		}
	}()
}

// enqueue never blocks the caller's log statement.
func (s *Service) enqueue(to kit.ChatTarget, msg string) {
	select {
	case s.tgQueue <- telegramItem{to: to, msg: msg}:
	default:
		s.dropped.Add(1)
	}
}

type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	chatID, threadID, lim, minLevel := s.chatID, s.threadID, s.limiter, s.minLevel
	s.mu.Unlock()

	if chatID == 0 || s.sender == nil || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if msg := formatTelegramJSON(p); msg != "" {
		s.enqueue(kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, msg)
	}
	return len(p), nil
}

// formatTelegramJSON renders one zerolog JSON line as HTML: the level and
// message in bold, then fields in key order and the stack last. Non-JSON
// input is sent escaped.
func formatTelegramJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return truncate(html.EscapeString(Redact(strings.TrimSpace(string(p)))), maxTelegramLine)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	b.WriteString("<b>")
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(html.EscapeString(truncate(Redact(msg), maxTelegramLine/2)))
	b.WriteString("</b>")

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// Cut whole fields so the markup stays balanced.
		if b.Len() > maxTelegramLine-maxTelegramStack {
			b.WriteString("\n- ...")
			break
		}
		v := truncate(Redact(fmt.Sprint(m[k])), maxTelegramField)
		fmt.Fprintf(&b, "\n- <code>%s</code>=%s", html.EscapeString(k), html.EscapeString(v))
	}
	if st, ok := m["stack"]; ok {
		b.WriteString("\n<pre>")
		b.WriteString(html.EscapeString(truncate(fmt.Sprint(st), maxTelegramStack)))
		b.WriteString("</pre>")
	}
	return b.String()
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
