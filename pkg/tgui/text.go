package tgui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// TruncRunes cuts s to n runes plus an ellipsis when longer.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

var durationUnits = []struct {
	name string
	secs int64
}{
	{"Week", 7 * 24 * 3600},
	{"Day", 24 * 3600},
	{"Hour", 3600},
	{"Minute", 60},
	{"Second", 1},
}

// HumanDuration renders d with its two largest units, e.g. "1 Hour, 5 Minutes".
func HumanDuration(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	var out []string
	for _, u := range durationUnits {
		if len(out) == 2 {
			break
		}
		n := secs / u.secs
		if n <= 0 {
			continue
		}
		secs -= n * u.secs
		s := fmt.Sprintf("%d %s", n, u.name)
		if n > 1 {
			s += "s"
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return "0 Seconds"
	}
	return strings.Join(out, ", ")
}
