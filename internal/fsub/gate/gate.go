// Package gate decides whether a user may receive gated content.
package gate

import (
	"context"

	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/observability/metrics"
)

// Source is the read side of membership.Cache.
type Source interface {
	Gap(ctx context.Context, uid int64) ([]int64, bool)
	Chat(id int64) (membership.GatedChat, bool)
}

// Decision is the outcome of one gate check.
type Decision struct {
	// Applies is false when nothing is gated or the user is exempt.
	Applies bool
	// Missing lists the chats still to join, in cache order.
	Missing []membership.GatedChat
}

// Blocked reports whether content must be withheld.
func (d Decision) Blocked() bool { return d.Applies && len(d.Missing) > 0 }

// Gate never mutates the cache and is safe for concurrent use.
type Gate struct {
	src Source
	m   *metrics.Metrics
}

func New(src Source, m *metrics.Metrics) *Gate {
	return &Gate{src: src, m: m}
}

// Check runs one membership pass and returns the full decision.
func (g *Gate) Check(ctx context.Context, uid int64) Decision {
	ids, applies := g.src.Gap(ctx, uid)
	d := Decision{Applies: applies}
	if !applies {
		g.m.GateCheck("exempt")
		return d
	}
	d.Missing = make([]membership.GatedChat, 0, len(ids))
	for _, id := range ids {
		// Chats dropped by a concurrent refresh are no longer required.
		if chat, ok := g.src.Chat(id); ok {
			d.Missing = append(d.Missing, chat)
		}
	}
	if d.Blocked() {
		g.m.GateCheck("blocked")
	} else {
		g.m.GateCheck("open")
	}
	return d
}

func (g *Gate) IsBlocked(ctx context.Context, uid int64) bool {
	return g.Check(ctx, uid).Blocked()
}

func (g *Gate) MissingChats(ctx context.Context, uid int64) []membership.GatedChat {
	return g.Check(ctx, uid).Missing
}
