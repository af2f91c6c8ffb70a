package gate

import (
	"context"
	"testing"

	"fsubbot/internal/fsub/membership"
	"fsubbot/internal/observability/metrics"
)

type fakeSource struct {
	gap     []int64
	applies bool
	chats   map[int64]membership.GatedChat
}

func (f *fakeSource) Gap(context.Context, int64) ([]int64, bool) { return f.gap, f.applies }

func (f *fakeSource) Chat(id int64) (membership.GatedChat, bool) {
	c, ok := f.chats[id]
	return c, ok
}

func chats(ids ...int64) map[int64]membership.GatedChat {
	m := map[int64]membership.GatedChat{}
	for _, id := range ids {
		m[id] = membership.GatedChat{ID: id, InviteLink: "https://t.me/+x"}
	}
	return m
}

func TestCheck(t *testing.T) {
	cases := []struct {
		name    string
		src     *fakeSource
		blocked bool
		missing []int64
	}{
		{"no gate", &fakeSource{applies: false}, false, nil},
		{"fully joined", &fakeSource{applies: true, gap: []int64{}, chats: chats(-1)}, false, nil},
		{"missing in order", &fakeSource{applies: true, gap: []int64{-3, -1}, chats: chats(-1, -2, -3)}, true, []int64{-3, -1}},
		{"stale id dropped", &fakeSource{applies: true, gap: []int64{-9, -1}, chats: chats(-1)}, true, []int64{-1}},
		{"only stale ids", &fakeSource{applies: true, gap: []int64{-9}, chats: chats(-1)}, false, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New(tc.src, metrics.New())
			if got := g.IsBlocked(context.Background(), 5); got != tc.blocked {
				t.Fatalf("IsBlocked = %v, want %v", got, tc.blocked)
			}
			missing := g.MissingChats(context.Background(), 5)
			if len(missing) != len(tc.missing) {
				t.Fatalf("MissingChats = %+v, want %v", missing, tc.missing)
			}
			for i, c := range missing {
				if c.ID != tc.missing[i] {
					t.Fatalf("MissingChats[%d] = %d, want %d", i, c.ID, tc.missing[i])
				}
			}
		})
	}
}
