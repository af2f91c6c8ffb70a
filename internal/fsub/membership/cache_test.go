package membership

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	logx "fsubbot/pkg/logx"
)

const owner = int64(1)

type fakeChats struct {
	mu      sync.Mutex
	chats   map[int64]kit.ChatInfo
	members map[int64]map[int64]bool
	queries int
}

func newFakeChats() *fakeChats {
	return &fakeChats{chats: map[int64]kit.ChatInfo{}, members: map[int64]map[int64]bool{}}
}

func (f *fakeChats) add(id int64, kind kit.ChatKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[id] = kit.ChatInfo{ID: id, Kind: kind, InviteLink: "https://t.me/+x"}
}

func (f *fakeChats) join(chatID, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[chatID] == nil {
		f.members[chatID] = map[int64]bool{}
	}
	f.members[chatID][userID] = true
}

func (f *fakeChats) ResolveChat(_ context.Context, id int64) (kit.ChatInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.chats[id]
	if !ok {
		return kit.ChatInfo{}, &kit.RejectedError{Code: 400, Description: "chat not found"}
	}
	return info, nil
}

func (f *fakeChats) ChatMember(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.members[chatID][userID] {
		return nil
	}
	return errors.New("user not found")
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.json")}, 99, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGapNoneWhenNothingGated(t *testing.T) {
	c := New(owner, newStore(t), newFakeChats(), nil, logx.Nop())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, uid := range []int64{owner, 5, 12345} {
		if missing, applies := c.Gap(context.Background(), uid); applies || missing != nil {
			t.Fatalf("Gap(%d) = %v, %v; want no gate", uid, missing, applies)
		}
	}
}

func TestRefreshGatedSelfHeals(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	chats := newFakeChats()
	chats.add(-100, kit.KindChannel)
	chats.add(-300, kit.KindGroup)
	for _, id := range []int64{-300, -200, -100} {
		if _, err := st.AddValue(ctx, storage.FieldGated, id); err != nil {
			t.Fatal(err)
		}
	}

	c := New(owner, st, chats, nil, logx.Nop())
	got, err := c.RefreshGated(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]int64, 0, len(got))
	for _, g := range got {
		ids = append(ids, g.ID)
	}
	if !slices.Equal(ids, []int64{-300, -100}) {
		t.Fatalf("gated = %v, want insertion order without the dead chat", ids)
	}

	doc, _ := st.Load(ctx)
	if slices.Contains(doc.Gated, -200) {
		t.Fatalf("unresolvable chat was not removed from the store: %v", doc.Gated)
	}
	if g, ok := c.Chat(-300); !ok || g.Kind != kit.KindGroup {
		t.Fatalf("Chat(-300) = %+v, %v", g, ok)
	}
}

func TestGapAdminsAndMembership(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	chats := newFakeChats()
	chats.add(-100, kit.KindChannel)
	chats.add(-200, kit.KindGroup)
	_, _ = st.AddValue(ctx, storage.FieldGated, -100)
	_, _ = st.AddValue(ctx, storage.FieldGated, -200)
	_, _ = st.AddValue(ctx, storage.FieldAdmins, 7)

	c := New(owner, st, chats, nil, logx.Nop())
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	for _, admin := range []int64{owner, 7} {
		if _, applies := c.Gap(ctx, admin); applies {
			t.Fatalf("admin %d must be exempt", admin)
		}
	}

	missing, applies := c.Gap(ctx, 50)
	if !applies || !slices.Equal(missing, []int64{-100, -200}) {
		t.Fatalf("Gap = %v, %v", missing, applies)
	}
	chats.join(-200, 50)
	missing, _ = c.Gap(ctx, 50)
	if !slices.Equal(missing, []int64{-100}) {
		t.Fatalf("Gap after join = %v", missing)
	}
	chats.join(-100, 50)
	missing, applies = c.Gap(ctx, 50)
	if !applies || len(missing) != 0 {
		t.Fatalf("fully joined Gap = %v, %v", missing, applies)
	}
}

func TestAddGatedValidatesFirst(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	chats := newFakeChats()
	c := New(owner, st, chats, nil, logx.Nop())

	_, added, err := c.AddGated(ctx, -555)
	var rerr *ResolutionError
	if !errors.As(err, &rerr) || added {
		t.Fatalf("AddGated unknown = %v, %v", added, err)
	}
	if doc, _ := st.Load(ctx); len(doc.Gated) != 0 {
		t.Fatalf("invalid chat persisted: %v", doc.Gated)
	}

	chats.add(-555, kit.KindChannel)
	g, added, err := c.AddGated(ctx, -555)
	if err != nil || !added || g.ID != -555 {
		t.Fatalf("AddGated = %+v, %v, %v", g, added, err)
	}
	if len(c.GatedChats()) != 1 {
		t.Fatalf("cache not refreshed after add")
	}
	if _, added, _ := c.AddGated(ctx, -555); added {
		t.Fatalf("duplicate add reported as added")
	}

	removed, err := c.RemoveGated(ctx, -555)
	if err != nil || !removed || len(c.GatedChats()) != 0 {
		t.Fatalf("RemoveGated = %v, %v, cache=%v", removed, err, c.GatedChats())
	}
}

func TestAdminMutations(t *testing.T) {
	ctx := context.Background()
	c := New(owner, newStore(t), newFakeChats(), nil, logx.Nop())

	if _, err := c.AddAdmin(ctx, owner); !errors.Is(err, ErrOwner) {
		t.Fatalf("AddAdmin(owner) err = %v", err)
	}
	if ok, err := c.AddAdmin(ctx, 9); err != nil || !ok || !c.IsAdmin(9) {
		t.Fatalf("AddAdmin = %v, %v", ok, err)
	}
	if got := c.Admins(); !slices.Equal(got, []int64{owner, 9}) {
		t.Fatalf("Admins = %v", got)
	}
	if ok, err := c.RemoveAdmin(ctx, 9); err != nil || !ok || c.IsAdmin(9) {
		t.Fatalf("RemoveAdmin = %v, %v", ok, err)
	}
	if !c.IsAdmin(owner) {
		t.Fatalf("owner must always be admin")
	}
	set, err := c.RefreshAdmins(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set[owner]; !ok || len(set) != 1 {
		t.Fatalf("RefreshAdmins = %v", set)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	c := New(owner, newStore(t), newFakeChats(), nil, logx.Nop())
	if s := c.Settings(); s != DefaultSettings() {
		t.Fatalf("defaults = %+v", s)
	}
	s, err := c.SetFlag(ctx, storage.FlagProtect, true)
	if err != nil || !s.ProtectContent {
		t.Fatalf("SetFlag = %+v, %v", s, err)
	}
	s, err = c.SetText(ctx, storage.TextStart, "welcome")
	if err != nil || s.StartText != "welcome" || s.ForceText != DefaultForceText {
		t.Fatalf("SetText = %+v, %v", s, err)
	}
	s, _ = c.SetText(ctx, storage.TextStart, "")
	if s.StartText != DefaultStartText {
		t.Fatalf("empty text should fall back to default: %q", s.StartText)
	}
}

func TestRefreshPicksUpStoreEdits(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	c := New(owner, st, newFakeChats(), nil, logx.Nop())
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	// Written by another process sharing the store.
	if err := st.SetText(ctx, storage.TextForce, "join first"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetFlag(ctx, storage.FlagGenerate, false); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddValue(ctx, storage.FieldAdmins, 31); err != nil {
		t.Fatal(err)
	}
	if c.IsAdmin(31) || c.Settings().ForceText != DefaultForceText {
		t.Fatalf("cache changed without a refresh")
	}

	s, err := c.RefreshSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.ForceText != "join first" || s.GenerateEnabled || c.Settings() != s {
		t.Fatalf("RefreshSettings = %+v", s)
	}
	if _, err := c.RefreshAdmins(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.IsAdmin(31) || !slices.Equal(c.Admins(), []int64{owner, 31}) {
		t.Fatalf("admins = %v", c.Admins())
	}
}
