// Package membership caches the admin set, the gated chats and the display
// settings, and answers which gated chats a user still has to join.
//
// Snapshots are immutable and swapped atomically; readers never lock. All
// refreshes and mutations are serialized by a single writer lock.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"fsubbot/internal/observability/metrics"
	"fsubbot/internal/storage"
	kit "fsubbot/internal/transport"
	logx "fsubbot/pkg/logx"
)

// Store is the part of storage.Store the cache needs.
type Store interface {
	Load(ctx context.Context) (storage.Document, error)
	AddValue(ctx context.Context, f storage.ListField, v int64) (bool, error)
	RemoveValue(ctx context.Context, f storage.ListField, v int64) (bool, error)
	SetText(ctx context.Context, f storage.TextField, v string) error
	SetFlag(ctx context.Context, f storage.FlagField, v bool) error
}

// Chats resolves gated chats and checks membership on the platform.
type Chats interface {
	ResolveChat(ctx context.Context, chatID int64) (kit.ChatInfo, error)
	ChatMember(ctx context.Context, chatID, userID int64) error
}

// GatedChat is a chat users must join before content is released.
type GatedChat struct {
	ID         int64
	Kind       kit.ChatKind
	Title      string
	InviteLink string
}

// ResolutionError reports a stored chat that could not be resolved and was
// dropped from the gate.
type ResolutionError struct {
	ChatID int64
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve chat %d: %v", e.ChatID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

var ErrOwner = errors.New("membership: the owner is always an admin")

type adminSnap struct {
	set   map[int64]struct{}
	order []int64
}

type gatedSnap struct {
	order []GatedChat
	byID  map[int64]int
}

type Cache struct {
	owner int64
	store Store
	chats Chats
	log   logx.Logger
	m     *metrics.Metrics

	mu sync.Mutex // single writer

	admins   atomic.Pointer[adminSnap]
	gated    atomic.Pointer[gatedSnap]
	settings atomic.Pointer[Settings]
}

func New(owner int64, store Store, chats Chats, m *metrics.Metrics, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Cache{owner: owner, store: store, chats: chats, m: m, log: log}
	c.admins.Store(&adminSnap{set: map[int64]struct{}{}})
	c.gated.Store(&gatedSnap{byID: map[int64]int{}})
	def := DefaultSettings()
	c.settings.Store(&def)
	return c
}

func (c *Cache) Owner() int64 { return c.owner }

// Refresh reloads admins, gated chats and settings. Errors from individual
// chats are self-healed and logged; only store failures are returned.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	c.applyAdminsLocked(doc.Admins)
	c.applySettingsLocked(doc)
	c.refreshGatedLocked(ctx, doc.Gated)
	return nil
}

// RefreshAdmins replaces the admin set wholesale from the store.
func (c *Cache) RefreshAdmins(ctx context.Context) (map[int64]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return copySet(c.applyAdminsLocked(doc.Admins).set), nil
}

func (c *Cache) applyAdminsLocked(ids []int64) *adminSnap {
	snap := &adminSnap{set: make(map[int64]struct{}, len(ids)+1)}
	for _, id := range append([]int64{c.owner}, ids...) {
		if id == 0 {
			continue
		}
		if _, dup := snap.set[id]; dup {
			continue
		}
		snap.set[id] = struct{}{}
		snap.order = append(snap.order, id)
	}
	c.admins.Store(snap)
	return snap
}

// RefreshGated re-resolves every stored gated chat in insertion order.
// Unresolvable chats are removed from the store and left out of the snapshot.
func (c *Cache) RefreshGated(ctx context.Context) ([]GatedChat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]GatedChat(nil), c.refreshGatedLocked(ctx, doc.Gated).order...), nil
}

func (c *Cache) refreshGatedLocked(ctx context.Context, ids []int64) *gatedSnap {
	snap := &gatedSnap{byID: make(map[int64]int, len(ids))}
	for i, id := range ids {
		if _, dup := snap.byID[id]; dup {
			continue
		}
		info, err := c.chats.ResolveChat(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown is not evidence the chat is gone.
				c.log.Warn("gated chat refresh interrupted", logx.Int64("chat_id", id), logx.Err(err))
				continue
			}
			rerr := &ResolutionError{ChatID: id, Err: err}
			c.m.ResolutionFailure()
			c.log.Warn("gated chat dropped", logx.Int("pos", i+1), logx.Int64("chat_id", id), logx.Err(rerr))
			if _, err := c.store.RemoveValue(ctx, storage.FieldGated, id); err != nil {
				c.log.Error("failed removing gated chat", logx.Int64("chat_id", id), logx.Err(err))
			}
			continue
		}
		snap.byID[id] = len(snap.order)
		snap.order = append(snap.order, GatedChat{ID: id, Kind: info.Kind, Title: info.Title, InviteLink: info.InviteLink})
		c.log.Info("gated chat", logx.Int("pos", i+1), logx.Int64("chat_id", id), logx.String("kind", string(info.Kind)))
	}
	c.gated.Store(snap)
	c.m.GatedChats(len(snap.order))
	return snap
}

// IsAdmin reports whether uid is the owner or a stored admin.
func (c *Cache) IsAdmin(uid int64) bool {
	if uid != 0 && uid == c.owner {
		return true
	}
	_, ok := c.admins.Load().set[uid]
	return ok
}

// Admins lists admins, owner first.
func (c *Cache) Admins() []int64 {
	return append([]int64(nil), c.admins.Load().order...)
}

// GatedChats lists the cached gated chats in insertion order.
func (c *Cache) GatedChats() []GatedChat {
	return append([]GatedChat(nil), c.gated.Load().order...)
}

// Chat returns the cached gated chat with the given id.
func (c *Cache) Chat(id int64) (GatedChat, bool) {
	g := c.gated.Load()
	i, ok := g.byID[id]
	if !ok {
		return GatedChat{}, false
	}
	return g.order[i], true
}

// Gap returns the gated chat ids uid has not joined, in cache order.
// applies is false when no gate applies: nothing is gated or uid is an admin.
// One membership query is issued per gated chat; any query error counts as
// "not a member".
func (c *Cache) Gap(ctx context.Context, uid int64) (missing []int64, applies bool) {
	g := c.gated.Load()
	if len(g.order) == 0 || c.IsAdmin(uid) {
		return nil, false
	}
	missing = make([]int64, 0, len(g.order))
	for _, chat := range g.order {
		if err := c.chats.ChatMember(ctx, chat.ID, uid); err != nil {
			if !errors.Is(err, kit.ErrNotMember) {
				c.log.Debug("membership query failed", logx.Int64("chat_id", chat.ID), logx.Int64("user_id", uid), logx.Err(err))
			}
			missing = append(missing, chat.ID)
		}
	}
	return missing, true
}

func copySet(m map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
