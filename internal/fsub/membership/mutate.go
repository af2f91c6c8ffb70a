package membership

import (
	"context"

	"fsubbot/internal/storage"
)

// Settings are the operator-editable display settings.
type Settings struct {
	StartText       string
	ForceText       string
	ProtectContent  bool
	GenerateEnabled bool
}

// Placeholders in StartText/ForceText: {first_name}, {last_name}, {full_name},
// {username}, {mention}, {user_id}.
const (
	DefaultStartText = "Hello {mention}!\n\nI keep files in a private channel and share them through special links."
	DefaultForceText = "Hello {mention}!\n\nPlease join the chats below, then tap <b>Try Again</b>."
)

func DefaultSettings() Settings {
	return Settings{
		StartText:       DefaultStartText,
		ForceText:       DefaultForceText,
		ProtectContent:  false,
		GenerateEnabled: true,
	}
}

// Settings returns the current settings snapshot.
func (c *Cache) Settings() Settings { return *c.settings.Load() }

// RefreshSettings reloads display settings from the store.
func (c *Cache) RefreshSettings(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, err := c.store.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	return c.applySettingsLocked(doc), nil
}

func (c *Cache) applySettingsLocked(doc storage.Document) Settings {
	s := DefaultSettings()
	if v, ok := doc.Texts[storage.TextStart]; ok && v != "" {
		s.StartText = v
	}
	if v, ok := doc.Texts[storage.TextForce]; ok && v != "" {
		s.ForceText = v
	}
	if v, ok := doc.Flags[storage.FlagProtect]; ok {
		s.ProtectContent = v
	}
	if v, ok := doc.Flags[storage.FlagGenerate]; ok {
		s.GenerateEnabled = v
	}
	c.settings.Store(&s)
	return s
}

// AddGated validates id against the platform and only then stores it.
// added is false when the chat was already gated.
func (c *Cache) AddGated(ctx context.Context, id int64) (chat GatedChat, added bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.chats.ResolveChat(ctx, id)
	if err != nil {
		return GatedChat{}, false, &ResolutionError{ChatID: id, Err: err}
	}
	if added, err = c.store.AddValue(ctx, storage.FieldGated, id); err != nil {
		return GatedChat{}, false, err
	}
	if err := c.reloadGatedLocked(ctx); err != nil {
		return GatedChat{}, added, err
	}
	if cached, ok := c.Chat(id); ok {
		return cached, added, nil
	}
	return GatedChat{ID: id, Kind: info.Kind, Title: info.Title, InviteLink: info.InviteLink}, added, nil
}

func (c *Cache) RemoveGated(ctx context.Context, id int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed, err := c.store.RemoveValue(ctx, storage.FieldGated, id)
	if err != nil {
		return false, err
	}
	return removed, c.reloadGatedLocked(ctx)
}

func (c *Cache) reloadGatedLocked(ctx context.Context) error {
	doc, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	c.refreshGatedLocked(ctx, doc.Gated)
	return nil
}

func (c *Cache) AddAdmin(ctx context.Context, id int64) (bool, error) {
	if id == c.owner {
		return false, ErrOwner
	}
	return c.mutateAdmins(ctx, func() (bool, error) {
		return c.store.AddValue(ctx, storage.FieldAdmins, id)
	})
}

func (c *Cache) RemoveAdmin(ctx context.Context, id int64) (bool, error) {
	if id == c.owner {
		return false, ErrOwner
	}
	return c.mutateAdmins(ctx, func() (bool, error) {
		return c.store.RemoveValue(ctx, storage.FieldAdmins, id)
	})
}

func (c *Cache) mutateAdmins(ctx context.Context, op func() (bool, error)) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed, err := op()
	if err != nil {
		return false, err
	}
	doc, err := c.store.Load(ctx)
	if err != nil {
		return changed, err
	}
	c.applyAdminsLocked(doc.Admins)
	return changed, nil
}

func (c *Cache) SetText(ctx context.Context, f storage.TextField, v string) (Settings, error) {
	return c.mutateSettings(ctx, func() error { return c.store.SetText(ctx, f, v) })
}

func (c *Cache) SetFlag(ctx context.Context, f storage.FlagField, v bool) (Settings, error) {
	return c.mutateSettings(ctx, func() error { return c.store.SetFlag(ctx, f, v) })
}

func (c *Cache) mutateSettings(ctx context.Context, op func() error) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := op(); err != nil {
		return Settings{}, err
	}
	doc, err := c.store.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	return c.applySettingsLocked(doc), nil
}
