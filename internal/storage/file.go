package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	logx "fsubbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.<bot_id>.json (whole document, rewritten via tmp + rename)
//   - <prefix>.audit.jsonl   (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	docPath   string
	doc       fileDoc
	auditFile *os.File
}

type fileDoc struct {
	BotID    int64                `json:"bot_id"`
	Admins   []int64              `json:"admins"`
	Gated    []int64              `json:"fsub_chats"`
	Users    []int64              `json:"users"`
	Progress *Progress            `json:"broadcast,omitempty"`
	Restart  *RestartNote         `json:"restart,omitempty"`
	Texts    map[TextField]string `json:"texts,omitempty"`
	Flags    map[FlagField]bool   `json:"flags,omitempty"`
}

func openFile(cfg Config, botID int64, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:     log,
		docPath: prefix + "." + strconv.FormatInt(botID, 10) + ".json",
		doc:     fileDoc{BotID: botID},
	}
	if err := s.loadDoc(); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af
	return s, nil
}

func (s *fileStore) loadDoc() error {
	b, err := os.ReadFile(s.docPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var d fileDoc
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	if d.BotID != 0 && d.BotID != s.doc.BotID {
		return errors.New("storage: document belongs to bot " + strconv.FormatInt(d.BotID, 10))
	}
	d.BotID = s.doc.BotID
	s.doc = d
	return nil
}

// persistLocked writes the in-memory document. On failure the caller restores
// the previous document so memory never diverges from disk.
func (s *fileStore) persistLocked() error {
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.docPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.docPath)
}

func (s *fileStore) mutate(fn func(d *fileDoc) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return false, ErrClosed
	}
	prev := cloneDoc(s.doc)
	changed := fn(&s.doc)
	if !changed {
		return false, nil
	}
	if err := s.persistLocked(); err != nil {
		s.doc = prev
		return false, err
	}
	return true, nil
}

func (s *fileStore) list(d *fileDoc, f ListField) *[]int64 {
	switch f {
	case FieldAdmins:
		return &d.Admins
	case FieldGated:
		return &d.Gated
	default:
		return &d.Users
	}
}

func (s *fileStore) Load(ctx context.Context) (Document, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return Document{}, ErrClosed
	}
	d := cloneDoc(s.doc)
	return Document{
		Admins:   d.Admins,
		Gated:    d.Gated,
		Users:    d.Users,
		Progress: d.Progress,
		Restart:  d.Restart,
		Texts:    d.Texts,
		Flags:    d.Flags,
	}, nil
}

func (s *fileStore) AddValue(ctx context.Context, f ListField, v int64) (bool, error) {
	_ = ctx
	if !f.valid() {
		return false, ErrUnknownField
	}
	return s.mutate(func(d *fileDoc) bool {
		l := s.list(d, f)
		if slices.Contains(*l, v) {
			return false
		}
		*l = append(*l, v)
		return true
	})
}

func (s *fileStore) RemoveValue(ctx context.Context, f ListField, v int64) (bool, error) {
	_ = ctx
	if !f.valid() {
		return false, ErrUnknownField
	}
	return s.mutate(func(d *fileDoc) bool {
		l := s.list(d, f)
		i := slices.Index(*l, v)
		if i < 0 {
			return false
		}
		*l = slices.Delete(*l, i, i+1)
		return true
	})
}

func (s *fileStore) ReplaceList(ctx context.Context, f ListField, vs []int64) error {
	_ = ctx
	if !f.valid() {
		return ErrUnknownField
	}
	_, err := s.mutate(func(d *fileDoc) bool {
		*s.list(d, f) = dedupe(vs)
		return true
	})
	return err
}

func (s *fileStore) SetProgress(ctx context.Context, p Progress) error {
	_ = ctx
	_, err := s.mutate(func(d *fileDoc) bool {
		d.Progress = &p
		return true
	})
	return err
}

func (s *fileStore) ClearProgress(ctx context.Context) error {
	_ = ctx
	_, err := s.mutate(func(d *fileDoc) bool {
		if d.Progress == nil {
			return false
		}
		d.Progress = nil
		return true
	})
	return err
}

func (s *fileStore) SetRestart(ctx context.Context, n RestartNote) error {
	_ = ctx
	_, err := s.mutate(func(d *fileDoc) bool {
		d.Restart = &n
		return true
	})
	return err
}

func (s *fileStore) ClearRestart(ctx context.Context) error {
	_ = ctx
	_, err := s.mutate(func(d *fileDoc) bool {
		if d.Restart == nil {
			return false
		}
		d.Restart = nil
		return true
	})
	return err
}

func (s *fileStore) SetText(ctx context.Context, f TextField, v string) error {
	_ = ctx
	if !f.valid() {
		return ErrUnknownField
	}
	_, err := s.mutate(func(d *fileDoc) bool {
		if d.Texts == nil {
			d.Texts = map[TextField]string{}
		}
		d.Texts[f] = v
		return true
	})
	return err
}

func (s *fileStore) SetFlag(ctx context.Context, f FlagField, v bool) error {
	_ = ctx
	if !f.valid() {
		return ErrUnknownField
	}
	_, err := s.mutate(func(d *fileDoc) bool {
		if d.Flags == nil {
			d.Flags = map[FlagField]bool{}
		}
		d.Flags[f] = v
		return true
	})
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func cloneDoc(d fileDoc) fileDoc {
	out := d
	out.Admins = slices.Clone(d.Admins)
	out.Gated = slices.Clone(d.Gated)
	out.Users = slices.Clone(d.Users)
	if d.Progress != nil {
		p := *d.Progress
		out.Progress = &p
	}
	if d.Restart != nil {
		n := *d.Restart
		out.Restart = &n
	}
	if d.Texts != nil {
		out.Texts = make(map[TextField]string, len(d.Texts))
		for k, v := range d.Texts {
			out.Texts[k] = v
		}
	}
	if d.Flags != nil {
		out.Flags = make(map[FlagField]bool, len(d.Flags))
		for k, v := range d.Flags {
			out.Flags[k] = v
		}
	}
	return out
}
