package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "fsubbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	keyProgress   = "broadcast"
	keyRestart    = "restart"
	keyTextPrefix = "text:"
	keyFlagPrefix = "flag:"
)

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	botID int64
}

func openSQLite(cfg Config, botID int64, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, botID: botID}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (Document, error) {
	var d Document
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM list_values WHERE bot_id = ? ORDER BY seq`, s.botID)
	if err != nil {
		return Document{}, err
	}
	for rows.Next() {
		var f string
		var v int64
		if err := rows.Scan(&f, &v); err != nil {
			_ = rows.Close()
			return Document{}, err
		}
		switch ListField(f) {
		case FieldAdmins:
			d.Admins = append(d.Admins, v)
		case FieldGated:
			d.Gated = append(d.Gated, v)
		case FieldUsers:
			d.Users = append(d.Users, v)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return Document{}, err
	}
	if err := rows.Close(); err != nil {
		return Document{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE bot_id = ?`, s.botID)
	if err != nil {
		return Document{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Document{}, err
		}
		switch {
		case k == keyProgress:
			var p Progress
			if err := json.Unmarshal([]byte(v), &p); err != nil {
				s.log.Warn("ignoring corrupt progress pointer", logx.Err(err))
				continue
			}
			d.Progress = &p
		case k == keyRestart:
			var n RestartNote
			if err := json.Unmarshal([]byte(v), &n); err != nil {
				s.log.Warn("ignoring corrupt restart note", logx.Err(err))
				continue
			}
			d.Restart = &n
		case strings.HasPrefix(k, keyTextPrefix):
			if d.Texts == nil {
				d.Texts = map[TextField]string{}
			}
			d.Texts[TextField(strings.TrimPrefix(k, keyTextPrefix))] = v
		case strings.HasPrefix(k, keyFlagPrefix):
			if d.Flags == nil {
				d.Flags = map[FlagField]bool{}
			}
			d.Flags[FlagField(strings.TrimPrefix(k, keyFlagPrefix))] = v == "1"
		}
	}
	return d, rows.Err()
}

func (s *sqliteStore) AddValue(ctx context.Context, f ListField, v int64) (bool, error) {
	if !f.valid() {
		return false, ErrUnknownField
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO list_values(bot_id, field, value) VALUES(?,?,?)
		 ON CONFLICT(bot_id, field, value) DO NOTHING`, s.botID, string(f), v)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) RemoveValue(ctx context.Context, f ListField, v int64) (bool, error) {
	if !f.valid() {
		return false, ErrUnknownField
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM list_values WHERE bot_id = ? AND field = ? AND value = ?`, s.botID, string(f), v)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ReplaceList(ctx context.Context, f ListField, vs []int64) error {
	if !f.valid() {
		return ErrUnknownField
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_values WHERE bot_id = ? AND field = ?`, s.botID, string(f)); err != nil {
		return err
	}
	for _, v := range dedupe(vs) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_values(bot_id, field, value) VALUES(?,?,?)`, s.botID, string(f), v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) putSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(bot_id, key, value) VALUES(?,?,?)
		 ON CONFLICT(bot_id, key) DO UPDATE SET value = excluded.value`, s.botID, key, value)
	return err
}

func (s *sqliteStore) SetProgress(ctx context.Context, p Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.putSetting(ctx, keyProgress, string(b))
}

func (s *sqliteStore) ClearProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE bot_id = ? AND key = ?`, s.botID, keyProgress)
	return err
}

func (s *sqliteStore) SetRestart(ctx context.Context, n RestartNote) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.putSetting(ctx, keyRestart, string(b))
}

func (s *sqliteStore) ClearRestart(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE bot_id = ? AND key = ?`, s.botID, keyRestart)
	return err
}

func (s *sqliteStore) SetText(ctx context.Context, f TextField, v string) error {
	if !f.valid() {
		return ErrUnknownField
	}
	return s.putSetting(ctx, keyTextPrefix+string(f), v)
}

func (s *sqliteStore) SetFlag(ctx context.Context, f FlagField, v bool) error {
	if !f.valid() {
		return ErrUnknownField
	}
	val := "0"
	if v {
		val = "1"
	}
	return s.putSetting(ctx, keyFlagPrefix+string(f), val)
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(bot_id, at, actor_id, chat_id, plugin, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.botID, e.At.Format(time.RFC3339Nano), e.ActorID, e.ChatID,
		e.Plugin, e.Action, e.Target, e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
