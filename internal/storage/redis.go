package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "fsubbot/pkg/logx"
)

// redisStore keeps each list in a sorted set scored by a per-bot sequence so
// membership checks are atomic and insertion order survives. Settings and the
// progress pointer live in one hash; audit entries in a capped list.
type redisStore struct {
	rdb      *redis.Client
	log      logx.Logger
	prefix   string
	auditCap int64
}

func openRedis(cfg Config, botID int64, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "fsubbot"
	}
	auditCap := cfg.AuditCap
	if auditCap <= 0 {
		auditCap = 10000
	}
	return &redisStore{
		rdb:      rdb,
		log:      log,
		prefix:   prefix + ":" + strconv.FormatInt(botID, 10),
		auditCap: auditCap,
	}, nil
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *redisStore) listKey(f ListField) string { return s.key("list", string(f)) }

func (s *redisStore) Load(ctx context.Context) (Document, error) {
	var lists [3]*redis.StringSliceCmd
	var settings *redis.MapStringStringCmd
	fields := [3]ListField{FieldAdmins, FieldGated, FieldUsers}

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, f := range fields {
			lists[i] = p.ZRange(ctx, s.listKey(f), 0, -1)
		}
		settings = p.HGetAll(ctx, s.key("settings"))
		return nil
	})
	if err != nil {
		return Document{}, err
	}

	var d Document
	for i, f := range fields {
		ids, err := parseIDs(lists[i].Val())
		if err != nil {
			return Document{}, err
		}
		switch f {
		case FieldAdmins:
			d.Admins = ids
		case FieldGated:
			d.Gated = ids
		case FieldUsers:
			d.Users = ids
		}
	}
	for k, v := range settings.Val() {
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
	return d, nil
}

func parseIDs(ss []string) ([]int64, error) {
	out := make([]int64, 0, len(ss))
	for _, s := range ss {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *redisStore) AddValue(ctx context.Context, f ListField, v int64) (bool, error) {
	if !f.valid() {
		return false, ErrUnknownField
	}
	seq, err := s.rdb.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return false, err
	}
	n, err := s.rdb.ZAddNX(ctx, s.listKey(f), redis.Z{Score: float64(seq), Member: strconv.FormatInt(v, 10)}).Result()
	return n > 0, err
}

func (s *redisStore) RemoveValue(ctx context.Context, f ListField, v int64) (bool, error) {
	if !f.valid() {
		return false, ErrUnknownField
	}
	n, err := s.rdb.ZRem(ctx, s.listKey(f), strconv.FormatInt(v, 10)).Result()
	return n > 0, err
}

func (s *redisStore) ReplaceList(ctx context.Context, f ListField, vs []int64) error {
	if !f.valid() {
		return ErrUnknownField
	}
	vs = dedupe(vs)
	end, err := s.rdb.IncrBy(ctx, s.key("seq"), int64(len(vs))+1).Result()
	if err != nil {
		return err
	}
	base := end - int64(len(vs))
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.listKey(f))
		if len(vs) == 0 {
			return nil
		}
		zs := make([]redis.Z, 0, len(vs))
		for i, v := range vs {
			zs = append(zs, redis.Z{Score: float64(base + int64(i)), Member: strconv.FormatInt(v, 10)})
		}
		p.ZAdd(ctx, s.listKey(f), zs...)
		return nil
	})
	return err
}

func (s *redisStore) SetProgress(ctx context.Context, p Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key("settings"), keyProgress, string(b)).Err()
}

func (s *redisStore) ClearProgress(ctx context.Context) error {
	return s.rdb.HDel(ctx, s.key("settings"), keyProgress).Err()
}

func (s *redisStore) SetRestart(ctx context.Context, n RestartNote) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key("settings"), keyRestart, string(b)).Err()
}

func (s *redisStore) ClearRestart(ctx context.Context) error {
	return s.rdb.HDel(ctx, s.key("settings"), keyRestart).Err()
}

func (s *redisStore) SetText(ctx context.Context, f TextField, v string) error {
	if !f.valid() {
		return ErrUnknownField
	}
	return s.rdb.HSet(ctx, s.key("settings"), keyTextPrefix+string(f), v).Err()
}

func (s *redisStore) SetFlag(ctx context.Context, f FlagField, v bool) error {
	if !f.valid() {
		return ErrUnknownField
	}
	val := "0"
	if v {
		val = "1"
	}
	return s.rdb.HSet(ctx, s.key("settings"), keyFlagPrefix+string(f), val).Err()
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.key("audit"), b)
		p.LTrim(ctx, s.key("audit"), 0, s.auditCap-1)
		return nil
	})
	return err
}

func (s *redisStore) Close() error { return s.rdb.Close() }
