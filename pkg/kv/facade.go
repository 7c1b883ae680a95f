package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is the application-facing surface over the connection manager. Every
// call resolves the active backend, applies the key prefix and records
// per-command metrics. Misses are reported as a false boolean, not an error.
type Store struct {
	mgr    *ConnManager
	prefix string
}

// NewStore builds the facade for mgr, taking the key prefix from the
// manager's config.
func NewStore(mgr *ConnManager) *Store {
	return &Store{mgr: mgr, prefix: mgr.cfg.KeyPrefix}
}

// Manager returns the underlying connection manager.
func (s *Store) Manager() *ConnManager { return s.mgr }

// State reports the connection manager's state.
func (s *Store) State() ConnState { return s.mgr.State() }

var (
	defaultMu    sync.RWMutex
	defaultStore *Store
)

// SetDefault installs the process-wide store handle used by Default.
func SetDefault(s *Store) {
	defaultMu.Lock()
	defaultStore = s
	defaultMu.Unlock()
}

// Default returns the process-wide store handle, or nil when none was set.
// Injection is preferred; this exists for binaries and their helpers.
func Default() *Store {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultStore
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + k
}

func (s *Store) keys(ks []string) []string {
	if s.prefix == "" {
		return ks
	}
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = s.prefix + k
	}
	return out
}

func (s *Store) strip(ks []string) []string {
	if s.prefix == "" {
		return ks
	}
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = strings.TrimPrefix(k, s.prefix)
	}
	return out
}

func backendName(c Commands) string {
	switch c.(type) {
	case nil:
		return "none"
	case *Engine:
		return "memory"
	default:
		return "remote"
	}
}

func (s *Store) record(command string, backend Commands, start time.Time, err error) {
	m := s.mgr.metrics
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrStoreUnavailable):
		status = "unavailable"
	default:
		status = "error"
	}
	m.StoreCommandsTotal.WithLabelValues(command, backendName(backend), status).Inc()
	m.StoreCommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

// do resolves the active backend and runs one command against it.
func (s *Store) do(command string, fn func(Commands) error) error {
	be, err := s.mgr.Active()
	if err != nil {
		s.record(command, be, time.Now(), err)
		return err
	}
	start := time.Now()
	err = fn(be)
	s.record(command, be, start, err)
	return err
}

// encodeValue turns a value into its stored string form. Strings and byte
// slices pass through untouched; everything else is JSON-encoded.
func encodeValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("kv: encode value: %w", err)
		}
		return string(b), nil
	}
}

// Get returns the raw string at key. The boolean reports presence; a miss is
// not an error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.do("get", func(c Commands) error {
		v, err := c.Get(ctx, s.key(key))
		val = v
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// GetJSON decodes the value at key into dest. When the stored value is not
// valid JSON and dest is a *string, the raw value is assigned instead; this
// keeps reads of plain-string keys working through the JSON path.
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		if sp, isStr := dest.(*string); isStr {
			*sp = raw
			return true, nil
		}
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value at key. Non-string values are JSON-encoded.
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return s.do("set", func(c Commands) error {
		return c.Set(ctx, s.key(key), data)
	})
}

// SetEX stores value at key with a relative expiry.
func (s *Store) SetEX(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return s.do("setex", func(c Commands) error {
		return c.SetEX(ctx, s.key(key), data, ttl)
	})
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := s.do("del", func(c Commands) error {
		v, err := c.Del(ctx, s.keys(keys)...)
		n = v
		return err
	})
	return n, err
}

// Keys returns matching keys with the store prefix stripped.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := s.do("keys", func(c Commands) error {
		ks, err := c.Keys(ctx, s.key(pattern))
		out = s.strip(ks)
		return err
	})
	return out, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.do("expire", func(c Commands) error {
		v, err := c.Expire(ctx, s.key(key), ttl)
		ok = v
		return err
	})
	return ok, err
}

func (s *Store) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	var (
		out  []string
		next uint64
	)
	err := s.do("scan", func(c Commands) error {
		ks, cur, err := c.Scan(ctx, cursor, s.key(match), count)
		out = s.strip(ks)
		next = cur
		return err
	})
	return out, next, err
}

// ScanAll drives the scan cursor to completion and returns every key
// matching match, prefix stripped.
func (s *Store) ScanAll(ctx context.Context, match string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.Scan(ctx, cursor, match, 100)
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	var n int64
	err := s.do("sadd", func(c Commands) error {
		v, err := c.SAdd(ctx, s.key(key), members...)
		n = v
		return err
	})
	return n, err
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	var n int64
	err := s.do("srem", func(c Commands) error {
		v, err := c.SRem(ctx, s.key(key), members...)
		n = v
		return err
	})
	return n, err
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.do("smembers", func(c Commands) error {
		v, err := c.SMembers(ctx, s.key(key))
		out = v
		return err
	})
	return out, err
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := s.do("sismember", func(c Commands) error {
		v, err := c.SIsMember(ctx, s.key(key), member)
		ok = v
		return err
	})
	return ok, err
}

func (s *Store) SInter(ctx context.Context, keys ...string) ([]string, error) {
	var out []string
	err := s.do("sinter", func(c Commands) error {
		v, err := c.SInter(ctx, s.keys(keys)...)
		out = v
		return err
	})
	return out, err
}

func (s *Store) HSet(ctx context.Context, key, field, value string) (int64, error) {
	var n int64
	err := s.do("hset", func(c Commands) error {
		v, err := c.HSet(ctx, s.key(key), field, value)
		n = v
		return err
	})
	return n, err
}

// HGet returns a hash field. The boolean reports presence; a missing key or
// field is not an error.
func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var val string
	err := s.do("hget", func(c Commands) error {
		v, err := c.HGet(ctx, s.key(key), field)
		val = v
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	var n int64
	err := s.do("hdel", func(c Commands) error {
		v, err := c.HDel(ctx, s.key(key), fields...)
		n = v
		return err
	})
	return n, err
}

func (s *Store) HKeys(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.do("hkeys", func(c Commands) error {
		v, err := c.HKeys(ctx, s.key(key))
		out = v
		return err
	})
	return out, err
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.do("hgetall", func(c Commands) error {
		v, err := c.HGetAll(ctx, s.key(key))
		out = v
		return err
	})
	return out, err
}

func (s *Store) HMSet(ctx context.Context, key string, fieldValues ...string) error {
	return s.do("hmset", func(c Commands) error {
		return c.HMSet(ctx, s.key(key), fieldValues...)
	})
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var n int64
	err := s.do("hincrby", func(c Commands) error {
		v, err := c.HIncrBy(ctx, s.key(key), field, delta)
		n = v
		return err
	})
	return n, err
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) (int64, error) {
	var n int64
	err := s.do("zadd", func(c Commands) error {
		v, err := c.ZAdd(ctx, s.key(key), score, member)
		n = v
		return err
	})
	return n, err
}

func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.do("zrange", func(c Commands) error {
		v, err := c.ZRange(ctx, s.key(key), start, stop)
		out = v
		return err
	})
	return out, err
}

func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.do("zrevrange", func(c Commands) error {
		v, err := c.ZRevRange(ctx, s.key(key), start, stop)
		out = v
		return err
	})
	return out, err
}

func (s *Store) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	var n int64
	err := s.do("zcount", func(c Commands) error {
		v, err := c.ZCount(ctx, s.key(key), min, max)
		n = v
		return err
	})
	return n, err
}

// Ping probes the active backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.do("ping", func(c Commands) error {
		return c.Ping(ctx)
	})
}

// Pipeline starts a batch against the active backend. Queued keys get the
// store prefix applied.
func (s *Store) Pipeline() (Batch, error) {
	be, err := s.mgr.Active()
	if err != nil {
		return nil, err
	}
	if s.prefix == "" {
		return be.Pipeline(), nil
	}
	return &storeBatch{s: s, b: be.Pipeline()}, nil
}

// storeBatch prefixes keys before handing commands to the backend batch.
type storeBatch struct {
	s *Store
	b Batch
}

func (b *storeBatch) Len() int { return b.b.Len() }

func (b *storeBatch) Get(key string)        { b.b.Get(b.s.key(key)) }
func (b *storeBatch) Set(key, value string) { b.b.Set(b.s.key(key), value) }
func (b *storeBatch) SetEX(key, value string, ttl time.Duration) {
	b.b.SetEX(b.s.key(key), value, ttl)
}
func (b *storeBatch) Del(keys ...string)                  { b.b.Del(b.s.keys(keys)...) }
func (b *storeBatch) SAdd(key string, members ...string)  { b.b.SAdd(b.s.key(key), members...) }
func (b *storeBatch) SRem(key string, members ...string)  { b.b.SRem(b.s.key(key), members...) }
func (b *storeBatch) HSet(key, field, value string)       { b.b.HSet(b.s.key(key), field, value) }
func (b *storeBatch) Expire(key string, ttl time.Duration) {
	b.b.Expire(b.s.key(key), ttl)
}

func (b *storeBatch) Exec(ctx context.Context) ([]BatchResult, error) {
	return b.b.Exec(ctx)
}
