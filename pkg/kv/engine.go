package kv

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type valueKind int

const (
	kindString valueKind = iota
	kindSet
	kindHash
	kindZSet
)

func (k valueKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindSet:
		return "set"
	case kindHash:
		return "hash"
	case kindZSet:
		return "zset"
	}
	return "unknown"
}

// entry is one stored value. version ties the entry to the expiry timer that
// was armed for it; a timer whose captured version no longer matches must not
// delete the key, because the value was rewritten after the timer was armed.
type entry struct {
	kind      valueKind
	str       string
	set       map[string]struct{}
	hash      map[string]string
	hashOrder []string
	zset      map[string]float64
	expiresAt time.Time // zero means no expiry
	version   uint64
}

// Engine is the in-process backend. It implements Commands over plain maps
// guarded by a single RWMutex, with expiry enforced two ways: a timer per
// expiring key performs the actual deletion, and every read lazily treats an
// entry past its deadline as absent so a late timer can never leak a stale
// value to a caller.
//
// An Engine is safe for concurrent use. Batches executed against it hold the
// write lock for the whole batch, so no other command interleaves with a
// batch's commands.
type Engine struct {
	mu       sync.RWMutex
	data     map[string]*entry
	timers   map[string]*time.Timer
	seq      uint64
	offset   time.Duration // test clock skew, see FastForward
	noExpiry bool
	closed   bool
}

// EngineOption configures a new Engine.
type EngineOption func(*Engine)

// WithoutExpiry disables TTL handling entirely: SetEX and Expire still
// succeed, but no deadline is recorded and no key is ever auto-deleted. Meant
// for tests that assert on store contents without racing timers.
func WithoutExpiry() EngineOption {
	return func(e *Engine) { e.noExpiry = true }
}

// NewEngine returns an empty engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		data:   make(map[string]*entry),
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time {
	return time.Now().Add(e.offset)
}

// FastForward advances the engine's notion of time without waiting, so tests
// can expire keys deterministically. Timers still fire on the wall clock; the
// lazy deadline check is what makes fast-forwarded keys invisible.
func (e *Engine) FastForward(d time.Duration) {
	e.mu.Lock()
	e.offset += d
	e.mu.Unlock()
}

// DisableExpiry flips a running engine into the WithoutExpiry mode: pending
// timers are stopped and the lazy deadline checks turn off, so keys written
// earlier with a TTL become permanent.
func (e *Engine) DisableExpiry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.noExpiry = true
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
}

// Close stops all pending expiry timers. The engine remains usable afterwards
// but no longer auto-deletes; it is intended as a shutdown step.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
}

// Flush removes every key.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
	e.data = make(map[string]*entry)
}

// Len reports the number of live (unexpired) keys.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for key := range e.data {
		if e.live(key) != nil {
			n++
		}
	}
	return n
}

// live returns the entry at key, or nil when absent or past its deadline.
// Caller must hold at least the read lock.
func (e *Engine) live(key string) *entry {
	ent, ok := e.data[key]
	if !ok {
		return nil
	}
	if !e.noExpiry && !ent.expiresAt.IsZero() && !e.now().Before(ent.expiresAt) {
		return nil
	}
	return ent
}

// store installs ent at key with a fresh version and cancels any pending
// timer. Caller must hold the write lock.
func (e *Engine) store(key string, ent *entry) {
	e.seq++
	ent.version = e.seq
	e.data[key] = ent
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
}

// armExpiry schedules deletion of key after ttl, guarded by version so a
// rewrite between arming and firing makes the timer a no-op. Caller must hold
// the write lock.
func (e *Engine) armExpiry(key string, version uint64, ttl time.Duration) {
	if e.noExpiry || e.closed {
		return
	}
	e.timers[key] = time.AfterFunc(ttl, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.noExpiry {
			return
		}
		if ent, ok := e.data[key]; ok && ent.version == version {
			delete(e.data, key)
			delete(e.timers, key)
		}
	})
}

// removeLocked physically deletes key and its timer. Caller must hold the
// write lock.
func (e *Engine) removeLocked(key string) {
	delete(e.data, key)
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
}

// writable returns the live entry at key for in-place mutation, or installs
// and returns a new entry of kind when the key is absent or expired. Returns
// ErrWrongType when a live entry has a different kind. Caller must hold the
// write lock.
func (e *Engine) writable(key string, kind valueKind) (*entry, error) {
	if ent := e.live(key); ent != nil {
		if ent.kind != kind {
			return nil, ErrWrongType
		}
		return ent, nil
	}
	ent := &entry{kind: kind}
	switch kind {
	case kindSet:
		ent.set = make(map[string]struct{})
	case kindHash:
		ent.hash = make(map[string]string)
	case kindZSet:
		ent.zset = make(map[string]float64)
	}
	e.store(key, ent)
	return ent, nil
}

// matchPattern supports the two shapes the directory actually uses: an exact
// key, or a prefix followed by a single trailing '*'.
func matchPattern(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return key == pattern
}

// --- string commands ---

func (e *Engine) Get(_ context.Context, key string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.get(key)
}

func (e *Engine) get(key string) (string, error) {
	ent := e.live(key)
	if ent == nil {
		return "", ErrNotFound
	}
	if ent.kind != kindString {
		return "", ErrWrongType
	}
	return ent.str, nil
}

func (e *Engine) Set(_ context.Context, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set(key, value)
	return nil
}

func (e *Engine) set(key, value string) {
	e.store(key, &entry{kind: kindString, str: value})
}

func (e *Engine) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setEX(key, value, ttl)
	return nil
}

func (e *Engine) setEX(key, value string, ttl time.Duration) {
	ent := &entry{kind: kindString, str: value}
	if !e.noExpiry {
		ent.expiresAt = e.now().Add(ttl)
	}
	e.store(key, ent)
	e.armExpiry(key, ent.version, ttl)
}

func (e *Engine) Del(_ context.Context, keys ...string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.del(keys...), nil
}

func (e *Engine) del(keys ...string) int64 {
	var n int64
	for _, key := range keys {
		if e.live(key) != nil {
			n++
		}
		e.removeLocked(key)
	}
	return n
}

func (e *Engine) Keys(_ context.Context, pattern string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0)
	for key := range e.data {
		if e.live(key) == nil {
			continue
		}
		if matchPattern(pattern, key) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (e *Engine) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expire(key, ttl), nil
}

func (e *Engine) expire(key string, ttl time.Duration) bool {
	ent := e.live(key)
	if ent == nil {
		return false
	}
	if e.noExpiry {
		return true
	}
	ent.expiresAt = e.now().Add(ttl)
	e.seq++
	ent.version = e.seq
	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.armExpiry(key, ent.version, ttl)
	return true
}

// Scan returns the complete match set in one step with a zero cursor; a
// non-zero input cursor yields an empty continuation.
func (e *Engine) Scan(ctx context.Context, cursor uint64, match string, _ int64) ([]string, uint64, error) {
	if cursor != 0 {
		return nil, 0, nil
	}
	keys, err := e.Keys(ctx, match)
	return keys, 0, err
}

// --- set commands ---

func (e *Engine) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sadd(key, members...)
}

func (e *Engine) sadd(key string, members ...string) (int64, error) {
	ent, err := e.writable(key, kindSet)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, m := range members {
		if _, ok := ent.set[m]; !ok {
			ent.set[m] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (e *Engine) SRem(_ context.Context, key string, members ...string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.srem(key, members...)
}

func (e *Engine) srem(key string, members ...string) (int64, error) {
	ent := e.live(key)
	if ent == nil {
		return 0, nil
	}
	if ent.kind != kindSet {
		return 0, ErrWrongType
	}
	var n int64
	for _, m := range members {
		if _, ok := ent.set[m]; ok {
			delete(ent.set, m)
			n++
		}
	}
	if len(ent.set) == 0 {
		e.removeLocked(key)
	}
	return n, nil
}

func (e *Engine) SMembers(_ context.Context, key string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return []string{}, nil
	}
	if ent.kind != kindSet {
		return nil, ErrWrongType
	}
	out := make([]string, 0, len(ent.set))
	for m := range ent.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (e *Engine) SIsMember(_ context.Context, key, member string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return false, nil
	}
	if ent.kind != kindSet {
		return false, ErrWrongType
	}
	_, ok := ent.set[member]
	return ok, nil
}

func (e *Engine) SInter(_ context.Context, keys ...string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(keys) == 0 {
		return []string{}, nil
	}
	sets := make([]map[string]struct{}, 0, len(keys))
	for _, key := range keys {
		ent := e.live(key)
		if ent == nil {
			return []string{}, nil
		}
		if ent.kind != kindSet {
			return nil, ErrWrongType
		}
		sets = append(sets, ent.set)
	}
	out := make([]string, 0)
	for m := range sets[0] {
		in := true
		for _, s := range sets[1:] {
			if _, ok := s[m]; !ok {
				in = false
				break
			}
		}
		if in {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- hash commands ---

func (e *Engine) HSet(_ context.Context, key, field, value string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hset(key, field, value)
}

func (e *Engine) hset(key, field, value string) (int64, error) {
	ent, err := e.writable(key, kindHash)
	if err != nil {
		return 0, err
	}
	_, existed := ent.hash[field]
	ent.hash[field] = value
	if existed {
		return 0, nil
	}
	ent.hashOrder = append(ent.hashOrder, field)
	return 1, nil
}

func (e *Engine) HGet(_ context.Context, key, field string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return "", ErrNotFound
	}
	if ent.kind != kindHash {
		return "", ErrWrongType
	}
	val, ok := ent.hash[field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (e *Engine) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent := e.live(key)
	if ent == nil {
		return 0, nil
	}
	if ent.kind != kindHash {
		return 0, ErrWrongType
	}
	var n int64
	for _, f := range fields {
		if _, ok := ent.hash[f]; ok {
			delete(ent.hash, f)
			n++
		}
	}
	if n > 0 {
		kept := ent.hashOrder[:0]
		for _, f := range ent.hashOrder {
			if _, ok := ent.hash[f]; ok {
				kept = append(kept, f)
			}
		}
		ent.hashOrder = kept
	}
	if len(ent.hash) == 0 {
		e.removeLocked(key)
	}
	return n, nil
}

// HKeys returns field names in insertion order.
func (e *Engine) HKeys(_ context.Context, key string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return []string{}, nil
	}
	if ent.kind != kindHash {
		return nil, ErrWrongType
	}
	out := make([]string, len(ent.hashOrder))
	copy(out, ent.hashOrder)
	return out, nil
}

func (e *Engine) HGetAll(_ context.Context, key string) (map[string]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return map[string]string{}, nil
	}
	if ent.kind != kindHash {
		return nil, ErrWrongType
	}
	out := make(map[string]string, len(ent.hash))
	for f, v := range ent.hash {
		out[f] = v
	}
	return out, nil
}

func (e *Engine) HMSet(_ context.Context, key string, fieldValues ...string) error {
	if len(fieldValues)%2 != 0 {
		return fmt.Errorf("kv: hmset %q: odd field/value count %d", key, len(fieldValues))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < len(fieldValues); i += 2 {
		if _, err := e.hset(key, fieldValues[i], fieldValues[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.writable(key, kindHash)
	if err != nil {
		return 0, err
	}
	var cur int64
	if raw, ok := ent.hash[field]; ok {
		cur, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: hincrby %q %q: value is not an integer", key, field)
		}
	} else {
		ent.hashOrder = append(ent.hashOrder, field)
	}
	cur += delta
	ent.hash[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

// --- sorted set commands ---

func (e *Engine) ZAdd(_ context.Context, key string, score float64, member string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, err := e.writable(key, kindZSet)
	if err != nil {
		return 0, err
	}
	_, existed := ent.zset[member]
	ent.zset[member] = score
	if existed {
		return 0, nil
	}
	return 1, nil
}

// zsorted returns members ordered by ascending score, ties broken by member.
// Caller must hold at least the read lock.
func zsorted(ent *entry) []string {
	out := make([]string, 0, len(ent.zset))
	for m := range ent.zset {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := ent.zset[out[i]], ent.zset[out[j]]
		if si != sj {
			return si < sj
		}
		return out[i] < out[j]
	})
	return out
}

// zslice applies Redis-style index addressing to an ordered member list.
func zslice(members []string, start, stop int64) []string {
	n := int64(len(members))
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}
	}
	return members[start : stop+1]
}

func (e *Engine) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return []string{}, nil
	}
	if ent.kind != kindZSet {
		return nil, ErrWrongType
	}
	return zslice(zsorted(ent), start, stop), nil
}

func (e *Engine) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return []string{}, nil
	}
	if ent.kind != kindZSet {
		return nil, ErrWrongType
	}
	asc := zsorted(ent)
	desc := make([]string, len(asc))
	for i, m := range asc {
		desc[len(asc)-1-i] = m
	}
	return zslice(desc, start, stop), nil
}

// parseScoreBound parses a ZCount bound: a float, "-inf"/"+inf", or a
// '('-prefixed exclusive float.
func parseScoreBound(s string) (val float64, inclusive bool, err error) {
	switch strings.ToLower(s) {
	case "-inf":
		return math.Inf(-1), true, nil
	case "+inf", "inf":
		return math.Inf(1), true, nil
	}
	if strings.HasPrefix(s, "(") {
		v, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, false, fmt.Errorf("kv: bad score bound %q", s)
		}
		return v, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, true, fmt.Errorf("kv: bad score bound %q", s)
	}
	return v, true, nil
}

func (e *Engine) ZCount(_ context.Context, key, min, max string) (int64, error) {
	lo, loIncl, err := parseScoreBound(min)
	if err != nil {
		return 0, err
	}
	hi, hiIncl, err := parseScoreBound(max)
	if err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent := e.live(key)
	if ent == nil {
		return 0, nil
	}
	if ent.kind != kindZSet {
		return 0, ErrWrongType
	}
	var n int64
	for _, score := range ent.zset {
		if score < lo || (score == lo && !loIncl) {
			continue
		}
		if score > hi || (score == hi && !hiIncl) {
			continue
		}
		n++
	}
	return n, nil
}

// --- batch / ping ---

func (e *Engine) Ping(_ context.Context) error {
	return nil
}

// Pipeline starts a batch against the engine. Exec takes the write lock once
// and runs every queued command under it.
func (e *Engine) Pipeline() Batch {
	return &engineBatch{engine: e}
}

type engineBatch struct {
	engine *Engine
	ops    []func() BatchResult
}

func (b *engineBatch) Len() int { return len(b.ops) }

func (b *engineBatch) Get(key string) {
	b.ops = append(b.ops, func() BatchResult {
		val, err := b.engine.get(key)
		if err != nil {
			return BatchResult{Err: err}
		}
		return BatchResult{Value: val}
	})
}

func (b *engineBatch) Set(key, value string) {
	b.ops = append(b.ops, func() BatchResult {
		b.engine.set(key, value)
		return BatchResult{Value: statusOK}
	})
}

func (b *engineBatch) SetEX(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func() BatchResult {
		b.engine.setEX(key, value, ttl)
		return BatchResult{Value: statusOK}
	})
}

func (b *engineBatch) Del(keys ...string) {
	b.ops = append(b.ops, func() BatchResult {
		return BatchResult{Value: b.engine.del(keys...)}
	})
}

func (b *engineBatch) SAdd(key string, members ...string) {
	b.ops = append(b.ops, func() BatchResult {
		n, err := b.engine.sadd(key, members...)
		if err != nil {
			return BatchResult{Err: err}
		}
		return BatchResult{Value: n}
	})
}

func (b *engineBatch) SRem(key string, members ...string) {
	b.ops = append(b.ops, func() BatchResult {
		n, err := b.engine.srem(key, members...)
		if err != nil {
			return BatchResult{Err: err}
		}
		return BatchResult{Value: n}
	})
}

func (b *engineBatch) HSet(key, field, value string) {
	b.ops = append(b.ops, func() BatchResult {
		n, err := b.engine.hset(key, field, value)
		if err != nil {
			return BatchResult{Err: err}
		}
		return BatchResult{Value: n}
	})
}

func (b *engineBatch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func() BatchResult {
		return BatchResult{Value: b.engine.expire(key, ttl)}
	})
}

func (b *engineBatch) Exec(ctx context.Context) ([]BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()
	out := make([]BatchResult, 0, len(b.ops))
	for _, op := range b.ops {
		out = append(out, op())
	}
	b.ops = nil
	return out, nil
}
