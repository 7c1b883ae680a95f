package kv

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by every backend.
var (
	// ErrNotFound indicates a missing key or hash field.
	ErrNotFound = errors.New("kv: not found")

	// ErrWrongType indicates a command was issued against a key holding a
	// different value shape (e.g. SADD on a string key).
	ErrWrongType = errors.New("kv: wrong value type")

	// ErrStoreUnavailable indicates the remote store is mid-reconnect and no
	// backend is currently serving commands. Callers should treat it as
	// transient.
	ErrStoreUnavailable = errors.New("kv: store unavailable")

	// ErrClosed indicates the connection manager has been shut down.
	ErrClosed = errors.New("kv: closed")
)

// Commands is the command surface implemented by every backend: the remote
// Redis-protocol client and the in-process engine. All TTLs are expressed as
// durations; a backend never interprets a zero or negative TTL as "no expiry",
// callers use Set for that.
type Commands interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key, replacing any existing value of any shape and
	// clearing a pending expiry.
	Set(ctx context.Context, key, value string) error
	// SetEX stores value at key with a relative expiry.
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes keys and reports how many were actually removed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Keys returns keys matching pattern. The pattern is either an exact key
	// or a prefix followed by a single trailing '*'; no other globbing is
	// supported.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Expire sets a relative expiry on an existing key. Returns false when
	// the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Scan iterates keys matching match. A backend may return the complete
	// result set in a single step with a zero cursor; callers must loop until
	// the returned cursor is zero regardless.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)

	// SAdd adds members to a set, reporting how many were newly added.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	// SRem removes members from a set, reporting how many were removed.
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	// SMembers returns all members of a set; empty when the key is absent.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)
	// SInter returns the n-way intersection of the named sets. The result is
	// empty if any input set is absent.
	SInter(ctx context.Context, keys ...string) ([]string, error)

	// HSet stores a hash field, returning 1 when the field was created and 0
	// when an existing field was overwritten.
	HSet(ctx context.Context, key, field, value string) (int64, error)
	// HGet returns a hash field value, or ErrNotFound for a missing key or
	// field.
	HGet(ctx context.Context, key, field string) (string, error)
	// HDel removes hash fields, reporting how many were removed. Deleting the
	// last field removes the hash key entirely.
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	// HKeys returns the hash's field names; empty when the key is absent.
	HKeys(ctx context.Context, key string) ([]string, error)
	// HGetAll returns all field/value pairs; empty when the key is absent.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HMSet stores multiple hash fields from alternating field/value
	// arguments. An odd argument count is an error.
	HMSet(ctx context.Context, key string, fieldValues ...string) error
	// HIncrBy adds delta to an integer hash field, creating it from zero when
	// missing. A non-integer existing value is an error.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// ZAdd adds a member with a score, returning 1 for a new member and 0
	// when an existing member was rescored.
	ZAdd(ctx context.Context, key string, score float64, member string) (int64, error)
	// ZRange returns members by index over ascending (score, member) order.
	// Negative indices count from the end; stop of -1 means the last element.
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ZRevRange is ZRange over descending order.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ZCount counts members with scores inside [min, max]. Bounds are numeric
	// strings, the sentinels "-inf"/"+inf", or '('-prefixed exclusive bounds.
	ZCount(ctx context.Context, key, min, max string) (int64, error)

	// Pipeline starts a command batch. Batches execute in enqueue order,
	// best-effort and not atomically: later commands still run when earlier
	// ones fail.
	Pipeline() Batch

	// Ping checks backend liveness.
	Ping(ctx context.Context) error
}

// BatchResult is the outcome of one queued batch command: exactly one of
// Value or Err is meaningful. Set-style commands yield the string "OK",
// counting commands yield an int64.
type BatchResult struct {
	Value interface{}
	Err   error
}

// Batch queues commands for ordered, non-atomic execution. Exec returns one
// BatchResult per queued command, in enqueue order. Exec's error reports only
// batch-level failures (e.g. transport loss before any command ran);
// individual command failures land in the results.
type Batch interface {
	Get(key string)
	Set(key, value string)
	SetEX(key, value string, ttl time.Duration)
	Del(keys ...string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	HSet(key, field, value string)
	Expire(key string, ttl time.Duration)

	// Len reports the number of queued commands.
	Len() int
	Exec(ctx context.Context) ([]BatchResult, error)
}

// statusOK is the value a successful Set/SetEX contributes to a BatchResult.
const statusOK = "OK"
