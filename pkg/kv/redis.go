package kv

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisCommands adapts a go-redis client to the Commands interface. Transport
// errors are reported through onError so the connection manager can react;
// redis.Nil and WRONGTYPE replies are translated to the package sentinels and
// never reported.
type redisCommands struct {
	client  *redis.Client
	onError func(error)
}

func newRedisCommands(client *redis.Client, onError func(error)) *redisCommands {
	return &redisCommands{client: client, onError: onError}
}

// wrap translates client errors and reports transport-level failures.
func (r *redisCommands) wrap(err error) error {
	if err == nil {
		return nil
	}
	if err == redis.Nil {
		return ErrNotFound
	}
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return ErrWrongType
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if r.onError != nil {
		r.onError(err)
	}
	return err
}

func toMembers(members []string) []interface{} {
	out := make([]interface{}, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}

func (r *redisCommands) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	return val, r.wrap(err)
}

func (r *redisCommands) Set(ctx context.Context, key, value string) error {
	return r.wrap(r.client.Set(ctx, key, value, 0).Err())
}

func (r *redisCommands) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.wrap(r.client.Set(ctx, key, value, ttl).Err())
}

func (r *redisCommands) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := r.client.Del(ctx, keys...).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	return keys, r.wrap(err)
}

func (r *redisCommands) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	return ok, r.wrap(err)
}

func (r *redisCommands) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := r.client.Scan(ctx, cursor, match, count).Result()
	return keys, next, r.wrap(err)
}

func (r *redisCommands) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := r.client.SAdd(ctx, key, toMembers(members)...).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := r.client.SRem(ctx, key, toMembers(members)...).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	return members, r.wrap(err)
}

func (r *redisCommands) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	return ok, r.wrap(err)
}

func (r *redisCommands) SInter(ctx context.Context, keys ...string) ([]string, error) {
	members, err := r.client.SInter(ctx, keys...).Result()
	return members, r.wrap(err)
}

func (r *redisCommands) HSet(ctx context.Context, key, field, value string) (int64, error) {
	n, err := r.client.HSet(ctx, key, field, value).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	return val, r.wrap(err)
}

func (r *redisCommands) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	n, err := r.client.HDel(ctx, key, fields...).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) HKeys(ctx context.Context, key string) ([]string, error) {
	fields, err := r.client.HKeys(ctx, key).Result()
	return fields, r.wrap(err)
}

func (r *redisCommands) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := r.client.HGetAll(ctx, key).Result()
	return m, r.wrap(err)
}

func (r *redisCommands) HMSet(ctx context.Context, key string, fieldValues ...string) error {
	if len(fieldValues)%2 != 0 {
		return errors.New("kv: hmset: odd field/value count")
	}
	return r.wrap(r.client.HMSet(ctx, key, toMembers(fieldValues)...).Err())
}

func (r *redisCommands) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := r.client.HIncrBy(ctx, key, field, delta).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) ZAdd(ctx context.Context, key string, score float64, member string) (int64, error) {
	n, err := r.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := r.client.ZRange(ctx, key, start, stop).Result()
	return members, r.wrap(err)
}

func (r *redisCommands) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := r.client.ZRevRange(ctx, key, start, stop).Result()
	return members, r.wrap(err)
}

func (r *redisCommands) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	n, err := r.client.ZCount(ctx, key, min, max).Result()
	return n, r.wrap(err)
}

func (r *redisCommands) Ping(ctx context.Context) error {
	return r.wrap(r.client.Ping(ctx).Err())
}

func (r *redisCommands) Pipeline() Batch {
	return &redisBatch{r: r, pipe: r.client.Pipeline()}
}

// redisBatch queues commands on a go-redis pipeline. The queueing calls take
// a background context because no I/O happens until Exec.
type redisBatch struct {
	r    *redisCommands
	pipe redis.Pipeliner
	n    int
}

func (b *redisBatch) Len() int { return b.n }

func (b *redisBatch) Get(key string) {
	b.pipe.Get(context.Background(), key)
	b.n++
}

func (b *redisBatch) Set(key, value string) {
	b.pipe.Set(context.Background(), key, value, 0)
	b.n++
}

func (b *redisBatch) SetEX(key, value string, ttl time.Duration) {
	b.pipe.Set(context.Background(), key, value, ttl)
	b.n++
}

func (b *redisBatch) Del(keys ...string) {
	b.pipe.Del(context.Background(), keys...)
	b.n++
}

func (b *redisBatch) SAdd(key string, members ...string) {
	b.pipe.SAdd(context.Background(), key, toMembers(members)...)
	b.n++
}

func (b *redisBatch) SRem(key string, members ...string) {
	b.pipe.SRem(context.Background(), key, toMembers(members)...)
	b.n++
}

func (b *redisBatch) HSet(key, field, value string) {
	b.pipe.HSet(context.Background(), key, field, value)
	b.n++
}

func (b *redisBatch) Expire(key string, ttl time.Duration) {
	b.pipe.Expire(context.Background(), key, ttl)
	b.n++
}

func (b *redisBatch) Exec(ctx context.Context) ([]BatchResult, error) {
	cmds, err := b.pipe.Exec(ctx)
	if err != nil && len(cmds) == 0 {
		// Nothing ran: transport-level failure.
		return nil, b.r.wrap(err)
	}
	out := make([]BatchResult, 0, len(cmds))
	for _, cmd := range cmds {
		var res BatchResult
		if cerr := cmd.Err(); cerr != nil {
			if cerr == redis.Nil {
				res.Err = ErrNotFound
			} else {
				res.Err = cerr
			}
			out = append(out, res)
			continue
		}
		switch c := cmd.(type) {
		case *redis.StatusCmd:
			res.Value = c.Val()
		case *redis.IntCmd:
			res.Value = c.Val()
		case *redis.StringCmd:
			res.Value = c.Val()
		case *redis.BoolCmd:
			res.Value = c.Val()
		default:
			res.Value = cmd.Name()
		}
		out = append(out, res)
	}
	return out, nil
}
