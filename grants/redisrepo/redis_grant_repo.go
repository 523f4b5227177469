// Package redisrepo stores persisted grants in Redis. Each grant is a JSON string; secondary
// index sets per subject, session, client and type serve filters, and two sorted sets keyed
// by expiration and consumption time serve the cleanup queries.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

var _ grants.Store = (*RedisGrantRepo)(nil)

const defaultMaxTries = 10

// RedisGrantRepo implements grants.Store on Redis. Writes that touch an existing grant run
// as WATCH/MULTI transactions and are retried when another writer wins.
type RedisGrantRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	maxTries  uint
}

type Option func(*RedisGrantRepo)

// WithMaxTries bounds the optimistic transaction attempts.
func WithMaxTries(n uint) Option {
	return func(r *RedisGrantRepo) {
		r.maxTries = n
	}
}

// New creates a grant repo on an existing client, for example one connected to miniredis.
func New(client redis.UniversalClient, keyPrefix string, options ...Option) *RedisGrantRepo {
	r := &RedisGrantRepo{
		client:    client,
		keyPrefix: keyPrefix,
		maxTries:  defaultMaxTries,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *RedisGrantRepo) grantKey(key string) string {
	return r.keyPrefix + "grant:" + key
}

func (r *RedisGrantRepo) indexKey(kind, value string) string {
	return r.keyPrefix + "idx:" + kind + ":" + value
}

func (r *RedisGrantRepo) expirationKey() string { return r.keyPrefix + "idx:expiration" }
func (r *RedisGrantRepo) consumedKey() string   { return r.keyPrefix + "idx:consumed" }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// addIndexes queues the index writes for g.
func (r *RedisGrantRepo) addIndexes(ctx context.Context, pipe redis.Pipeliner, g *grants.PersistedGrant) {
	pipe.SAdd(ctx, r.indexKey("type", string(g.Type)), g.Key)
	pipe.SAdd(ctx, r.indexKey("client", g.ClientID), g.Key)
	if g.SubjectID != "" {
		pipe.SAdd(ctx, r.indexKey("sub", g.SubjectID), g.Key)
	}
	if g.SessionID != "" {
		pipe.SAdd(ctx, r.indexKey("sid", g.SessionID), g.Key)
	}
	if g.Expiration != nil {
		pipe.ZAdd(ctx, r.expirationKey(), redis.Z{Score: score(*g.Expiration), Member: g.Key})
	} else {
		pipe.ZRem(ctx, r.expirationKey(), g.Key)
	}
	if g.ConsumedTime != nil {
		pipe.ZAdd(ctx, r.consumedKey(), redis.Z{Score: score(*g.ConsumedTime), Member: g.Key})
	} else {
		pipe.ZRem(ctx, r.consumedKey(), g.Key)
	}
}

// removeIndexes queues the index deletes for g.
func (r *RedisGrantRepo) removeIndexes(ctx context.Context, pipe redis.Pipeliner, g *grants.PersistedGrant) {
	pipe.SRem(ctx, r.indexKey("type", string(g.Type)), g.Key)
	pipe.SRem(ctx, r.indexKey("client", g.ClientID), g.Key)
	if g.SubjectID != "" {
		pipe.SRem(ctx, r.indexKey("sub", g.SubjectID), g.Key)
	}
	if g.SessionID != "" {
		pipe.SRem(ctx, r.indexKey("sid", g.SessionID), g.Key)
	}
	pipe.ZRem(ctx, r.expirationKey(), g.Key)
	pipe.ZRem(ctx, r.consumedKey(), g.Key)
}

// retry runs a WATCH transaction until it commits, fails permanently or runs out of tries.
func (r *RedisGrantRepo) retry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.client.Watch(ctx, fn, keys...)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(r.maxTries),
	)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("grant transaction did not commit: %w", err)
	}
	return err
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.Reset()
	return b
}

func (r *RedisGrantRepo) Create(ctx context.Context, grant *grants.PersistedGrant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}
	key := r.grantKey(grant.Key)
	return r.retry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check grant: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("grant %s: %w", grant.Type, grants.ErrDuplicateKey)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			r.addIndexes(ctx, pipe, grant)
			return nil
		})
		return err
	}, key)
}

func (r *RedisGrantRepo) read(ctx context.Context, cmd redis.Cmdable, key string) (*grants.PersistedGrant, error) {
	data, err := cmd.Get(ctx, r.grantKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, grants.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	var g grants.PersistedGrant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	return &g, nil
}

func (r *RedisGrantRepo) Get(ctx context.Context, key string) (*grants.PersistedGrant, error) {
	return r.read(ctx, r.client, key)
}

// candidates narrows the key space using the most selective index available.
func (r *RedisGrantRepo) candidates(ctx context.Context, filter grants.Filter) ([]string, error) {
	var sets []string
	switch {
	case filter.SubjectID != "":
		sets = []string{r.indexKey("sub", filter.SubjectID)}
	case filter.SessionID != "":
		sets = []string{r.indexKey("sid", filter.SessionID)}
	case len(filter.ClientSet()) > 0:
		for _, id := range filter.ClientSet() {
			sets = append(sets, r.indexKey("client", id))
		}
	default:
		for _, t := range filter.TypeSet() {
			sets = append(sets, r.indexKey("type", string(t)))
		}
	}
	keys, err := r.client.SUnion(ctx, sets...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read grant index: %w", err)
	}
	return keys, nil
}

// load fetches the grants for keys, skipping keys whose record is already gone.
func (r *RedisGrantRepo) load(ctx context.Context, keys []string) ([]*grants.PersistedGrant, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		redisKeys = append(redisKeys, r.grantKey(k))
	}
	values, err := r.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}
	out := make([]*grants.PersistedGrant, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var g grants.PersistedGrant
		if err := json.Unmarshal([]byte(s), &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
		}
		out = append(out, &g)
	}
	return out, nil
}

func (r *RedisGrantRepo) GetAll(ctx context.Context, filter grants.Filter) ([]*grants.PersistedGrant, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	keys, err := r.candidates(ctx, filter)
	if err != nil {
		return nil, err
	}
	loaded, err := r.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := loaded[:0]
	for _, g := range loaded {
		if filter.Matches(g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreationTime.Before(out[j].CreationTime)
	})
	return out, nil
}

func (r *RedisGrantRepo) Update(ctx context.Context, key string, mutate func(*grants.PersistedGrant) error) error {
	redisKey := r.grantKey(key)
	return r.retry(ctx, func(tx *redis.Tx) error {
		current, err := r.read(ctx, tx, key)
		if err != nil {
			return err
		}
		updated := current.Clone()
		if err := mutate(updated); err != nil {
			return err
		}
		updated.Key = key
		if err := updated.Validate(); err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal grant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.removeIndexes(ctx, pipe, current)
			pipe.Set(ctx, redisKey, data, 0)
			r.addIndexes(ctx, pipe, updated)
			return nil
		})
		return err
	}, redisKey)
}

func (r *RedisGrantRepo) Remove(ctx context.Context, key string) error {
	redisKey := r.grantKey(key)
	return r.retry(ctx, func(tx *redis.Tx) error {
		current, err := r.read(ctx, tx, key)
		if err != nil {
			if errors.Is(err, grants.ErrNotFound) {
				return nil
			}
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			r.removeIndexes(ctx, pipe, current)
			return nil
		})
		return err
	}, redisKey)
}

func (r *RedisGrantRepo) RemoveAll(ctx context.Context, filter grants.Filter) error {
	matches, err := r.GetAll(ctx, filter)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(matches))
	for _, g := range matches {
		keys = append(keys, g.Key)
	}
	return r.RemoveKeys(ctx, keys)
}

func (r *RedisGrantRepo) rangeBefore(ctx context.Context, set string, before time.Time, limit int) ([]*grants.PersistedGrant, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	keys, err := r.client.ZRangeByScore(ctx, set, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", set, err)
	}
	return r.load(ctx, keys)
}

func (r *RedisGrantRepo) Expired(ctx context.Context, now time.Time, limit int) ([]*grants.PersistedGrant, error) {
	return r.rangeBefore(ctx, r.expirationKey(), now, limit)
}

func (r *RedisGrantRepo) Consumed(ctx context.Context, before time.Time, limit int) ([]*grants.PersistedGrant, error) {
	return r.rangeBefore(ctx, r.consumedKey(), before, limit)
}

func (r *RedisGrantRepo) RemoveKeys(ctx context.Context, keys []string) error {
	for _, key := range utils.Distinct(keys) {
		if err := r.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
