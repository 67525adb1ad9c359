package rtstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"focusattend/internal/errs"
)

// RedisStore implements Store on Redis: one JSON value per document, a set
// per collection for membership, and pub/sub channels for change fan-out so
// multiple server instances observe each other's writes. Transient Redis
// failures surface as errs.ErrStoreUnavailable.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisStore wraps an existing client. prefix namespaces all keys.
func NewRedisStore(client *redis.Client, prefix string, log *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, log: log}
}

func (r *RedisStore) docKey(path string) string { return r.prefix + ":doc:" + path }
func (r *RedisStore) colKey(col string) string  { return r.prefix + ":col:" + col }
func (r *RedisStore) docChan(path string) string {
	return r.prefix + ":ch:doc:" + path
}
func (r *RedisStore) colChan(col string) string { return r.prefix + ":ch:col:" + col }

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, errs.ErrStoreUnavailable, err)
}

// Set creates or merges the document at path, resolving ServerTimestamp
// sentinels against the Redis server clock.
func (r *RedisStore) Set(ctx context.Context, path string, fields Doc, merge bool) error {
	next := make(Doc, len(fields))
	var serverMillis int64
	for k, v := range fields {
		if _, isSentinel := v.(serverTimestamp); isSentinel {
			if serverMillis == 0 {
				t, err := r.client.Time(ctx).Result()
				if err != nil {
					return storeErr("rtstore set: server time", err)
				}
				serverMillis = t.UnixMilli()
			}
			next[k] = serverMillis
			continue
		}
		next[k] = v
	}
	if merge {
		cur, err := r.Get(ctx, path)
		if err == nil {
			for k, v := range cur {
				if _, overridden := next[k]; !overridden {
					next[k] = v
				}
			}
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("rtstore set: encode: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.docKey(path), raw, 0)
	pipe.SAdd(ctx, r.colKey(ParentCollection(path)), DocID(path))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("rtstore set", err)
	}
	r.publish(ctx, path)
	return nil
}

// Delete removes the document and every document nested under it.
func (r *RedisStore) Delete(ctx context.Context, path string) error {
	removed := []string{path}
	// Nested docs are tracked through their collection sets.
	iter := r.client.Scan(ctx, 0, r.docKey(path)+"/*", 0).Iterator()
	for iter.Next(ctx) {
		removed = append(removed, strings.TrimPrefix(iter.Val(), r.prefix+":doc:"))
	}
	if err := iter.Err(); err != nil {
		return storeErr("rtstore delete: scan", err)
	}
	pipe := r.client.TxPipeline()
	for _, p := range removed {
		pipe.Del(ctx, r.docKey(p))
		pipe.SRem(ctx, r.colKey(ParentCollection(p)), DocID(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("rtstore delete", err)
	}
	for _, p := range removed {
		r.publish(ctx, p)
	}
	return nil
}

// Get reads one document.
func (r *RedisStore) Get(ctx context.Context, path string) (Doc, error) {
	raw, err := r.client.Get(ctx, r.docKey(path)).Bytes()
	if err == redis.Nil {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("rtstore get", err)
	}
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("rtstore get: decode: %w", err)
	}
	return d, nil
}

func (r *RedisStore) publish(ctx context.Context, path string) {
	if err := r.client.Publish(ctx, r.docChan(path), path).Err(); err != nil {
		r.log.Warn("rtstore publish failed", zap.String("path", path), zap.Error(err))
	}
	col := ParentCollection(path)
	if err := r.client.Publish(ctx, r.colChan(col), path).Err(); err != nil {
		r.log.Warn("rtstore publish failed", zap.String("collection", col), zap.Error(err))
	}
}

type redisSub struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}

// WatchDoc fires fn with the current snapshot, then on every published
// change to the document.
func (r *RedisStore) WatchDoc(ctx context.Context, path string, fn func(Snapshot)) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, r.docChan(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, storeErr("rtstore watch doc", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{pubsub: pubsub, cancel: cancel}

	emit := func() {
		doc, err := r.Get(watchCtx, path)
		snap := Snapshot{Path: path, ID: DocID(path), Exists: err == nil, Data: doc}
		if err != nil && err != errs.ErrNotFound {
			r.log.Warn("rtstore watch doc read failed", zap.String("path", path), zap.Error(err))
			return
		}
		fn(snap)
	}
	emit()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			}
		}
	}()
	return sub, nil
}

// WatchCollection fires fn with the full filtered member list, then on any
// published change inside the collection.
func (r *RedisStore) WatchCollection(ctx context.Context, collection string, q Query, fn func([]Snapshot), onErr func(error)) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, r.colChan(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, storeErr("rtstore watch collection", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{pubsub: pubsub, cancel: cancel}

	emit := func() {
		list, err := r.list(watchCtx, collection, q)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(list)
	}
	emit()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				emit()
			}
		}
	}()
	return sub, nil
}

func (r *RedisStore) list(ctx context.Context, collection string, q Query) ([]Snapshot, error) {
	ids, err := r.client.SMembers(ctx, r.colKey(collection)).Result()
	if err != nil {
		return nil, storeErr("rtstore list", err)
	}
	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		path := collection + "/" + id
		doc, err := r.Get(ctx, path)
		if err == errs.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if q.whereField != "" && !equalValue(doc[q.whereField], q.whereValue) {
			continue
		}
		snaps = append(snaps, Snapshot{Path: path, ID: id, Exists: true, Data: doc})
	}
	if q.orderField != "" {
		SortSnapshots(snaps, q.orderField, q.desc)
	}
	if q.limit > 0 && len(snaps) > q.limit {
		snaps = snaps[:q.limit]
	}
	return snaps, nil
}
