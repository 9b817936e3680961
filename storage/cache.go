package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Asarafhack/taskflow-realtime/domain"
)

// Cache wraps a domain.Storage with Redis-backed caching for task history,
// board lists and activity pages. Writes go to the wrapped storage first
// and then evict the affected keys.
type Cache struct {
	domain.Storage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.Storage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Storage: base, redis: client, ttl: ttl}
}

type cachedHistory struct {
	Limit   int                     `json:"limit"`
	Entries []domain.ChangeLogEntry `json:"entries"`
}

// TaskHistory caches under a per-task generation. The generation is read
// before the backing load, so a load that races AppendChangeLog stores its
// result under a generation no later reader will look at.
func (c *Cache) TaskHistory(ctx context.Context, taskID string, limit int) ([]domain.ChangeLogEntry, error) {
	gen, ok := c.historyGeneration(ctx, taskID)
	if !ok {
		return c.Storage.TaskHistory(ctx, taskID, limit)
	}
	key := historyCacheKey(taskID, gen)
	var cached cachedHistory
	if c.load(ctx, key, &cached) && cached.Limit == limit {
		return cached.Entries, nil
	}
	entries, err := c.Storage.TaskHistory(ctx, taskID, limit)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, cachedHistory{Limit: limit, Entries: entries})
	return entries, nil
}

func (c *Cache) AppendChangeLog(ctx context.Context, entries []domain.ChangeLogEntry) error {
	if err := c.Storage.AppendChangeLog(ctx, entries); err != nil {
		return err
	}
	if c.redis == nil {
		return nil
	}
	seen := map[string]bool{}
	pipe := c.redis.TxPipeline()
	for _, e := range entries {
		if seen[e.TaskID] {
			continue
		}
		seen[e.TaskID] = true
		pipe.Incr(ctx, historyGenKey(e.TaskID))
	}
	if len(seen) == 0 {
		return nil
	}
	// A failed bump leaves older history cached for at most one TTL.
	_, _ = pipe.Exec(ctx)
	return nil
}

// historyGeneration reports the current generation for a task's history.
// ok is false when redis can't be read, in which case the cache is bypassed.
func (c *Cache) historyGeneration(ctx context.Context, taskID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, historyGenKey(taskID)).Int64()
	switch {
	case err == redis.Nil:
		return 0, true
	case err != nil:
		return 0, false
	}
	return gen, true
}

func (c *Cache) ListLists(ctx context.Context, boardID string) ([]domain.List, error) {
	var lists []domain.List
	if c.load(ctx, listsCacheKey(boardID), &lists) {
		return lists, nil
	}
	lists, err := c.Storage.ListLists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, listsCacheKey(boardID), lists)
	return lists, nil
}

func (c *Cache) SaveList(ctx context.Context, l domain.List) error {
	if err := c.Storage.SaveList(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(l.BoardID))
	return nil
}

func (c *Cache) CreateBoard(ctx context.Context, b domain.Board, lists []domain.List) error {
	if err := c.Storage.CreateBoard(ctx, b, lists); err != nil {
		return err
	}
	c.evict(ctx, listsCacheKey(b.ID), activityCacheKey(b.ID))
	return nil
}

// ListActivities caches board-scoped pages in one hash per board so an
// append can drop every page of that board at once.
func (c *Cache) ListActivities(ctx context.Context, f domain.ActivityFilter) ([]domain.Activity, error) {
	if f.BoardID == "" || c.redis == nil {
		return c.Storage.ListActivities(ctx, f)
	}
	key := activityCacheKey(f.BoardID)
	field := fmt.Sprintf("%s:%d:%d", f.UserID, f.Offset, f.Limit)
	if data, err := c.redis.HGet(ctx, key, field).Bytes(); err == nil {
		var out []domain.Activity
		if err := sonic.Unmarshal(data, &out); err == nil {
			return out, nil
		}
		_ = c.redis.Del(ctx, key).Err()
	} else if err != redis.Nil {
		_ = c.redis.Del(ctx, key).Err()
	}

	out, err := c.Storage.ListActivities(ctx, f)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		if data, err := sonic.Marshal(out); err == nil {
			pipe := c.redis.TxPipeline()
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, c.ttl)
			_, _ = pipe.Exec(ctx)
		}
	}
	return out, nil
}

func (c *Cache) AppendActivity(ctx context.Context, a domain.Activity) error {
	if err := c.Storage.AppendActivity(ctx, a); err != nil {
		return err
	}
	c.evict(ctx, activityCacheKey(a.BoardID))
	return nil
}

func (c *Cache) load(ctx context.Context, key string, v any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func historyCacheKey(taskID string, gen int64) string {
	return fmt.Sprintf("history:%s:%d", taskID, gen)
}

func historyGenKey(taskID string) string {
	return "history:gen:" + taskID
}

func listsCacheKey(boardID string) string {
	return "lists:" + boardID
}

func activityCacheKey(boardID string) string {
	return "activity:" + boardID
}
