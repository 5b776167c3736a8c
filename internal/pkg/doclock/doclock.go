// Package doclock 提供基于 Redis 租约的文档级互斥。
//
// 每个文档对应一把锁，键形如 mp3:lock:<collection>:<id>。
// 获取遵循全局固定顺序（users 先于 tasks，再按 ID 升序），
// 因此同时触碰同一组文档的并发操作不会互相死锁。
package doclock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/ziyic8/mp3/internal/model"
	"github.com/ziyic8/mp3/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout 在等待上限内未能取得全部租约。调用方可重试。
var ErrLockTimeout = errors.New("document lock wait timeout")

const lockKeyPrefix = "mp3:lock:"

// releaseScript 仅当持有者 token 匹配时删除租约，避免误释放
// 已过期后被他人重新持有的锁。
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Key 标识一个待加锁的文档。
type Key struct {
	Collection string
	ID         string
}

func (k Key) redisKey() string {
	return lockKeyPrefix + k.Collection + ":" + k.ID
}

// collectionRank 定义集合间的加锁顺序：users 先于 tasks。
func collectionRank(collection string) int {
	switch collection {
	case model.CollectionUsers:
		return 0
	case model.CollectionTasks:
		return 1
	default:
		return 2
	}
}

// Manager 文档租约管理器。
type Manager struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration // 租约存活时间，防止崩溃进程永久持锁
	wait   time.Duration // 单次 AcquireAll 的等待上限
}

// NewManager 创建租约管理器。
func NewManager(rdb *redis.Client, logger *slog.Logger, ttl, wait time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Manager{rdb: rdb, logger: logger, ttl: ttl, wait: wait}
}

// Lease 一组已持有的租约，按获取顺序记录，逆序释放。
type Lease struct {
	m     *Manager
	keys  []Key
	token string
}

// AcquireAll 按全局顺序获取给定文档的租约。
//
// 重复的 Key 会被合并。任一租约在等待上限内无法取得时，
// 已取得的部分全部释放并返回 ErrLockTimeout。
func (m *Manager) AcquireAll(ctx context.Context, keys ...Key) (*Lease, error) {
	ordered := normalize(keys)
	if len(ordered) == 0 {
		return &Lease{m: m}, nil
	}

	lease := &Lease{m: m, token: uuid.NewString()}
	start := time.Now()
	deadline := start.Add(m.wait)

	for _, key := range ordered {
		if err := m.acquireOne(ctx, key, lease.token, deadline); err != nil {
			lease.Release(context.WithoutCancel(ctx))
			if errors.Is(err, ErrLockTimeout) && metrics.LockTimeoutTotal != nil {
				metrics.LockTimeoutTotal.Inc()
			}
			return nil, err
		}
		lease.keys = append(lease.keys, key)
	}

	if metrics.LockWaitDuration != nil {
		metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
	}
	return lease, nil
}

func (m *Manager) acquireOne(ctx context.Context, key Key, token string, deadline time.Time) error {
	const baseBackoff = 5 * time.Millisecond
	const jitterMax = 5 * time.Millisecond

	for {
		ok, err := m.rdb.SetNX(ctx, key.redisKey(), token, m.ttl).Result()
		if err != nil {
			return fmt.Errorf("doclock setnx: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		wait := baseBackoff + time.Duration(rand.Int63n(int64(jitterMax)))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return ErrLockTimeout
		case <-timer.C:
		}
	}
}

// Release 逆序释放全部租约。
//
// 释放失败只记日志：租约有 TTL 兜底，不会永久卡死。
func (l *Lease) Release(ctx context.Context) {
	if l == nil || l.m == nil {
		return
	}
	for i := len(l.keys) - 1; i >= 0; i-- {
		key := l.keys[i]
		if err := releaseScript.Run(ctx, l.m.rdb, []string{key.redisKey()}, l.token).Err(); err != nil {
			if l.m.logger != nil {
				l.m.logger.Warn("doclock release failed",
					slog.String("collection", key.Collection),
					slog.String("id", key.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	l.keys = nil
}

// normalize 去重并按全局顺序排序。
func normalize(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	ordered := make([]Key, 0, len(keys))
	for _, key := range keys {
		if key.ID == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool {
		ri, rj := collectionRank(ordered[i].Collection), collectionRank(ordered[j].Collection)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}
