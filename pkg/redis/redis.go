package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bonfire/backend/config"
)

// Client Redis 客户端封装
// 当前用于：点火互斥锁、点火日标记、点火事件发布、接口限流
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

// ── 点火互斥锁（每孩子每日一次动作的串行化保障）──

const igniteLockPrefix = "ignite:lock:"

// releaseScript 仅当锁仍归自己持有时删除，避免误删他人续期后的锁
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireIgniteLock 获取 (childID, day) 维度的点火锁
// 返回 false 表示锁被占用，调用方应返回瞬时冲突而非 AlreadyIgnited
func (c *Client) AcquireIgniteLock(ctx context.Context, childID, day, owner string, ttl time.Duration) (bool, error) {
	key := igniteLockPrefix + childID + ":" + day
	return c.rdb.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseIgniteLock 释放点火锁（owner 校验）
func (c *Client) ReleaseIgniteLock(ctx context.Context, childID, day, owner string) error {
	key := igniteLockPrefix + childID + ":" + day
	return releaseScript.Run(ctx, c.rdb, []string{key}, owner).Err()
}

// ── 点火日标记 ──
// 实例行上的 ignite_claimed_at 是权威记录；该标记仅覆盖
// "当日无任何实例"的点火，使其在当天内同样只能发生一次。

const igniteDayPrefix = "ignite:day:"

// MarkDayIgnited 标记 (childID, day) 已点火，TTL 取当日剩余时长
func (c *Client) MarkDayIgnited(ctx context.Context, childID, day string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, igniteDayPrefix+childID+":"+day, "1", ttl).Err()
}

// WasDayIgnited 查询 (childID, day) 是否已有点火标记
func (c *Client) WasDayIgnited(ctx context.Context, childID, day string) (bool, error) {
	n, err := c.rdb.Exists(ctx, igniteDayPrefix+childID+":"+day).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ── 点火事件发布 ──

const igniteEventChannel = "events:ignite"

// IgniteEvent 点火结果事件，供通知等下游订阅
type IgniteEvent struct {
	ChildID   string    `json:"child_id"`
	Bonus     int       `json:"bonus"`
	IgnitedAt time.Time `json:"ignited_at"`
}

// PublishIgniteEvent 发布点火事件（fire-and-forget）
// 发布失败仅记录日志，不影响已落库的点火结果
func (c *Client) PublishIgniteEvent(ctx context.Context, evt IgniteEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		c.logger.Error("序列化点火事件失败", zap.Error(err))
		return
	}
	if err := c.rdb.Publish(ctx, igniteEventChannel, payload).Err(); err != nil {
		c.logger.Error("发布点火事件失败",
			zap.String("child_id", evt.ChildID),
			zap.Error(err),
		)
	}
}

// ── 接口限流 ──

// CheckRateLimit 固定窗口限流：窗口内第 limit+1 次请求返回 false
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	n, err := c.rdb.Incr(ctx, "rate_limit:"+key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, "rate_limit:"+key, window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(limit), nil
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
