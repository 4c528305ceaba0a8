package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ubirescue/pkg/storage"
)

// CachedDestination 是一个装饰器，为底层的 storage.Destination 添加 Redis 去重层
//
// 场景：同一块镜像在排查过程中会被反复 extract 到同一个 S3 前缀。
// 恢复是确定性的——同样的输入产出同样的字节——所以用
// (路径 + 内容哈希) 做存在性缓存，第二次导出时未变化的对象直接跳过上传。
type CachedDestination struct {
	backend storage.Destination
	client  *redis.Client
	ttl     time.Duration
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 缓存过期时间
}

func NewCachedDestination(backend storage.Destination, cfg Config) (*CachedDestination, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedDestination{backend: backend, client: client, ttl: cfg.TTL}, nil
}

// cacheKey 由路径和内容哈希共同决定：内容变了键就变，不存在脏命中
func (c *CachedDestination) cacheKey(path string, content []byte) string {
	sum := sha256.Sum256(content)
	return "ubr:dst:" + path + ":" + hex.EncodeToString(sum[:])
}

// WriteFile 先查 Redis，命中则跳过底层写入
func (c *CachedDestination) WriteFile(ctx context.Context, path string, content []byte, mode uint32, mtime time.Time) error {
	key := c.cacheKey(path, content)

	val, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		// 缓存故障降级：Redis 挂了就退化为无缓存直写，恢复流程不能因此中断
		fmt.Printf("WARN: redis error, writing through: %v\n", err)
	} else if val > 0 {
		return nil // 上一轮已经写过完全相同的内容
	}

	if err := c.backend.WriteFile(ctx, path, content, mode, mtime); err != nil {
		return err
	}

	// 只有底层写成功了才回填缓存；回填失败可以忽略
	c.client.Set(ctx, key, "1", c.ttl)
	return nil
}

// 其余操作直接透传——它们要么本来就便宜，要么不具备内容幂等性

func (c *CachedDestination) Prepare(ctx context.Context, force bool) error {
	return c.backend.Prepare(ctx, force)
}

func (c *CachedDestination) MkdirAll(ctx context.Context, path string) error {
	return c.backend.MkdirAll(ctx, path)
}

func (c *CachedDestination) Symlink(ctx context.Context, path, target string) error {
	return c.backend.Symlink(ctx, path, target)
}

func (c *CachedDestination) Link(ctx context.Context, path, existing string) error {
	return c.backend.Link(ctx, path, existing)
}

func (c *CachedDestination) PutManifest(ctx context.Context, name string, data []byte) error {
	return c.backend.PutManifest(ctx, name, data)
}
