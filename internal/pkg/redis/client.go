// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Nil 是 key 不存在时 go-redis 返回的错误，重新导出以免业务层直接依赖 go-redis。
const Nil = goredis.Nil

// Client 封装了 go-redis 的 UniversalClient，并负责 Lua 脚本的注册与执行。
type Client struct {
	rdb goredis.UniversalClient

	scriptsMu sync.RWMutex
	scripts   map[string]*goredis.Script
}

// NewClient 根据逗号分隔的地址创建客户端。
// 单个地址为单机模式，多个地址时由 UniversalClient 决定 cluster / sentinel 模式。
func NewClient(addrs string) (*Client, error) {
	return NewClientWithOptions(&goredis.UniversalOptions{
		Addrs:        strings.Split(addrs, ","),
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     64,
	})
}

// NewClientWithOptions 使用完整的 UniversalOptions 创建客户端，并做一次连通性检查。
func NewClientWithOptions(opts *goredis.UniversalOptions) (*Client, error) {
	rdb := goredis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis %v: %w", opts.Addrs, err)
	}
	return Wrap(rdb), nil
}

// Wrap 用已有的 go-redis 客户端构造 Client，测试中配合 miniredis 使用。
func Wrap(rdb goredis.UniversalClient) *Client {
	return &Client{
		rdb:     rdb,
		scripts: make(map[string]*goredis.Script),
	}
}

// GetClient 返回底层客户端，用于 pipeline 等脚本以外的操作。
func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

// LoadScriptFromContent 注册一个 Lua 脚本，并通过 SCRIPT LOAD 预热到服务端。
// 语法错误会在这里暴露出来，而不是在第一次请求时。
func (c *Client) LoadScriptFromContent(name, src string) error {
	script := goredis.NewScript(src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := script.Load(ctx, c.rdb).Err(); err != nil {
		return fmt.Errorf("failed to load lua script %q: %w", name, err)
	}

	c.scriptsMu.Lock()
	c.scripts[name] = script
	c.scriptsMu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本。EVALSHA 未命中时 go-redis 会自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.scriptsMu.RLock()
	script, ok := c.scripts[name]
	c.scriptsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lua script %q is not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// Close 关闭连接池。
func (c *Client) Close() error {
	return c.rdb.Close()
}
