// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	zlog "github.com/rs/zerolog/log"
)

// Conn 是对 zk.Conn 的薄封装，锁相关的方法直接复用 zk.Conn
type Conn struct {
	*zk.Conn
}

// Connect 建立到 ZooKeeper 集群的会话，并等待会话建立完成
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect zookeeper %v: %w", servers, err)
	}

	timeout := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				zlog.Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper.")
				go drain(events)
				return &Conn{Conn: conn}, nil
			}
		case <-timeout:
			conn.Close()
			return nil, fmt.Errorf("timeout waiting for zookeeper session on %v", servers)
		}
	}
}

// drain 持续消费会话事件，避免事件 channel 阻塞 zk 客户端
func drain(events <-chan zk.Event) {
	for ev := range events {
		if ev.State == zk.StateExpired || ev.State == zk.StateDisconnected {
			zlog.Warn().Str("state", ev.State.String()).Msg("zookeeper session state changed")
		}
	}
}
