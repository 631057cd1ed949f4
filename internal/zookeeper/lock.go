// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/distributed_locks" // 所有分布式锁的根节点
)

var ErrNotLocked = errors.New("no lock to unlock")

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     *Conn
	path     string // 锁的路径，例如 /distributed_locks/inventory-reconcile
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例，必要时创建父节点
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		_, err := conn.Create(p, []byte(""), 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return nil, fmt.Errorf("failed to create lock node %s: %w", p, err)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// Lock 尝试获取锁，如果获取不到则阻塞等待，直到 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context) error {
	if err := l.createNode(); err != nil {
		return err
	}

	for {
		children, err := l.sortedChildren()
		if err != nil {
			return err
		}

		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex == -1 && len(children) > 0 && children[0] == myNodeName {
			return nil
		}
		if prevNodeIndex < 0 {
			return errors.New("cannot find own lock node, session may have expired")
		}

		// 只监听前一个节点，避免惊群
		prevNodePath := l.path + "/" + children[prevNodeIndex]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-ctx.Done():
			_ = l.Unlock()
			return ctx.Err()
		}
	}
}

// TryLock 尝试获取锁，不阻塞。拿不到锁时删除自己的节点并返回 false
func (l *DistributedLock) TryLock() (bool, error) {
	if err := l.createNode(); err != nil {
		return false, err
	}
	children, err := l.sortedChildren()
	if err != nil {
		_ = l.Unlock()
		return false, err
	}
	if len(children) > 0 && l.path+"/"+children[0] == l.lockNode {
		return true, nil
	}
	return false, l.Unlock()
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return ErrNotLocked
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) createNode() error {
	// 临时顺序节点，会话断开后自动删除，持锁进程崩溃也不会死锁
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	return nil
}

// sortedChildren 按序号排序。protected 节点名带有 GUID 前缀，只能按 "lock-" 之后的序号比较
func (l *DistributedLock) sortedChildren() ([]string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to get children nodes: %w", err)
	}
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
	return children, nil
}

func sequenceOf(node string) string {
	if idx := strings.LastIndex(node, "lock-"); idx >= 0 {
		return node[idx+len("lock-"):]
	}
	return node
}

// Locker 以 Sweeper 需要的形式暴露 TryLock
type Locker struct {
	conn *Conn
}

func NewLocker(conn *Conn) *Locker {
	return &Locker{conn: conn}
}

// TryAcquire 的 ttl 参数对 ZooKeeper 无意义，锁的生命周期与会话绑定
func (z *Locker) TryAcquire(ctx context.Context, name string, _ time.Duration) (func(context.Context) error, bool, error) {
	lock, err := NewDistributedLock(z.conn, name)
	if err != nil {
		return nil, false, err
	}
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return nil, false, err
	}
	return func(context.Context) error { return lock.Unlock() }, true, nil
}
