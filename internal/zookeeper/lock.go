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

	"flashbuy/internal/pkg/logger"
)

const (
	lockRoot   = "/distributed_locks" // 所有分布式锁的根节点
	nodePrefix = "lock-"
)

// Conn 是 ZooKeeper 会话，临时节点随会话一起消失，节点宕机时锁会自动释放。
type Conn struct {
	*zk.Conn
}

// Connect 建立会话。zk.Connect 本身是异步的，这里不等待会话建立，第一次操作时才会真正阻塞。
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("zookeeper: no servers configured")
	}
	c, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", servers, err)
	}
	return &Conn{Conn: c}, nil
}

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     *Conn  // ZooKeeper连接
	path     string // 锁的路径，例如 /distributed_locks/seckill-teardown
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例，并确保锁路径存在
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn *Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("failed to check node %s: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("failed to create node %s: %w", path, err)
	}
	return nil
}

// Lock 获取锁，获取不到时阻塞等待，直到 ctx 结束
func (l *DistributedLock) Lock(ctx context.Context) error {
	if err := l.createNode(); err != nil {
		return err
	}

	for {
		prev, isOwner, err := l.predecessor()
		if err != nil {
			_ = l.Unlock()
			return err
		}
		if isOwner {
			return nil
		}

		// 只监听前一个节点，避免羊群效应
		exists, _, eventChan, err := l.conn.ExistsW(prev)
		if err != nil {
			_ = l.Unlock()
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

// TryLock 不等待：当前节点不是最小节点时立即放弃，返回 false
func (l *DistributedLock) TryLock() (bool, error) {
	if err := l.createNode(); err != nil {
		return false, err
	}
	_, isOwner, err := l.predecessor()
	if err != nil || !isOwner {
		_ = l.Unlock()
		return false, err
	}
	return true, nil
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

// createNode 在锁路径下创建一个临时顺序节点，格式为 /distributed_locks/<resource>/lock-0000000001
func (l *DistributedLock) createNode() error {
	nodePath, err := l.conn.Create(l.path+"/"+nodePrefix, []byte(""), zk.FlagEphemeral|zk.FlagSequence, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	return nil
}

// predecessor 返回排在自己前面的节点；自己是最小节点时 isOwner 为 true
func (l *DistributedLock) predecessor() (prev string, isOwner bool, err error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return "", false, fmt.Errorf("failed to get children nodes: %w", err)
	}
	sort.Strings(children)

	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
	for i, child := range children {
		if child != myNodeName {
			continue
		}
		if i == 0 {
			return "", true, nil
		}
		return l.path + "/" + children[i-1], false, nil
	}
	return "", false, errors.New("own lock node disappeared, session may have expired")
}

// JobLocker 为定时任务提供"同一时刻只有一个节点执行"的保证
type JobLocker struct {
	conn *Conn
}

func NewJobLocker(conn *Conn) *JobLocker {
	return &JobLocker{conn: conn}
}

func (j *JobLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	lock, err := NewDistributedLock(j.conn, name)
	if err != nil {
		return nil, false, err
	}
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("lock", name).Msg("failed to release job lock")
		}
	}, true, nil
}
