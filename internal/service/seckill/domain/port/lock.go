package port

import "context"

// JobLock 保证定时任务在集群中同一时刻只有一个节点执行。
type JobLock interface {
	// TryLock 不阻塞；ok 为 false 表示锁被其他节点持有。
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}
