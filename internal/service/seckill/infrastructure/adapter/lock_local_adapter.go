package adapter

import (
	"context"
	"sync"
)

// LocalJobLock 是没有配置 ZooKeeper 时的退化实现，只在进程内互斥。
type LocalJobLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalJobLock() *LocalJobLock {
	return &LocalJobLock{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalJobLock) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false, nil
	}
	return m.Unlock, true, nil
}
