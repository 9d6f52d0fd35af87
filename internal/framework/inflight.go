package framework

import (
	"context"
	"sync"
)

// inflight 在途键集合：同一键同时只有一条消息在处理
type inflight struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]chan struct{})}
}

// acquire 等待键空闲后占用；ctx 取消返回 false
func (f *inflight) acquire(ctx context.Context, key string) bool {
	for {
		f.mu.Lock()
		busy, ok := f.keys[key]
		if !ok {
			f.keys[key] = make(chan struct{})
			f.mu.Unlock()
			return true
		}
		f.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return false
		}
	}
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.keys[key]; ok {
		close(ch)
		delete(f.keys, key)
	}
}
