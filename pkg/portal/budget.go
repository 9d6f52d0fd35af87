package portal

import (
	"errors"

	"go.uber.org/atomic"
)

// ErrHardLimit 超出硬上限，调用方必须立即停止
var ErrHardLimit = errors.New("portal: hard request limit exceeded")

// Budget 单次调用的请求预算（计数只增不减）
type Budget struct {
	count *atomic.Int64
	soft  int64
	hard  int64
}

// NewBudget 创建预算；limit<=0 表示不限制
func NewBudget(soft, hard int64) *Budget {
	return &Budget{
		count: atomic.NewInt64(0),
		soft:  soft,
		hard:  hard,
	}
}

// Reserve 占用一次请求额度
func (b *Budget) Reserve() error {
	n := b.count.Inc()
	if b.hard > 0 && n > b.hard {
		return ErrHardLimit
	}
	return nil
}

// SoftExceeded 是否已达到软上限（不应再安排新请求）
func (b *Budget) SoftExceeded() bool {
	return b.soft > 0 && b.count.Load() >= b.soft
}

// Count 已发出的请求数
func (b *Budget) Count() int64 {
	return b.count.Load()
}

// Soft 软上限
func (b *Budget) Soft() int64 {
	return b.soft
}
