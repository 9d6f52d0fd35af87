package framework

import (
	"context"
	"sync"
	"time"
)

// Subscriber 订阅者：从消息队列拉取消息，转发给 Processor
// 配置了 KeyOf 时同一键的消息在本进程内串行：后到的消息在拉取协程里等待前一条处理结束
type Subscriber struct {
	cfg        *SubscriberConfig
	source     MessageSource
	logger     Logger
	inflight   *inflight
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSubscriber 创建订阅者
func NewSubscriber(cfg *SubscriberConfig, source MessageSource, logger Logger) *Subscriber {
	return &Subscriber{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		inflight: newInflight(),
	}
}

// Start 启动 Concurrency 个拉取协程
func (s *Subscriber) Start(parentCtx context.Context, out chan<- *Message) {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel

	s.logger.Infof(ctx, "[Subscriber] Starting with %d workers for queue: %s, keyed=%v",
		s.cfg.Concurrency, s.cfg.QueueName, s.cfg.KeyOf != nil)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.loop(ctx, i, out)
	}
}

// Stop 停止拉取新消息
func (s *Subscriber) Stop() {
	s.logger.Infof(context.Background(), "[Subscriber] Stopping...")
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
}

// Wait 等待所有拉取协程退出
func (s *Subscriber) Wait() {
	s.wg.Wait()
	s.logger.Infof(context.Background(), "[Subscriber] All workers exited")
}

func (s *Subscriber) loop(ctx context.Context, workerID int, out chan<- *Message) {
	defer s.wg.Done()
	s.logger.Infof(ctx, "[Subscriber-%d] Started", workerID)
	defer s.logger.Infof(ctx, "[Subscriber-%d] Exiting", workerID)

	for {
		// 1. 拉取；网络错误只退避不退出
		msg, err := s.source.Consume(s.cfg.QueueName, s.cfg.Timeout, s.cfg.TTR)
		if err != nil {
			s.logger.Warnf(ctx, "[Subscriber-%d] Consume error: %v, retrying in %v", workerID, err, s.cfg.ErrorBackoff)
			if !sleep(ctx, s.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		if msg == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		// 2. 同键串行后转发；关闭期间未转发的消息不 ACK，TTR 后重新投递
		if !s.admit(ctx, workerID, msg) || !s.forward(ctx, msg, out) {
			s.logger.Warnf(ctx, "[Subscriber-%d] Dropping message due to shutdown: %s", workerID, msg.ID)
			return
		}

		// 3. 速率控制
		if !sleep(ctx, s.cfg.Rate) {
			return
		}
	}
}

// admit 占用消息的互斥键，键被占用时等待
func (s *Subscriber) admit(ctx context.Context, workerID int, msg *Message) bool {
	if s.cfg.KeyOf == nil {
		return true
	}
	key := s.cfg.KeyOf(msg.Data)
	if key == "" {
		return true
	}

	start := time.Now()
	if !s.inflight.acquire(ctx, key) {
		return false
	}
	if waited := time.Since(start); waited > time.Millisecond {
		s.logger.Infof(ctx, "[Subscriber-%d] Message %s waited %v for in-flight %s", workerID, msg.ID, waited, key)
	}
	msg.release = func() { s.inflight.release(key) }
	return true
}

func (s *Subscriber) forward(ctx context.Context, msg *Message, out chan<- *Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		msg.done()
		return false
	}
}

// sleep 可取消的等待；ctx 取消返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
