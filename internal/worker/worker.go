package worker

import (
	"context"
	"fmt"
	"sync"

	"hnsync/internal/framework"
	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

// Worker 接口
type Worker interface {
	Start()
	Shutdown()
	GetName() string
}

// WorkerInstance 单队列 Worker：Subscriber 拉取 → inputChan → Processor 处理
type WorkerInstance struct {
	ctx        context.Context
	name       string
	queue      string
	subscriber *framework.Subscriber
	processor  *framework.Processor
	inputChan  chan *framework.Message
	shutdownCh chan struct{}
	stopOnce   sync.Once
	logger     logger.Logger
}

// NewWorkerInstance 创建 Worker 实例
func NewWorkerInstance(
	ctx context.Context,
	name string,
	subscriberCfg *framework.SubscriberConfig,
	processorCfg *framework.ProcessorConfig,
	source framework.MessageSource,
	proc lmstfyx.Proc, // 注入 GetProcess
	log logger.Logger,
) (Worker, error) {
	if subscriberCfg.QueueName == "" {
		return nil, fmt.Errorf("worker %s: queue name is required", name)
	}
	if subscriberCfg.Concurrency <= 0 || processorCfg.Concurrency <= 0 {
		return nil, fmt.Errorf("worker %s: concurrency must be positive", name)
	}
	if processorCfg.BufferSize < 0 {
		return nil, fmt.Errorf("worker %s: buffer size must not be negative", name)
	}

	return &WorkerInstance{
		ctx:        ctx,
		name:       name,
		queue:      subscriberCfg.QueueName,
		subscriber: framework.NewSubscriber(subscriberCfg, source, log),
		processor:  framework.NewProcessor(processorCfg, source, proc, log),
		inputChan:  make(chan *framework.Message, processorCfg.BufferSize),
		shutdownCh: make(chan struct{}),
		logger:     log,
	}, nil
}

// Start 启动 Worker，阻塞直到 Shutdown 完成
func (w *WorkerInstance) Start() {
	w.logger.Infof(w.ctx, "[Worker] %s started on queue %s", w.name, w.queue)

	// 1. 先启动 Processor，再开始拉取
	w.processor.Start(w.ctx, w.inputChan)
	w.subscriber.Start(w.ctx, w.inputChan)

	// 2. 阻塞，等待关闭指令
	<-w.shutdownCh
}

// Shutdown 优雅退出：停止拉取 → 等待拉取协程 → Drain → 等待处理协程
func (w *WorkerInstance) Shutdown() {
	w.stopOnce.Do(func() {
		w.logger.Infof(w.ctx, "[Worker] %s began to close", w.name)

		w.subscriber.Stop()
		w.subscriber.Wait()

		w.processor.SignalShutdown()
		w.processor.Wait()

		close(w.shutdownCh)
		w.logger.Infof(w.ctx, "[Worker] %s shutdown complete", w.name)
	})
}

// GetName 获取 Worker 名称
func (w *WorkerInstance) GetName() string {
	return w.name
}
