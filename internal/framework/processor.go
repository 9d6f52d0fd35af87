package framework

import (
	"context"
	"sync"
	"time"

	"github.com/bitleak/lmstfy/client"

	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

// Processor 处理器：接收消息，调用业务处理函数，再按结果 ACK / 放回
type Processor struct {
	cfg        *ProcessorConfig
	source     MessageSource // 用于 ACK
	proc       lmstfyx.Proc  // 业务处理函数（注入的 GetProcess）
	logger     Logger
	shutdownCh chan struct{} // 专门的退出信号通道
	wg         sync.WaitGroup
}

// NewProcessor 创建处理器
func NewProcessor(cfg *ProcessorConfig, source MessageSource, proc lmstfyx.Proc, logger Logger) *Processor {
	return &Processor{
		cfg:        cfg,
		source:     source,
		proc:       proc,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动处理协程
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Message) {
	p.logger.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i, inputChan)
	}
}

// SignalShutdown 通知 Processor 准备退出（进入 Drain 模式）
func (p *Processor) SignalShutdown() {
	p.logger.Infof(context.Background(), "[Processor] Shutdown signal received")
	close(p.shutdownCh)
}

// Wait 等待所有处理协程退出
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers exited")
}

// loop 处理循环（单个 Worker）
func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Message) {
	defer p.wg.Done()
	ctx = logger.WithWorkerID(ctx, workerID)
	p.logger.Infof(ctx, "[Processor-%d] Started", workerID)

	for {
		select {
		// A. 正常业务处理
		case msg := <-inputChan:
			p.process(ctx, msg, workerID)

		// B. Drain 模式：处理完剩余消息再退出
		case <-p.shutdownCh:
			p.logger.Infof(ctx, "[Processor-%d] Entering DRAIN mode", workerID)
			count := 0
			for {
				select {
				case msg := <-inputChan:
					p.process(ctx, msg, workerID)
					count++
				default:
					p.logger.Infof(ctx, "[Processor-%d] Drained %d messages, exiting", workerID, count)
					return
				}
			}
		}
	}
}

// process 处理单个消息
func (p *Processor) process(ctx context.Context, msg *Message, workerID int) {
	if msg == nil {
		return
	}
	defer msg.done()

	startTime := time.Now()

	// 1. 创建超时控制的 Context
	procCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.logger.Infof(procCtx, "[Processor-%d] Processing message: %s", workerID, msg.ID)

	// 2. 调用业务处理函数（注入的 GetProcess）
	resp := p.proc(procCtx, &client.Job{
		ID:    msg.ID,
		Queue: msg.Queue,
		Data:  msg.Data,
	})
	if resp == nil {
		resp = &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusRelease}
	}

	p.logger.Infof(procCtx, "[Processor-%d] Message processed: %s, action: %s, duration: %v",
		workerID, msg.ID, resp.Action, time.Since(startTime))

	// 3. 根据 Action 执行 ACK / Release
	p.settle(ctx, msg, resp.Action, workerID)
}

// settle Success/Bury 确认删除；Release 不确认，等待 TTR 后重新投递
func (p *Processor) settle(ctx context.Context, msg *Message, action lmstfyx.JobRespStatus, workerID int) {
	switch action {
	case lmstfyx.JobRespStatusRelease:
		p.logger.Warnf(ctx, "[Processor-%d] Message released for redelivery: %s", workerID, msg.ID)
		return
	case lmstfyx.JobRespStatusBury:
		p.logger.Errorf(ctx, "[Processor-%d] Message buried: %s", workerID, msg.ID)
	}

	if err := p.source.Ack(msg.Queue, msg.ID); err != nil {
		p.logger.Errorf(ctx, "[Processor-%d] Ack failed: %s, err: %v", workerID, msg.ID, err)
	}
}
