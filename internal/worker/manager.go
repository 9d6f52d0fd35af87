package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"hnsync/internal/bootstrap"
	"hnsync/internal/business"
	"hnsync/internal/domains"
	"hnsync/internal/domains/common"
	"hnsync/internal/domains/common/job"
	"hnsync/internal/framework"
	"hnsync/pkg/config"
	"hnsync/pkg/infra/redis"
	"hnsync/pkg/lmstfy"
	"hnsync/pkg/logger"
)

// Manager 接口
type Manager interface {
	Start() error
	Shutdown()
}

// ManagerInstance Manager 实例
type ManagerInstance struct {
	ctx          context.Context
	cfg          *config.Config
	lmstfyClient *lmstfy.Client
	engine       *bootstrap.Engine
	pubsub       *redis.PubSub // 未配置 redis.addr 或连接失败时为 nil
	workers      []Worker
	closing      *atomic.Bool
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
	logger       logger.Logger
}

// NewManagerInstance 创建 Manager
func NewManagerInstance(cfg *config.Config, log logger.Logger, reg prometheus.Registerer) (Manager, error) {
	ctx := context.Background()

	// 1. lmstfy 客户端
	lmstfyClient, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create lmstfy client: %w", err)
	}

	// 2. 同步引擎
	engine, err := bootstrap.NewEngine(cfg, log, bootstrap.Options{Registerer: reg})
	if err != nil {
		return nil, fmt.Errorf("failed to create sync engine: %w", err)
	}

	// 3. 完成通知（可选）
	var pubsub *redis.PubSub
	if cfg.Redis.Addr != "" {
		pubsub, err = redis.NewPubSub(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warnf(ctx, "[Manager] Redis notifications disabled: %v", err)
			pubsub = nil
		}
	}

	log.Infof(ctx, "[Manager] Initialized with %d worker config(s)", len(cfg.Workers))

	return &ManagerInstance{
		ctx:          ctx,
		cfg:          cfg,
		lmstfyClient: lmstfyClient,
		engine:       engine,
		pubsub:       pubsub,
		closing:      atomic.NewBool(false),
		shutdownCh:   make(chan struct{}),
		workers:      make([]Worker, 0, len(cfg.Workers)),
		logger:       log,
	}, nil
}

// Start 启动 Manager
func (m *ManagerInstance) Start() error {
	m.logger.Infof(m.ctx, "[Manager] Starting...")

	// 1. 加载所有 Worker
	if err := m.loadWorkers(); err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	m.logger.Infof(m.ctx, "[Manager] All workers loaded, count: %d", len(m.workers))

	// 2. 启动所有 Worker（每个 Worker 在独立 goroutine）
	for _, w := range m.workers {
		w := w
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.Start()
		}()
		m.logger.Infof(m.ctx, "[Manager] Worker started: %s", w.GetName())
	}

	// 3. 阻塞等待退出信号
	<-m.shutdownCh

	return nil
}

// Shutdown 优雅退出
func (m *ManagerInstance) Shutdown() {
	m.logger.Infof(m.ctx, "[Manager] Began to close")

	if !m.closing.CAS(false, true) {
		return
	}

	// 1. 所有 Worker 安全退出
	for _, w := range m.workers {
		m.logger.Infof(m.ctx, "[Manager] Shutting down worker: %s", w.GetName())
		w.Shutdown()
	}

	// 2. 等待所有 Worker 退出
	m.wg.Wait()

	// 3. 释放连接
	if m.pubsub != nil {
		if err := m.pubsub.Close(); err != nil {
			m.logger.Warnf(m.ctx, "[Manager] Close redis pubsub failed: %v", err)
		}
	}
	if err := m.engine.Close(); err != nil {
		m.logger.Warnf(m.ctx, "[Manager] Close store failed: %v", err)
	}

	// 4. 关闭信号通道
	close(m.shutdownCh)

	m.logger.Infof(m.ctx, "[Manager] Shutdown complete")
}

// loadWorkers 按配置创建 Worker；每个 Worker 的续跑任务投回自己的队列
func (m *ManagerInstance) loadWorkers() error {
	var notifier business.Notifier
	if m.pubsub != nil {
		notifier = m.pubsub
	}

	for _, workerCfg := range m.cfg.Workers {
		subCfg := &framework.SubscriberConfig{
			QueueName:    workerCfg.QueueName,
			Concurrency:  workerCfg.Subscriber.Threads,
			Rate:         workerCfg.Subscriber.Rate,
			Timeout:      workerCfg.Subscriber.Timeout,
			TTR:          workerCfg.Subscriber.TTR,
			ErrorBackoff: workerCfg.Subscriber.ErrorBackoff,
			KeyOf:        job.Key, // 同一用户的同步串行
		}

		procCfg := &framework.ProcessorConfig{
			Concurrency: workerCfg.Processor.Threads,
			BufferSize:  workerCfg.Processor.BufferSize,
			Timeout:     workerCfg.Processor.Timeout,
		}

		syncService := business.NewSyncService(m.engine.Service, m.lmstfyClient, notifier, business.SyncServiceOptions{
			CallbackQueue:     workerCfg.CallbackQueue,
			ContinuationQueue: workerCfg.QueueName,
			ContinuationDelay: m.cfg.Sync.ContinuationDelay,
			MaxContinuations:  m.cfg.Sync.MaxContinuations,
			NotifyChannel:     m.cfg.Redis.NotifyChannel,
		}, m.logger)

		getProcess := domains.GetProcess(m.logger, &common.Deps{SyncService: syncService})

		w, err := NewWorkerInstance(
			m.ctx,
			workerCfg.Name,
			subCfg,
			procCfg,
			m.lmstfyClient, // MessageSource
			getProcess,     // lmstfyx.Proc
			m.logger,
		)
		if err != nil {
			return fmt.Errorf("failed to create worker %s: %w", workerCfg.Name, err)
		}

		m.workers = append(m.workers, w)
	}

	return nil
}
