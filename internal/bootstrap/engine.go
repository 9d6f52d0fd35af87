package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"hnsync/internal/credentials"
	"hnsync/internal/orchestrator"
	"hnsync/pkg/config"
	"hnsync/pkg/geo"
	"hnsync/pkg/kv"
	"hnsync/pkg/logger"
	"hnsync/pkg/metrics"
)

// Engine 同步引擎及其共享依赖（worker / apiserver / hnctl 共用）
type Engine struct {
	Store       kv.Store
	Credentials *credentials.SealedStore // 未配置 credentials.key 时为 nil
	Metrics     *metrics.Metrics
	Service     *orchestrator.Service

	closeStore func() error
}

// Options 可选覆盖
type Options struct {
	Store       kv.Store           // 为空时按 store.driver 创建
	Credentials credentials.Source // 为空时使用加密凭据存储
	Router      geo.Router         // 为空时使用带缓存的 HTTPRouter
	Registerer  prometheus.Registerer
}

// NewEngine 按配置组装同步引擎
func NewEngine(cfg *config.Config, log logger.Logger, opts Options) (*Engine, error) {
	e := &Engine{closeStore: func() error { return nil }}

	// 1. 存储
	e.Store = opts.Store
	if e.Store == nil {
		store, closer, err := kv.NewStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		e.Store, e.closeStore = store, closer
	}

	// 2. 凭据
	if cfg.Credentials.Key != "" {
		sealed, err := credentials.NewSealedStore(e.Store, cfg.Credentials.Key)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.Credentials = sealed
	}
	source := opts.Credentials
	if source == nil {
		if e.Credentials == nil {
			_ = e.Close()
			return nil, fmt.Errorf("credentials.key is required")
		}
		source = e.Credentials
	}

	// 3. 地理编码 / 路线（结果缓存在同一存储）
	router := opts.Router
	if router == nil {
		router = geo.NewCachedRouter(
			geo.NewHTTPRouter(cfg.Geo.GeocodeURL, cfg.Geo.RouteURL, cfg.Geo.UserAgent, cfg.Geo.Timeout),
			e.Store, log)
	}

	// 4. 指标
	if opts.Registerer != nil {
		e.Metrics = metrics.New(opts.Registerer)
	}

	e.Service = orchestrator.New(cfg, orchestrator.Deps{
		Store:       e.Store,
		Credentials: source,
		Router:      router,
		Metrics:     e.Metrics,
		Logger:      log,
	})

	log.Infof(context.Background(), "[Engine] Initialized: store=%s, timezone=%s", cfg.Store.Driver, cfg.Location())
	return e, nil
}

// Close 释放存储连接
func (e *Engine) Close() error {
	return e.closeStore()
}
