package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hnsync/internal/bootstrap"
	"hnsync/internal/credentials"
	"hnsync/pkg/config"
	"hnsync/pkg/logger"
)

var (
	configPath string
	logLevel   string
	dryRun     bool
)

// AddGlobalFlags 注册全局参数
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&configPath, "config", "./config/worker.yaml", "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store, nothing is persisted")
}

// openEngine 加载配置并组装引擎；source 非空时覆盖加密凭据存储
func openEngine(source credentials.Source) (*bootstrap.Engine, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		cfg.Store.Driver = "memory"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	log, err := logger.NewZapLogger(logLevel)
	if err != nil {
		return nil, nil, err
	}

	engine, err := bootstrap.NewEngine(cfg, log, bootstrap.Options{Credentials: source})
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}
