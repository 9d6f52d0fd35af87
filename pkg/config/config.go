package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"hnsync/internal/model"
)

// Config 全局配置
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Lmstfy      LmstfyConfig      `mapstructure:"lmstfy"`
	Workers     []WorkerConfig    `mapstructure:"workers"`
	Portal      PortalConfig      `mapstructure:"portal"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Geo         GeoConfig         `mapstructure:"geo"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// LogConfig 滚动日志文件配置
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ServerConfig HTTP API 配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// StoreConfig KV 存储选择：redis / mysql / memory
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	NotifyChannel string `mapstructure:"notify_channel"`
}

// LmstfyConfig Lmstfy 配置
type LmstfyConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
	Queue     string `mapstructure:"queue"`
}

// WorkerConfig Worker 配置
type WorkerConfig struct {
	Name          string           `mapstructure:"name"`
	QueueName     string           `mapstructure:"queue_name"`
	CallbackQueue string           `mapstructure:"callback_queue"` // 回调队列名称
	Subscriber    SubscriberConfig `mapstructure:"subscriber"`
	Processor     ProcessorConfig  `mapstructure:"processor"`
}

// SubscriberConfig Subscriber 配置
type SubscriberConfig struct {
	Threads      int           `mapstructure:"threads"`       // 并发拉取数
	Rate         time.Duration `mapstructure:"rate"`          // 拉取速率
	Timeout      time.Duration `mapstructure:"timeout"`       // 拉取超时
	TTR          time.Duration `mapstructure:"ttr"`           // Time-To-Run
	ErrorBackoff time.Duration `mapstructure:"error_backoff"` // 错误退避时间
}

// ProcessorConfig Processor 配置
type ProcessorConfig struct {
	Threads    int           `mapstructure:"threads"`     // 并发处理数
	BufferSize int           `mapstructure:"buffer_size"` // Channel 缓冲大小
	Timeout    time.Duration `mapstructure:"timeout"`     // 单个任务超时
}

// PortalConfig 门户站点配置
type PortalConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	LoginPath        string        `mapstructure:"login_path"`
	HomePath         string        `mapstructure:"home_path"`
	OrderPath        string        `mapstructure:"order_path"` // 含一个 %s 占位符
	ManualSearchPath string        `mapstructure:"manual_search_path"`
	Timezone         string        `mapstructure:"timezone"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SoftLimit        int64         `mapstructure:"soft_limit"` // 单次调用请求软上限
	HardLimit        int64         `mapstructure:"hard_limit"` // 单次调用请求硬上限
}

// StageDelays 各阶段请求间隔（礼貌限速）
type StageDelays struct {
	Scan     time.Duration `mapstructure:"scan"`
	GapFill  time.Duration `mapstructure:"gap_fill"`
	Backward time.Duration `mapstructure:"backward"`
	Download time.Duration `mapstructure:"download"`
}

// SyncConfig 同步引擎配置
type SyncConfig struct {
	LockTTL            time.Duration  `mapstructure:"lock_ttl"`
	LockRetries        int            `mapstructure:"lock_retries"`
	LockRetryDelay     time.Duration  `mapstructure:"lock_retry_delay"`
	LockSettle         time.Duration  `mapstructure:"lock_settle"`
	SessionTTL         time.Duration  `mapstructure:"session_ttl"`
	SessionMaxAge      time.Duration  `mapstructure:"session_max_age"`
	SessionMaxRequests int            `mapstructure:"session_max_requests"`
	RollbackMaxBytes   int            `mapstructure:"rollback_max_bytes"`
	CheckpointEvery    int            `mapstructure:"checkpoint_every"`
	ContinuationDelay  time.Duration  `mapstructure:"continuation_delay"`
	MaxContinuations   int            `mapstructure:"max_continuations"` // 单个请求最多续跑次数
	Delays             StageDelays    `mapstructure:"delays"`
	PayRates           model.PayRates `mapstructure:"pay_rates"`
	HomeAddress        string         `mapstructure:"home_address"`
}

// GeoConfig 地理编码 / 路线服务配置
type GeoConfig struct {
	GeocodeURL string        `mapstructure:"geocode_url"`
	RouteURL   string        `mapstructure:"route_url"`
	UserAgent  string        `mapstructure:"user_agent"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CredentialsConfig 凭据加密配置
type CredentialsConfig struct {
	Key string `mapstructure:"key"` // base64 编码的 32 字节密钥
}

// setDefaults 默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hnsync")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("server.port", "8080")
	v.SetDefault("store.driver", "redis")
	v.SetDefault("redis.notify_channel", "hns_sync_complete")
	v.SetDefault("lmstfy.queue", "hns_sync")

	v.SetDefault("portal.login_path", "/login")
	v.SetDefault("portal.home_path", "/home")
	v.SetDefault("portal.order_path", "/serviceorder/view?id=%s")
	v.SetDefault("portal.manual_search_path", "/serviceorder/search")
	v.SetDefault("portal.timezone", "America/Chicago")
	v.SetDefault("portal.user_agent", "hnsync/1.0")
	v.SetDefault("portal.timeout", "30s")
	v.SetDefault("portal.soft_limit", 40)
	v.SetDefault("portal.hard_limit", 50)

	v.SetDefault("sync.lock_ttl", "5m")
	v.SetDefault("sync.lock_retries", 10)
	v.SetDefault("sync.lock_retry_delay", "1s")
	v.SetDefault("sync.lock_settle", "25ms")
	v.SetDefault("sync.session_ttl", "30m")
	v.SetDefault("sync.session_max_age", "10m")
	v.SetDefault("sync.session_max_requests", 20)
	v.SetDefault("sync.rollback_max_bytes", 1<<20)
	v.SetDefault("sync.checkpoint_every", 10)
	v.SetDefault("sync.continuation_delay", "5s")
	v.SetDefault("sync.max_continuations", 20)
	v.SetDefault("sync.delays.scan", "200ms")
	v.SetDefault("sync.delays.gap_fill", "100ms")
	v.SetDefault("sync.delays.backward", "100ms")
	v.SetDefault("sync.delays.download", "50ms")

	v.SetDefault("geo.geocode_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geo.route_url", "https://router.project-osrm.org")
	v.SetDefault("geo.user_agent", "hnsync/1.0")
	v.SetDefault("geo.timeout", "10s")
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HNSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if !strings.Contains(c.Portal.OrderPath, "%s") {
		return fmt.Errorf("portal.order_path must contain a %%s placeholder")
	}
	if c.Portal.HardLimit > 0 && c.Portal.SoftLimit > c.Portal.HardLimit {
		return fmt.Errorf("portal.soft_limit (%d) must not exceed portal.hard_limit (%d)", c.Portal.SoftLimit, c.Portal.HardLimit)
	}
	if _, err := time.LoadLocation(c.Portal.Timezone); err != nil {
		return fmt.Errorf("portal.timezone invalid: %w", err)
	}
	switch c.Store.Driver {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when store.driver=redis")
		}
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn is required when store.driver=mysql")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.driver: %s", c.Store.Driver)
	}
	if c.Sync.LockRetries <= 0 {
		return fmt.Errorf("sync.lock_retries must be positive")
	}
	return nil
}

// ValidateWorker 验证 Worker 相关配置
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Lmstfy.Host == "" {
		return fmt.Errorf("lmstfy.host is required")
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	for _, w := range c.Workers {
		if w.QueueName == "" {
			return fmt.Errorf("worker %s: queue_name is required", w.Name)
		}
		if w.CallbackQueue == "" {
			return fmt.Errorf("worker %s: callback_queue is required", w.Name)
		}
		if w.Subscriber.Threads <= 0 || w.Processor.Threads <= 0 {
			return fmt.Errorf("worker %s: subscriber/processor threads must be positive", w.Name)
		}
	}
	return nil
}

// Location 门户时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Portal.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
