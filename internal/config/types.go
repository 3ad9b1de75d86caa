package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了执行引擎运行所需的全部配置项。
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	TimeSync     TimeSyncConfig     `mapstructure:"timesync"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Market     string      `mapstructure:"market"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// BucketRule 描述单个端点的令牌桶参数。
type BucketRule struct {
	Capacity   int     `mapstructure:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate"`
}

// RateLimitConfig 管理各端点的限流规则。
type RateLimitConfig struct {
	Default BucketRule            `mapstructure:"default"`
	Rules   map[string]BucketRule `mapstructure:"rules"`
}

// TimeSyncConfig 控制与交易所的时间同步节奏。
type TimeSyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// OrchestratorConfig 控制执行器编排行为。
type OrchestratorConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	ReapInterval  time.Duration `mapstructure:"reap_interval"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Market == "" {
		err = multierr.Append(err, errors.New("exchange.market 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.RateLimit.Default.Capacity <= 0 {
		err = multierr.Append(err, errors.New("ratelimit.default.capacity 必须大于0"))
	}
	if c.RateLimit.Default.RefillRate <= 0 {
		err = multierr.Append(err, errors.New("ratelimit.default.refill_rate 必须大于0"))
	}
	for endpoint, rule := range c.RateLimit.Rules {
		if rule.Capacity <= 0 || rule.RefillRate <= 0 {
			err = multierr.Append(err, fmt.Errorf("ratelimit.rules.%s 参数必须为正", endpoint))
		}
	}
	if c.TimeSync.Interval <= 0 {
		err = multierr.Append(err, errors.New("timesync.interval 必须为正"))
	}
	if c.Orchestrator.MaxConcurrent <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.max_concurrent 必须大于0"))
	}
	if c.Orchestrator.ReapInterval <= 0 || c.Orchestrator.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("orchestrator 轮询间隔必须为正"))
	}
	if c.Orchestrator.ShutdownGrace <= 0 {
		err = multierr.Append(err, errors.New("orchestrator.shutdown_grace 必须为正"))
	}
	if !c.Database.InMemory && c.Database.Path == "" {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}

	return err
}
