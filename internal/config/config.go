// ============================================================================
// Beaver-Balancer Config - 配置載入
// ============================================================================
//
// Package: internal/config
// 文件: config.go
// 功能: 從 YAML 檔案載入配置，再以環境變數覆寫，最後驗證
//
// 載入順序（後者覆寫前者）:
//   1. Default() 內建預設值
//   2. YAML 檔案（configs/default.yaml）
//   3. 環境變數，前綴 BALANCER_，例如：
//        BALANCER_COORDINATOR_TOTAL_UNITS=100000
//        BALANCER_WORKER_COORDINATOR_ADDR=10.0.0.5:8000
//        BALANCER_METRICS_ENABLED=true
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-balancer/internal/controller"
	"github.com/ChuLiYu/beaver-balancer/internal/worker"
)

var log = slog.Default()

// EnvPrefix 環境變數前綴
const EnvPrefix = "BALANCER_"

// ErrInvalidConfig 配置驗證失敗
var ErrInvalidConfig = errors.New("invalid config")

// Config 完整系統配置
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator" envPrefix:"COORDINATOR_"`
	Worker      WorkerConfig      `yaml:"worker" envPrefix:"WORKER_"`
	Metrics     MetricsConfig     `yaml:"metrics" envPrefix:"METRICS_"`
	LogLevel    string            `yaml:"log_level" env:"LOG_LEVEL"`
}

// CoordinatorConfig coordinator 配置
type CoordinatorConfig struct {
	TotalUnits      int64         `yaml:"total_units" env:"TOTAL_UNITS"`
	ChunkSize       int64         `yaml:"chunk_size" env:"CHUNK_SIZE"`
	PingTimeout     time.Duration `yaml:"ping_timeout" env:"PING_TIMEOUT"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	StatusFile      string        `yaml:"status_file" env:"STATUS_FILE"`
	StatusInterval  time.Duration `yaml:"status_interval" env:"STATUS_INTERVAL"`
	ExitWhenDone    bool          `yaml:"exit_when_done" env:"EXIT_WHEN_DONE"`
}

// WorkerConfig worker 配置
type WorkerConfig struct {
	CoordinatorAddr string        `yaml:"coordinator_addr" env:"COORDINATOR_ADDR"`
	Concurrency     int           `yaml:"concurrency" env:"CONCURRENCY"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	RPCTimeout      time.Duration `yaml:"rpc_timeout" env:"RPC_TIMEOUT"`
	Command         []string      `yaml:"command" env:"COMMAND" envSeparator:" "`
	GracePeriod     time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`

	// 未設定 Command 時使用模擬工作
	SimMinDelay    time.Duration `yaml:"sim_min_delay" env:"SIM_MIN_DELAY"`
	SimMaxDelay    time.Duration `yaml:"sim_max_delay" env:"SIM_MAX_DELAY"`
	SimFailureRate float64       `yaml:"sim_failure_rate" env:"SIM_FAILURE_RATE"`
}

// MetricsConfig Prometheus 配置
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	Port    int  `yaml:"port" env:"PORT"`
}

// Default 內建預設值
func Default() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			TotalUnits:      3292673,
			ChunkSize:       1000,
			PingTimeout:     5 * time.Second,
			CleanupInterval: 5 * time.Second,
			ListenAddr:      ":8000",
			StatusInterval:  10 * time.Second,
		},
		Worker: WorkerConfig{
			CoordinatorAddr: "localhost:8000",
			Concurrency:     1,
			PingInterval:    time.Second,
			PollInterval:    time.Second,
			RPCTimeout:      worker.DefaultRPCTimeout,
			GracePeriod:     worker.DefaultGracePeriod,
			SimMinDelay:     100 * time.Millisecond,
			SimMaxDelay:     500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		LogLevel: "info",
	}
}

// Load 載入配置
//
// 參數：
//   - path: YAML 檔案路徑，空字串表示只用預設值與環境變數
//
// 返回值：
//   - *Config: 已驗證的配置
//   - error: 讀檔、解析或驗證錯誤
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 檢查配置，所有問題一次回報
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	co := c.Coordinator
	if co.TotalUnits < 1 {
		add("coordinator.total_units must be at least 1, got %d", co.TotalUnits)
	}
	if co.ChunkSize < 1 {
		add("coordinator.chunk_size must be at least 1, got %d", co.ChunkSize)
	}
	if co.PingTimeout <= 0 {
		add("coordinator.ping_timeout must be positive, got %s", co.PingTimeout)
	}
	if co.CleanupInterval <= 0 {
		add("coordinator.cleanup_interval must be positive, got %s", co.CleanupInterval)
	}
	if co.StatusFile != "" && co.StatusInterval <= 0 {
		add("coordinator.status_interval must be positive, got %s", co.StatusInterval)
	}

	w := c.Worker
	if w.Concurrency < 1 {
		add("worker.concurrency must be at least 1, got %d", w.Concurrency)
	}
	if w.PingInterval <= 0 {
		add("worker.ping_interval must be positive, got %s", w.PingInterval)
	}
	if w.PollInterval <= 0 {
		add("worker.poll_interval must be positive, got %s", w.PollInterval)
	}
	if w.SimFailureRate < 0 || w.SimFailureRate > 1 {
		add("worker.sim_failure_rate must be within [0, 1], got %v", w.SimFailureRate)
	}
	if w.SimMaxDelay < w.SimMinDelay {
		add("worker.sim_max_delay %s is below sim_min_delay %s", w.SimMaxDelay, w.SimMinDelay)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		add("metrics.port out of range: %d", c.Metrics.Port)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// 心跳週期不小於逾時門檻時，健康的 worker 也可能被回收
	if w.PingInterval >= co.PingTimeout {
		log.Warn("worker.ping_interval is not shorter than coordinator.ping_timeout",
			"ping_interval", w.PingInterval,
			"ping_timeout", co.PingTimeout)
	}
	return nil
}

// ParseLevel 解析日誌等級（debug / info / warn / error）
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

// ControllerConfig 轉換為 controller.Config
func (c CoordinatorConfig) ControllerConfig() controller.Config {
	return controller.Config{
		TotalUnits:      c.TotalUnits,
		ChunkSize:       c.ChunkSize,
		PingTimeout:     c.PingTimeout,
		CleanupInterval: c.CleanupInterval,
		StatusPath:      c.StatusFile,
		StatusInterval:  c.StatusInterval,
	}
}

// ClientConfig 轉換為 worker.ClientConfig
func (w WorkerConfig) ClientConfig(workerID string) worker.ClientConfig {
	return worker.ClientConfig{
		WorkerID:     workerID,
		PollInterval: w.PollInterval,
		PingInterval: w.PingInterval,
		RPCTimeout:   w.RPCTimeout,
	}
}

// WorkFunc 依配置選擇子行程或模擬工作
func (w WorkerConfig) WorkFunc() (worker.WorkFunc, error) {
	if len(w.Command) == 0 {
		return worker.SimulatedWork(worker.Simulation{
			MinDelay:    w.SimMinDelay,
			MaxDelay:    w.SimMaxDelay,
			FailureRate: w.SimFailureRate,
		}), nil
	}
	return worker.CommandWork(worker.Command{
		Args:        w.Command,
		GracePeriod: w.GracePeriod,
	})
}
