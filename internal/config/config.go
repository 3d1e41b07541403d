// Package config loads tasknet configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TASKNET_LOG_LEVEL.
const EnvPrefix = "TASKNET"

// Config is the root configuration shared by the coordinator and worker
// binaries. Each binary reads the sections it needs.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Worker      WorkerConfig      `mapstructure:"worker" yaml:"worker"`
	Executor    ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs  []string       `mapstructure:"outputs" yaml:"outputs"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	// Development enables caller-friendly console output and DPanic panics.
	Development bool `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// CoordinatorConfig configures the coordinator process.
type CoordinatorConfig struct {
	// ListenAddr is the TCP coordination endpoint.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// DiscoveryAddr is the UDP address probes arrive on.
	DiscoveryAddr string `mapstructure:"discovery_addr" yaml:"discovery_addr"`
	// AdvertiseIP overrides the address put in announcements.
	AdvertiseIP string `mapstructure:"advertise_ip" yaml:"advertise_ip"`
	// AdvertisePort is the coordination port put in announcements.
	AdvertisePort int `mapstructure:"advertise_port" yaml:"advertise_port"`

	TasksDir      string `mapstructure:"tasks_dir" yaml:"tasks_dir"`
	ProcessingDir string `mapstructure:"processing_dir" yaml:"processing_dir"`
	ResultsDir    string `mapstructure:"results_dir" yaml:"results_dir"`

	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
	// RequestReadTimeout bounds the wait for a request on an accepted
	// connection; zero disables it.
	RequestReadTimeout time.Duration `mapstructure:"request_read_timeout" yaml:"request_read_timeout"`

	LivenessInterval time.Duration `mapstructure:"liveness_interval" yaml:"liveness_interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	WatchTasks       bool          `mapstructure:"watch_tasks" yaml:"watch_tasks"`
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	// PeerID is generated at startup when empty.
	PeerID  string `mapstructure:"peer_id" yaml:"peer_id"`
	P2PPort int    `mapstructure:"p2p_port" yaml:"p2p_port"`
	// CoordinatorAddr skips discovery when set.
	CoordinatorAddr   string        `mapstructure:"coordinator_addr" yaml:"coordinator_addr"`
	DiscoveryAddr     string        `mapstructure:"discovery_addr" yaml:"discovery_addr"`
	DiscoveryTimeout  time.Duration `mapstructure:"discovery_timeout" yaml:"discovery_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	IdleBackoff       time.Duration `mapstructure:"idle_backoff" yaml:"idle_backoff"`
	// RequestTimeout bounds each exchange; zero means no deadline.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ExecutorConfig configures how tasks are run.
type ExecutorConfig struct {
	WorkDir    string   `mapstructure:"work_dir" yaml:"work_dir"`
	Command    []string `mapstructure:"command" yaml:"command"`
	EntryPoint string   `mapstructure:"entrypoint" yaml:"entrypoint"`
}

// Default returns a Config populated with the stock values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/tasknet.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Coordinator: CoordinatorConfig{
			ListenAddr:         ":50000",
			DiscoveryAddr:      ":50001",
			AdvertisePort:      50000,
			TasksDir:           "tasks",
			ProcessingDir:      "processing",
			ResultsDir:         "results",
			MaxSessions:        64,
			RequestReadTimeout: 10 * time.Second,
			LivenessInterval:   30 * time.Second,
			StaleAfter:         90 * time.Second,
			WatchTasks:         true,
		},
		Worker: WorkerConfig{
			DiscoveryAddr:     "255.255.255.255:50001",
			DiscoveryTimeout:  5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			IdleBackoff:       15 * time.Second,
		},
		Executor: ExecutorConfig{
			WorkDir:    "work",
			Command:    []string{"python3"},
			EntryPoint: "main.py",
		},
	}
}

// Load reads configuration from path when non-empty, otherwise from
// TASKNET_CONFIG, otherwise from tasknet.yaml in the working directory,
// ./configs or ~/.tasknet. A missing file is not an error. Environment
// variables override file values, with `.` and `-` replaced by `_`.
// Example: TASKNET_COORDINATOR_TASKS_DIR=/srv/tasks
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tasknet")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tasknet"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configs bind every key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("coordinator.listen_addr", cfg.Coordinator.ListenAddr)
	v.SetDefault("coordinator.discovery_addr", cfg.Coordinator.DiscoveryAddr)
	v.SetDefault("coordinator.advertise_ip", cfg.Coordinator.AdvertiseIP)
	v.SetDefault("coordinator.advertise_port", cfg.Coordinator.AdvertisePort)
	v.SetDefault("coordinator.tasks_dir", cfg.Coordinator.TasksDir)
	v.SetDefault("coordinator.processing_dir", cfg.Coordinator.ProcessingDir)
	v.SetDefault("coordinator.results_dir", cfg.Coordinator.ResultsDir)
	v.SetDefault("coordinator.max_sessions", cfg.Coordinator.MaxSessions)
	v.SetDefault("coordinator.request_read_timeout", cfg.Coordinator.RequestReadTimeout)
	v.SetDefault("coordinator.liveness_interval", cfg.Coordinator.LivenessInterval)
	v.SetDefault("coordinator.stale_after", cfg.Coordinator.StaleAfter)
	v.SetDefault("coordinator.watch_tasks", cfg.Coordinator.WatchTasks)

	v.SetDefault("worker.peer_id", cfg.Worker.PeerID)
	v.SetDefault("worker.p2p_port", cfg.Worker.P2PPort)
	v.SetDefault("worker.coordinator_addr", cfg.Worker.CoordinatorAddr)
	v.SetDefault("worker.discovery_addr", cfg.Worker.DiscoveryAddr)
	v.SetDefault("worker.discovery_timeout", cfg.Worker.DiscoveryTimeout)
	v.SetDefault("worker.heartbeat_interval", cfg.Worker.HeartbeatInterval)
	v.SetDefault("worker.idle_backoff", cfg.Worker.IdleBackoff)
	v.SetDefault("worker.request_timeout", cfg.Worker.RequestTimeout)

	v.SetDefault("executor.work_dir", cfg.Executor.WorkDir)
	v.SetDefault("executor.command", cfg.Executor.Command)
	v.SetDefault("executor.entrypoint", cfg.Executor.EntryPoint)
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if c.Coordinator.AdvertisePort <= 0 || c.Coordinator.AdvertisePort > 65535 {
		return fmt.Errorf("invalid coordinator.advertise_port: %d", c.Coordinator.AdvertisePort)
	}
	if c.Coordinator.AdvertiseIP != "" && net.ParseIP(c.Coordinator.AdvertiseIP) == nil {
		return fmt.Errorf("invalid coordinator.advertise_ip: %q", c.Coordinator.AdvertiseIP)
	}
	if c.Coordinator.RequestReadTimeout < 0 {
		return fmt.Errorf("invalid coordinator.request_read_timeout: %s", c.Coordinator.RequestReadTimeout)
	}
	if c.Coordinator.MaxSessions < 0 {
		return fmt.Errorf("invalid coordinator.max_sessions: %d", c.Coordinator.MaxSessions)
	}
	if c.Coordinator.LivenessInterval <= 0 || c.Coordinator.StaleAfter <= 0 {
		return errors.New("coordinator.liveness_interval and coordinator.stale_after must be positive")
	}
	if c.Worker.HeartbeatInterval <= 0 || c.Worker.IdleBackoff <= 0 {
		return errors.New("worker.heartbeat_interval and worker.idle_backoff must be positive")
	}
	if c.Worker.P2PPort < 0 || c.Worker.P2PPort > 65535 {
		return fmt.Errorf("invalid worker.p2p_port: %d", c.Worker.P2PPort)
	}
	if c.Worker.RequestTimeout < 0 {
		return fmt.Errorf("invalid worker.request_timeout: %s", c.Worker.RequestTimeout)
	}
	if len(c.Executor.Command) == 0 {
		return errors.New("executor.command must not be empty")
	}
	return nil
}
