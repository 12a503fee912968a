package config

import "time"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Redis     RedisConfig     `yaml:"redis"`
	Quota     QuotaConfig     `yaml:"quota"`
	Admission AdmissionConfig `yaml:"admission"`
	Stream    StreamConfig    `yaml:"stream"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type RedisConfig struct {
	// Addr empty means no Redis: quota enforcement is disabled.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QuotaConfig struct {
	DefaultLimit int           `yaml:"default_limit"`
	Window       time.Duration `yaml:"window"`
}

// AdmissionConfig configures the admission stages in their fixed order:
// rate limit, load shed, timeout, concurrency. A zero value disables the
// corresponding stage.
type AdmissionConfig struct {
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	MaxBacklog  int             `yaml:"max_backlog"`
	Timeout     time.Duration   `yaml:"timeout"`
	Concurrency int             `yaml:"concurrency"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type StreamConfig struct {
	KeepAlive time.Duration `yaml:"keep_alive"`
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			// No write timeout: event streams stay open as long as the
			// upstream keeps producing.
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.openai.com",
		},
		Redis: RedisConfig{
			DB:       0,
			PoolSize: 50,
		},
		Quota: QuotaConfig{
			DefaultLimit: 60,
			Window:       time.Minute,
		},
		Admission: AdmissionConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				Burst:             20,
			},
			MaxBacklog:  1024,
			Timeout:     30 * time.Second,
			Concurrency: 512,
		},
		Stream: StreamConfig{
			KeepAlive: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}
