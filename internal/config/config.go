// Package config loads the engine's configuration: CLI flags (the
// documented, stable interface), overlaid with config file and environment
// variable values, following the teacher's viper-based
// defaults-then-file-then-env layering.
package config

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all static configuration required by the engine.
type Config struct {
	DispatchBaseURL string `mapstructure:"dispatch_url"`
	CACertPath      string `mapstructure:"ca_cert"`
	APIKey          string `mapstructure:"api_key"`
	Hostname        string `mapstructure:"hostname"` // empty means "probe at startup"
	EngineID        string `mapstructure:"engine_id"`
	DBPath          string `mapstructure:"db_path"`

	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`

	StorageCapacityGB float64 `mapstructure:"storage_capacity_gb"`
	StreamingSupport  bool    `mapstructure:"streaming_support"`

	FFmpegPath string `mapstructure:"ffmpeg_path"`
	WorkDir    string `mapstructure:"work_dir"`

	ControlPlaneTimeout time.Duration `mapstructure:"control_plane_timeout"`
	TransferTimeout     time.Duration `mapstructure:"transfer_timeout"`
	TranscodeTimeout    time.Duration `mapstructure:"transcode_timeout"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BenchmarkInterval time.Duration `mapstructure:"benchmark_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// flagBinding maps a pflag name to the viper key it overrides, used only
// when the flag was explicitly set on the command line.
type flagBinding struct {
	flag string
	key  string
}

var cliFlags = []flagBinding{
	{"dispatch-url", "dispatch_url"},
	{"ca-cert", "ca_cert"},
	{"api-key", "api_key"},
	{"hostname", "hostname"},
	{"engine-id", "engine_id"},
	{"db-path", "db_path"},
	{"log-format", "log_format"},
}

// Load parses args (normally os.Args[1:]) as the CLI surface in §6, then
// layers a config file and environment variables underneath it. Unknown
// flags are ignored, never fatal — §6 requires the engine to keep starting
// even when handed flags it doesn't recognize.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("engine", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	fs.String("dispatch-url", "http://localhost:8080", "dispatcher base URL")
	fs.String("ca-cert", "server.crt", "CA bundle for TLS verification")
	fs.String("api-key", "", "shared secret sent as X-API-Key")
	fs.String("hostname", "", "override the reported hostname")
	fs.String("engine-id", "", "override the generated engine id")
	fs.String("db-path", "transcoding_jobs.db", "durable job ledger path")
	fs.String("log-format", "console", "log output format: console or json")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range cliFlags {
		if fs.Changed(b.flag) {
			val, err := fs.GetString(b.flag)
			if err != nil {
				return nil, err
			}
			v.Set(b.key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode into struct: %w", err)
	}

	if cfg.EngineID == "" {
		cfg.EngineID = generateEngineID()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dispatch_url", "http://localhost:8080")
	v.SetDefault("ca_cert", "server.crt")
	v.SetDefault("db_path", "transcoding_jobs.db")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage_capacity_gb", 500.0)
	v.SetDefault("streaming_support", true)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("work_dir", ".")
	v.SetDefault("control_plane_timeout", "10s")
	v.SetDefault("transfer_timeout", "30m")
	v.SetDefault("transcode_timeout", "2h")
	v.SetDefault("drain_timeout", "30s")
	v.SetDefault("heartbeat_interval", "5s")
	v.SetDefault("benchmark_interval", "5m")
	v.SetDefault("poll_interval", "1s")
}

// generateEngineID mints the default "engine-<4-digit>" identity.
func generateEngineID() string {
	return fmt.Sprintf("engine-%04d", rand.IntN(10000))
}
