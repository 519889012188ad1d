package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ClaimImplicit = "implicit"
	ClaimStrict   = "strict"

	ScopeGlobal = "global"
	ScopeRoom   = "room"

	SlowDrop = "drop"
	SlowKick = "kick"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	LogLevel   string `mapstructure:"log_level"`
	Instance   string `mapstructure:"instance"`
	Secret     string `mapstructure:"secret"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	SweepPeriod  time.Duration `mapstructure:"sweep_period"`
	StatusPeriod time.Duration `mapstructure:"status_period"`

	ClaimPolicy          string   `mapstructure:"claim_policy"`
	ControllerScope      string   `mapstructure:"controller_scope"`
	NotifyPeerLeft       bool     `mapstructure:"notify_peer_left"`
	NotifyControllerLeft bool     `mapstructure:"notify_controller_left"`
	SlowConsumer         string   `mapstructure:"slow_consumer"`
	ControlTypes         []string `mapstructure:"control_types"`

	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// Flags registers the command-line overrides understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.String("config-env", "", "config file suffix, config/config.<env>.yaml")
	fs.Int("port", 0, "listen port")
	fs.String("mode", "", "gin mode: debug or release")
	fs.String("static", "", "static files directory")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	return fs
}

var flagKeys = map[string]string{
	"port":      "port",
	"mode":      "mode",
	"static":    "static_path",
	"log-level": "log_level",
}

// Load reads .env, the yaml file for CONFIG_ENV, RELAY_* env vars and the
// flags in fs (may be nil), in increasing order of precedence.
func Load(fs *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if fs != nil {
		if f := fs.Lookup("config-env"); f != nil && f.Changed {
			env = f.Value.String()
		}
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Printf("Mode: %s | Port: %d | Static: %s | Claim: %s | Scope: %s\n",
		cfg.Mode, cfg.Port, cfg.StaticPath, cfg.ClaimPolicy, cfg.ControllerScope)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8081)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("instance", "")
	v.SetDefault("secret", "relay-dev-secret")

	v.SetDefault("read_limit", 8<<20)
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("sweep_period", "30s")
	v.SetDefault("status_period", "60s")

	v.SetDefault("claim_policy", ClaimImplicit)
	v.SetDefault("controller_scope", ScopeGlobal)
	v.SetDefault("notify_peer_left", false)
	v.SetDefault("notify_controller_left", true)
	v.SetDefault("slow_consumer", SlowDrop)
	v.SetDefault("control_types", []string{"gyroscope", "shake", "spin"})

	v.SetDefault("join_limit", 10)
	v.SetDefault("join_interval", "10s")

	v.SetDefault("metrics_enabled", true)
}

// Default returns the configuration used when no file, env or flag is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	var errs []error
	switch c.ClaimPolicy {
	case ClaimImplicit, ClaimStrict:
	default:
		errs = append(errs, fmt.Errorf("claim_policy %q: want %s or %s", c.ClaimPolicy, ClaimImplicit, ClaimStrict))
	}
	switch c.ControllerScope {
	case ScopeGlobal, ScopeRoom:
	default:
		errs = append(errs, fmt.Errorf("controller_scope %q: want %s or %s", c.ControllerScope, ScopeGlobal, ScopeRoom))
	}
	switch c.SlowConsumer {
	case SlowDrop, SlowKick:
	default:
		errs = append(errs, fmt.Errorf("slow_consumer %q: want %s or %s", c.SlowConsumer, SlowDrop, SlowKick))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.PingPeriod <= 0 || c.SweepPeriod <= 0 || c.StatusPeriod <= 0 {
		errs = append(errs, errors.New("ping_period, sweep_period and status_period must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.JoinLimit > 0 && c.JoinInterval <= 0 {
		errs = append(errs, errors.New("join_interval must be positive when join_limit is set"))
	}
	return errors.Join(errs...)
}
