package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type RateLimit struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type Identity struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type Mesh struct {
	RecoveryCooldown   time.Duration `mapstructure:"recovery_cooldown"`
	RecoveryInterval   time.Duration `mapstructure:"recovery_interval"`
	LatencyInterval    time.Duration `mapstructure:"latency_interval"`
	RenegotiateRetries int           `mapstructure:"renegotiate_retries"`
	RenegotiateBackoff time.Duration `mapstructure:"renegotiate_backoff"`
	MoveDelay          time.Duration `mapstructure:"move_delay"`
	VideoStaleAfter    time.Duration `mapstructure:"video_stale_after"`
}

type Speaking struct {
	Window    int     `mapstructure:"window"`
	Smoothing float64 `mapstructure:"smoothing"`
	Threshold float64 `mapstructure:"threshold"`
}

type Capture struct {
	AudioAddr   string        `mapstructure:"audio_addr"`
	CameraAddr  string        `mapstructure:"camera_addr"`
	ScreenAddr  string        `mapstructure:"screen_addr"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	LevelExtID  uint8         `mapstructure:"level_ext_id"`
	RecordDir   string        `mapstructure:"record_dir"`
}

type Config struct {
	// relay server
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	RateLimit  RateLimit     `mapstructure:"rate_limit"`

	// client
	RelayURL   string   `mapstructure:"relay_url"`
	Channel    string   `mapstructure:"channel"`
	Identity   Identity `mapstructure:"identity"`
	ICEServers []string `mapstructure:"ice_servers"`
	Mesh       Mesh     `mapstructure:"mesh"`
	Speaking   Speaking `mapstructure:"speaking"`
	Capture    Capture  `mapstructure:"capture"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("secret", "voicemesh-dev-secret")
	v.SetDefault("rate_limit.per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("relay_url", "ws://localhost:8080/api/ws")
	v.SetDefault("identity.name", "guest")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("mesh.recovery_cooldown", "8s")
	v.SetDefault("mesh.recovery_interval", "3s")
	v.SetDefault("mesh.latency_interval", "2s")
	v.SetDefault("mesh.renegotiate_retries", 5)
	v.SetDefault("mesh.renegotiate_backoff", "150ms")
	v.SetDefault("mesh.move_delay", "300ms")
	v.SetDefault("mesh.video_stale_after", "3s")

	v.SetDefault("speaking.window", 25)
	v.SetDefault("speaking.smoothing", 0.8)
	v.SetDefault("speaking.threshold", 0.015)

	v.SetDefault("capture.idle_timeout", "2s")
	v.SetDefault("capture.level_ext_id", 0)
}

// flagKeys maps short command line flag names to nested config keys.
var flagKeys = map[string]string{
	"id":     "identity.id",
	"name":   "identity.name",
	"relay":  "relay_url",
	"record": "capture.record_dir",
}

// Load reads config/config.<CONFIG_ENV>.yaml, VOICEMESH_* env vars and,
// when flags is non-nil, command line flags bound by their key name.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("voicemesh")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := f.Name
			if k, ok := flagKeys[f.Name]; ok {
				key = k
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("relay", cfg.RelayURL).Msg("config ready")
	return &cfg, nil
}
