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

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// relay
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	Secret         string        `mapstructure:"secret"`
	JoinRateLimit  int           `mapstructure:"join_rate_limit"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window"`

	// participant
	RelayURL         string        `mapstructure:"relay_url"`
	Stage            string        `mapstructure:"stage"`
	DisplayName      string        `mapstructure:"display_name"`
	Role             string        `mapstructure:"role"`
	JoinCall         bool          `mapstructure:"join_call"`
	Topology         string        `mapstructure:"topology"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	Trickle          bool          `mapstructure:"trickle"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	Capture          string        `mapstructure:"capture"`
	RenderDir        string        `mapstructure:"render_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("secret", "stage-dev-secret")
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "10s")

	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("stage", "main")
	v.SetDefault("display_name", "guest")
	v.SetDefault("role", "audience")
	v.SetDefault("join_call", false)
	v.SetDefault("topology", "hub")
	v.SetDefault("handshake_timeout", "0s")
	v.SetDefault("trickle", true)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("capture", "both")
	v.SetDefault("render_dir", "")
}

// Flags declares every key on fs. Only flags the user actually set
// override the file and the environment.
func Flags(fs *pflag.FlagSet) {
	fs.String("log_level", "info", "zerolog level")

	fs.String("mode", "release", "gin mode: release or debug")
	fs.Int("port", 8080, "relay listen port")
	fs.Int64("read_limit", 65536, "max inbound websocket message size")
	fs.Duration("ping_period", 30*time.Second, "keepalive period")
	fs.String("secret", "", "session cookie secret")
	fs.Int("join_rate_limit", 5, "join-call requests allowed per window")
	fs.Duration("join_rate_window", 10*time.Second, "join-call rate window")

	fs.String("relay_url", "ws://localhost:8080/api/ws/signal", "relay websocket url")
	fs.String("stage", "main", "stage to enter")
	fs.String("display_name", "guest", "name shown to others")
	fs.String("role", "audience", "host or audience")
	fs.Bool("join_call", false, "request to join the call after entering")
	fs.String("topology", "hub", "hub or mesh")
	fs.Duration("handshake_timeout", 0, "close links that do not connect in time, 0 disables")
	fs.Bool("trickle", true, "send ICE candidates as they are gathered")
	fs.StringSlice("ice_servers", nil, "STUN/TURN urls")
	fs.String("capture", "both", "devices to open: both, audio or video")
	fs.String("render_dir", "", "write remote tracks into this directory")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then STAGE_* variables, then fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
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

	setDefaults(v)

	v.SetEnvPrefix("STAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
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
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("relay", cfg.RelayURL).Msg("config ready")
	return &cfg, nil
}
