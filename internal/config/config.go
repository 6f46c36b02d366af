package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Capture struct {
	VideoPath       string `mapstructure:"video_path"`
	AudioPath       string `mapstructure:"audio_path"`
	ScreenPath      string `mapstructure:"screen_path"`
	ScreenAudioPath string `mapstructure:"screen_audio_path"`
}

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	SignalURL string `mapstructure:"signal_url"`
	Room      string `mapstructure:"room"`
	// User is used verbatim when set; otherwise one is generated from Name.
	User       string   `mapstructure:"user"`
	Name       string   `mapstructure:"name"`
	ICEServers []string `mapstructure:"ice_servers"`

	ControlAddr string `mapstructure:"control_addr"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`

	Capture Capture `mapstructure:"capture"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults when the file is absent.
func Load() (*Config, error) {
	return load("", nil)
}

// LoadFile reads an explicit config file; a missing file is an error.
func LoadFile(path string) (*Config, error) {
	return load(path, nil)
}

// LoadArgs parses command-line overrides from args. --config selects an
// explicit file; every other flag overrides the key of the same name.
func LoadArgs(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	path, _ := fs.GetString("config")
	return load(path, fs)
}

// Flags declares the command-line overrides.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mesh", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	fs.String("room", "", "room code to join")
	fs.String("user", "", "user id; generated from --name when empty")
	fs.String("name", "", "display name")
	fs.String("signal_url", "", "relay websocket url")
	fs.String("control_addr", "", "control API listen address")
	fs.String("log_level", "", "trace|debug|info|warn|error")
	return fs
}

func load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := newViper()
	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Info().Str("module", "config").Str("file", path).Msg("config loaded")
		return decode(v)
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "ws://localhost:8080/ws")
	v.SetDefault("room", "")
	v.SetDefault("user", "")
	v.SetDefault("name", "guest")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("control_addr", "127.0.0.1:8090")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("capture.video_path", "")
	v.SetDefault("capture.audio_path", "")
	v.SetDefault("capture.screen_path", "")
	v.SetDefault("capture.screen_audio_path", "")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("signal_url", cfg.SignalURL).
		Str("room", cfg.Room).
		Str("control_addr", cfg.ControlAddr).
		Msg("config")
	return &cfg, nil
}

// Validate checks what is needed to join a room.
func (c *Config) Validate() error {
	var errs []error
	if c.SignalURL == "" {
		errs = append(errs, errors.New("signal_url is required"))
	} else if !strings.HasPrefix(c.SignalURL, "ws://") && !strings.HasPrefix(c.SignalURL, "wss://") {
		errs = append(errs, fmt.Errorf("signal_url %q must be ws:// or wss://", c.SignalURL))
	}
	if c.Room == "" {
		errs = append(errs, errors.New("room is required"))
	}
	if c.User == "" && strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("either user or name is required"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	return errors.Join(errs...)
}
