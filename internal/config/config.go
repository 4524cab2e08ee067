package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultServerBaseURL      = "http://localhost:8001"
	defaultServerTimeout      = "30s"
	defaultTrashGrace         = "10s"
	defaultTrashTick          = "1s"
	defaultTUITheme           = "dark"
	defaultLogLevel           = "info"
	defaultConfigRelativePath = ".config/council/config.toml"
	defaultStateRelativePath  = ".local/state/council"
	envServerBaseURL          = "COUNCIL_SERVER_URL"
	envAccessKey              = "COUNCIL_ACCESS_KEY"
	envServerTimeout          = "COUNCIL_SERVER_TIMEOUT"
	envTrashGrace             = "COUNCIL_TRASH_GRACE"
	envTUITheme               = "COUNCIL_TUI_THEME"
	envLogFile                = "COUNCIL_LOG_FILE"
	envLogLevel               = "COUNCIL_LOG_LEVEL"
	envEventLogDir            = "COUNCIL_EVENT_LOG_DIR"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the application configuration root.
type Config struct {
	Server ServerConfig `toml:"server"`
	Trash  TrashConfig  `toml:"trash"`
	TUI    TUIConfig    `toml:"tui"`
	Log    LogConfig    `toml:"log"`
	Events EventsConfig `toml:"events"`
}

// ServerConfig configures the council server connection.
type ServerConfig struct {
	BaseURL   string `toml:"base_url"`
	AccessKey string `toml:"access_key"`
	Timeout   string `toml:"timeout"`
}

// TrashConfig configures the reversible delete window as
// config-friendly duration strings.
type TrashConfig struct {
	Grace string `toml:"grace"`
	Tick  string `toml:"tick"`
}

// TUIConfig configures terminal UI defaults.
type TUIConfig struct {
	Theme string `toml:"theme"`
}

// LogConfig configures diagnostics logging. The TUI owns stdout, so
// logs always go to a file.
type LogConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// EventsConfig configures the stream event log.
type EventsConfig struct {
	Dir string `toml:"dir"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// Settings is a validated runtime settings snapshot.
type Settings struct {
	ServerBaseURL string
	AccessKey     string
	ServerTimeout time.Duration
	TrashGrace    time.Duration
	TrashTick     time.Duration
	Theme         string
	LogFile       string
	LogLevel      string
	EventLogDir   string
}

// Default returns application defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: defaultServerBaseURL,
			Timeout: defaultServerTimeout,
		},
		Trash: TrashConfig{
			Grace: defaultTrashGrace,
			Tick:  defaultTrashTick,
		},
		TUI: TUIConfig{
			Theme: defaultTUITheme,
		},
		Log: LogConfig{
			File:  filepath.Join(defaultStateDir(), "council.log"),
			Level: defaultLogLevel,
		},
		Events: EventsConfig{
			Dir: filepath.Join(defaultStateDir(), "events"),
		},
	}
}

// Load reads the config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultConfigPath()
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Settings returns validated settings suitable for runtime wiring.
func (c Config) Settings() (Settings, error) {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return Settings{}, fmt.Errorf("%w: server.base_url is required", ErrInvalidConfig)
	}

	timeout, err := parsePositiveDuration("server.timeout", c.Server.Timeout)
	if err != nil {
		return Settings{}, err
	}
	grace, err := parsePositiveDuration("trash.grace", c.Trash.Grace)
	if err != nil {
		return Settings{}, err
	}
	tick, err := parsePositiveDuration("trash.tick", c.Trash.Tick)
	if err != nil {
		return Settings{}, err
	}
	if tick > grace {
		return Settings{}, fmt.Errorf("%w: trash.tick must not exceed trash.grace", ErrInvalidConfig)
	}

	return Settings{
		ServerBaseURL: strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/"),
		AccessKey:     strings.TrimSpace(c.Server.AccessKey),
		ServerTimeout: timeout,
		TrashGrace:    grace,
		TrashTick:     tick,
		Theme:         strings.TrimSpace(c.TUI.Theme),
		LogFile:       strings.TrimSpace(c.Log.File),
		LogLevel:      strings.TrimSpace(c.Log.Level),
		EventLogDir:   strings.TrimSpace(c.Events.Dir),
	}, nil
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, field)
	}
	return parsed, nil
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if value, ok := os.LookupEnv(envServerBaseURL); ok && strings.TrimSpace(value) != "" {
		cfg.Server.BaseURL = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envAccessKey); ok {
		cfg.Server.AccessKey = value
	}
	if value, ok := os.LookupEnv(envServerTimeout); ok && strings.TrimSpace(value) != "" {
		cfg.Server.Timeout = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envTrashGrace); ok && strings.TrimSpace(value) != "" {
		cfg.Trash.Grace = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envTUITheme); ok && strings.TrimSpace(value) != "" {
		cfg.TUI.Theme = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envLogFile); ok && strings.TrimSpace(value) != "" {
		cfg.Log.File = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envLogLevel); ok && strings.TrimSpace(value) != "" {
		cfg.Log.Level = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envEventLogDir); ok && strings.TrimSpace(value) != "" {
		cfg.Events.Dir = strings.TrimSpace(value)
	}
}

func validate(cfg Config) error {
	_, err := cfg.Settings()
	return err
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, defaultStateRelativePath)
}
