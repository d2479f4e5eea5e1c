// Package config loads gethtml settings from defaults, an optional YAML file,
// GETHTML_* environment variables and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key; "fetch.timeout" becomes GETHTML_FETCH_TIMEOUT.
const EnvPrefix = "GETHTML"

// Fetch bounds a single download.
type Fetch struct {
	MaxDownloadBytes int           `mapstructure:"max_download_bytes" yaml:"max_download_bytes"`
	MaxInlineChars   int           `mapstructure:"max_inline_chars" yaml:"max_inline_chars"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ChunkSize        int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxRedirects     int           `mapstructure:"max_redirects" yaml:"max_redirects"`
	PinAddresses     bool          `mapstructure:"pin_addresses" yaml:"pin_addresses"`
	BrowserTLS       bool          `mapstructure:"browser_tls" yaml:"browser_tls"`
}

// Resolver selects how hostnames are resolved. No servers means the system resolver.
type Resolver struct {
	Servers []string      `mapstructure:"servers" yaml:"servers"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Telegram struct {
	Token          string        `mapstructure:"token" yaml:"token"`
	APIBaseURL     string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	AllowedChatIDs []int64       `mapstructure:"allowed_chat_ids" yaml:"allowed_chat_ids"`
}

type Server struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// Log configures zerolog. An empty File logs to stderr only.
type Log struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type Config struct {
	Fetch    Fetch    `mapstructure:"fetch" yaml:"fetch"`
	Resolver Resolver `mapstructure:"resolver" yaml:"resolver"`
	Telegram Telegram `mapstructure:"telegram" yaml:"telegram"`
	Server   Server   `mapstructure:"server" yaml:"server"`
	Log      Log      `mapstructure:"log" yaml:"log"`
}

var defaults = map[string]any{
	"fetch.max_download_bytes": 200_000,
	"fetch.max_inline_chars":   3800,
	"fetch.timeout":            25 * time.Second,
	"fetch.chunk_size":         10 * 1024,
	"fetch.user_agent":         "gethtml/1.0 (+https://github.com/qbandev/gethtml)",
	"fetch.max_redirects":      10,
	"fetch.pin_addresses":      true,
	"fetch.browser_tls":        false,

	"resolver.servers": []string{},
	"resolver.timeout": 5 * time.Second,

	"telegram.token":            "",
	"telegram.api_base_url":     "https://api.telegram.org",
	"telegram.poll_timeout":     30 * time.Second,
	"telegram.max_concurrency":  4,
	"telegram.allowed_chat_ids": []int64{},

	"server.addr":          ":8080",
	"server.read_timeout":  10 * time.Second,
	"server.write_timeout": 40 * time.Second,

	"log.level":        "info",
	"log.format":       "console",
	"log.file":         "",
	"log.max_size_mb":  50,
	"log.max_backups":  3,
	"log.max_age_days": 28,
}

// Loader accumulates flag bindings before Load.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag lets flag override key when the user sets it explicitly.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("binding %s: nil flag", key)
	}
	if err := l.v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("binding %s: %w", key, err)
	}
	return nil
}

// Load reads path (if non-empty) and returns the merged, validated configuration.
func (l *Loader) Load(path string) (Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Resolver.Servers = splitList(cfg.Resolver.Servers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	cfg, err := NewLoader().Load("")
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Validate checks ranges that would make the fetcher misbehave.
func (c Config) Validate() error {
	var errs []error
	if c.Fetch.MaxDownloadBytes <= 0 {
		errs = append(errs, errors.New("fetch.max_download_bytes must be positive"))
	}
	if c.Fetch.MaxInlineChars <= 0 {
		errs = append(errs, errors.New("fetch.max_inline_chars must be positive"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be positive"))
	}
	if c.Fetch.ChunkSize <= 0 {
		errs = append(errs, errors.New("fetch.chunk_size must be positive"))
	}
	if c.Fetch.MaxRedirects <= 0 {
		errs = append(errs, errors.New("fetch.max_redirects must be positive"))
	}
	if c.Resolver.Timeout <= 0 {
		errs = append(errs, errors.New("resolver.timeout must be positive"))
	}
	if c.Telegram.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("telegram.max_concurrency must be positive"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateToken rejects an empty bot token or one still holding a placeholder value.
func (t Telegram) ValidateToken() error {
	token := strings.TrimSpace(t.Token)
	switch {
	case token == "":
		return errors.New("telegram.token is required (set GETHTML_TELEGRAM_TOKEN)")
	case strings.HasPrefix(token, "123456"), strings.EqualFold(token, "ISI TOKEN BOT"), strings.Contains(strings.ToUpper(token), "YOUR_"):
		return errors.New("telegram.token still holds a placeholder; use the token from @BotFather")
	case !strings.Contains(token, ":"):
		return errors.New("telegram.token is malformed: expected <bot id>:<secret>")
	}
	return nil
}

// splitList accepts comma-separated entries from env vars as well as YAML lists.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
