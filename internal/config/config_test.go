package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader().Load("")
	require.NoError(t, err)

	assert.Equal(t, 200_000, cfg.Fetch.MaxDownloadBytes)
	assert.Equal(t, 3800, cfg.Fetch.MaxInlineChars)
	assert.Equal(t, 25*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 10240, cfg.Fetch.ChunkSize)
	assert.Equal(t, 10, cfg.Fetch.MaxRedirects)
	assert.True(t, cfg.Fetch.PinAddresses)
	assert.False(t, cfg.Fetch.BrowserTLS)
	assert.Empty(t, cfg.Resolver.Servers)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIBaseURL)
	assert.Equal(t, 4, cfg.Telegram.MaxConcurrency)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gethtml.yaml")
	body := `
fetch:
  max_download_bytes: 5000
  timeout: 3s
  pin_addresses: false
resolver:
  servers: ["1.1.1.1", "9.9.9.9:5353"]
telegram:
  allowed_chat_ids: [42, -100123]
log:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Fetch.MaxDownloadBytes)
	assert.Equal(t, 3*time.Second, cfg.Fetch.Timeout)
	assert.False(t, cfg.Fetch.PinAddresses)
	assert.Equal(t, 3800, cfg.Fetch.MaxInlineChars, "unset keys keep defaults")
	assert.Equal(t, []string{"1.1.1.1", "9.9.9.9:5353"}, cfg.Resolver.Servers)
	assert.Equal(t, []int64{42, -100123}, cfg.Telegram.AllowedChatIDs)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gethtml.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  max_inline_chars: 100\n"), 0o600))

	t.Setenv("GETHTML_FETCH_MAX_INLINE_CHARS", "250")
	t.Setenv("GETHTML_TELEGRAM_TOKEN", "987:abc")
	t.Setenv("GETHTML_RESOLVER_SERVERS", "1.1.1.1, 8.8.8.8")

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Fetch.MaxInlineChars)
	assert.Equal(t, "987:abc", cfg.Telegram.Token)
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8"}, cfg.Resolver.Servers)
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("GETHTML_SERVER_ADDR", ":9000")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	require.NoError(t, flags.Parse([]string{"--addr", "127.0.0.1:7000"}))

	loader := NewLoader()
	require.NoError(t, loader.BindFlag("server.addr", flags.Lookup("addr")))

	cfg, err := loader.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
}

func TestBindFlagNil(t *testing.T) {
	err := NewLoader().BindFlag("server.addr", nil)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero max bytes", mutate: func(c *Config) { c.Fetch.MaxDownloadBytes = 0 }, wantErr: "fetch.max_download_bytes"},
		{name: "zero inline chars", mutate: func(c *Config) { c.Fetch.MaxInlineChars = 0 }, wantErr: "fetch.max_inline_chars"},
		{name: "negative timeout", mutate: func(c *Config) { c.Fetch.Timeout = -time.Second }, wantErr: "fetch.timeout"},
		{name: "zero chunk", mutate: func(c *Config) { c.Fetch.ChunkSize = 0 }, wantErr: "fetch.chunk_size"},
		{name: "negative redirects", mutate: func(c *Config) { c.Fetch.MaxRedirects = -1 }, wantErr: "fetch.max_redirects"},
		{name: "zero redirects", mutate: func(c *Config) { c.Fetch.MaxRedirects = 0 }, wantErr: "fetch.max_redirects must be positive"},
		{name: "zero resolver timeout", mutate: func(c *Config) { c.Resolver.Timeout = 0 }, wantErr: "resolver.timeout"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Telegram.MaxConcurrency = 0 }, wantErr: "telegram.max_concurrency"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		token   string
		wantErr bool
	}{
		{token: "", wantErr: true},
		{token: "   ", wantErr: true},
		{token: "ISI TOKEN BOT", wantErr: true},
		{token: "123456:ABC-DEF", wantErr: true},
		{token: "YOUR_BOT_TOKEN", wantErr: true},
		{token: "nocolon", wantErr: true},
		{token: "7012345678:AAHk3xYz-real-looking", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			err := Telegram{Token: tt.token}.ValidateToken()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
