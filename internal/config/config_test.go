package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postbridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
role = "client"
sender = " client-1 "
target_origin = "ws://127.0.0.1:9000"
allowed_origins = ["ws://127.0.0.1:9000", "  ", "https://cdn.example"]
request_timeout = "3s"
ws_url = "ws://127.0.0.1:9000/ws"
direct = true
lossy = true
stun_servers = []
stats_interval = "250ms"
debug = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RoleClient, cfg.Role)
	assert.Equal(t, "client-1", cfg.Sender)
	assert.Equal(t, "ws://127.0.0.1:9000", cfg.TargetOrigin)
	assert.Equal(t, []string{"ws://127.0.0.1:9000", "https://cdn.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "ws://127.0.0.1:9000/ws", cfg.WSURL)
	assert.True(t, cfg.Direct)
	assert.True(t, cfg.Lossy)
	assert.NotNil(t, cfg.STUNServers)
	assert.Empty(t, cfg.STUNServers)
	assert.Equal(t, 250*time.Millisecond, cfg.StatsInterval)
	assert.True(t, cfg.Debug)
	assert.Equal(t, ":0", cfg.Listen, "unset keys keep their default")
	require.NoError(t, cfg.Validate())
}

func TestLoadKeepsDefaultsForEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"bad duration", `request_timeout = "soon"`},
		{"bad stats interval", `stats_interval = "5 parsecs"`},
		{"unknown key", `colour = "blue"`},
		{"syntax", `role = `},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	host := Default()
	host.Role = RoleHost
	assert.NoError(t, host.Validate())

	client := Default()
	client.Role = RoleClient
	assert.Error(t, client.Validate(), "client without URL")
	client.WSURL = "::bad"
	assert.Error(t, client.Validate())
	client.WSURL = "example.com"
	assert.Error(t, client.Validate(), "bare host has no scheme so no host part")
	client.WSURL = "wss://example.com"
	assert.NoError(t, client.Validate())

	none := Default()
	assert.Error(t, none.Validate())

	blank := host
	blank.Sender = "  "
	assert.Error(t, blank.Validate())

	negative := host
	negative.RequestTimeout = -time.Second
	assert.Error(t, negative.Validate())
}

func TestTrustsOrigin(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.TrustsOrigin("https://anything"))

	cfg.AllowedOrigins = []string{"https://a"}
	assert.True(t, cfg.TrustsOrigin("https://a"))
	assert.False(t, cfg.TrustsOrigin("https://b"))

	cfg.AllowedOrigins = []string{"*"}
	assert.True(t, cfg.TrustsOrigin("https://b"))
}

func TestNormalizeWSURL(t *testing.T) {
	testCases := []struct {
		raw  string
		want string
	}{
		{"wss://abc.devtunnels.ms", "wss://abc.devtunnels.ms/ws"},
		{"ws://127.0.0.1:8080/anything", "ws://127.0.0.1:8080/ws"},
		{"https://abc.devtunnels.ms/ws", "wss://abc.devtunnels.ms/ws"},
		{"  ws://h:1/ws?pin=123456 ", "ws://h:1/ws?pin=123456"},
	}
	for _, tc := range testCases {
		got, err := NormalizeWSURL(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}

	_, err := NormalizeWSURL("not a url")
	assert.Error(t, err)
}

func TestWithPIN(t *testing.T) {
	assert.Equal(t, "ws://h:1/ws?pin=42", WithPIN("ws://h:1/ws", "42"))
	assert.Equal(t, "ws://h:1/ws?pin=42", WithPIN("ws://h:1/ws?pin=1", "42"))
	assert.Equal(t, "ws://h:1/ws", WithPIN("ws://h:1/ws", ""))
}
