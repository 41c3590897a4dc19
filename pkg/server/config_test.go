package server

import (
	"net"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aeolun/linechat/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config file should have been written")

	// The documented file decodes to the same defaults
	var decoded TOMLConfig
	_, err = toml.DecodeFile(path, &decoded)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), decoded)

	// Second load reads the file it wrote
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
tcp_port = 5000
ssh_port = 0

[limits]
block_duration = "90s"
idle_timeout = "0s"

[credentials]
database = "/var/lib/linechat/users.db"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.TCPPort)
	assert.Equal(t, 0, cfg.Server.SSHPort)
	assert.Equal(t, 8080, cfg.Server.HTTPPort, "missing keys keep defaults")
	assert.Equal(t, 90*time.Second, cfg.Limits.BlockDuration.Duration)
	assert.Equal(t, time.Duration(0), cfg.Limits.IdleTimeout.Duration)
	assert.Equal(t, time.Hour, cfg.Limits.RecentWindow.Duration)

	dbPath, err := cfg.GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/linechat/users.db", dbPath)

	serverCfg := cfg.ToServerConfig()
	assert.Equal(t, 5000, serverCfg.TCPPort)
	assert.Equal(t, 0, serverCfg.SSHPort, "0 disables SSH")
	assert.Equal(t, 90*time.Second, serverCfg.BlockDuration)
	assert.Equal(t, time.Duration(0), serverCfg.IdleTimeout, "0 disables idle timeouts")
	assert.Equal(t, time.Hour, serverCfg.RecentWindow)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "[limits]\nblock_duration = \"soon\"\n"},
		{"bad syntax", "[server\ntcp_port = 1\n"},
		{"wrong type", "[server]\ntcp_port = \"four thousand\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LINECHAT_SERVER_TCP_PORT", "7000")
	t.Setenv("LINECHAT_SERVER_SSH_HOST_KEY", "/tmp/key")
	t.Setenv("LINECHAT_LIMITS_BLOCK_DURATION", "2m")
	t.Setenv("LINECHAT_LIMITS_MAX_AUTH_ATTEMPTS", "5")
	t.Setenv("LINECHAT_CREDENTIALS_FILE", "/etc/linechat/users.txt")
	t.Setenv("LINECHAT_LOGGING_VERBOSE", "true")
	// Unparseable values are ignored
	t.Setenv("LINECHAT_SERVER_SSH_PORT", "not-a-port")
	t.Setenv("LINECHAT_LIMITS_IDLE_TIMEOUT", "forever")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.TCPPort)
	assert.Equal(t, 4001, cfg.Server.SSHPort)
	assert.Equal(t, "/tmp/key", cfg.Server.SSHHostKey)
	assert.Equal(t, 2*time.Minute, cfg.Limits.BlockDuration.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Limits.IdleTimeout.Duration)
	assert.Equal(t, 5, cfg.Limits.MaxAuthAttempts)
	assert.Equal(t, "/etc/linechat/users.txt", cfg.Credentials.File)
	assert.True(t, cfg.Logging.Verbose)
}

func TestToServerConfigKeepsDefaultsForInvalidLimits(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.SSHHostKey = "  "
	cfg.Limits.BlockDuration = Duration{-time.Second}
	cfg.Limits.IdleTimeout = Duration{-time.Second}
	cfg.Limits.MaxAuthAttempts = 0
	cfg.Limits.MaxLineLength = -1

	serverCfg := cfg.ToServerConfig()
	def := DefaultConfig()
	assert.Equal(t, def.SSHHostKeyPath, serverCfg.SSHHostKeyPath)
	assert.Equal(t, def.BlockDuration, serverCfg.BlockDuration)
	assert.Equal(t, def.IdleTimeout, serverCfg.IdleTimeout)
	assert.Equal(t, def.MaxAuthAttempts, serverCfg.MaxAuthAttempts)
	assert.Equal(t, def.MaxLineLength, serverCfg.MaxLineLength)
}

func TestChatConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockDuration = 5 * time.Second
	cfg.RecentWindow = 10 * time.Minute
	cfg.IdleTimeout = 0
	cfg.MaxAuthAttempts = 4

	chatCfg := cfg.ChatConfig()
	assert.Equal(t, 5*time.Second, chatCfg.BlockDuration)
	assert.Equal(t, 10*time.Minute, chatCfg.RecentWindow)
	assert.Equal(t, time.Duration(0), chatCfg.IdleTimeout)
	assert.Equal(t, 4, chatCfg.MaxAuthAttempts)
	assert.Equal(t, funcPointer(chat.HostAddress), funcPointer(chatCfg.ResolveAddress))

	cfg.ResolveHostnames = true
	chatCfg = cfg.ChatConfig()
	assert.Equal(t, funcPointer(chat.CanonicalHostName), funcPointer(chatCfg.ResolveAddress))
}

func funcPointer(f func(net.Addr) string) uintptr {
	return reflect.ValueOf(f).Pointer()
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("90")))
}

func TestGetDatabasePathUnset(t *testing.T) {
	cfg := DefaultTOMLConfig()
	path, err := cfg.GetDatabasePath()
	require.NoError(t, err)
	assert.Empty(t, path)

	file, err := cfg.GetCredentialsFile()
	require.NoError(t, err)
	assert.Equal(t, "user_pass.txt", file)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := expandHome("~/.linechat/ssh_host_key")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".linechat", "ssh_host_key"), got)

	got, err = expandHome("/etc/linechat.toml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/linechat.toml", got)
}
