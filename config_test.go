package deimos

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "\xef\xbb\xbftool: gubiq\nbinDir: /opt/gubiq\nrpc:\n  port: 9000\npollInterval: 3s\nautoUpdate: false\nenvFile: " + filepath.Join(dir, "none.env") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/gubiq", cfg.BinDir)
	assert.Equal(t, 9000, cfg.RPC.Port)
	assert.Equal(t, "127.0.0.1", cfg.RPC.Host)
	assert.Equal(t, []string{"eth", "net", "web3"}, cfg.RPC.APIs)
	assert.Equal(t, 3*time.Second, cfg.PollInterval.Std())
	assert.False(t, cfg.AutoUpdateEnabled())
	assert.True(t, cfg.UpgradeRunningEnabled())
	assert.Equal(t, "http://127.0.0.1:9000", cfg.RPC.Endpoint())
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"descriptorURL": "http://example.invalid/bins.json", "pollInterval": "1m", "updateInterval": 3600, "envFile": "` + filepath.Join(dir, "none.env") + `"}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.invalid/bins.json", cfg.DescriptorURL)
	assert.Equal(t, time.Minute, cfg.PollInterval.Std())
	assert.Equal(t, time.Hour, cfg.UpdateInterval.Std())
	assert.True(t, cfg.AutoUpdateEnabled())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultTool, cfg.Tool)
	assert.Equal(t, defaultPollInterval, cfg.PollInterval.Std())
	assert.Equal(t, defaultDescriptorURL, cfg.DescriptorURL)
	assert.Equal(t, defaultStartGrace, cfg.StartGrace.Std())
}

func TestLoadConfigRejects(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"config.toml": "tool = 'gubiq'",
		"bad.yaml":    "pollInterval: soon\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "watchdog.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DEIMOS_BIN_DIR="+filepath.Join(dir, "bins")+"\n"), 0o644))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("envFile: "+envFile+"\n"), 0o644))
	t.Setenv("DEIMOS_AUTO_UPDATE", "false")
	t.Setenv("DEIMOS_METRICS_ADDR", "127.0.0.1:9999")
	t.Cleanup(func() { os.Unsetenv("DEIMOS_BIN_DIR") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.AutoUpdateEnabled())
	assert.Equal(t, "127.0.0.1:9999", cfg.MetricsAddr)
	assert.Equal(t, filepath.Join(dir, "bins"), cfg.BinDir)
}
