package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Point the config path at a file in a temp dir for one test.
func withConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	}

	saved := flags
	flags = &Flags{ConfigPath: path, Log: &LogConfig{Level: "info", Type: "console"}}
	t.Cleanup(func() {
		flags = saved
	})
	return path
}

func TestConfigDefaults(t *testing.T) {
	config := DefaultConfig()
	config.RPCPath = filepath.Join(t.TempDir(), "rpc.sock")
	config.ApplyFilters()

	assert.Equal(t, "linux", config.WiFi.Driver)
	assert.Equal(t, "wlan0", config.WiFi.Interface)
	assert.Equal(t, "linux", config.USB.Transport)
	assert.Equal(t, "usb0", config.USB.Interface)
	assert.Equal(t, bridge.DefaultUplinkTimeout, config.Bridge.UplinkTimeout)
	assert.Equal(t, 5*time.Second, config.Bridge.JoinTimeout)
	assert.Equal(t, time.Second, config.Bridge.DisconnectTimeout)
	assert.Equal(t, "control", config.Provisioning.Type)
	assert.Equal(t, bridge.DefaultProvisioningTimeout, config.Provisioning.Timeout)
	assert.Equal(t, DefaultStatusTTL, config.StatusTTL)
	assert.Empty(t, config.Metrics.Path, "metrics stay off without a listen address")
	assert.NoError(t, config.Validate())
}

func TestConfigRemovesStaleSocket(t *testing.T) {
	config := DefaultConfig()
	config.RPCPath = filepath.Join(t.TempDir(), "rpc.sock")
	require.NoError(t, os.WriteFile(config.RPCPath, nil, 0600))

	config.ApplyFilters()
	_, err := os.Stat(config.RPCPath)
	assert.True(t, os.IsNotExist(err))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"driver", func(c *Config) { c.WiFi.Driver = "esp" }},
		{"transport", func(c *Config) { c.USB.Transport = "ecm" }},
		{"provisioning", func(c *Config) { c.Provisioning.Type = "smartconfig" }},
		{"timeout", func(c *Config) { c.Bridge.JoinTimeout = -time.Second }},
		{"queue", func(c *Config) { c.Bridge.EventQueue = -1 }},
		{"session", func(c *Config) { c.Provisioning.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.RPCPath = filepath.Join(t.TempDir(), "rpc.sock")
			config.ApplyFilters()
			tt.modify(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestConfigBridgeConfig(t *testing.T) {
	config := DefaultConfig()
	config.Bridge = BridgeConfig{
		UplinkTimeout:     10 * time.Millisecond,
		JoinTimeout:       3 * time.Second,
		DisconnectTimeout: 500 * time.Millisecond,
		EventQueue:        8,
	}
	config.Provisioning.Timeout = time.Minute
	config.WiFi.AutoConnect = true

	assert.Equal(t, bridge.Config{
		UplinkTimeout:       10 * time.Millisecond,
		JoinTimeout:         3 * time.Second,
		DisconnectTimeout:   500 * time.Millisecond,
		ProvisioningTimeout: time.Minute,
		EventQueue:          8,
		AutoConnect:         true,
	}, config.BridgeConfig())
}

func TestReadConfigFile(t *testing.T) {
	rpcPath := filepath.Join(t.TempDir(), "rpc.sock")
	withConfigFile(t, `
rpc_path: `+rpcPath+`
metrics:
  listen: 127.0.0.1:9110
wifi:
  driver: sim
  interface: wlan1
  auto_connect: true
usb:
  transport: sim
bridge:
  uplink_timeout: 75ms
  join_timeout: 8s
provisioning:
  timeout: 30s
`)

	config := ReadConfig()
	assert.Equal(t, rpcPath, config.RPCPath)
	assert.Equal(t, "sim", config.WiFi.Driver)
	assert.Equal(t, "wlan1", config.WiFi.Interface)
	assert.True(t, config.WiFi.AutoConnect)
	assert.Equal(t, "sim", config.USB.Transport)
	assert.Equal(t, 75*time.Millisecond, config.Bridge.UplinkTimeout)
	assert.Equal(t, 8*time.Second, config.Bridge.JoinTimeout)
	assert.Equal(t, time.Second, config.Bridge.DisconnectTimeout)
	assert.Equal(t, 30*time.Second, config.Provisioning.Timeout)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.NoError(t, config.Validate())
}

func TestReadConfigMissingFile(t *testing.T) {
	withConfigFile(t, "")
	config := ReadConfig()
	assert.Equal(t, "linux", config.WiFi.Driver)
	assert.Equal(t, "grmrgecko", config.Update.Owner)
	assert.Equal(t, serviceName, config.Update.Repo)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	withConfigFile(t, "")
	app = newTestApp(t, "")

	require.NoError(t, SaveConfig())
	saved := ReadConfig()
	assert.Equal(t, "sim", saved.WiFi.Driver)
	assert.Equal(t, "sim", saved.USB.Transport)
	assert.Equal(t, app.grpcServer.RPCPath, saved.RPCPath)
}

func TestLogConfigApply(t *testing.T) {
	level := log.GetLevel()
	t.Cleanup(func() {
		log.SetLevel(level)
	})

	(&LogConfig{Level: "trace"}).Apply()
	assert.Equal(t, log.TraceLevel, log.GetLevel())
	(&LogConfig{Level: "warn"}).Apply()
	assert.Equal(t, log.WarnLevel, log.GetLevel())
	(&LogConfig{Level: "bogus"}).Apply()
	assert.Equal(t, log.ErrorLevel, log.GetLevel())
}
