package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"github.com/kkyr/fig"
	"github.com/shibukawa/configdir"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Just bare minimal configuration for reading in cli calls.
type ConfigMinimal struct {
	RPCPath string        `fig:"rpc_path" yaml:"rpc_path"`
	Update  *UpdateConfig `fig:"update" yaml:"update"`
	Log     *LogConfig    `fig:"log" yaml:"log"`
}

// Main configuration structure.
type Config struct {
	ConfigMinimal `yaml:",inline"`
	Metrics      MetricsConfig      `fig:"metrics" yaml:"metrics"`
	WiFi         WiFiConfig         `fig:"wifi" yaml:"wifi"`
	USB          USBConfig          `fig:"usb" yaml:"usb"`
	Bridge       BridgeConfig       `fig:"bridge" yaml:"bridge"`
	Provisioning ProvisioningConfig `fig:"provisioning" yaml:"provisioning"`
	StatusTTL    time.Duration      `fig:"status_ttl" yaml:"status_ttl"`
}

type LogConfig struct {
	Level string `fig:"level" yaml:"level" enum:"trace,debug,info,warn,error" default:"info"`
	Type  string `fig:"type" yaml:"type" enum:"json,console" default:"console"`
}

// Configuration for updating.
type UpdateConfig struct {
	Owner          string            `fig:"owner" yaml:"owner"`
	Repo           string            `fig:"repo" yaml:"repo"`
	Disabled       bool              `fig:"disabled" yaml:"disabled"`
	CurrentVersion string            `fig:"-" yaml:"-"`
	ShouldRelaunch bool              `fig:"-" yaml:"-"`
	PreUpdate      func()            `fig:"-" yaml:"-"`
	IsSuccessMsg   func(string) bool `fig:"-" yaml:"-"`
	StartupTimeout time.Duration     `fig:"-" yaml:"-"`
	AbortUpdate    func()            `fig:"-" yaml:"-"`
	Busy           func() error      `fig:"-" yaml:"-"`
}

// Prometheus endpoint, disabled when listen is empty.
type MetricsConfig struct {
	Listen string `fig:"listen" yaml:"listen"`
	Path   string `fig:"path" yaml:"path"`
}

// Wireless driver configuration.
type WiFiConfig struct {
	Driver      string `fig:"driver" yaml:"driver"`
	Interface   string `fig:"interface" yaml:"interface"`
	ControlDir  string `fig:"control_dir" yaml:"control_dir"`
	AutoConnect bool   `fig:"auto_connect" yaml:"auto_connect"`
}

// USB host link configuration.
type USBConfig struct {
	Transport    string `fig:"transport" yaml:"transport"`
	Interface    string `fig:"interface" yaml:"interface"`
	HostAddrPath string `fig:"host_addr_path" yaml:"host_addr_path"`
}

// Bridge timeouts and queue sizes.
type BridgeConfig struct {
	UplinkTimeout     time.Duration `fig:"uplink_timeout" yaml:"uplink_timeout"`
	JoinTimeout       time.Duration `fig:"join_timeout" yaml:"join_timeout"`
	DisconnectTimeout time.Duration `fig:"disconnect_timeout" yaml:"disconnect_timeout"`
	EventQueue        int           `fig:"event_queue" yaml:"event_queue"`
}

// Provisioning configuration.
type ProvisioningConfig struct {
	Type    string        `fig:"type" yaml:"type"`
	Timeout time.Duration `fig:"timeout" yaml:"timeout"`
}

// Applies common filters to the read configuration.
func (c *Config) ApplyFilters() {
	// If the RPC path isn't set, set it to temp dir.
	if c.RPCPath == "" {
		c.RPCPath = filepath.Join(os.TempDir(), serviceName+".sock")
	}
	// Check if the RPC socket already exists.
	_, err := os.Stat(c.RPCPath)
	if err == nil {
		// If the socket exists, see if its listening.
		conn, err := net.Dial("unix", c.RPCPath)

		// If its not listening, remove it to allow us to start.
		if err != nil {
			os.Remove(c.RPCPath)
		} else {
			conn.Close()
		}
	}

	// Fill in defaults for anything left unset.
	if c.Log == nil {
		c.Log = &LogConfig{Level: "info", Type: "console"}
	}
	if c.Metrics.Listen != "" && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.WiFi.Driver == "" {
		c.WiFi.Driver = "linux"
	}
	if c.WiFi.Interface == "" {
		c.WiFi.Interface = "wlan0"
	}
	if c.WiFi.ControlDir == "" {
		c.WiFi.ControlDir = wifi.DefaultControlDir
	}
	if c.USB.Transport == "" {
		c.USB.Transport = "linux"
	}
	if c.USB.Interface == "" {
		c.USB.Interface = "usb0"
	}
	if c.Bridge.UplinkTimeout == 0 {
		c.Bridge.UplinkTimeout = bridge.DefaultUplinkTimeout
	}
	if c.Bridge.JoinTimeout == 0 {
		c.Bridge.JoinTimeout = bridge.DefaultJoinTimeout
	}
	if c.Bridge.DisconnectTimeout == 0 {
		c.Bridge.DisconnectTimeout = bridge.DefaultDisconnectTimeout
	}
	if c.Bridge.EventQueue == 0 {
		c.Bridge.EventQueue = 32
	}
	if c.Provisioning.Type == "" {
		c.Provisioning.Type = provision.TypeControl.String()
	}
	if c.Provisioning.Timeout == 0 {
		c.Provisioning.Timeout = bridge.DefaultProvisioningTimeout
	}
	if c.StatusTTL == 0 {
		c.StatusTTL = DefaultStatusTTL
	}
}

// Check the values a running server depends on.
func (c *Config) Validate() error {
	switch c.WiFi.Driver {
	case "linux", "sim":
	default:
		return fmt.Errorf("unknown wifi driver: %s", c.WiFi.Driver)
	}
	switch c.USB.Transport {
	case "linux", "sim":
	default:
		return fmt.Errorf("unknown usb transport: %s", c.USB.Transport)
	}
	if _, err := provision.ParseType(c.Provisioning.Type); err != nil {
		return err
	}
	if c.Bridge.UplinkTimeout < 0 || c.Bridge.JoinTimeout < 0 || c.Bridge.DisconnectTimeout < 0 {
		return fmt.Errorf("bridge timeouts must not be negative")
	}
	if c.Bridge.EventQueue < 0 {
		return fmt.Errorf("event queue size must not be negative: %d", c.Bridge.EventQueue)
	}
	if c.Provisioning.Timeout < 0 {
		return fmt.Errorf("provisioning timeout must not be negative")
	}
	return nil
}

// Get the bridge tuning from this configuration.
func (c *Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		UplinkTimeout:       c.Bridge.UplinkTimeout,
		JoinTimeout:         c.Bridge.JoinTimeout,
		DisconnectTimeout:   c.Bridge.DisconnectTimeout,
		ProvisioningTimeout: c.Provisioning.Timeout,
		EventQueue:          c.Bridge.EventQueue,
		AutoConnect:         c.WiFi.AutoConnect,
	}
}

// Get the config path/
func ConfigPath() (fileDir, fileName string) {
	// Find the configuration directory.
	configDirs := configdir.New(serviceVendor, serviceName)
	folders := configDirs.QueryFolders(configdir.System)
	if len(folders) == 0 {
		log.Fatalf("Unable to find config path.")
	}

	// Find the file name.
	fileName = defaultConfigFile
	fileDir = folders[0].Path
	if flags != nil && flags.ConfigPath != "" {
		fileDir, fileName = filepath.Split(flags.ConfigPath)
	}
	return
}

// Makes the default config for reading.
func DefaultConfig() *Config {
	config := new(Config)
	config.Update = &UpdateConfig{
		Owner: "grmrgecko",
		Repo:  serviceName,
	}
	if flags != nil && flags.Log != nil {
		config.Log = flags.Log
	} else {
		config.Log = &LogConfig{Level: "info", Type: "console"}
	}
	return config
}

// Read configuration file and return the current config.
func ReadMinimalConfig() *Config {
	// Setup default minimal config.
	config := DefaultConfig()

	// Find the file name.
	fileDir, fileName := ConfigPath()

	// Read the configuration file if it exists.
	err := fig.Load(&config.ConfigMinimal, fig.File(fileName), fig.Dirs(fileDir))
	// On error, just print as we want to return a default config.
	if err != nil {
		log.Debug("Unable to load config file:", err)
	}

	// Apply config filters.
	config.ApplyFilters()

	// Apply any log configurations loaded from file.
	config.Log.Apply()
	return config
}

// Read configuration file and return the current config.
func ReadConfig() *Config {
	// Setup default config.
	config := DefaultConfig()

	// Find the file name.
	fileDir, fileName := ConfigPath()

	// Read the configuration file if it exists.
	err := fig.Load(config, fig.File(fileName), fig.Dirs(fileDir))
	// On error, just print as we want to return a default config.
	if err != nil {
		log.Debug("Unable to load config file:", err)
	} else {
		// The embedded minimal config lives at the top level of the file.
		err = fig.Load(&config.ConfigMinimal, fig.File(fileName), fig.Dirs(fileDir))
		if err != nil {
			log.Debug("Unable to load config file:", err)
		}
	}

	// Apply config filters.
	config.ApplyFilters()

	// Apply any log configurations loaded from file.
	config.Log.Apply()
	return config
}

// Apply the supplied configuration to the running app. Driver and transport
// selection only change on restart.
func ApplyConfig(config *Config) error {
	err := config.Validate()
	if err != nil {
		return err
	}

	app.Lock()
	defer app.Unlock()
	if app.config != nil {
		if app.config.WiFi != config.WiFi || app.config.USB != config.USB {
			log.Warn("WiFi and USB changes take effect on restart.")
		}
		if app.config.Metrics != config.Metrics {
			log.Warn("Metrics changes take effect on restart.")
		}
		// Keep what is actually running so a save does not lie.
		config.WiFi = app.config.WiFi
		config.USB = app.config.USB
		config.Metrics = app.config.Metrics
	}
	app.config = config
	app.UpdateConfig = config.Update

	if app.bridge != nil {
		app.bridge.Reconfigure(config.BridgeConfig())
	}
	if app.status != nil {
		app.status.SetTTL(config.StatusTTL)
	}
	return nil
}

// Take the current application state and save it to the configuration file.
func SaveConfig() error {
	app.Lock()
	if app.config == nil {
		app.Unlock()
		return fmt.Errorf("no configuration loaded")
	}
	config := *app.config
	app.Unlock()

	// Start from the running configuration.
	if app.grpcServer != nil {
		config.RPCPath = app.grpcServer.RPCPath
	}
	config.Update = app.UpdateConfig
	if flags != nil && flags.Log != nil {
		config.Log = flags.Log
	}

	// Encode YAML data.
	data, err := yaml.Marshal(&config)
	if err != nil {
		return err
	}

	// Find the file name.
	fileDir, fileName := ConfigPath()

	// Verify directory exists.
	if _, ferr := os.Stat(fileDir); ferr != nil {
		err = os.MkdirAll(fileDir, 0755)
		if err != nil {
			log.Error("Failed to make directory:", err)
		}
	}

	// Write the configuration file.
	err = os.WriteFile(filepath.Join(fileDir, fileName), data, 0644)
	return err
}

func (l *LogConfig) Apply() {
	switch l.Level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
	switch l.Type {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{})
	}
}
