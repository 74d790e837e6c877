package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/usbnet"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
)

// Returned to control calls while the bridge is down.
var ErrBridgeStopped = errors.New("bridge is not running")

// Flags for the server command.
type ServerCmd struct {
}

// The main App structure.
type App struct {
	bridge  *bridge.Bridge
	driver  wifi.Driver
	host    usbnet.Transport
	control *provision.Control
	config  *Config
	sync.Mutex

	status       *StatusCache
	metrics      *MetricsServer
	grpcServer   *GRPCServer
	Stop         chan struct{}
	UpdateConfig *UpdateConfig
}

var app *App

// Open the configured wireless driver.
func openDriver(c WiFiConfig) (wifi.Driver, error) {
	switch c.Driver {
	case "sim":
		return wifi.NewSimDriver(), nil
	case "linux":
		return wifi.NewLinuxDriver(c.Interface, c.ControlDir)
	}
	return nil, fmt.Errorf("unknown wifi driver: %s", c.Driver)
}

// Open the configured USB host transport.
func openTransport(c USBConfig) (usbnet.Transport, error) {
	switch c.Transport {
	case "sim":
		return usbnet.NewSimTransport(), nil
	case "linux":
		return usbnet.NewLinuxTransport(c.Interface, c.HostAddrPath)
	}
	return nil, fmt.Errorf("unknown usb transport: %s", c.Transport)
}

// Open the driver and transports and start the bridge.
func (a *App) StartBridge(config *Config) (err error) {
	a.Lock()
	defer a.Unlock()
	if a.bridge != nil {
		return fmt.Errorf("bridge is already running")
	}

	driver, err := openDriver(config.WiFi)
	if err != nil {
		return err
	}
	host, err := openTransport(config.USB)
	if err != nil {
		driver.Close()
		return err
	}
	control := provision.NewControl()

	if a.status == nil {
		a.status = NewStatusCache(config.StatusTTL)
	}
	b := bridge.New(driver, host, control, a.status, config.BridgeConfig())
	err = b.Start()
	if err != nil {
		control.Close()
		host.Close()
		driver.Close()
		return err
	}

	a.bridge = b
	a.driver = driver
	a.host = host
	a.control = control
	a.config = config
	a.UpdateConfig = config.Update
	return nil
}

// Stop the bridge and close the driver and transports.
func (a *App) StopBridge() {
	a.Lock()
	defer a.Unlock()
	if a.bridge == nil {
		return
	}

	a.bridge.Close()
	a.control.Close()
	err := a.host.Close()
	if err != nil {
		log.Error("Failed to close usb transport:", err)
	}
	err = a.driver.Close()
	if err != nil {
		log.Error("Failed to close wifi driver:", err)
	}
	a.bridge = nil
	a.driver = nil
	a.host = nil
	a.control = nil
}

// Get the running bridge and its control transport.
func (a *App) Bridge() (*bridge.Bridge, *provision.Control, error) {
	a.Lock()
	defer a.Unlock()
	if a.bridge == nil {
		return nil, nil, ErrBridgeStopped
	}
	return a.bridge, a.control, nil
}

// Get the status cache.
func (a *App) StatusCache() *StatusCache {
	a.Lock()
	defer a.Unlock()
	return a.status
}

// Get the applied configuration.
func (a *App) Config() *Config {
	a.Lock()
	defer a.Unlock()
	return a.config
}

// Get the metrics endpoint, nil when not serving.
func (a *App) Metrics() *MetricsServer {
	a.Lock()
	defer a.Unlock()
	return a.metrics
}

// Start the metrics endpoint if it is configured and not already serving.
func (a *App) StartMetrics(config *Config) error {
	if config.Metrics.Listen == "" {
		return nil
	}
	a.Lock()
	defer a.Unlock()
	if a.metrics != nil {
		return nil
	}
	if a.bridge == nil {
		return ErrBridgeStopped
	}
	m, err := NewMetricsServer(config.Metrics.Listen, config.Metrics.Path, a.bridge.Stats())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// Stop the metrics endpoint.
func (a *App) StopMetrics() {
	a.Lock()
	m := a.metrics
	a.metrics = nil
	a.Unlock()
	if m != nil {
		m.Close()
	}
}

// Run the server.
func (a *ServerCmd) Run() error {
	// Start a new app structure.
	app = new(App)
	app.Stop = make(chan struct{}, 1)
	{
		// Read the configuration from file.
		config := ReadConfig()
		err := config.Validate()
		if err != nil {
			return err
		}
		app.UpdateConfig = config.Update
		app.status = NewStatusCache(config.StatusTTL)

		// Start the GRPC server for cli communication.
		_, err = NewGRPCServer(config.RPCPath)
		if err != nil {
			return err
		}

		// Bring up the radio and the host link.
		err = app.StartBridge(config)
		if err != nil {
			app.grpcServer.Close()
			return err
		}

		// Serve metrics.
		err = app.StartMetrics(config)
		if err != nil {
			log.Error("Failed to start metrics:", err)
		}
	}

	// Send notification that the service is ready.
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Setup service.
	if !service.Interactive() {
		s := new(ServiceCmd)
		svc, err := s.service()
		if err != nil {
			return err
		}
		go svc.Run()
	}

	// Run the update loop to check for updates.
	go app.RunUpdateLoop()

	// Inform that the service has started.
	log.Println("Service started.")
	go app.announceBridgeReady(bridgeReadyTimeout)

	// Monitor common signals.
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Run program signal handler.
sigLoop:
	for {
		// Check for a signal.
		select {
		case sig := <-c:
			switch sig {
			// If hangup signal receivied, reload the configurations.
			case syscall.SIGHUP:
				log.Println("Reloading configurations.")

				// Read the config and apply any changes.
				config := ReadConfig()
				err := ApplyConfig(config)
				if err != nil {
					log.Println(err)
				}

				// The default signal is either termination or interruption,
				// so we should stop the loop.
			default:
				break sigLoop
			}
			// If the app stops itself, mark as done.
		case <-app.Stop:
			break sigLoop
		}
	}

	// We're quitting, stop the bridge and its endpoints.
	app.StopMetrics()
	app.StopBridge()
	if app.status != nil {
		app.status.Close()
	}

	// Stop the grpc server.
	if app.grpcServer != nil {
		app.grpcServer.Close()
	}

	return nil
}
