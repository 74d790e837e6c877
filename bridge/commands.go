package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
)

// Clients a soft AP accepts.
const DefaultAPMaxConnections = 4

// Check a station SSID and passphrase.
func validateStation(ssid, passphrase string) error {
	if len(ssid) == 0 || len(ssid) > 32 {
		return fmt.Errorf("%w: ssid must be 1 to 32 bytes", ErrConfigurationRejected)
	}
	return validatePassphrase(passphrase)
}

// An empty passphrase means an open network, otherwise it is 8 to 63
// characters or a 64 digit hex key.
func validatePassphrase(passphrase string) error {
	switch n := len(passphrase); {
	case n == 0:
		return nil
	case n < 8:
		return fmt.Errorf("%w: passphrase must be at least 8 characters", ErrConfigurationRejected)
	case n <= 63:
		return nil
	case n == 64:
		if _, err := hex.DecodeString(passphrase); err == nil {
			return nil
		}
		return fmt.Errorf("%w: a 64 character passphrase must be hex", ErrConfigurationRejected)
	}
	return fmt.Errorf("%w: passphrase must be at most 64 characters", ErrConfigurationRejected)
}

// Wrap a driver error.
func driverFault(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDriverFault, op, err)
}

// Join a network as a station and wait for association.
func (b *Bridge) Join(ctx context.Context, ssid, passphrase string) error {
	err := validateStation(ssid, passphrase)
	if err != nil {
		return err
	}
	if b.prov.Listening() {
		return ErrProvisioningConflict
	}
	if !b.link.Started() {
		return ErrNotStarted
	}

	// Leave the current network first, without reconnecting to it.
	if b.link.IsAssociated() || b.link.DriverAssociated() {
		b.link.SetAutoReconnect(false)
		err = b.driver.Disconnect()
		if err != nil {
			return driverFault("disconnect", err)
		}
		if !b.link.AwaitDisassociated(ctx, time.Duration(b.cfg.disconnect.Load())) {
			b.log.Warn("Previous association did not drop in time, joining anyway.")
		}
	}

	// Claim the link and configure the driver while no provisioning
	// session can start.
	err = b.prov.unlessActive(func() error {
		err := b.link.beginJoin()
		if err != nil {
			return err
		}
		err = b.driver.SetMode(wifi.ModeStation)
		if err != nil {
			b.link.SetAutoReconnect(false)
			b.link.abortAssociating()
			return driverFault("set mode", err)
		}
		err = b.driver.SetStationConfig(wifi.StationConfig{
			SSID:       ssid,
			Passphrase: passphrase,
		})
		if err != nil {
			b.link.SetAutoReconnect(false)
			b.link.abortAssociating()
			return driverFault("set station config", err)
		}
		err = b.driver.Connect()
		if err != nil {
			b.link.SetAutoReconnect(false)
			b.link.abortAssociating()
			return driverFault("connect", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.log.Printf("Joining %q.", ssid)
	if !b.link.AwaitAssociated(ctx, time.Duration(b.cfg.join.Load())) {
		if b.link.State() == StateProvisioning {
			return ErrProvisioningConflict
		}
		b.link.SetAutoReconnect(false)
		b.link.abortAssociating()
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrJoinTimeout, ctx.Err())
		}
		return ErrJoinTimeout
	}
	b.log.Printf("Joined %q.", ssid)
	return nil
}

// Leave the current network and stop reconnecting.
func (b *Bridge) Disconnect(ctx context.Context) error {
	if b.prov.Listening() {
		return ErrProvisioningConflict
	}
	state := b.link.State()
	if state != StateAssociated && state != StateAssociating && !b.link.DriverAssociated() {
		return ErrNotAssociated
	}

	b.link.SetAutoReconnect(false)
	err := b.driver.Disconnect()
	if err != nil {
		return driverFault("disconnect", err)
	}
	if !b.link.AwaitDisassociated(ctx, time.Duration(b.cfg.disconnect.Load())) {
		b.log.Warn("Disconnect was not confirmed by the driver in time.")
	}
	return nil
}

// Start a scan, optionally for one SSID. Results are reported when the
// driver completes it.
func (b *Bridge) Scan(ssid string) error {
	if len(ssid) > 32 {
		return fmt.Errorf("%w: ssid must be at most 32 bytes", ErrConfigurationRejected)
	}
	if b.prov.Listening() {
		return ErrProvisioningConflict
	}

	cfg, err := b.driver.Config()
	if err != nil {
		return driverFault("config", err)
	}
	if cfg.Mode != wifi.ModeStation {
		b.link.SetAutoReconnect(false)
		err = b.driver.SetMode(wifi.ModeStation)
		if err != nil {
			return driverFault("set mode", err)
		}
	}
	err = b.driver.Scan(ssid)
	if err != nil {
		return driverFault("scan", err)
	}
	return nil
}

// Switch the radio between station and access point mode.
func (b *Bridge) SetMode(mode wifi.Mode) error {
	if mode != wifi.ModeStation && mode != wifi.ModeAccessPoint {
		return fmt.Errorf("%w: unsupported mode %v", ErrConfigurationRejected, mode)
	}
	if b.prov.Listening() {
		return ErrProvisioningConflict
	}
	if mode == wifi.ModeAccessPoint {
		b.link.SetAutoReconnect(false)
	}
	err := b.driver.SetMode(mode)
	if err != nil {
		return driverFault("set mode", err)
	}
	b.log.Printf("Mode set to %v.", mode)
	return nil
}

// Run a soft access point. An empty passphrase makes an open network.
func (b *Bridge) SetAP(ssid, passphrase string) error {
	if len(ssid) == 0 || len(ssid) > 32 {
		return fmt.Errorf("%w: ssid must be 1 to 32 bytes", ErrConfigurationRejected)
	}
	err := validatePassphrase(passphrase)
	if err != nil {
		return err
	}
	if b.prov.Listening() {
		return ErrProvisioningConflict
	}

	b.link.SetAutoReconnect(false)
	err = b.driver.SetMode(wifi.ModeAccessPoint)
	if err != nil {
		return driverFault("set mode", err)
	}
	cfg := wifi.APConfig{
		SSID:           ssid,
		Passphrase:     passphrase,
		MaxConnections: DefaultAPMaxConnections,
		Auth:           wifi.AuthWPAWPA2PSK,
	}
	if passphrase == "" {
		cfg.Auth = wifi.AuthOpen
	}
	err = b.driver.SetAPConfig(cfg)
	if err != nil {
		return driverFault("set ap config", err)
	}
	b.log.Printf("Access point %q configured (%v).", ssid, cfg.Auth)
	return nil
}

// Status of the bridge and link.
type Status struct {
	State         State
	Mode          wifi.Mode
	Started       bool
	AutoReconnect bool
	HardwareAddr  net.HardwareAddr
	Provisioning  Phase
	HostReady     bool
	// Set while associated.
	SSID    string
	Channel int
	// Set in access point mode.
	APSSID string
}

// Get the bridge status.
func (b *Bridge) Query() (Status, error) {
	st := Status{
		State:         b.link.State(),
		Started:       b.link.Started(),
		AutoReconnect: b.link.AutoReconnect(),
		HardwareAddr:  b.link.HardwareAddr(),
		Provisioning:  b.prov.Phase(),
		HostReady:     b.host.IsReady(),
	}

	cfg, err := b.driver.Config()
	if err != nil {
		return st, driverFault("config", err)
	}
	st.Mode = cfg.Mode
	switch cfg.Mode {
	case wifi.ModeStation:
		if st.State == StateAssociated {
			st.SSID = cfg.Station.SSID
			st.Channel = cfg.Channel
		}
	case wifi.ModeAccessPoint:
		st.APSSID = cfg.AP.SSID
	}
	return st, nil
}
