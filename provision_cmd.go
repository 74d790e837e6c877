package main

import (
	"context"
	"fmt"
	"time"
)

// Command to start a provisioning session.
type ProvisionStartCmd struct {
	Type string `help:"Provisioning transport" enum:"${provisionTypes}" default:"control"`
}

func (a *ProvisionStartCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Attempt to start provisioning.
	_, err = c.Call(ctx, "StartProvisioning", map[string]interface{}{"type": a.Type})
	if err != nil {
		return
	}

	fmt.Println("Provisioning started")
	return
}

// Command to stop the provisioning session.
type ProvisionStopCmd struct{}

func (a *ProvisionStopCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Attempt to stop provisioning.
	_, err = c.Call(ctx, "StopProvisioning", nil)
	if err != nil {
		return
	}

	fmt.Println("Provisioning stopped")
	return
}

// Command to hand credentials to a provisioning session.
type ProvisionSubmitCmd struct {
	SSID       string `arg:"" help:"Network name"`
	Passphrase string `arg:"" optional:"" help:"Network passphrase, empty for an open network"`
	BSSID      string `help:"Only join this access point"`
}

func (a *ProvisionSubmitCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Submit and wait for the device to join.
	_, err = c.Call(ctx, "SubmitCredentials", map[string]interface{}{
		"ssid":       a.SSID,
		"passphrase": a.Passphrase,
		"bssid":      a.BSSID,
	})
	if err != nil {
		return
	}

	fmt.Println("Provisioned", a.SSID)
	return
}

// Commands for provisioning credentials.
type ProvisionCmd struct {
	Start  ProvisionStartCmd  `cmd:"" help:"Start listening for credentials"`
	Stop   ProvisionStopCmd   `cmd:"" help:"Stop listening for credentials"`
	Submit ProvisionSubmitCmd `cmd:"" help:"Submit credentials to the running session"`
}
