package main

import (
	"context"
	"fmt"
	"time"
)

// Command to check for and apply updates.
type UpdateCmd struct {
	Force bool `help:"Update even when disabled in the config or the bridge is busy"`
}

// Ask a running server whether its bridge is busy. A server that cannot be
// reached is not busy.
func serverBusy() error {
	c, conn, err := NewGRPCClient()
	if err != nil {
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := c.Call(ctx, "Status", nil)
	if err != nil {
		return nil
	}
	if fieldString(r, "provisioning") == "listening" {
		return fmt.Errorf("%w: provisioning session is listening", ErrUpdateDeferred)
	}
	if fieldString(r, "state") == "associating" {
		return fmt.Errorf("%w: join in progress", ErrUpdateDeferred)
	}
	return nil
}

func (s *UpdateCmd) Run() (err error) {
	config := ReadMinimalConfig()
	if config.Update.Disabled && !s.Force {
		fmt.Println("Updates are disabled in the configuration.")
		return
	}
	if !s.Force {
		err = serverBusy()
		if err != nil {
			return
		}
	}
	res := CheckForUpdate(config.Update, false)
	fmt.Printf("Update %v: %s\n", res.Outcome, res.Version)
	return
}
