package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"google.golang.org/protobuf/types/known/structpb"
)

// Print a provisioning result nested in a status reply.
func appendResultRows(t table.Writer, name string, res *structpb.Struct) {
	if res == nil {
		return
	}
	val := fieldString(res, "phase") + " " + fieldString(res, "ssid")
	if e := fieldString(res, "error"); e != "" {
		val += " (" + e + ")"
	}
	t.AppendRow(table.Row{name, val + " at " + fieldString(res, "at")})
}

// Command to show the link status.
type WifiStatusCmd struct{}

func (a *WifiStatusCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Read the status.
	r, err := c.Call(ctx, "Status", nil)
	if err != nil {
		return
	}

	// Setup table for the status.
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRow(table.Row{"State", fieldString(r, "state")})
	t.AppendRow(table.Row{"Mode", fieldString(r, "mode")})
	t.AppendRow(table.Row{"Started", fieldBool(r, "started")})
	t.AppendRow(table.Row{"Auto Reconnect", fieldBool(r, "auto_reconnect")})
	t.AppendRow(table.Row{"Hardware Address", fieldString(r, "hardware_addr")})
	t.AppendRow(table.Row{"Host Ready", fieldBool(r, "host_ready")})
	t.AppendRow(table.Row{"Provisioning", fieldString(r, "provisioning")})
	if ssid := fieldString(r, "ssid"); ssid != "" {
		t.AppendRow(table.Row{"SSID", ssid})
		t.AppendRow(table.Row{"Channel", int(fieldNumber(r, "channel"))})
	}
	if ssid := fieldString(r, "ap_ssid"); ssid != "" {
		t.AppendRow(table.Row{"AP SSID", ssid})
	}
	appendResultRows(t, "Last Provisioning", r.GetFields()["last_provisioning"].GetStructValue())
	appendResultRows(t, "Last Credentials", r.GetFields()["last_credentials"].GetStructValue())
	if u := r.GetFields()["last_update"].GetStructValue(); u != nil {
		val := fieldString(u, "outcome") + " " + fieldString(u, "version")
		if e := fieldString(u, "error"); e != "" {
			val += " (" + e + ")"
		}
		t.AppendRow(table.Row{"Last Update", val + " at " + fieldString(u, "at")})
	}

	// Print the table.
	t.Render()
	return
}

// Command to join a network.
type WifiJoinCmd struct {
	SSID       string `arg:"" help:"Network name"`
	Passphrase string `arg:"" optional:"" help:"Network passphrase, empty for an open network"`
}

func (a *WifiJoinCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Attempt to join.
	_, err = c.Call(ctx, "Join", map[string]interface{}{
		"ssid":       a.SSID,
		"passphrase": a.Passphrase,
	})
	if err != nil {
		return
	}

	fmt.Println("Joined", a.SSID)
	return
}

// Command to leave the current network.
type WifiDisconnectCmd struct{}

func (a *WifiDisconnectCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Attempt to disconnect.
	_, err = c.Call(ctx, "Disconnect", nil)
	if err != nil {
		return
	}

	fmt.Println("Disconnected")
	return
}

// Command to scan for networks.
type WifiScanCmd struct {
	SSID   string `arg:"" optional:"" help:"Only report this network"`
	Cached bool   `help:"Show the last results without scanning"`
}

func (a *WifiScanCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Scan and wait for the results, or read the cached ones.
	var r *structpb.Struct
	if a.Cached {
		r, err = c.Call(ctx, "ScanResults", nil)
	} else {
		r, err = c.Call(ctx, "Scan", map[string]interface{}{
			"ssid": a.SSID,
			"wait": true,
		})
	}
	if err != nil {
		return
	}

	// Verify there are results.
	records := fieldStructs(r, "records")
	if len(records) == 0 {
		fmt.Println("No networks found.")
		return
	}

	// Strongest first.
	sort.SliceStable(records, func(i, j int) bool {
		return fieldNumber(records[i], "rssi") > fieldNumber(records[j], "rssi")
	})

	// Setup table for the results.
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"SSID", "BSSID", "Channel", "RSSI", "Auth"})
	for _, rec := range records {
		t.AppendRow(table.Row{
			fieldString(rec, "ssid"),
			fieldString(rec, "bssid"),
			int(fieldNumber(rec, "channel")),
			int(fieldNumber(rec, "rssi")),
			fieldString(rec, "auth"),
		})
	}

	// Print the table.
	t.Render()
	return
}

// Command to change the radio mode.
type WifiModeCmd struct {
	Mode string `arg:"" enum:"${wifiModes}" help:"${wifiModes}"`
}

func (a *WifiModeCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Attempt to set the mode.
	_, err = c.Call(ctx, "SetMode", map[string]interface{}{"mode": a.Mode})
	if err != nil {
		return
	}

	fmt.Println("Mode set to", a.Mode)
	return
}

// Command to configure the access point.
type WifiAPCmd struct {
	SSID       string `arg:"" help:"Access point name"`
	Passphrase string `arg:"" optional:"" help:"Access point passphrase, empty for an open network"`
}

func (a *WifiAPCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Attempt to configure the access point.
	_, err = c.Call(ctx, "SetAP", map[string]interface{}{
		"ssid":       a.SSID,
		"passphrase": a.Passphrase,
	})
	if err != nil {
		return
	}

	fmt.Println("Access point set to", a.SSID)
	return
}

// Command to show the bridge counters.
type WifiStatsCmd struct{}

func (a *WifiStatsCmd) Run() (err error) {
	// Connect to GRPC.
	c, conn, err := NewGRPCClient()
	if err != nil {
		return
	}
	defer conn.Close()

	// Setup call timeout of 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Read the counters.
	r, err := c.Call(ctx, "Stats", nil)
	if err != nil {
		return
	}

	// Sort by name for a stable listing.
	fields := r.GetFields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	// Setup table for the counters.
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Metric", "Value"})
	for _, name := range names {
		t.AppendRow(table.Row{name, fields[name].GetNumberValue()})
	}

	// Print the table.
	t.Render()
	return
}

// Commands for managing the wireless link.
type WifiCmd struct {
	Status     WifiStatusCmd     `cmd:"" help:"Show link status"`
	Join       WifiJoinCmd       `cmd:"" help:"Join a network"`
	Disconnect WifiDisconnectCmd `cmd:"" help:"Leave the current network"`
	Scan       WifiScanCmd       `cmd:"" help:"Scan for networks"`
	Mode       WifiModeCmd       `cmd:"" help:"Set the radio mode"`
	AP         WifiAPCmd         `cmd:"" name:"ap" help:"Configure the access point"`
	Stats      WifiStatsCmd      `cmd:"" help:"Show bridge counters"`
}
