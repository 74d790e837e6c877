package main

import (
	"context"
	"time"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	"github.com/grmrgecko/wifi-ncm-bridge/wifi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode the bridge status.
func statusFields(st bridge.Status) map[string]interface{} {
	fields := map[string]interface{}{
		"state":          st.State.String(),
		"mode":           st.Mode.String(),
		"started":        st.Started,
		"auto_reconnect": st.AutoReconnect,
		"hardware_addr":  st.HardwareAddr.String(),
		"provisioning":   st.Provisioning.String(),
		"host_ready":     st.HostReady,
	}
	if st.SSID != "" {
		fields["ssid"] = st.SSID
		fields["channel"] = st.Channel
	}
	if st.APSSID != "" {
		fields["ap_ssid"] = st.APSSID
	}
	return fields
}

// Encode a provisioning result.
func resultFields(res bridge.ProvisioningResult) map[string]interface{} {
	fields := map[string]interface{}{
		"phase": res.Phase.String(),
		"ssid":  res.SSID,
		"at":    res.At.Format(time.RFC3339),
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
	}
	return fields
}

// Encode an update check.
func updateFields(res UpdateResult) map[string]interface{} {
	fields := map[string]interface{}{
		"outcome": res.Outcome.String(),
		"version": res.Version,
		"at":      res.At.Format(time.RFC3339),
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
	}
	return fields
}

// Encode scan results.
func scanFields(report ScanReport) map[string]interface{} {
	records := make([]interface{}, 0, len(report.Records))
	for _, rec := range report.Records {
		records = append(records, map[string]interface{}{
			"ssid":    rec.SSID,
			"bssid":   rec.BSSID.String(),
			"rssi":    rec.RSSI,
			"channel": rec.Channel,
			"auth":    rec.Auth.String(),
		})
	}
	fields := map[string]interface{}{
		"records": records,
	}
	if !report.At.IsZero() {
		fields["at"] = report.At.Format(time.RFC3339)
	}
	return fields
}

// Get the running bridge or an unavailable status.
func runningBridge() (*bridge.Bridge, *provision.Control, error) {
	b, control, err := app.Bridge()
	if err != nil {
		return nil, nil, rpcError(err)
	}
	return b, control, nil
}

// Provide the bridge status.
func (s *GRPCServer) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	st, err := b.Query()
	if err != nil {
		return nil, rpcError(err)
	}

	fields := statusFields(st)
	if cache := app.StatusCache(); cache != nil {
		if res, ok := cache.LastProvisioning(); ok {
			fields["last_provisioning"] = resultFields(res)
		}
		if res, ok := cache.LastCredentials(); ok {
			fields["last_credentials"] = resultFields(res)
		}
		if res, ok := cache.LastUpdate(); ok {
			fields["last_update"] = updateFields(res)
		}
	}
	return structpb.NewStruct(fields)
}

// Provide the bridge counters.
func (s *GRPCServer) Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	values, err := b.Stats().Snapshot()
	if err != nil {
		return nil, rpcError(err)
	}
	fields := make(map[string]interface{}, len(values))
	for name, value := range values {
		fields[name] = value
	}
	return structpb.NewStruct(fields)
}

// Join a network.
func (s *GRPCServer) Join(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	err = b.Join(ctx, fieldString(in, "ssid"), fieldString(in, "passphrase"))
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}

// Leave the current network.
func (s *GRPCServer) Disconnect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	err = b.Disconnect(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}

// Start a scan, and optionally wait for its results.
func (s *GRPCServer) Scan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	cache := app.StatusCache()
	wait := fieldBool(in, "wait") && cache != nil

	// Take the waiter before the scan so its completion is not missed.
	var next <-chan struct{}
	if wait {
		next = cache.NextScan()
	}
	err = b.Scan(fieldString(in, "ssid"))
	if err != nil {
		return nil, rpcError(err)
	}
	if !wait {
		return emptyReply(), nil
	}

	select {
	case <-next:
	case <-ctx.Done():
		return nil, rpcError(ctx.Err())
	}
	report, _ := cache.LastScan()
	return structpb.NewStruct(scanFields(report))
}

// Provide the last scan results.
func (s *GRPCServer) ScanResults(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cache := app.StatusCache()
	if cache == nil {
		return nil, rpcError(ErrBridgeStopped)
	}
	report, ok := cache.LastScan()
	if !ok {
		return nil, status.Error(codes.NotFound, "no scan results")
	}
	return structpb.NewStruct(scanFields(report))
}

// Change the radio mode.
func (s *GRPCServer) SetMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	mode, err := wifi.ParseMode(fieldString(in, "mode"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	err = b.SetMode(mode)
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}

// Configure and enable the access point.
func (s *GRPCServer) SetAP(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	err = b.SetAP(fieldString(in, "ssid"), fieldString(in, "passphrase"))
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}

// Start a provisioning session.
func (s *GRPCServer) StartProvisioning(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	t, err := provision.ParseType(fieldString(in, "type"))
	if err != nil {
		return nil, rpcError(err)
	}
	err = b.Provisioner().Start(t)
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}

// Stop the provisioning session.
func (s *GRPCServer) StopProvisioning(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, _, err := runningBridge()
	if err != nil {
		return nil, err
	}
	err = b.Provisioner().Stop()
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}

// Hand credentials to the running provisioning session and wait for the
// device to join with them.
func (s *GRPCServer) SubmitCredentials(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	b, control, err := runningBridge()
	if err != nil {
		return nil, err
	}

	bssid, err := parseOptionalMAC(fieldString(in, "bssid"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid bssid: %v", err)
	}
	creds := provision.Credentials{
		SSID:       fieldString(in, "ssid"),
		Passphrase: fieldString(in, "passphrase"),
		BSSID:      bssid,
	}

	timeout := bridge.DefaultJoinTimeout
	if config := app.Config(); config != nil {
		timeout = config.Bridge.JoinTimeout
	}
	associated := func(ctx context.Context) error {
		if !b.Link().AwaitDriverAssociated(ctx, timeout) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return bridge.ErrJoinTimeout
		}
		return nil
	}

	err = control.Submit(ctx, creds, associated)
	if err != nil {
		return nil, rpcError(err)
	}
	return emptyReply(), nil
}
