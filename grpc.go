package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/grmrgecko/wifi-ncm-bridge/bridge"
	"github.com/grmrgecko/wifi-ncm-bridge/provision"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Name of the control service on the wire.
const bridgeServiceName = "wifibridge.Bridge"

// A unary control method. Requests and replies are JSON-like structs so
// the service needs no generated code.
type rpcMethod func(s *GRPCServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// Describe the method for the service registration.
func (m rpcMethod) desc(name string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return m(srv.(*GRPCServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + bridgeServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return m(srv.(*GRPCServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// The control service.
var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: bridgeServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		rpcMethod((*GRPCServer).Status).desc("Status"),
		rpcMethod((*GRPCServer).Stats).desc("Stats"),
		rpcMethod((*GRPCServer).Join).desc("Join"),
		rpcMethod((*GRPCServer).Disconnect).desc("Disconnect"),
		rpcMethod((*GRPCServer).Scan).desc("Scan"),
		rpcMethod((*GRPCServer).ScanResults).desc("ScanResults"),
		rpcMethod((*GRPCServer).SetMode).desc("SetMode"),
		rpcMethod((*GRPCServer).SetAP).desc("SetAP"),
		rpcMethod((*GRPCServer).StartProvisioning).desc("StartProvisioning"),
		rpcMethod((*GRPCServer).StopProvisioning).desc("StopProvisioning"),
		rpcMethod((*GRPCServer).SubmitCredentials).desc("SubmitCredentials"),
		rpcMethod((*GRPCServer).SaveConfig).desc("SaveConfig"),
		rpcMethod((*GRPCServer).ReloadConfig).desc("ReloadConfig"),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wifibridge",
}

// GRPC server structure.
type GRPCServer struct {
	RPCPath string
	server  *grpc.Server
}

// Start serving GRPC requests.
func (s *GRPCServer) Serve(li net.Listener) {
	err := s.server.Serve(li)
	if err != nil {
		log.Errorf("Error serving grpc: %v", err)
	}
}

// Stop GRPC server.
func (s *GRPCServer) Close() {
	s.server.Stop()
	if app != nil && app.grpcServer == s {
		app.grpcServer = nil
	}
}

// Start GRPC server.
func NewGRPCServer(rpcPath string) (s *GRPCServer, err error) {
	// Verify another server doesn't exist.
	if app.grpcServer != nil {
		return nil, fmt.Errorf("grpc server is already running")
	}

	// Connect to RPC path.
	li, err := net.Listen("unix", rpcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %v", err)
	}

	// Setup server.
	s = new(GRPCServer)
	s.RPCPath = rpcPath
	s.server = grpc.NewServer()

	// Register the bridge service to this server.
	s.server.RegisterService(&bridgeServiceDesc, s)

	// Update the global app gRPC server.
	app.grpcServer = s

	// Start serving requests.
	go s.Serve(li)
	return s, nil
}

// Map bridge errors onto gRPC status codes.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Unknown
	switch {
	case errors.Is(err, bridge.ErrConfigurationRejected), errors.Is(err, provision.ErrUnsupportedType):
		code = codes.InvalidArgument
	case errors.Is(err, bridge.ErrProvisioningConflict), errors.Is(err, provision.ErrAlreadyActive):
		code = codes.AlreadyExists
	case errors.Is(err, provision.ErrNotListening):
		code = codes.FailedPrecondition
	case errors.Is(err, bridge.ErrLinkUnavailable), errors.Is(err, ErrBridgeStopped):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, bridge.ErrDriverFault), errors.Is(err, bridge.ErrDeliveryFailure):
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// Client for the control service.
type BridgeClient struct {
	conn grpc.ClientConnInterface
}

// Make a client on an open connection.
func NewBridgeClient(conn grpc.ClientConnInterface) *BridgeClient {
	return &BridgeClient{conn: conn}
}

// Call a control method with the supplied fields.
func (c *BridgeClient) Call(ctx context.Context, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = c.conn.Invoke(ctx, "/"+bridgeServiceName+"/"+method, in, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Start a connection to the gRPC Server.
func NewGRPCClient() (c *BridgeClient, conn *grpc.ClientConn, err error) {
	// Read the minimal config.
	config := ReadMinimalConfig()

	// Start an gRPC client connection to the unix socket.
	conn, err = grpc.NewClient(fmt.Sprintf("unix:%s", config.RPCPath), grpc.WithTransportCredentials(insecure.NewCredentials()))

	// If connection is successful, provide client to the bridge service.
	if err == nil {
		c = NewBridgeClient(conn)
	}
	return
}

// Read a string field.
func fieldString(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// Read a boolean field.
func fieldBool(in *structpb.Struct, name string) bool {
	return in.GetFields()[name].GetBoolValue()
}

// Read a numeric field.
func fieldNumber(in *structpb.Struct, name string) float64 {
	return in.GetFields()[name].GetNumberValue()
}

// Read a list of structs.
func fieldStructs(in *structpb.Struct, name string) []*structpb.Struct {
	var out []*structpb.Struct
	for _, v := range in.GetFields()[name].GetListValue().GetValues() {
		if s := v.GetStructValue(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// An empty reply.
func emptyReply() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}
