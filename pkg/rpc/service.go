package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service both the discovery
// servers and the router peer expose.
const ServiceName = "beacon.Discovery"

const (
	methodManager     = "/" + ServiceName + "/Manager"
	methodQuery       = "/" + ServiceName + "/Query"
	methodNaming      = "/" + ServiceName + "/Naming"
	methodRegister    = "/" + ServiceName + "/Register"
	methodUpdate      = "/" + ServiceName + "/Update"
	methodCancel      = "/" + ServiceName + "/Cancel"
	methodTso         = "/" + ServiceName + "/Tso"
	methodRaftControl = "/" + ServiceName + "/RaftControl"
	methodWatch       = "/" + ServiceName + "/Watch"
)

// DiscoveryServer is the method surface of a Beacon peer. The discovery
// service front-end and the router peer both implement it.
type DiscoveryServer interface {
	Manager(ctx context.Context, req *ManagerRequest) (*ManagerResponse, error)
	Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error)
	Naming(ctx context.Context, req *NamingRequest) (*NamingResponse, error)
	Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
	Update(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
	Cancel(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
	Tso(ctx context.Context, req *TsoRequest) (*TsoResponse, error)
	RaftControl(ctx context.Context, req *RaftControlRequest) (*RaftControlResponse, error)
	Watch(req *WatchRequest, stream DiscoveryWatchServer) error
}

// DiscoveryWatchServer is the server side of the Watch stream.
type DiscoveryWatchServer interface {
	Send(*WatchEvent) error
	grpc.ServerStream
}

type discoveryWatchServer struct {
	grpc.ServerStream
}

func (s *discoveryWatchServer) Send(ev *WatchEvent) error {
	return s.ServerStream.SendMsg(ev)
}

func unaryHandler[Req any, Resp any](
	fullMethod string,
	call func(srv DiscoveryServer, ctx context.Context, req *Req) (*Resp, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DiscoveryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(DiscoveryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(DiscoveryServer).Watch(req, &discoveryWatchServer{stream})
}

// DiscoveryServiceDesc is the hand-written service descriptor; it plays
// the role protoc-generated registration code usually plays.
var DiscoveryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiscoveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Manager", Handler: unaryHandler(methodManager, DiscoveryServer.Manager)},
		{MethodName: "Query", Handler: unaryHandler(methodQuery, DiscoveryServer.Query)},
		{MethodName: "Naming", Handler: unaryHandler(methodNaming, DiscoveryServer.Naming)},
		{MethodName: "Register", Handler: unaryHandler(methodRegister, DiscoveryServer.Register)},
		{MethodName: "Update", Handler: unaryHandler(methodUpdate, DiscoveryServer.Update)},
		{MethodName: "Cancel", Handler: unaryHandler(methodCancel, DiscoveryServer.Cancel)},
		{MethodName: "Tso", Handler: unaryHandler(methodTso, DiscoveryServer.Tso)},
		{MethodName: "RaftControl", Handler: unaryHandler(methodRaftControl, DiscoveryServer.RaftControl)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "beacon/discovery",
}

// RegisterDiscoveryServer registers srv on a gRPC server.
func RegisterDiscoveryServer(s *grpc.Server, srv DiscoveryServer) {
	s.RegisterService(&DiscoveryServiceDesc, srv)
}

// DiscoveryClient invokes the Beacon method surface over one connection.
type DiscoveryClient struct {
	cc *grpc.ClientConn
}

// NewDiscoveryClient wraps an established connection.
func NewDiscoveryClient(cc *grpc.ClientConn) *DiscoveryClient {
	return &DiscoveryClient{cc: cc}
}

func invoke[Req any, Resp any](ctx context.Context, cc *grpc.ClientConn, method string, req *Req) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, req, out, CallOptions()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DiscoveryClient) Manager(ctx context.Context, req *ManagerRequest) (*ManagerResponse, error) {
	return invoke[ManagerRequest, ManagerResponse](ctx, c.cc, methodManager, req)
}

func (c *DiscoveryClient) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	return invoke[QueryRequest, QueryResponse](ctx, c.cc, methodQuery, req)
}

func (c *DiscoveryClient) Naming(ctx context.Context, req *NamingRequest) (*NamingResponse, error) {
	return invoke[NamingRequest, NamingResponse](ctx, c.cc, methodNaming, req)
}

func (c *DiscoveryClient) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	return invoke[RegisterRequest, RegisterResponse](ctx, c.cc, methodRegister, req)
}

func (c *DiscoveryClient) Update(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	return invoke[RegisterRequest, RegisterResponse](ctx, c.cc, methodUpdate, req)
}

func (c *DiscoveryClient) Cancel(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	return invoke[RegisterRequest, RegisterResponse](ctx, c.cc, methodCancel, req)
}

func (c *DiscoveryClient) Tso(ctx context.Context, req *TsoRequest) (*TsoResponse, error) {
	return invoke[TsoRequest, TsoResponse](ctx, c.cc, methodTso, req)
}

func (c *DiscoveryClient) RaftControl(ctx context.Context, req *RaftControlRequest) (*RaftControlResponse, error) {
	return invoke[RaftControlRequest, RaftControlResponse](ctx, c.cc, methodRaftControl, req)
}

var watchStreamDesc = grpc.StreamDesc{
	StreamName:    "Watch",
	ServerStreams: true,
}

// DiscoveryWatchClient receives events from the Watch stream.
type DiscoveryWatchClient struct {
	grpc.ClientStream
}

// Recv blocks for the next event.
func (c *DiscoveryWatchClient) Recv() (*WatchEvent, error) {
	ev := new(WatchEvent)
	if err := c.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Watch opens the event stream.
func (c *DiscoveryClient) Watch(ctx context.Context, req *WatchRequest) (*DiscoveryWatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &watchStreamDesc, methodWatch, CallOptions()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &DiscoveryWatchClient{stream}, nil
}
