package hopspb

import (
	"context"

	"google.golang.org/grpc"
)

// ControlServer is the service interface implemented by pkg/control.
// It mirrors what protoc-gen-go-grpc would emit for the surface in
// §4.3, hand-written because the message types here are plain JSON
// structs rather than protoc-generated proto.Message values.
type ControlServer interface {
	RunSandbox(context.Context, *RunRequest) (*RunResponse, error)
	RunSandboxStreaming(ControlRunSandboxStreamingServer) error
	StopSandbox(context.Context, *StopRequest) (*StopResponse, error)
	ListSandboxes(context.Context, *ListRequest) (*ListResponse, error)
	GetStatus(context.Context, *StatusRequest) (*SandboxStatus, error)
	GetEngineStatus(context.Context, *EngineStatusRequest) (*EngineStatusResponse, error)
}

// ControlRunSandboxStreamingServer is the server-side view of the
// bidirectional RunSandboxStreaming call.
type ControlRunSandboxStreamingServer interface {
	Send(*OutputChunk) error
	Recv() (*InputChunk, error)
	grpc.ServerStream
}

type controlRunSandboxStreamingServer struct {
	grpc.ServerStream
}

func (s *controlRunSandboxStreamingServer) Send(m *OutputChunk) error {
	return s.ServerStream.SendMsg(m)
}

func (s *controlRunSandboxStreamingServer) Recv() (*InputChunk, error) {
	m := new(InputChunk)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Control_RunSandbox_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).RunSandbox(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hopspb.Control/RunSandbox"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).RunSandbox(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_StopSandbox_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StopRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).StopSandbox(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hopspb.Control/StopSandbox"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).StopSandbox(ctx, req.(*StopRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_ListSandboxes_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).ListSandboxes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hopspb.Control/ListSandboxes"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).ListSandboxes(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hopspb.Control/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).GetStatus(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_GetEngineStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(EngineStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).GetEngineStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/hopspb.Control/GetEngineStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).GetEngineStatus(ctx, req.(*EngineStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Control_RunSandboxStreaming_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).RunSandboxStreaming(&controlRunSandboxStreamingServer{stream})
}

// ControlServiceDesc is the grpc service descriptor for the Control
// Service (§4.3). It is handwritten in place of protoc-gen-go-grpc
// output but otherwise follows the exact shape that tool emits.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: "hopspb.Control",
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunSandbox", Handler: _Control_RunSandbox_Handler},
		{MethodName: "StopSandbox", Handler: _Control_StopSandbox_Handler},
		{MethodName: "ListSandboxes", Handler: _Control_ListSandboxes_Handler},
		{MethodName: "GetStatus", Handler: _Control_GetStatus_Handler},
		{MethodName: "GetEngineStatus", Handler: _Control_GetEngineStatus_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "RunSandboxStreaming",
			Handler:       _Control_RunSandboxStreaming_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "hopspb/control.proto",
}

// RegisterControlServer is the handwritten equivalent of the
// protoc-gen-go-grpc registration helper.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// ControlClient is the client-side view of the Control Service.
type ControlClient interface {
	RunSandbox(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunResponse, error)
	RunSandboxStreaming(ctx context.Context, opts ...grpc.CallOption) (ControlRunSandboxStreamingClient, error)
	StopSandbox(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error)
	ListSandboxes(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error)
	GetStatus(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*SandboxStatus, error)
	GetEngineStatus(ctx context.Context, in *EngineStatusRequest, opts ...grpc.CallOption) (*EngineStatusResponse, error)
}

type controlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps a ClientConn. Callers should pass
// grpc.CallContentSubtype(hopspb.CodecName) among opts (or set it as a
// default call option at Dial time) so the registered JSON codec is
// selected instead of the grpc-go default protobuf codec.
func NewControlClient(cc grpc.ClientConnInterface) ControlClient {
	return &controlClient{cc}
}

func (c *controlClient) RunSandbox(ctx context.Context, in *RunRequest, opts ...grpc.CallOption) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.cc.Invoke(ctx, "/hopspb.Control/RunSandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) StopSandbox(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error) {
	out := new(StopResponse)
	if err := c.cc.Invoke(ctx, "/hopspb.Control/StopSandbox", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) ListSandboxes(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.cc.Invoke(ctx, "/hopspb.Control/ListSandboxes", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) GetStatus(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*SandboxStatus, error) {
	out := new(SandboxStatus)
	if err := c.cc.Invoke(ctx, "/hopspb.Control/GetStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlClient) GetEngineStatus(ctx context.Context, in *EngineStatusRequest, opts ...grpc.CallOption) (*EngineStatusResponse, error) {
	out := new(EngineStatusResponse)
	if err := c.cc.Invoke(ctx, "/hopspb.Control/GetEngineStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ControlRunSandboxStreamingClient is the client-side view of the
// bidirectional RunSandboxStreaming call.
type ControlRunSandboxStreamingClient interface {
	Send(*InputChunk) error
	Recv() (*OutputChunk, error)
	grpc.ClientStream
}

type controlRunSandboxStreamingClient struct {
	grpc.ClientStream
}

func (x *controlRunSandboxStreamingClient) Send(m *InputChunk) error {
	return x.ClientStream.SendMsg(m)
}

func (x *controlRunSandboxStreamingClient) Recv() (*OutputChunk, error) {
	m := new(OutputChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *controlClient) RunSandboxStreaming(ctx context.Context, opts ...grpc.CallOption) (ControlRunSandboxStreamingClient, error) {
	stream, err := c.cc.NewStream(ctx, &ControlServiceDesc.Streams[0], "/hopspb.Control/RunSandboxStreaming", opts...)
	if err != nil {
		return nil, err
	}
	return &controlRunSandboxStreamingClient{stream}, nil
}
