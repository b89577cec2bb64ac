package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"regbroker/internal/apperror"
)

// ServiceName is the fully qualified gRPC service name, matching
// api/broker/v1/broker.proto.
const ServiceName = "broker.v1.Broker"

// BrokerServer is the broker's gRPC service contract (spec §6). Register and
// the two Watch RPCs are server-streaming; everything else is unary.
type BrokerServer interface {
	Register(req *RegisterRequest, stream RegisterServer) error
	Unregister(ctx context.Context, req *UnregisterRequest) (*UnregisterResponse, error)

	ListServices(ctx context.Context, req *ListServicesRequest) (*ListServicesResponse, error)
	ListModules(ctx context.Context, req *ListModulesRequest) (*ListModulesResponse, error)
	GetService(ctx context.Context, req *GetServiceRequest) (*GetServiceResponse, error)
	GetModule(ctx context.Context, req *GetModuleRequest) (*GetModuleResponse, error)
	ResolveService(ctx context.Context, req *ResolveServiceRequest) (*ResolveServiceResponse, error)

	WatchServices(req *WatchServicesRequest, stream WatchServicesServer) error
	WatchModules(req *WatchModulesRequest, stream WatchModulesServer) error

	GetModuleSchema(ctx context.Context, req *GetModuleSchemaRequest) (*GetModuleSchemaResponse, error)
	GetModuleSchemaVersions(ctx context.Context, req *GetModuleSchemaVersionsRequest) (*GetModuleSchemaVersionsResponse, error)
}

// RegisterServer is the server side of Register's response stream.
type RegisterServer interface {
	Send(*RegisterResponse) error
	grpc.ServerStream
}

type registerServer struct{ grpc.ServerStream }

func (s *registerServer) Send(m *RegisterResponse) error { return s.SendMsg(m) }

// WatchServicesServer is the server side of WatchServices' response stream.
type WatchServicesServer interface {
	Send(*WatchSnapshot) error
	grpc.ServerStream
}

type watchServicesServer struct{ grpc.ServerStream }

func (s *watchServicesServer) Send(m *WatchSnapshot) error { return s.SendMsg(m) }

// WatchModulesServer is the server side of WatchModules' response stream.
type WatchModulesServer interface {
	Send(*WatchSnapshot) error
	grpc.ServerStream
}

type watchModulesServer struct{ grpc.ServerStream }

func (s *watchModulesServer) Send(m *WatchSnapshot) error { return s.SendMsg(m) }

func registerHandler(srv any, stream grpc.ServerStream) error {
	m := new(RegisterRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	err := srv.(BrokerServer).Register(m, &registerServer{stream})
	return apperror.ToGRPC(err)
}

func watchServicesHandler(srv any, stream grpc.ServerStream) error {
	m := new(WatchServicesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	err := srv.(BrokerServer).WatchServices(m, &watchServicesServer{stream})
	return apperror.ToGRPC(err)
}

func watchModulesHandler(srv any, stream grpc.ServerStream) error {
	m := new(WatchModulesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	err := srv.(BrokerServer).WatchModules(m, &watchModulesServer{stream})
	return apperror.ToGRPC(err)
}

func unregisterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UnregisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Unregister(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Unregister"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Unregister(ctx, req.(*UnregisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listServicesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListServicesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).ListServices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListServices"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).ListServices(ctx, req.(*ListServicesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listModulesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListModulesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).ListModules(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListModules"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).ListModules(ctx, req.(*ListModulesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getServiceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetServiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).GetService(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetService"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).GetService(ctx, req.(*GetServiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getModuleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetModuleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).GetModule(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetModule"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).GetModule(ctx, req.(*GetModuleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveServiceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResolveServiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).ResolveService(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ResolveService"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).ResolveService(ctx, req.(*ResolveServiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getModuleSchemaHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetModuleSchemaRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).GetModuleSchema(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetModuleSchema"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).GetModuleSchema(ctx, req.(*GetModuleSchemaRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getModuleSchemaVersionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetModuleSchemaVersionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).GetModuleSchemaVersions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetModuleSchemaVersions"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).GetModuleSchemaVersions(ctx, req.(*GetModuleSchemaVersionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would generate from api/broker/v1/broker.proto; see internal/codec's
// doc comment for why no codegen step runs in this repo.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Unregister", Handler: unregisterHandler},
		{MethodName: "ListServices", Handler: listServicesHandler},
		{MethodName: "ListModules", Handler: listModulesHandler},
		{MethodName: "GetService", Handler: getServiceHandler},
		{MethodName: "GetModule", Handler: getModuleHandler},
		{MethodName: "ResolveService", Handler: resolveServiceHandler},
		{MethodName: "GetModuleSchema", Handler: getModuleSchemaHandler},
		{MethodName: "GetModuleSchemaVersions", Handler: getModuleSchemaVersionsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Register", Handler: registerHandler, ServerStreams: true},
		{StreamName: "WatchServices", Handler: watchServicesHandler, ServerStreams: true},
		{StreamName: "WatchModules", Handler: watchModulesHandler, ServerStreams: true},
	},
	Metadata: "broker/v1/broker.proto",
}

// RegisterBrokerServer registers srv with s under ServiceName.
func RegisterBrokerServer(s *grpc.Server, srv BrokerServer) {
	s.RegisterService(&serviceDesc, srv)
}
