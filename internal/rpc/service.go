package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alive.physics.v1.PoseService"

const (
	PosesForStepFullMethod    = "/" + ServiceName + "/PosesForStep"
	GetSnapshotFullMethod     = "/" + ServiceName + "/GetSnapshot"
	InstallSnapshotFullMethod = "/" + ServiceName + "/InstallSnapshot"
	GetCursorFullMethod       = "/" + ServiceName + "/GetCursor"
	ReplaySnapshotFullMethod  = "/" + ServiceName + "/ReplaySnapshot"
)

// PoseServiceServer is the server API for PoseService.
type PoseServiceServer interface {
	PosesForStep(context.Context, *PosesRequest) (*PosesResponse, error)
	GetSnapshot(context.Context, *SnapshotRequest) (*Snapshot, error)
	InstallSnapshot(context.Context, *Snapshot) (*InstallResponse, error)
	GetCursor(context.Context, *CursorRequest) (*CursorResponse, error)
	ReplaySnapshot(context.Context, *ReplayRequest) (*Snapshot, error)
}

// PoseServiceDesc describes PoseService for grpc.Server.RegisterService.
var PoseServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PoseServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PosesForStep", Handler: unaryHandler(PosesForStepFullMethod, PoseServiceServer.PosesForStep)},
		{MethodName: "GetSnapshot", Handler: unaryHandler(GetSnapshotFullMethod, PoseServiceServer.GetSnapshot)},
		{MethodName: "InstallSnapshot", Handler: unaryHandler(InstallSnapshotFullMethod, PoseServiceServer.InstallSnapshot)},
		{MethodName: "GetCursor", Handler: unaryHandler(GetCursorFullMethod, PoseServiceServer.GetCursor)},
		{MethodName: "ReplaySnapshot", Handler: unaryHandler(ReplaySnapshotFullMethod, PoseServiceServer.ReplaySnapshot)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "alive/physics/v1/pose_service",
}

// RegisterPoseServiceServer registers srv on s.
func RegisterPoseServiceServer(s grpc.ServiceRegistrar, srv PoseServiceServer) {
	s.RegisterService(&PoseServiceDesc, srv)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(PoseServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PoseServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PoseServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
