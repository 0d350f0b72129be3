package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a plaintext connection that speaks the PoseService codec.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	return grpc.NewClient(target, append(base, opts...)...)
}

// PoseServiceClient is the client API for PoseService.
type PoseServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPoseServiceClient wraps cc.
func NewPoseServiceClient(cc grpc.ClientConnInterface) *PoseServiceClient {
	return &PoseServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PoseServiceClient) PosesForStep(ctx context.Context, in *PosesRequest, opts ...grpc.CallOption) (*PosesResponse, error) {
	return invoke[PosesResponse](ctx, c.cc, PosesForStepFullMethod, in, opts)
}

func (c *PoseServiceClient) GetSnapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*Snapshot, error) {
	return invoke[Snapshot](ctx, c.cc, GetSnapshotFullMethod, in, opts)
}

func (c *PoseServiceClient) InstallSnapshot(ctx context.Context, in *Snapshot, opts ...grpc.CallOption) (*InstallResponse, error) {
	return invoke[InstallResponse](ctx, c.cc, InstallSnapshotFullMethod, in, opts)
}

func (c *PoseServiceClient) GetCursor(ctx context.Context, in *CursorRequest, opts ...grpc.CallOption) (*CursorResponse, error) {
	return invoke[CursorResponse](ctx, c.cc, GetCursorFullMethod, in, opts)
}

func (c *PoseServiceClient) ReplaySnapshot(ctx context.Context, in *ReplayRequest, opts ...grpc.CallOption) (*Snapshot, error) {
	return invoke[Snapshot](ctx, c.cc, ReplaySnapshotFullMethod, in, opts)
}
