package tests

import (
	"context"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/rpc"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
	"github.com/signalsfoundry/alive-physics/rooms"
)

type poseTestEnv struct {
	ctx        context.Context
	cancel     context.CancelFunc
	dir        *rooms.Directory
	grpcServer *grpc.Server
	serveErr   <-chan error
	client     *rpc.PoseServiceClient
}

func newPoseTestEnv(t *testing.T) *poseTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dir := rooms.NewDirectory(rooms.WithWindow(30))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		cancel()
		t.Fatalf("net.Listen: %v", err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		rpc.RecoveryUnaryServerInterceptor(logging.Noop()),
		rpc.RequestIDUnaryServerInterceptor(logging.Noop()),
	))
	rpc.RegisterPoseServiceServer(grpcServer, rpc.NewPoseService(dir, snapshot.Default, logging.Noop()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(lis)
	}()

	conn, err := rpc.Dial(lis.Addr().String())
	if err != nil {
		cancel()
		grpcServer.Stop()
		t.Fatalf("rpc.Dial: %v", err)
	}

	env := &poseTestEnv{
		ctx:        ctx,
		cancel:     cancel,
		dir:        dir,
		grpcServer: grpcServer,
		serveErr:   serveErr,
		client:     rpc.NewPoseServiceClient(conn),
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.GracefulStop()
		cancel()
		if err := <-serveErr; err != nil && err != grpc.ErrServerStopped {
			t.Errorf("gRPC server exited with error: %v", err)
		}
	})
	return env
}

var pushA = rpc.Impulses{"A": {Steps: []uint32{10}, X: []float32{0.1}, Y: []float32{0.2}, Z: []float32{0}}}

func TestE2EWindowedScenario(t *testing.T) {
	env := newPoseTestEnv(t)

	var header metadata.MD
	resp, err := env.client.PosesForStep(env.ctx, &rpc.PosesRequest{Room: "e2e", TargetStep: 50, Impulses: pushA}, grpc.Header(&header))
	if err != nil {
		t.Fatalf("PosesForStep: %v", err)
	}
	if resp.Stale || resp.CatchUp != 20 || resp.Cursor != 20 || resp.Rendered != 30 || len(resp.Poses) != 35 {
		t.Fatalf("PosesForStep(50) = stale %v catch_up %d cursor %d rendered %d poses %d, want 20/20/30/35",
			resp.Stale, resp.CatchUp, resp.Cursor, resp.Rendered, len(resp.Poses))
	}
	if ids := header.Get("x-request-id"); len(ids) == 0 || ids[0] == "" {
		t.Fatalf("response header missing x-request-id: %v", header)
	}

	stale, err := env.client.PosesForStep(env.ctx, &rpc.PosesRequest{Room: "e2e", TargetStep: 20})
	if err != nil {
		t.Fatalf("PosesForStep(20): %v", err)
	}
	if !stale.Stale || len(stale.Poses) != 0 {
		t.Fatalf("PosesForStep(20) = %+v, want stale", stale)
	}

	again, err := env.client.PosesForStep(env.ctx, &rpc.PosesRequest{Room: "e2e", TargetStep: 50, Impulses: pushA})
	if err != nil {
		t.Fatalf("repeat PosesForStep: %v", err)
	}
	if again.CatchUp != 0 || !slices.Equal(again.Poses, resp.Poses) {
		t.Fatalf("repeat query catch_up %d, poses equal %v; want 0 and identical poses",
			again.CatchUp, slices.Equal(again.Poses, resp.Poses))
	}
}

func TestE2ESnapshotHandOff(t *testing.T) {
	env := newPoseTestEnv(t)

	if _, err := env.client.PosesForStep(env.ctx, &rpc.PosesRequest{Room: "origin", TargetStep: 70, Impulses: pushA}); err != nil {
		t.Fatalf("PosesForStep: %v", err)
	}
	snap, err := env.client.GetSnapshot(env.ctx, &rpc.SnapshotRequest{Room: "origin"})
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	installed, err := env.client.InstallSnapshot(env.ctx, &rpc.Snapshot{Room: "replica", Step: snap.Step, Data: snap.Data})
	if err != nil {
		t.Fatalf("InstallSnapshot: %v", err)
	}
	if installed.Cursor != snap.Step || installed.Digest != snap.Digest {
		t.Fatalf("InstallSnapshot = %+v, want cursor %d digest %x", installed, snap.Step, snap.Digest)
	}

	replayed, err := env.client.ReplaySnapshot(env.ctx, &rpc.ReplayRequest{StartStep: 0, NumSteps: snap.Step, Impulses: pushA})
	if err != nil {
		t.Fatalf("ReplaySnapshot: %v", err)
	}
	st, err := snapshot.Decode(replayed.Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	digest, err := snapshot.Digest(st)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if digest != snap.Digest {
		t.Fatalf("server-side replay digest %x, room digest %x", digest, snap.Digest)
	}

	_, err = env.client.InstallSnapshot(env.ctx, &rpc.Snapshot{Room: "replica", Step: 1, Data: []byte("junk")})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("InstallSnapshot(junk) error = %v, want InvalidArgument", err)
	}
	cur, err := env.client.GetCursor(env.ctx, &rpc.CursorRequest{Room: "replica"})
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cur.Cursor != snap.Step {
		t.Fatalf("cursor after rejected install = %d, want %d", cur.Cursor, snap.Step)
	}
}

func TestE2EUnknownRoom(t *testing.T) {
	env := newPoseTestEnv(t)
	_, err := env.client.GetCursor(env.ctx, &rpc.CursorRequest{Room: "ghost"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("GetCursor(ghost) error = %v, want NotFound", err)
	}
}

func TestE2EConcurrentClients(t *testing.T) {
	env := newPoseTestEnv(t)

	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := uint32(5); target <= 100; target += 5 {
				if _, err := env.client.PosesForStep(env.ctx, &rpc.PosesRequest{Room: "shared", TargetStep: target}); err != nil {
					t.Errorf("PosesForStep(%d): %v", target, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	cur, err := env.client.GetCursor(env.ctx, &rpc.CursorRequest{Room: "shared"})
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cur.Cursor != 70 {
		t.Fatalf("cursor = %d, want 70", cur.Cursor)
	}
}
