package rpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/alive-physics/internal/impulse"
	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/sim/state"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
	"github.com/signalsfoundry/alive-physics/rooms"
)

// PoseService implements PoseServiceServer on top of a room directory.
// Pose queries and installs open a room on first use; the read-only calls
// require the room to exist.
type PoseService struct {
	dir            *rooms.Directory
	codec          snapshot.Codec
	log            logging.Logger
	maxReplaySteps uint32
}

var _ PoseServiceServer = (*PoseService)(nil)

// PoseServiceOption customises a PoseService.
type PoseServiceOption func(*PoseService)

// WithMaxReplaySteps caps num_steps on ReplaySnapshot. Zero leaves the
// default in place.
func WithMaxReplaySteps(n uint32) PoseServiceOption {
	return func(s *PoseService) {
		if n > 0 {
			s.maxReplaySteps = n
		}
	}
}

// DefaultMaxReplaySteps bounds ReplaySnapshot when no limit is configured:
// ten minutes of simulation at 60 steps a second.
const DefaultMaxReplaySteps uint32 = 36000

// NewPoseService wires a PoseService to dir and an optional logger.
func NewPoseService(dir *rooms.Directory, codec snapshot.Codec, log logging.Logger, opts ...PoseServiceOption) *PoseService {
	if log == nil {
		log = logging.Noop()
	}
	s := &PoseService{dir: dir, codec: codec, log: log, maxReplaySteps: DefaultMaxReplaySteps}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PoseService) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

func roomID(room string) (string, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return "", fmt.Errorf("%w: room is required", ErrInvalidArgument)
	}
	return room, nil
}

func (s *PoseService) PosesForStep(ctx context.Context, req *PosesRequest) (*PosesResponse, error) {
	if req == nil {
		return nil, ToStatusError(ctx, fmt.Errorf("%w: request is required", ErrInvalidArgument))
	}
	id, err := roomID(req.Room)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	ctx = logging.ContextWithRoom(ctx, id)

	arrays, err := req.Impulses.ToArrays()
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	room, err := s.dir.Open(ctx, id)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	res, err := room.PosesForStep(ctx, req.TargetStep, arrays)
	if err != nil {
		s.logger(ctx).Warn(ctx, "pose query failed",
			logging.Step("target", req.TargetStep),
			logging.Err(err),
		)
		return nil, ToStatusError(ctx, err)
	}

	return &PosesResponse{
		Stale:    res.Stale,
		Cursor:   res.Cursor,
		CatchUp:  res.CatchUp,
		Rendered: res.Rendered,
		Poses:    res.Flatten(),
	}, nil
}

func (s *PoseService) GetSnapshot(ctx context.Context, req *SnapshotRequest) (*Snapshot, error) {
	if req == nil {
		return nil, ToStatusError(ctx, fmt.Errorf("%w: request is required", ErrInvalidArgument))
	}
	id, err := roomID(req.Room)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	ctx = logging.ContextWithRoom(ctx, id)

	room, err := s.dir.Get(id)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	data, step, digest, err := room.Store().Export(ctx)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	return &Snapshot{Room: id, Step: step, Data: data, Digest: digest}, nil
}

func (s *PoseService) InstallSnapshot(ctx context.Context, req *Snapshot) (*InstallResponse, error) {
	if req == nil {
		return nil, ToStatusError(ctx, fmt.Errorf("%w: snapshot is required", ErrInvalidArgument))
	}
	id, err := roomID(req.Room)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	ctx = logging.ContextWithRoom(ctx, id)
	if len(req.Data) == 0 {
		return nil, ToStatusError(ctx, fmt.Errorf("%w: snapshot data is required", ErrInvalidArgument))
	}

	room, err := s.dir.Open(ctx, id)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	if err := room.Install(ctx, req.Data, req.Step); err != nil {
		return nil, ToStatusError(ctx, err)
	}
	digest, cursor, err := room.Store().Digest()
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	s.logger(ctx).Info(ctx, "snapshot installed",
		logging.Step("cursor", cursor),
		logging.Int("bytes", len(req.Data)),
	)
	return &InstallResponse{Cursor: cursor, Digest: digest}, nil
}

func (s *PoseService) GetCursor(ctx context.Context, req *CursorRequest) (*CursorResponse, error) {
	if req == nil {
		return nil, ToStatusError(ctx, fmt.Errorf("%w: request is required", ErrInvalidArgument))
	}
	id, err := roomID(req.Room)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	room, err := s.dir.Get(id)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	return &CursorResponse{Cursor: room.Cursor()}, nil
}

func (s *PoseService) ReplaySnapshot(ctx context.Context, req *ReplayRequest) (*Snapshot, error) {
	if req == nil {
		return nil, ToStatusError(ctx, fmt.Errorf("%w: request is required", ErrInvalidArgument))
	}
	if req.NumSteps > s.maxReplaySteps {
		return nil, ToStatusError(ctx, fmt.Errorf("%w: num_steps %d exceeds limit %d", ErrInvalidArgument, req.NumSteps, s.maxReplaySteps))
	}
	arrays, err := req.Impulses.ToArrays()
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	sched, err := impulse.Build(arrays)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}

	data, end, err := state.Replay(ctx, s.codec, req.Data, req.StartStep, req.NumSteps, sched)
	if err != nil {
		return nil, ToStatusError(ctx, err)
	}
	s.logger(ctx).Debug(ctx, "replayed snapshot",
		logging.Step("start", req.StartStep),
		logging.Step("end", end),
		logging.Int("impulses", sched.Len()),
	)
	return &Snapshot{Step: end, Data: data}, nil
}
