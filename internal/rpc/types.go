package rpc

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/alive-physics/model"
)

// ErrInvalidArgument marks malformed requests.
var ErrInvalidArgument = errors.New("invalid argument")

// Impulses carries per-actor parallel arrays keyed by actor letter.
type Impulses map[string]model.ActorImpulses

// ToArrays converts wire impulses into canonical-order arrays.
func (im Impulses) ToArrays() (model.ImpulseArrays, error) {
	var arrays model.ImpulseArrays
	for name, a := range im {
		actor, err := model.ParseActor(name)
		if err != nil {
			return model.ImpulseArrays{}, fmt.Errorf("%w: impulses: %v", ErrInvalidArgument, err)
		}
		arrays[actor.Index()] = a
	}
	return arrays, nil
}

// ImpulsesFromArrays is the inverse of Impulses.ToArrays. Actors without
// impulses are omitted.
func ImpulsesFromArrays(arrays model.ImpulseArrays) Impulses {
	out := make(Impulses)
	for _, actor := range model.Actors {
		if a := arrays[actor.Index()]; len(a.Steps) > 0 || len(a.X) > 0 || len(a.Y) > 0 || len(a.Z) > 0 {
			out[actor.String()] = a
		}
	}
	return out
}

// PosesRequest asks for the poses of every actor at TargetStep.
type PosesRequest struct {
	Room       string   `json:"room"`
	TargetStep uint32   `json:"target_step"`
	Impulses   Impulses `json:"impulses,omitempty"`
}

// PosesResponse carries 7 floats per actor in canonical order, or no poses
// when Stale is set.
type PosesResponse struct {
	Stale    bool      `json:"stale"`
	Cursor   uint32    `json:"cursor"`
	CatchUp  uint32    `json:"catch_up"`
	Rendered uint32    `json:"rendered"`
	Poses    []float32 `json:"poses,omitempty"`
}

// SnapshotRequest names the room whose canonical state is wanted.
type SnapshotRequest struct {
	Room string `json:"room"`
}

// Snapshot is an encoded canonical state and the step it corresponds to.
type Snapshot struct {
	Room   string `json:"room,omitempty"`
	Step   uint32 `json:"step"`
	Data   []byte `json:"data"`
	Digest uint64 `json:"digest,omitempty"`
}

// InstallResponse reports the state of a room after an install.
type InstallResponse struct {
	Cursor uint32 `json:"cursor"`
	Digest uint64 `json:"digest"`
}

// CursorRequest names a room.
type CursorRequest struct {
	Room string `json:"room"`
}

// CursorResponse is a room's canonical step.
type CursorResponse struct {
	Cursor uint32 `json:"cursor"`
}

// ReplayRequest flattens NumSteps steps from StartStep into a new snapshot.
// Empty Data replays from the cold-start scene.
type ReplayRequest struct {
	Data      []byte   `json:"data,omitempty"`
	StartStep uint32   `json:"start_step"`
	NumSteps  uint32   `json:"num_steps"`
	Impulses  Impulses `json:"impulses,omitempty"`
}

// RoomCarrier is implemented by every request that targets a room.
type RoomCarrier interface {
	GetRoom() string
}

func (r *PosesRequest) GetRoom() string {
	if r == nil {
		return ""
	}
	return r.Room
}

func (r *SnapshotRequest) GetRoom() string {
	if r == nil {
		return ""
	}
	return r.Room
}

func (r *Snapshot) GetRoom() string {
	if r == nil {
		return ""
	}
	return r.Room
}

func (r *CursorRequest) GetRoom() string {
	if r == nil {
		return ""
	}
	return r.Room
}
