package state

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/alive-physics/core"
	"github.com/signalsfoundry/alive-physics/internal/impulse"
	"github.com/signalsfoundry/alive-physics/internal/observability"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
)

// ReplayCheckInterval is the number of steps Replay runs between
// cancellation checks.
const ReplayCheckInterval uint32 = 1024

// Replay flattens a run of steps into a new snapshot without touching any
// store: it decodes data (or builds the cold-start scene when data is
// empty), advances it steps from start with the impulses of that range and
// returns the encoded result together with the step it corresponds to.
// ctx is checked every ReplayCheckInterval steps; a cancelled replay
// returns ctx.Err() and no snapshot.
func Replay(ctx context.Context, codec snapshot.Codec, data []byte, start, steps uint32, sched *impulse.Schedule) ([]byte, uint32, error) {
	_, span := observability.StartSpan(ctx, "state.Replay", "")
	defer span.End()

	if uint64(start)+uint64(steps) > math.MaxUint32 {
		return nil, 0, fmt.Errorf("%w: start %d + %d steps", ErrStepOverflow, start, steps)
	}

	var (
		st  *core.State
		err error
	)
	if len(data) == 0 {
		st, err = core.NewScene()
		if err != nil {
			return nil, 0, fmt.Errorf("build scene: %w", err)
		}
	} else if st, err = codec.Decode(data); err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	end := start + steps
	sched = sched.Range(start, end)
	for at := start; at < end; {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, 0, err
		}
		n := min(end-at, ReplayCheckInterval)
		if _, err := AdvanceState(st, at, n, sched); err != nil {
			span.RecordError(err)
			return nil, 0, err
		}
		at += n
	}
	out, err := codec.Encode(st)
	if err != nil {
		return nil, 0, fmt.Errorf("encode snapshot: %w", err)
	}
	return out, end, nil
}
