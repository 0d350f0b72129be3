package state

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/alive-physics/core"
	"github.com/signalsfoundry/alive-physics/internal/impulse"
	"github.com/signalsfoundry/alive-physics/internal/registry"
)

// AdvanceState runs steps fixed steps on st starting at step from. Before
// each step's integration every impulse sched keys at that step is applied
// at its body-local point with core.ImpulseVector. Impulses at other steps
// are ignored. It returns the number of impulses applied.
//
// Actor handles are resolved once up front; stepping never changes the
// body set, so they stay valid for the whole run. A registry violation is
// returned before st is touched.
func AdvanceState(st *core.State, from, steps uint32, sched *impulse.Schedule) (int, error) {
	if steps == 0 {
		return 0, nil
	}
	reg, err := registry.Resolve(st)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := uint32(0); i < steps; i++ {
		for _, imp := range sched.At(from + i) {
			h, err := reg.Handle(imp.Actor)
			if err != nil {
				return applied, err
			}
			point := mgl64.Vec3{float64(imp.Point[0]), float64(imp.Point[1]), float64(imp.Point[2])}
			if err := st.ApplyImpulseAtLocalPoint(h, core.ImpulseVector(), point); err != nil {
				return applied, err
			}
			applied++
		}
		st.Step()
	}
	return applied, nil
}
