package model

// Impulse is a single push against one actor at a discrete step. Point is
// expressed in the actor body's local frame.
type Impulse struct {
	Actor Actor
	Step  uint32
	Point [3]float32
}

// ActorImpulses is the parallel-array form clients send for one actor:
// element i of each slice together describes one impulse.
type ActorImpulses struct {
	Steps []uint32  `json:"steps,omitempty"`
	X     []float32 `json:"x,omitempty"`
	Y     []float32 `json:"y,omitempty"`
	Z     []float32 `json:"z,omitempty"`
}

// Len returns the number of complete entries, i.e. the shortest of the
// four slices.
func (a ActorImpulses) Len() int {
	n := len(a.Steps)
	for _, l := range []int{len(a.X), len(a.Y), len(a.Z)} {
		if l < n {
			n = l
		}
	}
	return n
}

// Ragged reports whether the four slices disagree in length.
func (a ActorImpulses) Ragged() bool {
	n := len(a.Steps)
	return len(a.X) != n || len(a.Y) != n || len(a.Z) != n
}

// Append adds one impulse entry.
func (a *ActorImpulses) Append(step uint32, x, y, z float32) {
	a.Steps = append(a.Steps, step)
	a.X = append(a.X, x)
	a.Y = append(a.Y, y)
	a.Z = append(a.Z, z)
}

// ImpulseArrays carries the per-actor parallel arrays for a whole query,
// indexed by canonical actor order.
type ImpulseArrays [ActorCount]ActorImpulses

// For returns a pointer to the arrays of actor a.
func (ia *ImpulseArrays) For(a Actor) *ActorImpulses { return &ia[a.Index()] }

// Total counts the complete entries across all actors.
func (ia *ImpulseArrays) Total() int {
	n := 0
	for i := range ia {
		n += ia[i].Len()
	}
	return n
}
