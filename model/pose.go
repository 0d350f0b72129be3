package model

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl64"
)

// PoseFloats is the number of float32 values emitted per actor:
// translation x, y, z followed by quaternion x, y, z, w.
const PoseFloats = 7

// Pose is the world-space placement of one actor's body.
type Pose struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
}

// AppendFloats appends the pose in wire order.
func (p Pose) AppendFloats(dst []float32) []float32 {
	return append(dst,
		float32(p.Translation[0]),
		float32(p.Translation[1]),
		float32(p.Translation[2]),
		float32(p.Rotation.V[0]),
		float32(p.Rotation.V[1]),
		float32(p.Rotation.V[2]),
		float32(p.Rotation.W),
	)
}

// PoseSet holds one pose per actor, indexed by canonical order.
type PoseSet [ActorCount]Pose

// Get returns the pose for a.
func (s *PoseSet) Get(a Actor) Pose { return s[a.Index()] }

// Set stores the pose for a.
func (s *PoseSet) Set(a Actor, p Pose) { s[a.Index()] = p }

// Flatten returns the wire layout: 7 floats per actor, canonical order.
func (s *PoseSet) Flatten() []float32 {
	out := make([]float32, 0, ActorCount*PoseFloats)
	for i := range s {
		out = s[i].AppendFloats(out)
	}
	return out
}

// PoseSetFromFloats rebuilds a pose set from its wire layout. It reports
// false when the slice has the wrong length or carries non-finite values.
func PoseSetFromFloats(v []float32) (PoseSet, bool) {
	var set PoseSet
	if len(v) != ActorCount*PoseFloats {
		return set, false
	}
	for _, f := range v {
		if math32.IsNaN(f) || math32.IsInf(f, 0) {
			return set, false
		}
	}
	for i := range set {
		o := i * PoseFloats
		set[i] = Pose{
			Translation: mgl64.Vec3{float64(v[o]), float64(v[o+1]), float64(v[o+2])},
			Rotation: mgl64.Quat{
				W: float64(v[o+6]),
				V: mgl64.Vec3{float64(v[o+3]), float64(v[o+4]), float64(v[o+5])},
			},
		}
	}
	return set, true
}
