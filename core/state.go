package core

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrBodyNotFound is returned when a handle no longer resolves.
	ErrBodyNotFound = errors.New("body not found")
	// ErrNotDynamic is returned when an impulse targets a fixed body.
	ErrNotDynamic = errors.New("body is not dynamic")
)

// DefaultGravity is the gravity used by new states.
var DefaultGravity = mgl64.Vec3{0, -9.81, 0}

// ImpulseVector returns the impulse applied for every scheduled push. The
// direction supplied by clients only selects the application point.
func ImpulseVector() mgl64.Vec3 { return mgl64.Vec3{0, 0, -0.6} }

// State is the complete simulation world. It exclusively owns every body,
// collider, joint and cache. Stepping is single-threaded and visits objects
// in slot order only, so identical inputs produce bit-identical results.
type State struct {
	Islands     IslandManager
	BroadPhase  BroadPhase
	NarrowPhase NarrowPhase
	Bodies      RigidBodySet
	Colliders   ColliderSet
	Joints      ImpulseJointSet
	CCD         CCDSolver
	Params      IntegrationParameters
	Gravity     mgl64.Vec3
	Floor       float64
}

// NewState returns an empty world with default parameters.
func NewState() *State {
	return &State{
		BroadPhase:  BroadPhase{Margin: 0.05},
		NarrowPhase: NarrowPhase{FloorFriction: 0.6},
		CCD:         CCDSolver{Enabled: true, MaxTravel: 0.25},
		Params:      DefaultIntegrationParameters(),
		Gravity:     DefaultGravity,
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s *State) Clone() *State {
	return &State{
		Islands:     s.Islands.clone(),
		BroadPhase:  s.BroadPhase.clone(),
		NarrowPhase: s.NarrowPhase.clone(),
		Bodies:      s.Bodies.clone(),
		Colliders:   s.Colliders.clone(),
		Joints:      s.Joints.clone(),
		CCD:         s.CCD,
		Params:      s.Params,
		Gravity:     s.Gravity,
		Floor:       s.Floor,
	}
}

// BodyPose returns the position and rotation of a body.
func (s *State) BodyPose(h BodyHandle) (mgl64.Vec3, mgl64.Quat, error) {
	b, ok := s.Bodies.Get(h)
	if !ok {
		return mgl64.Vec3{}, mgl64.Quat{}, fmt.Errorf("%w: %v", ErrBodyNotFound, h)
	}
	return b.Position, b.Rotation, nil
}

// ApplyImpulseAtPoint wakes a dynamic body and applies impulse at a world
// point.
func (s *State) ApplyImpulseAtPoint(h BodyHandle, impulse, point mgl64.Vec3) error {
	b, ok := s.Bodies.Get(h)
	if !ok {
		return fmt.Errorf("%w: %v", ErrBodyNotFound, h)
	}
	if !b.IsDynamic() {
		return fmt.Errorf("%w: %v", ErrNotDynamic, h)
	}
	s.Islands.wake(h, b)
	b.applyImpulse(impulse, point.Sub(b.Position), b.invInertiaWorld())
	return nil
}

// ApplyImpulseAtLocalPoint is ApplyImpulseAtPoint with the point given in
// the body's frame.
func (s *State) ApplyImpulseAtLocalPoint(h BodyHandle, impulse, local mgl64.Vec3) error {
	b, ok := s.Bodies.Get(h)
	if !ok {
		return fmt.Errorf("%w: %v", ErrBodyNotFound, h)
	}
	return s.ApplyImpulseAtPoint(h, impulse, b.Position.Add(b.Rotation.Rotate(local)))
}

// Step advances the world by one fixed timestep.
func (s *State) Step() {
	p := s.Params
	s.Bodies.Each(func(_ BodyHandle, b *RigidBody) {
		if !b.awake() {
			return
		}
		b.LinVel = b.LinVel.Add(s.Gravity.Mul(p.Dt)).Mul(1 / (1 + p.Dt*b.LinearDamping))
		b.AngVel = b.AngVel.Mul(1 / (1 + p.Dt*b.AngularDamping))
	})

	s.BroadPhase.update(&s.Bodies, &s.Colliders)
	s.NarrowPhase.update(s)

	var joints []jointRow
	s.Joints.Each(func(_ JointHandle, j *RevoluteJoint) {
		b1, ok1 := s.Bodies.Get(j.Body1)
		b2, ok2 := s.Bodies.Get(j.Body2)
		if !ok1 || !ok2 || (!b1.awake() && !b2.awake()) {
			return
		}
		joints = append(joints, prepareJoint(j, b1, b2, p))
	})

	var ground RigidBody
	ground.Kind = BodyFixed
	ground.Rotation = mgl64.QuatIdent()
	contacts := make([]contactRow, 0, len(s.NarrowPhase.Contacts))
	for i := range s.NarrowPhase.Contacts {
		c := &s.NarrowPhase.Contacts[i]
		b1, ok := s.Bodies.Get(c.Body1)
		if !ok {
			continue
		}
		b2 := &ground
		if !c.Floor {
			if b2, ok = s.Bodies.Get(c.Body2); !ok {
				continue
			}
		}
		contacts = append(contacts, prepareContact(c, b1, b2, p))
	}

	for i := range joints {
		joints[i].warmStart()
	}
	for i := range contacts {
		contacts[i].warmStart()
	}
	for i := range joints {
		joints[i].motor(p)
	}
	for it := uint32(0); it < p.VelocityIterations; it++ {
		for i := range joints {
			joints[i].solve()
		}
		for i := range contacts {
			contacts[i].solve()
		}
	}

	s.Bodies.Each(func(_ BodyHandle, b *RigidBody) {
		if !b.awake() {
			return
		}
		s.CCD.clamp(b, p.Dt)
		b.Position = b.Position.Add(b.LinVel.Mul(p.Dt))
		spin := mgl64.Quat{V: b.AngVel}.Mul(b.Rotation).Scale(0.5 * p.Dt)
		b.Rotation = b.Rotation.Add(spin).Normalize()
	})

	s.Islands.update(&s.Bodies, p)
}
