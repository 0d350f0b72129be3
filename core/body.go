package core

import "github.com/go-gl/mathgl/mgl64"

// BodyKind distinguishes simulated bodies from immovable ones.
type BodyKind uint8

const (
	BodyDynamic BodyKind = iota
	BodyFixed
)

func (k BodyKind) String() string {
	if k == BodyFixed {
		return "fixed"
	}
	return "dynamic"
}

// BodyHandle addresses a body in a RigidBodySet.
type BodyHandle Handle

// RigidBody is a single rigid body. Mass properties are derived from the
// attached colliders.
type RigidBody struct {
	Kind     BodyKind
	UserData uint64

	Position mgl64.Vec3
	Rotation mgl64.Quat
	LinVel   mgl64.Vec3
	AngVel   mgl64.Vec3

	InvMass float64
	// InvInertia is the diagonal of the inverse inertia tensor in the body
	// frame.
	InvInertia mgl64.Vec3

	LinearDamping  float64
	AngularDamping float64

	Sleeping  bool
	Colliders []ColliderHandle
}

// IsDynamic reports whether the body is simulated.
func (b *RigidBody) IsDynamic() bool { return b.Kind == BodyDynamic }

// awake reports whether the solver should move the body this step.
func (b *RigidBody) awake() bool { return b.Kind == BodyDynamic && !b.Sleeping }

func (b *RigidBody) effectiveInvMass() float64 {
	if !b.awake() {
		return 0
	}
	return b.InvMass
}

// invInertiaWorld returns R * diag(InvInertia) * R^T, or zero for bodies
// the solver must not move.
func (b *RigidBody) invInertiaWorld() mgl64.Mat3 {
	if !b.awake() {
		return mgl64.Mat3{}
	}
	r := b.Rotation.Mat4().Mat3()
	return r.Mul3(mgl64.Diag3(b.InvInertia)).Mul3(r.Transpose())
}

// velocityAt returns the world velocity of the body point at world offset r
// from its centre.
func (b *RigidBody) velocityAt(r mgl64.Vec3) mgl64.Vec3 {
	return b.LinVel.Add(b.AngVel.Cross(r))
}

// applyImpulse changes momentum by j at world offset r from the centre.
func (b *RigidBody) applyImpulse(j, r mgl64.Vec3, invInertia mgl64.Mat3) {
	if !b.awake() {
		return
	}
	b.LinVel = b.LinVel.Add(j.Mul(b.InvMass))
	b.AngVel = b.AngVel.Add(invInertia.Mul3x1(r.Cross(j)))
}

func (b RigidBody) clone() RigidBody {
	b.Colliders = append([]ColliderHandle(nil), b.Colliders...)
	return b
}

// NewDynamicBody returns an awake dynamic body at rest.
func NewDynamicBody(position mgl64.Vec3) RigidBody {
	return RigidBody{
		Kind:           BodyDynamic,
		Position:       position,
		Rotation:       mgl64.QuatIdent(),
		LinearDamping:  0.1,
		AngularDamping: 0.4,
	}
}

// NewFixedBody returns an immovable body.
func NewFixedBody(position mgl64.Vec3) RigidBody {
	return RigidBody{
		Kind:     BodyFixed,
		Position: position,
		Rotation: mgl64.QuatIdent(),
	}
}

// RigidBodySet owns every body of a State.
type RigidBodySet struct {
	arena arena[RigidBody]
}

// Insert adds a body and returns its handle.
func (s *RigidBodySet) Insert(b RigidBody) BodyHandle {
	if b.Rotation == (mgl64.Quat{}) {
		b.Rotation = mgl64.QuatIdent()
	}
	return BodyHandle(s.arena.insert(b))
}

// Get returns the body for h. The pointer is only valid until the next
// structural change of the set.
func (s *RigidBodySet) Get(h BodyHandle) (*RigidBody, bool) {
	return s.arena.get(Handle(h))
}

// Remove deletes the body for h. Attached colliders are not removed.
func (s *RigidBodySet) Remove(h BodyHandle) (RigidBody, bool) {
	return s.arena.remove(Handle(h))
}

// Len returns the number of live bodies.
func (s *RigidBodySet) Len() int { return s.arena.live }

// Each visits live bodies in slot order.
func (s *RigidBodySet) Each(fn func(h BodyHandle, b *RigidBody)) {
	s.arena.each(func(h Handle, b *RigidBody) { fn(BodyHandle(h), b) })
}

func (s *RigidBodySet) clone() RigidBodySet {
	return RigidBodySet{arena: s.arena.clone(RigidBody.clone)}
}
