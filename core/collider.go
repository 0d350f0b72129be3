package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ColliderHandle addresses a collider in a ColliderSet.
type ColliderHandle Handle

// Cuboid is a box-shaped convex hull placed at Offset in its parent's frame.
type Cuboid struct {
	Offset      mgl64.Vec3
	HalfExtents mgl64.Vec3
}

// Vertices returns the eight hull corners in the parent body's frame, in a
// fixed order.
func (c Cuboid) Vertices() [8]mgl64.Vec3 {
	var out [8]mgl64.Vec3
	for i := 0; i < 8; i++ {
		sx, sy, sz := 1.0, 1.0, 1.0
		if i&1 != 0 {
			sx = -1
		}
		if i&2 != 0 {
			sy = -1
		}
		if i&4 != 0 {
			sz = -1
		}
		out[i] = c.Offset.Add(mgl64.Vec3{sx * c.HalfExtents[0], sy * c.HalfExtents[1], sz * c.HalfExtents[2]})
	}
	return out
}

// BoundingRadius is the radius of the sphere around Offset that encloses the
// hull.
func (c Cuboid) BoundingRadius() float64 { return c.HalfExtents.Len() }

// Collider attaches a hull to a body.
type Collider struct {
	Parent      BodyHandle
	Hull        Cuboid
	Density     float64
	Friction    float64
	Restitution float64
}

func (c *Collider) worldCenter(parent *RigidBody) mgl64.Vec3 {
	return parent.Position.Add(parent.Rotation.Rotate(c.Hull.Offset))
}

// ColliderSet owns every collider of a State.
type ColliderSet struct {
	arena arena[Collider]
}

// Insert attaches c to its parent body and refreshes the parent's mass
// properties.
func (s *ColliderSet) Insert(c Collider, bodies *RigidBodySet) (ColliderHandle, error) {
	parent, ok := bodies.Get(c.Parent)
	if !ok {
		return ColliderHandle{}, fmt.Errorf("insert collider: parent body %v not found", c.Parent)
	}
	h := ColliderHandle(s.arena.insert(c))
	parent.Colliders = append(parent.Colliders, h)
	s.updateMass(parent)
	return h, nil
}

// Get returns the collider for h.
func (s *ColliderSet) Get(h ColliderHandle) (*Collider, bool) {
	return s.arena.get(Handle(h))
}

// Len returns the number of live colliders.
func (s *ColliderSet) Len() int { return s.arena.live }

// Each visits live colliders in slot order.
func (s *ColliderSet) Each(fn func(h ColliderHandle, c *Collider)) {
	s.arena.each(func(h Handle, c *Collider) { fn(ColliderHandle(h), c) })
}

// updateMass recomputes mass and the diagonal inertia of a dynamic body
// about its origin from its cuboids. Products of inertia are dropped.
func (s *ColliderSet) updateMass(b *RigidBody) {
	if b.Kind != BodyDynamic {
		b.InvMass = 0
		b.InvInertia = mgl64.Vec3{}
		return
	}
	var mass float64
	var inertia mgl64.Vec3
	for _, ch := range b.Colliders {
		c, ok := s.Get(ch)
		if !ok {
			continue
		}
		he := c.Hull.HalfExtents
		m := c.Density * 8 * he[0] * he[1] * he[2]
		d := c.Hull.Offset
		mass += m
		inertia = inertia.Add(mgl64.Vec3{
			m/3*(he[1]*he[1]+he[2]*he[2]) + m*(d[1]*d[1]+d[2]*d[2]),
			m/3*(he[0]*he[0]+he[2]*he[2]) + m*(d[0]*d[0]+d[2]*d[2]),
			m/3*(he[0]*he[0]+he[1]*he[1]) + m*(d[0]*d[0]+d[1]*d[1]),
		})
	}
	if mass <= 0 {
		b.InvMass = 0
		b.InvInertia = mgl64.Vec3{}
		return
	}
	b.InvMass = 1 / mass
	for i := range inertia {
		if inertia[i] > 0 {
			b.InvInertia[i] = 1 / inertia[i]
		}
	}
}

func (s *ColliderSet) clone() ColliderSet {
	return ColliderSet{arena: s.arena.clone(func(c Collider) Collider { return c })}
}
