package core

import (
	"cmp"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
)

// FloorCollider is the collider index used in contact keys for the ground
// plane.
const FloorCollider = ^uint32(0)

// ContactKey identifies a contact point across steps: the collider owning
// the penetrating vertex, the collider (or floor) it penetrates, and the
// vertex index.
type ContactKey struct {
	A, B    uint32
	Feature uint32
}

func compareKeys(a, b ContactKey) int {
	if c := cmp.Compare(a.A, b.A); c != 0 {
		return c
	}
	if c := cmp.Compare(a.B, b.B); c != 0 {
		return c
	}
	return cmp.Compare(a.Feature, b.Feature)
}

// Contact is one point of contact. Normal points from Body2 into Body1.
type Contact struct {
	Key          ContactKey
	Body1, Body2 BodyHandle
	Floor        bool

	Point  mgl64.Vec3
	Normal mgl64.Vec3
	Depth  float64

	Friction    float64
	Restitution float64

	AccNormal  float64
	AccTangent [2]float64
}

// NarrowPhase holds the contacts of the last step, sorted by key.
type NarrowPhase struct {
	FloorFriction float64
	Contacts      []Contact
}

func (np *NarrowPhase) update(s *State) {
	p := s.Params
	var next []Contact

	s.Colliders.Each(func(h ColliderHandle, c *Collider) {
		parent, ok := s.Bodies.Get(c.Parent)
		if !ok || !parent.awake() {
			return
		}
		for vi, v := range c.Hull.Vertices() {
			w := parent.Position.Add(parent.Rotation.Rotate(v))
			if w[1] >= s.Floor+p.ContactMargin {
				continue
			}
			next = append(next, Contact{
				Key:         ContactKey{A: h.Index, B: FloorCollider, Feature: uint32(vi)},
				Body1:       c.Parent,
				Floor:       true,
				Point:       w,
				Normal:      mgl64.Vec3{0, 1, 0},
				Depth:       s.Floor - w[1],
				Friction:    math.Sqrt(c.Friction * np.FloorFriction),
				Restitution: c.Restitution,
			})
		}
	})

	for _, pair := range s.BroadPhase.Pairs {
		ca, okA := s.Colliders.Get(pair.A)
		cb, okB := s.Colliders.Get(pair.B)
		if !okA || !okB {
			continue
		}
		ba, okA := s.Bodies.Get(ca.Parent)
		bb, okB := s.Bodies.Get(cb.Parent)
		if !okA || !okB {
			continue
		}
		before := len(next)
		next = appendHullContacts(next, pair.A, ca, ba, pair.B, cb, bb, p.ContactMargin)
		next = appendHullContacts(next, pair.B, cb, bb, pair.A, ca, ba, p.ContactMargin)
		if len(next) > before {
			if ba.awake() {
				s.Islands.wake(cb.Parent, bb)
			}
			if bb.awake() {
				s.Islands.wake(ca.Parent, ba)
			}
		}
	}

	slices.SortFunc(next, func(a, b Contact) int { return compareKeys(a.Key, b.Key) })
	for i := range next {
		idx, found := slices.BinarySearchFunc(np.Contacts, next[i].Key, func(c Contact, k ContactKey) int {
			return compareKeys(c.Key, k)
		})
		if found {
			next[i].AccNormal = np.Contacts[idx].AccNormal * p.WarmStartFactor
			next[i].AccTangent[0] = np.Contacts[idx].AccTangent[0] * p.WarmStartFactor
			next[i].AccTangent[1] = np.Contacts[idx].AccTangent[1] * p.WarmStartFactor
		}
	}
	np.Contacts = next
}

// appendHullContacts adds a contact for every vertex of hull a that lies
// inside hull b.
func appendHullContacts(dst []Contact, ha ColliderHandle, a *Collider, ba *RigidBody, hb ColliderHandle, b *Collider, bb *RigidBody, margin float64) []Contact {
	center := b.worldCenter(bb)
	inv := bb.Rotation.Conjugate()
	he := b.Hull.HalfExtents
	for vi, v := range a.Hull.Vertices() {
		w := ba.Position.Add(ba.Rotation.Rotate(v))
		local := inv.Rotate(w.Sub(center))
		axis := -1
		depth := math.Inf(1)
		for i := 0; i < 3; i++ {
			pen := he[i] - math.Abs(local[i])
			if pen <= -margin {
				axis = -1
				break
			}
			if pen < depth {
				depth = pen
				axis = i
			}
		}
		if axis < 0 {
			continue
		}
		var n mgl64.Vec3
		n[axis] = 1
		if local[axis] < 0 {
			n[axis] = -1
		}
		dst = append(dst, Contact{
			Key:         ContactKey{A: ha.Index, B: hb.Index, Feature: uint32(vi)},
			Body1:       a.Parent,
			Body2:       b.Parent,
			Point:       w,
			Normal:      bb.Rotation.Rotate(n),
			Depth:       depth,
			Friction:    math.Sqrt(a.Friction * b.Friction),
			Restitution: math.Max(a.Restitution, b.Restitution),
		})
	}
	return dst
}

func (np *NarrowPhase) clone() NarrowPhase {
	return NarrowPhase{FloorFriction: np.FloorFriction, Contacts: append([]Contact(nil), np.Contacts...)}
}

// contactRow is the per-step solver data for one contact.
type contactRow struct {
	c        *Contact
	b1, b2   *RigidBody
	r1, r2   mgl64.Vec3
	i1, i2   mgl64.Mat3
	tangents [2]mgl64.Vec3
	normMass float64
	tanMass  [2]float64
	target   float64
}


func prepareContact(c *Contact, b1, b2 *RigidBody, p IntegrationParameters) contactRow {
	row := contactRow{c: c, b1: b1, b2: b2}
	row.r1 = c.Point.Sub(b1.Position)
	row.r2 = c.Point.Sub(b2.Position)
	row.i1 = b1.invInertiaWorld()
	row.i2 = b2.invInertiaWorld()
	row.tangents[0], row.tangents[1] = orthonormalBasis(c.Normal)
	row.normMass = row.effectiveMass(c.Normal)
	row.tanMass[0] = row.effectiveMass(row.tangents[0])
	row.tanMass[1] = row.effectiveMass(row.tangents[1])

	vn := row.relativeVelocity().Dot(c.Normal)
	row.target = p.ContactErp / p.Dt * math.Max(c.Depth-p.AllowedPenetration, 0)
	if vn < -p.RestitutionThreshold {
		row.target = math.Max(row.target, -c.Restitution*vn)
	}
	return row
}

func (row *contactRow) effectiveMass(d mgl64.Vec3) float64 {
	k := row.b1.effectiveInvMass() + row.b2.effectiveInvMass()
	rd1 := row.r1.Cross(d)
	rd2 := row.r2.Cross(d)
	k += rd1.Dot(row.i1.Mul3x1(rd1)) + rd2.Dot(row.i2.Mul3x1(rd2))
	if k <= 0 {
		return 0
	}
	return 1 / k
}

func (row *contactRow) relativeVelocity() mgl64.Vec3 {
	return row.b1.velocityAt(row.r1).Sub(row.b2.velocityAt(row.r2))
}

func (row *contactRow) apply(j mgl64.Vec3) {
	row.b1.applyImpulse(j, row.r1, row.i1)
	row.b2.applyImpulse(j.Mul(-1), row.r2, row.i2)
}

func (row *contactRow) warmStart() {
	c := row.c
	j := c.Normal.Mul(c.AccNormal).
		Add(row.tangents[0].Mul(c.AccTangent[0])).
		Add(row.tangents[1].Mul(c.AccTangent[1]))
	row.apply(j)
}

func (row *contactRow) solve() {
	c := row.c
	vn := row.relativeVelocity().Dot(c.Normal)
	lambda := row.normMass * (row.target - vn)
	acc := math.Max(c.AccNormal+lambda, 0)
	lambda = acc - c.AccNormal
	c.AccNormal = acc
	row.apply(c.Normal.Mul(lambda))

	limit := c.Friction * c.AccNormal
	for k := 0; k < 2; k++ {
		vt := row.relativeVelocity().Dot(row.tangents[k])
		l := -row.tanMass[k] * vt
		acc := clamp(c.AccTangent[k]+l, -limit, limit)
		l = acc - c.AccTangent[k]
		c.AccTangent[k] = acc
		row.apply(row.tangents[k].Mul(l))
	}
}
