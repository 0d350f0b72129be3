package core

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodingVersion is written into every encoded state.
const EncodingVersion = 1

// ErrInvalidEncoding is returned by UnmarshalBinary for malformed input.
var ErrInvalidEncoding = errors.New("invalid state encoding")

// Field numbers of the State message.
const (
	fieldVersion     protowire.Number = 1
	fieldIslands     protowire.Number = 2
	fieldBroadPhase  protowire.Number = 3
	fieldNarrowPhase protowire.Number = 4
	fieldBodies      protowire.Number = 5
	fieldColliders   protowire.Number = 6
	fieldJoints      protowire.Number = 7
	fieldCCD         protowire.Number = 8
	fieldParams      protowire.Number = 9
	fieldGravity     protowire.Number = 10
	fieldFloor       protowire.Number = 11
)

// MarshalBinary encodes the whole world in protobuf wire format. The output
// is a pure function of the state.
func (s *State) MarshalBinary() ([]byte, error) {
	var e encoder
	e.uvarint(fieldVersion, EncodingVersion)
	e.message(fieldIslands, s.Islands.encode)
	e.message(fieldBroadPhase, s.BroadPhase.encode)
	e.message(fieldNarrowPhase, s.NarrowPhase.encode)
	e.message(fieldBodies, func(e *encoder) { encodeArena(e, &s.Bodies.arena, encodeBody) })
	e.message(fieldColliders, func(e *encoder) { encodeArena(e, &s.Colliders.arena, encodeCollider) })
	e.message(fieldJoints, func(e *encoder) { encodeArena(e, &s.Joints.arena, encodeJoint) })
	e.message(fieldCCD, func(e *encoder) {
		e.boolean(1, s.CCD.Enabled)
		e.double(2, s.CCD.MaxTravel)
	})
	e.message(fieldParams, s.Params.encode)
	e.vec3(fieldGravity, s.Gravity)
	e.double(fieldFloor, s.Floor)
	return e.buf, nil
}

// UnmarshalBinary replaces s with the decoded world. On error s is left
// unchanged.
func (s *State) UnmarshalBinary(data []byte) error {
	var out State
	var version uint64
	r := reader{buf: data}
	for r.next() {
		switch r.num {
		case fieldVersion:
			version = r.uvarint()
		case fieldIslands:
			r.message(out.Islands.decode)
		case fieldBroadPhase:
			r.message(out.BroadPhase.decode)
		case fieldNarrowPhase:
			r.message(out.NarrowPhase.decode)
		case fieldBodies:
			r.message(func(r *reader) { decodeArena(r, &out.Bodies.arena, decodeBody) })
		case fieldColliders:
			r.message(func(r *reader) { decodeArena(r, &out.Colliders.arena, decodeCollider) })
		case fieldJoints:
			r.message(func(r *reader) { decodeArena(r, &out.Joints.arena, decodeJoint) })
		case fieldCCD:
			r.message(func(r *reader) {
				for r.next() {
					switch r.num {
					case 1:
						out.CCD.Enabled = r.boolean()
					case 2:
						out.CCD.MaxTravel = r.double()
					default:
						r.skip()
					}
				}
			})
		case fieldParams:
			r.message(out.Params.decode)
		case fieldGravity:
			out.Gravity = r.vec3()
		case fieldFloor:
			out.Floor = r.double()
		default:
			r.skip()
		}
	}
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, r.err)
	}
	if version != EncodingVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrInvalidEncoding, version, EncodingVersion)
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	*s = out
	return nil
}

// validate checks that every cross-reference resolves.
func (s *State) validate() error {
	var err error
	s.Bodies.Each(func(h BodyHandle, b *RigidBody) {
		for _, ch := range b.Colliders {
			c, ok := s.Colliders.Get(ch)
			if !ok {
				err = errors.Join(err, fmt.Errorf("body %v: collider %v missing", h, ch))
				continue
			}
			if c.Parent != h {
				err = errors.Join(err, fmt.Errorf("body %v: collider %v has parent %v", h, ch, c.Parent))
			}
		}
	})
	s.Colliders.Each(func(h ColliderHandle, c *Collider) {
		if _, ok := s.Bodies.Get(c.Parent); !ok {
			err = errors.Join(err, fmt.Errorf("collider %v: parent %v missing", h, c.Parent))
		}
	})
	s.Joints.Each(func(h JointHandle, j *RevoluteJoint) {
		_, ok1 := s.Bodies.Get(j.Body1)
		_, ok2 := s.Bodies.Get(j.Body2)
		if !ok1 || !ok2 {
			err = errors.Join(err, fmt.Errorf("joint %v: body missing", h))
		}
	})
	if s.Params.Dt <= 0 {
		err = errors.Join(err, fmt.Errorf("non-positive timestep %v", s.Params.Dt))
	}
	return err
}

func encodeArena[T any](e *encoder, a *arena[T], encodeValue func(*encoder, *T)) {
	for i := range a.slots {
		s := &a.slots[i]
		e.message(1, func(e *encoder) {
			e.uvarint(1, uint64(s.generation))
			e.boolean(2, s.live)
			if s.live {
				e.message(3, func(e *encoder) { encodeValue(e, &s.value) })
			}
		})
	}
	free := make([]uint64, len(a.free))
	for i, f := range a.free {
		free[i] = uint64(f)
	}
	e.uvarints(2, free)
}

func decodeArena[T any](r *reader, a *arena[T], decodeValue func(*reader, *T)) {
	for r.next() {
		switch r.num {
		case 1:
			var s slot[T]
			r.message(func(r *reader) {
				for r.next() {
					switch r.num {
					case 1:
						s.generation = r.u32()
					case 2:
						s.live = r.boolean()
					case 3:
						r.message(func(r *reader) { decodeValue(r, &s.value) })
					default:
						r.skip()
					}
				}
			})
			a.slots = append(a.slots, s)
			if s.live {
				a.live++
			}
		case 2:
			for _, f := range r.uvarints() {
				a.free = append(a.free, uint32(f))
			}
		default:
			r.skip()
		}
	}
	for _, f := range a.free {
		if int(f) >= len(a.slots) || a.slots[f].live {
			r.fail(fmt.Errorf("free list entry %d is not a dead slot", f))
			return
		}
	}
}

func encodeBody(e *encoder, b *RigidBody) {
	e.uvarint(1, uint64(b.Kind))
	e.uvarint(2, b.UserData)
	e.vec3(3, b.Position)
	e.quat(4, b.Rotation)
	e.vec3(5, b.LinVel)
	e.vec3(6, b.AngVel)
	e.double(7, b.InvMass)
	e.vec3(8, b.InvInertia)
	e.double(9, b.LinearDamping)
	e.double(10, b.AngularDamping)
	e.boolean(11, b.Sleeping)
	hs := make([]uint64, len(b.Colliders))
	for i, h := range b.Colliders {
		hs[i] = handleBits(Handle(h))
	}
	e.uvarints(12, hs)
}

func decodeBody(r *reader, b *RigidBody) {
	for r.next() {
		switch r.num {
		case 1:
			b.Kind = BodyKind(r.uvarint())
		case 2:
			b.UserData = r.uvarint()
		case 3:
			b.Position = r.vec3()
		case 4:
			b.Rotation = r.quat()
		case 5:
			b.LinVel = r.vec3()
		case 6:
			b.AngVel = r.vec3()
		case 7:
			b.InvMass = r.double()
		case 8:
			b.InvInertia = r.vec3()
		case 9:
			b.LinearDamping = r.double()
		case 10:
			b.AngularDamping = r.double()
		case 11:
			b.Sleeping = r.boolean()
		case 12:
			for _, v := range r.uvarints() {
				b.Colliders = append(b.Colliders, ColliderHandle(handleFromBits(v)))
			}
		default:
			r.skip()
		}
	}
	if b.Kind > BodyFixed {
		r.fail(fmt.Errorf("unknown body kind %d", b.Kind))
	}
}

func encodeCollider(e *encoder, c *Collider) {
	e.uvarint(1, handleBits(Handle(c.Parent)))
	e.vec3(2, c.Hull.Offset)
	e.vec3(3, c.Hull.HalfExtents)
	e.double(4, c.Density)
	e.double(5, c.Friction)
	e.double(6, c.Restitution)
}

func decodeCollider(r *reader, c *Collider) {
	for r.next() {
		switch r.num {
		case 1:
			c.Parent = BodyHandle(r.handle())
		case 2:
			c.Hull.Offset = r.vec3()
		case 3:
			c.Hull.HalfExtents = r.vec3()
		case 4:
			c.Density = r.double()
		case 5:
			c.Friction = r.double()
		case 6:
			c.Restitution = r.double()
		default:
			r.skip()
		}
	}
}

func encodeJoint(e *encoder, j *RevoluteJoint) {
	e.uvarint(1, handleBits(Handle(j.Body1)))
	e.uvarint(2, handleBits(Handle(j.Body2)))
	e.vec3(3, j.LocalAnchor1)
	e.vec3(4, j.LocalAnchor2)
	e.vec3(5, j.LocalAxis1)
	e.vec3(6, j.LocalAxis2)
	e.double(7, j.MotorTarget)
	e.double(8, j.MotorStiffness)
	e.double(9, j.MotorDamping)
	e.vec3(10, j.AccLinear)
	e.doubles(11, j.AccAngular[0], j.AccAngular[1])
}

func decodeJoint(r *reader, j *RevoluteJoint) {
	for r.next() {
		switch r.num {
		case 1:
			j.Body1 = BodyHandle(r.handle())
		case 2:
			j.Body2 = BodyHandle(r.handle())
		case 3:
			j.LocalAnchor1 = r.vec3()
		case 4:
			j.LocalAnchor2 = r.vec3()
		case 5:
			j.LocalAxis1 = r.vec3()
		case 6:
			j.LocalAxis2 = r.vec3()
		case 7:
			j.MotorTarget = r.double()
		case 8:
			j.MotorStiffness = r.double()
		case 9:
			j.MotorDamping = r.double()
		case 10:
			j.AccLinear = r.vec3()
		case 11:
			if v := r.doubles(2); v != nil {
				j.AccAngular = [2]float64{v[0], v[1]}
			}
		default:
			r.skip()
		}
	}
}

func (m *IslandManager) encode(e *encoder) {
	counters := make([]uint64, len(m.SleepCounters))
	for i, c := range m.SleepCounters {
		counters[i] = uint64(c)
	}
	e.uvarints(1, counters)
	active := make([]uint64, len(m.Active))
	for i, h := range m.Active {
		active[i] = handleBits(Handle(h))
	}
	e.uvarints(2, active)
}

func (m *IslandManager) decode(r *reader) {
	for r.next() {
		switch r.num {
		case 1:
			for _, v := range r.uvarints() {
				m.SleepCounters = append(m.SleepCounters, uint32(v))
			}
		case 2:
			for _, v := range r.uvarints() {
				m.Active = append(m.Active, BodyHandle(handleFromBits(v)))
			}
		default:
			r.skip()
		}
	}
}

func (bp *BroadPhase) encode(e *encoder) {
	e.double(1, bp.Margin)
	for _, p := range bp.Pairs {
		e.message(2, func(e *encoder) {
			e.uvarint(1, handleBits(Handle(p.A)))
			e.uvarint(2, handleBits(Handle(p.B)))
		})
	}
}

func (bp *BroadPhase) decode(r *reader) {
	for r.next() {
		switch r.num {
		case 1:
			bp.Margin = r.double()
		case 2:
			var p ColliderPair
			r.message(func(r *reader) {
				for r.next() {
					switch r.num {
					case 1:
						p.A = ColliderHandle(r.handle())
					case 2:
						p.B = ColliderHandle(r.handle())
					default:
						r.skip()
					}
				}
			})
			bp.Pairs = append(bp.Pairs, p)
		default:
			r.skip()
		}
	}
}

func (np *NarrowPhase) encode(e *encoder) {
	e.double(1, np.FloorFriction)
	for i := range np.Contacts {
		c := &np.Contacts[i]
		e.message(2, func(e *encoder) {
			e.uvarint(1, uint64(c.Key.A))
			e.uvarint(2, uint64(c.Key.B))
			e.uvarint(3, uint64(c.Key.Feature))
			e.uvarint(4, handleBits(Handle(c.Body1)))
			e.uvarint(5, handleBits(Handle(c.Body2)))
			e.boolean(6, c.Floor)
			e.vec3(7, c.Point)
			e.vec3(8, c.Normal)
			e.double(9, c.Depth)
			e.double(10, c.Friction)
			e.double(11, c.Restitution)
			e.double(12, c.AccNormal)
			e.doubles(13, c.AccTangent[0], c.AccTangent[1])
		})
	}
}

func (np *NarrowPhase) decode(r *reader) {
	for r.next() {
		switch r.num {
		case 1:
			np.FloorFriction = r.double()
		case 2:
			var c Contact
			r.message(func(r *reader) {
				for r.next() {
					switch r.num {
					case 1:
						c.Key.A = r.u32()
					case 2:
						c.Key.B = r.u32()
					case 3:
						c.Key.Feature = r.u32()
					case 4:
						c.Body1 = BodyHandle(r.handle())
					case 5:
						c.Body2 = BodyHandle(r.handle())
					case 6:
						c.Floor = r.boolean()
					case 7:
						c.Point = r.vec3()
					case 8:
						c.Normal = r.vec3()
					case 9:
						c.Depth = r.double()
					case 10:
						c.Friction = r.double()
					case 11:
						c.Restitution = r.double()
					case 12:
						c.AccNormal = r.double()
					case 13:
						if v := r.doubles(2); v != nil {
							c.AccTangent = [2]float64{v[0], v[1]}
						}
					default:
						r.skip()
					}
				}
			})
			np.Contacts = append(np.Contacts, c)
		default:
			r.skip()
		}
	}
}

func (p *IntegrationParameters) encode(e *encoder) {
	e.double(1, p.Dt)
	e.uvarint(2, uint64(p.VelocityIterations))
	e.double(3, p.JointErp)
	e.double(4, p.ContactErp)
	e.double(5, p.AllowedPenetration)
	e.double(6, p.ContactMargin)
	e.double(7, p.RestitutionThreshold)
	e.double(8, p.WarmStartFactor)
	e.double(9, p.SleepLinearThreshold)
	e.double(10, p.SleepAngularThreshold)
	e.uvarint(11, uint64(p.SleepSteps))
}

func (p *IntegrationParameters) decode(r *reader) {
	for r.next() {
		switch r.num {
		case 1:
			p.Dt = r.double()
		case 2:
			p.VelocityIterations = r.u32()
		case 3:
			p.JointErp = r.double()
		case 4:
			p.ContactErp = r.double()
		case 5:
			p.AllowedPenetration = r.double()
		case 6:
			p.ContactMargin = r.double()
		case 7:
			p.RestitutionThreshold = r.double()
		case 8:
			p.WarmStartFactor = r.double()
		case 9:
			p.SleepLinearThreshold = r.double()
		case 10:
			p.SleepAngularThreshold = r.double()
		case 11:
			p.SleepSteps = r.u32()
		default:
			r.skip()
		}
	}
}
