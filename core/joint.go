package core

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// JointHandle addresses a joint in an ImpulseJointSet.
type JointHandle Handle

// RevoluteJoint pins two bodies at a shared anchor and lets them rotate only
// about one axis. The optional motor drives the joint angle towards
// MotorTarget with a spring-damper.
type RevoluteJoint struct {
	Body1, Body2 BodyHandle

	LocalAnchor1, LocalAnchor2 mgl64.Vec3
	LocalAxis1, LocalAxis2     mgl64.Vec3

	MotorTarget    float64
	MotorStiffness float64
	MotorDamping   float64

	// Accumulated impulses from the previous step, used to warm start.
	AccLinear  mgl64.Vec3
	AccAngular [2]float64
}

// NewRevoluteJoint returns a joint about axis, anchored at the given body
// frame points.
func NewRevoluteJoint(b1, b2 BodyHandle, anchor1, anchor2, axis mgl64.Vec3) RevoluteJoint {
	axis = axis.Normalize()
	return RevoluteJoint{
		Body1:        b1,
		Body2:        b2,
		LocalAnchor1: anchor1,
		LocalAnchor2: anchor2,
		LocalAxis1:   axis,
		LocalAxis2:   axis,
	}
}

// WithMotor configures a position-holding motor.
func (j RevoluteJoint) WithMotor(target, stiffness, damping float64) RevoluteJoint {
	j.MotorTarget = target
	j.MotorStiffness = stiffness
	j.MotorDamping = damping
	return j
}

// Angle returns the rotation of Body1 relative to Body2 about the joint axis.
func (j *RevoluteJoint) Angle(b1, b2 *RigidBody) float64 {
	rel := b2.Rotation.Conjugate().Mul(b1.Rotation)
	s := rel.V.Dot(j.LocalAxis2)
	return 2 * math.Atan2(s, rel.W)
}

// ImpulseJointSet owns every joint of a State.
type ImpulseJointSet struct {
	arena arena[RevoluteJoint]
}

// Insert adds a joint after checking both bodies exist.
func (s *ImpulseJointSet) Insert(j RevoluteJoint, bodies *RigidBodySet) (JointHandle, error) {
	if _, ok := bodies.Get(j.Body1); !ok {
		return JointHandle{}, fmt.Errorf("insert joint: body %v not found", j.Body1)
	}
	if _, ok := bodies.Get(j.Body2); !ok {
		return JointHandle{}, fmt.Errorf("insert joint: body %v not found", j.Body2)
	}
	return JointHandle(s.arena.insert(j)), nil
}

// Get returns the joint for h.
func (s *ImpulseJointSet) Get(h JointHandle) (*RevoluteJoint, bool) {
	return s.arena.get(Handle(h))
}

// Len returns the number of live joints.
func (s *ImpulseJointSet) Len() int { return s.arena.live }

// Each visits live joints in slot order.
func (s *ImpulseJointSet) Each(fn func(h JointHandle, j *RevoluteJoint)) {
	s.arena.each(func(h Handle, j *RevoluteJoint) { fn(JointHandle(h), j) })
}

func (s *ImpulseJointSet) clone() ImpulseJointSet {
	return ImpulseJointSet{arena: s.arena.clone(func(j RevoluteJoint) RevoluteJoint { return j })}
}

// jointRow is the per-step solver data for one joint.
type jointRow struct {
	joint  *RevoluteJoint
	b1, b2 *RigidBody
	r1, r2 mgl64.Vec3
	i1, i2 mgl64.Mat3

	linMass  mgl64.Mat3
	linBias  mgl64.Vec3
	perp     [2]mgl64.Vec3
	angMass  [2][2]float64
	angBias  [2]float64
	axis     mgl64.Vec3
	motorEff float64
}

func prepareJoint(j *RevoluteJoint, b1, b2 *RigidBody, p IntegrationParameters) jointRow {
	row := jointRow{joint: j, b1: b1, b2: b2}
	row.r1 = b1.Rotation.Rotate(j.LocalAnchor1)
	row.r2 = b2.Rotation.Rotate(j.LocalAnchor2)
	row.i1 = b1.invInertiaWorld()
	row.i2 = b2.invInertiaWorld()

	m := b1.effectiveInvMass() + b2.effectiveInvMass()
	k := mgl64.Ident3().Mul(m)
	s1 := skew(row.r1)
	s2 := skew(row.r2)
	k = k.Add(s1.Mul3(row.i1).Mul3(s1.Transpose()))
	k = k.Add(s2.Mul3(row.i2).Mul3(s2.Transpose()))
	row.linMass = k.Inv()

	drift := b2.Position.Add(row.r2).Sub(b1.Position.Add(row.r1))
	row.linBias = drift.Mul(p.JointErp / p.Dt)

	a1 := b1.Rotation.Rotate(j.LocalAxis1)
	a2 := b2.Rotation.Rotate(j.LocalAxis2)
	row.axis = a2
	row.perp[0], row.perp[1] = orthonormalBasis(a2)
	isum := row.i1.Add(row.i2)
	var kk [2][2]float64
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			kk[r][c] = row.perp[r].Dot(isum.Mul3x1(row.perp[c]))
		}
	}
	row.angMass = invert2(kk)
	misalign := a1.Cross(a2)
	for r := 0; r < 2; r++ {
		row.angBias[r] = row.perp[r].Dot(misalign) * p.JointErp / p.Dt
	}

	if eff := a2.Dot(isum.Mul3x1(a2)); eff > 0 {
		row.motorEff = 1 / eff
	}
	return row
}

func (row *jointRow) warmStart() {
	j := row.joint
	row.applyLinear(j.AccLinear)
	row.applyAngular(row.perp[0].Mul(j.AccAngular[0]).Add(row.perp[1].Mul(j.AccAngular[1])))
}

func (row *jointRow) applyLinear(l mgl64.Vec3) {
	row.b1.applyImpulse(l.Mul(-1), row.r1, row.i1)
	row.b2.applyImpulse(l, row.r2, row.i2)
}

func (row *jointRow) applyAngular(l mgl64.Vec3) {
	if row.b1.awake() {
		row.b1.AngVel = row.b1.AngVel.Sub(row.i1.Mul3x1(l))
	}
	if row.b2.awake() {
		row.b2.AngVel = row.b2.AngVel.Add(row.i2.Mul3x1(l))
	}
}

// motor applies the spring-damper once per step, clamped so it cannot
// overshoot the correction that would zero the error in one step. The motor
// is explicit and never warm started.
func (row *jointRow) motor(p IntegrationParameters) {
	j := row.joint
	if row.motorEff == 0 || (j.MotorStiffness == 0 && j.MotorDamping == 0) {
		return
	}
	angle := -j.Angle(row.b1, row.b2)
	relVel := row.b2.AngVel.Sub(row.b1.AngVel).Dot(row.axis)
	errAngle := angle - j.MotorTarget
	lambda := (-j.MotorStiffness*errAngle - j.MotorDamping*relVel) * p.Dt
	limit := row.motorEff * (math.Abs(relVel) + math.Abs(errAngle)/p.Dt)
	lambda = clamp(lambda, -limit, limit)
	row.applyAngular(row.axis.Mul(lambda))
}

func (row *jointRow) solve() {
	j := row.joint
	v1 := row.b1.velocityAt(row.r1)
	v2 := row.b2.velocityAt(row.r2)
	cdot := v2.Sub(v1).Add(row.linBias)
	lin := row.linMass.Mul3x1(cdot).Mul(-1)
	j.AccLinear = j.AccLinear.Add(lin)
	row.applyLinear(lin)

	w := row.b2.AngVel.Sub(row.b1.AngVel)
	var rhs [2]float64
	for r := 0; r < 2; r++ {
		rhs[r] = -(row.perp[r].Dot(w) + row.angBias[r])
	}
	l0 := row.angMass[0][0]*rhs[0] + row.angMass[0][1]*rhs[1]
	l1 := row.angMass[1][0]*rhs[0] + row.angMass[1][1]*rhs[1]
	j.AccAngular[0] += l0
	j.AccAngular[1] += l1
	row.applyAngular(row.perp[0].Mul(l0).Add(row.perp[1].Mul(l1)))
}

func skew(v mgl64.Vec3) mgl64.Mat3 {
	// column-major
	return mgl64.Mat3{
		0, v[2], -v[1],
		-v[2], 0, v[0],
		v[1], -v[0], 0,
	}
}

func orthonormalBasis(n mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	var t mgl64.Vec3
	if math.Abs(n[0]) > 0.57735 {
		t = mgl64.Vec3{n[1], -n[0], 0}
	} else {
		t = mgl64.Vec3{0, n[2], -n[1]}
	}
	t = t.Normalize()
	return t, n.Cross(t)
}

func invert2(m [2][2]float64) [2][2]float64 {
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	if det == 0 {
		return [2][2]float64{}
	}
	inv := 1 / det
	return [2][2]float64{
		{m[1][1] * inv, -m[0][1] * inv},
		{-m[1][0] * inv, m[0][0] * inv},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
