package core

import "github.com/go-gl/mathgl/mgl64"

// IntegrationParameters controls the fixed-step solver.
type IntegrationParameters struct {
	Dt                 float64
	VelocityIterations uint32

	JointErp             float64
	ContactErp           float64
	AllowedPenetration   float64
	ContactMargin        float64
	RestitutionThreshold float64
	WarmStartFactor      float64

	SleepLinearThreshold  float64
	SleepAngularThreshold float64
	SleepSteps            uint32
}

// DefaultIntegrationParameters returns the 60 Hz defaults used by NewScene.
func DefaultIntegrationParameters() IntegrationParameters {
	return IntegrationParameters{
		Dt:                    1.0 / 60.0,
		VelocityIterations:    8,
		JointErp:              0.2,
		ContactErp:            0.2,
		AllowedPenetration:    0.005,
		ContactMargin:         0.02,
		RestitutionThreshold:  1.0,
		WarmStartFactor:       1.0,
		SleepLinearThreshold:  0.01,
		SleepAngularThreshold: 0.02,
		SleepSteps:            60,
	}
}

// CCDSolver limits how far a body may travel in one step so thin hulls
// cannot tunnel through each other.
type CCDSolver struct {
	Enabled   bool
	MaxTravel float64
}

func (c CCDSolver) clamp(b *RigidBody, dt float64) {
	if !c.Enabled || c.MaxTravel <= 0 || !b.awake() {
		return
	}
	limit := c.MaxTravel / dt
	if speed := b.LinVel.Len(); speed > limit {
		b.LinVel = b.LinVel.Mul(limit / speed)
	}
}

// IslandManager tracks which dynamic bodies are awake. SleepCounters is
// indexed by body slot.
type IslandManager struct {
	SleepCounters []uint32
	Active        []BodyHandle
}

func (m *IslandManager) counter(h BodyHandle) *uint32 {
	for int(h.Index) >= len(m.SleepCounters) {
		m.SleepCounters = append(m.SleepCounters, 0)
	}
	return &m.SleepCounters[h.Index]
}

// wake marks a body awake and resets its sleep counter.
func (m *IslandManager) wake(h BodyHandle, b *RigidBody) {
	if b.Kind != BodyDynamic {
		return
	}
	b.Sleeping = false
	*m.counter(h) = 0
}

// update advances the sleep counters after integration and rebuilds Active.
func (m *IslandManager) update(bodies *RigidBodySet, p IntegrationParameters) {
	m.Active = m.Active[:0]
	bodies.Each(func(h BodyHandle, b *RigidBody) {
		c := m.counter(h)
		if b.Kind != BodyDynamic {
			*c = 0
			return
		}
		if b.Sleeping {
			return
		}
		if b.LinVel.Len() < p.SleepLinearThreshold && b.AngVel.Len() < p.SleepAngularThreshold {
			*c++
		} else {
			*c = 0
		}
		if p.SleepSteps > 0 && *c >= p.SleepSteps {
			b.Sleeping = true
			b.LinVel = mgl64.Vec3{}
			b.AngVel = mgl64.Vec3{}
			return
		}
		m.Active = append(m.Active, h)
	})
}

func (m *IslandManager) clone() IslandManager {
	return IslandManager{
		SleepCounters: append([]uint32(nil), m.SleepCounters...),
		Active:        append([]BodyHandle(nil), m.Active...),
	}
}
