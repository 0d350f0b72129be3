package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Scene layout constants.
const (
	LetterSpacing  = 1.1
	LetterHeight   = 2.0
	LetterDensity  = 20.0
	MotorStiffness = 6.0
	MotorDamping   = 0.8
)

// SceneTags lists the user-data tags given to the letter bodies, left to
// right.
var SceneTags = [...]uint64{1, 2, 3, 4, 5}

// LetterPosition returns the rest position of the i-th letter from the left.
func LetterPosition(i int) mgl64.Vec3 {
	x := (float64(i) - float64(len(SceneTags)-1)/2) * LetterSpacing
	return mgl64.Vec3{x, LetterHeight, 0}
}

// NewScene builds the cold-start world: each letter is a dynamic body with
// its hull colliders, hung from a fixed anchor at the same point by a
// revolute joint about world Y whose motor holds it facing forward.
func NewScene() (*State, error) {
	s := NewState()
	for i, tag := range SceneTags {
		pos := LetterPosition(i)
		body := NewDynamicBody(pos)
		body.UserData = tag
		bh := s.Bodies.Insert(body)
		for _, hull := range LetterHulls(tag) {
			if _, err := s.Colliders.Insert(Collider{
				Parent:      bh,
				Hull:        hull,
				Density:     LetterDensity,
				Friction:    0.5,
				Restitution: 0.2,
			}, &s.Bodies); err != nil {
				return nil, fmt.Errorf("letter %d: %w", tag, err)
			}
		}
		anchor := s.Bodies.Insert(NewFixedBody(pos))
		joint := NewRevoluteJoint(bh, anchor, mgl64.Vec3{}, mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}).
			WithMotor(0, MotorStiffness, MotorDamping)
		if _, err := s.Joints.Insert(joint, &s.Bodies); err != nil {
			return nil, fmt.Errorf("letter %d: %w", tag, err)
		}
	}
	return s, nil
}
