// Package registry maps the five letter actors to the dynamic bodies that
// carry their tags inside a simulation state.
package registry

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/alive-physics/core"
	"github.com/signalsfoundry/alive-physics/model"
)

var (
	// ErrInvariant marks a state whose actor bodies are not exactly one per
	// tag. It is fatal: retrying against the same state cannot succeed.
	ErrInvariant = errors.New("actor registry invariant violated")
	// ErrActorMissing indicates no dynamic body carries an actor's tag.
	ErrActorMissing = fmt.Errorf("%w: actor missing", ErrInvariant)
	// ErrActorDuplicate indicates more than one dynamic body carries a tag.
	ErrActorDuplicate = fmt.Errorf("%w: actor duplicated", ErrInvariant)
)

// Registry is the actor to body-handle table for one state. Handles stay
// valid for clones and decoded copies of that state.
type Registry struct {
	handles [model.ActorCount]core.BodyHandle
}

// Resolve scans every body of s in slot order.
func Resolve(s *core.State) (*Registry, error) {
	var (
		reg  Registry
		seen [model.ActorCount]bool
		err  error
	)
	s.Bodies.Each(func(h core.BodyHandle, b *core.RigidBody) {
		if !b.IsDynamic() {
			return
		}
		actor, ok := model.ActorFromTag(b.UserData)
		if !ok {
			return
		}
		i := actor.Index()
		if seen[i] {
			err = errors.Join(err, fmt.Errorf("%w: %s at %v and %v", ErrActorDuplicate, actor, reg.handles[i], h))
			return
		}
		seen[i] = true
		reg.handles[i] = h
	})
	for _, a := range model.Actors {
		if !seen[a.Index()] {
			err = errors.Join(err, fmt.Errorf("%w: %s", ErrActorMissing, a))
		}
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// Handle returns the body handle for a.
func (r *Registry) Handle(a model.Actor) (core.BodyHandle, error) {
	if !a.Valid() {
		return core.BodyHandle{}, fmt.Errorf("%w: %s", ErrActorMissing, a)
	}
	return r.handles[a.Index()], nil
}

// Pose reads the current pose of a from s.
func (r *Registry) Pose(s *core.State, a model.Actor) (model.Pose, error) {
	h, err := r.Handle(a)
	if err != nil {
		return model.Pose{}, err
	}
	pos, rot, err := s.BodyPose(h)
	if err != nil {
		return model.Pose{}, fmt.Errorf("%w: %s: %v", ErrActorMissing, a, err)
	}
	return model.Pose{Translation: pos, Rotation: rot}, nil
}

// Poses reads all actors in canonical order.
func (r *Registry) Poses(s *core.State) (model.PoseSet, error) {
	var set model.PoseSet
	for _, a := range model.Actors {
		p, err := r.Pose(s, a)
		if err != nil {
			return model.PoseSet{}, err
		}
		set.Set(a, p)
	}
	return set, nil
}
