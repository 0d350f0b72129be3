// Package impulse turns the per-actor parallel arrays sent by clients into
// a step-keyed queue that the stepping loop consumes one step at a time.
package impulse

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chewxy/math32"
	"github.com/elliotchance/orderedmap/v2"

	"github.com/signalsfoundry/alive-physics/model"
)

// ErrInvalidImpulse is returned when an impulse carries a non-finite
// coordinate.
var ErrInvalidImpulse = errors.New("invalid impulse")

// Schedule groups impulses by the step at which they fire. Within a step,
// impulses keep insertion order: actors in canonical order, then array
// index. A Schedule is immutable once built and safe for concurrent reads.
type Schedule struct {
	byStep    *orderedmap.OrderedMap[uint32, []model.Impulse]
	steps     []uint32 // ascending
	count     int
	truncated []model.Actor
}

func newSchedule() *Schedule {
	return &Schedule{byStep: orderedmap.NewOrderedMap[uint32, []model.Impulse]()}
}

// Empty returns a schedule with no impulses.
func Empty() *Schedule { return newSchedule() }

// Build validates and groups the arrays. When an actor's four slices have
// different lengths only the shortest prefix is used and the actor is
// reported by Truncated.
func Build(arrays model.ImpulseArrays) (*Schedule, error) {
	s := newSchedule()
	for _, actor := range model.Actors {
		in := arrays.For(actor)
		if in.Ragged() {
			s.truncated = append(s.truncated, actor)
		}
		for i := 0; i < in.Len(); i++ {
			point := [3]float32{in.X[i], in.Y[i], in.Z[i]}
			for _, v := range point {
				if math32.IsNaN(v) || math32.IsInf(v, 0) {
					return nil, fmt.Errorf("%w: actor %s entry %d has non-finite coordinate %v", ErrInvalidImpulse, actor, i, v)
				}
			}
			s.add(model.Impulse{Actor: actor, Step: in.Steps[i], Point: point})
		}
	}
	return s, nil
}

// add appends imp to its step group, keeping the step index sorted.
func (s *Schedule) add(imp model.Impulse) {
	group, ok := s.byStep.Get(imp.Step)
	if !ok {
		idx := sort.Search(len(s.steps), func(i int) bool { return s.steps[i] >= imp.Step })
		s.steps = append(s.steps, 0)
		copy(s.steps[idx+1:], s.steps[idx:])
		s.steps[idx] = imp.Step
	}
	s.byStep.Set(imp.Step, append(group, imp))
	s.count++
}

// At returns the impulses that fire at step, in application order. The
// returned slice must not be modified.
func (s *Schedule) At(step uint32) []model.Impulse {
	if s == nil {
		return nil
	}
	group, _ := s.byStep.Get(step)
	return group
}

// Range returns the impulses whose step lies in [from, to).
func (s *Schedule) Range(from, to uint32) *Schedule {
	out := newSchedule()
	if s == nil || from >= to {
		return out
	}
	lo := sort.Search(len(s.steps), func(i int) bool { return s.steps[i] >= from })
	for _, step := range s.steps[lo:] {
		if step >= to {
			break
		}
		for _, imp := range s.At(step) {
			out.add(imp)
		}
	}
	return out
}

// Len returns the number of impulses.
func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Steps returns the distinct steps that carry impulses, ascending.
func (s *Schedule) Steps() []uint32 {
	if s == nil {
		return nil
	}
	return append([]uint32(nil), s.steps...)
}

// Truncated lists actors whose input arrays had mismatched lengths.
func (s *Schedule) Truncated() []model.Actor {
	if s == nil {
		return nil
	}
	return append([]model.Actor(nil), s.truncated...)
}

// Arrays converts the schedule back to the per-actor parallel-array form.
func (s *Schedule) Arrays() model.ImpulseArrays {
	var out model.ImpulseArrays
	if s == nil {
		return out
	}
	for el := s.byStep.Front(); el != nil; el = el.Next() {
		for _, imp := range el.Value {
			out.For(imp.Actor).Append(imp.Step, imp.Point[0], imp.Point[1], imp.Point[2])
		}
	}
	return out
}
