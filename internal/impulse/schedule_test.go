package impulse

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chewxy/math32"

	"github.com/signalsfoundry/alive-physics/model"
)

func arraysWith(entries map[model.Actor][][4]float32) model.ImpulseArrays {
	var arrays model.ImpulseArrays
	for _, a := range model.Actors {
		for _, e := range entries[a] {
			arrays.For(a).Append(uint32(e[0]), e[1], e[2], e[3])
		}
	}
	return arrays
}

func TestBuildGroupsByStepInCanonicalOrder(t *testing.T) {
	arrays := arraysWith(map[model.Actor][][4]float32{
		model.ActorE: {{10, 1, 0, 0}},
		model.ActorA: {{10, 2, 0, 0}, {4, 3, 0, 0}},
		model.ActorI: {{10, 4, 0, 0}},
	})
	s, err := Build(arrays)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}
	if got, want := s.Steps(), []uint32{4, 10}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Steps() = %v, want %v", got, want)
	}

	var order []model.Actor
	for _, imp := range s.At(10) {
		order = append(order, imp.Actor)
	}
	if want := []model.Actor{model.ActorA, model.ActorI, model.ActorE}; !reflect.DeepEqual(order, want) {
		t.Fatalf("At(10) actors = %v, want %v", order, want)
	}
	if got := s.At(5); len(got) != 0 {
		t.Fatalf("At(5) = %v, want empty", got)
	}
}

func TestRangeIsHalfOpen(t *testing.T) {
	arrays := arraysWith(map[model.Actor][][4]float32{
		model.ActorL: {{0, 0, 0, 0}, {9, 0, 0, 0}, {10, 0, 0, 0}, {20, 0, 0, 0}, {29, 0, 0, 0}, {30, 0, 0, 0}},
	})
	s, err := Build(arrays)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	tests := []struct {
		from, to uint32
		want     []uint32
	}{
		{from: 0, to: 10, want: []uint32{0, 9}},
		{from: 10, to: 30, want: []uint32{10, 20, 29}},
		{from: 30, to: 31, want: []uint32{30}},
		{from: 12, to: 12, want: nil},
		{from: 40, to: 10, want: nil},
	}
	for _, tt := range tests {
		got := s.Range(tt.from, tt.to).Steps()
		if len(got) == 0 {
			got = nil
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("Range(%d, %d).Steps() = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestBuildTruncatesRaggedArrays(t *testing.T) {
	var arrays model.ImpulseArrays
	v := arrays.For(model.ActorV)
	v.Steps = []uint32{1, 2, 3}
	v.X = []float32{0, 0}
	v.Y = []float32{0, 0, 0}
	v.Z = []float32{0, 0, 0}

	s, err := Build(arrays)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if got := s.Truncated(); !reflect.DeepEqual(got, []model.Actor{model.ActorV}) {
		t.Fatalf("Truncated() = %v, want [V]", got)
	}
}

func TestBuildRejectsNonFinite(t *testing.T) {
	for name, bad := range map[string]float32{"nan": math32.NaN(), "inf": math32.Inf(1)} {
		t.Run(name, func(t *testing.T) {
			arrays := arraysWith(map[model.Actor][][4]float32{
				model.ActorA: {{3, 0, bad, 0}},
			})
			if _, err := Build(arrays); !errors.Is(err, ErrInvalidImpulse) {
				t.Fatalf("Build() error = %v, want ErrInvalidImpulse", err)
			}
		})
	}
}

func TestEmptySchedule(t *testing.T) {
	s, err := Build(model.ImpulseArrays{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if s.Len() != 0 || len(s.Steps()) != 0 || s.Range(0, 100).Len() != 0 {
		t.Fatalf("empty arrays produced a non-empty schedule")
	}
	var nilSchedule *Schedule
	if nilSchedule.At(0) != nil || nilSchedule.Len() != 0 {
		t.Fatalf("nil schedule should behave as empty")
	}
}

func TestArraysRoundTrip(t *testing.T) {
	arrays := arraysWith(map[model.Actor][][4]float32{
		model.ActorA: {{1, 0.1, 0.2, 0.3}},
		model.ActorE: {{2, 0.4, 0.5, 0.6}, {7, 0.7, 0.8, 0.9}},
	})
	s, err := Build(arrays)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := s.Arrays(); !reflect.DeepEqual(got, arrays) {
		t.Fatalf("Arrays() = %+v, want %+v", got, arrays)
	}
}
