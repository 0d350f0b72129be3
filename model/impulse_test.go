package model

import "testing"

func TestActorImpulsesLen(t *testing.T) {
	tests := []struct {
		name   string
		in     ActorImpulses
		n      int
		ragged bool
	}{
		{"empty", ActorImpulses{}, 0, false},
		{"even", ActorImpulses{Steps: []uint32{1, 2}, X: []float32{0, 0}, Y: []float32{0, 0}, Z: []float32{0, 0}}, 2, false},
		{"short z", ActorImpulses{Steps: []uint32{1, 2}, X: []float32{0, 0}, Y: []float32{0, 0}, Z: []float32{0}}, 1, true},
		{"no steps", ActorImpulses{X: []float32{0}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Len(); got != tt.n {
				t.Fatalf("Len() = %d, want %d", got, tt.n)
			}
			if got := tt.in.Ragged(); got != tt.ragged {
				t.Fatalf("Ragged() = %v, want %v", got, tt.ragged)
			}
		})
	}
}

func TestImpulseArraysTotal(t *testing.T) {
	var ia ImpulseArrays
	ia.For(ActorA).Append(10, 0.1, 0, 0)
	ia.For(ActorE).Append(3, 0, 0, 0)
	ia.For(ActorE).Append(4, 0, 0, 0)
	if got := ia.Total(); got != 3 {
		t.Fatalf("Total() = %d, want 3", got)
	}
	if got := ia[ActorE.Index()].Steps; len(got) != 2 || got[1] != 4 {
		t.Fatalf("E steps = %v, want [3 4]", got)
	}
}
