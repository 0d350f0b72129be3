package core

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Letter geometry in metres, body frame centred on the glyph. Every glyph
// is 1.6 tall and 0.3 deep.
const (
	letterHalfDepth  = 0.15
	letterHalfHeight = 0.8
	strokeHalf       = 0.15
)

func box(x, y, hx, hy float64) Cuboid {
	return Cuboid{
		Offset:      mgl64.Vec3{x, y, 0},
		HalfExtents: mgl64.Vec3{hx, hy, letterHalfDepth},
	}
}

// letterHulls holds the convex decomposition of each glyph, indexed by
// actor tag minus one. It is built once per process.
var letterHulls = sync.OnceValue(func() [5][]Cuboid {
	return [5][]Cuboid{
		// A
		{
			box(-0.35, 0, strokeHalf, letterHalfHeight),
			box(0.35, 0, strokeHalf, letterHalfHeight),
			box(0, 0.65, 0.2, strokeHalf),
			box(0, 0, 0.2, 0.1),
		},
		// L
		{
			box(-0.25, 0, strokeHalf, letterHalfHeight),
			box(0.1, -0.65, 0.35, strokeHalf),
		},
		// I
		{
			box(0, 0, strokeHalf, letterHalfHeight),
		},
		// V
		{
			box(-0.3, 0.1, strokeHalf, 0.7),
			box(0.3, 0.1, strokeHalf, 0.7),
			box(0, -0.65, 0.25, strokeHalf),
		},
		// E
		{
			box(-0.3, 0, strokeHalf, letterHalfHeight),
			box(0.1, 0.65, 0.4, strokeHalf),
			box(0.05, 0, 0.3, 0.12),
			box(0.1, -0.65, 0.4, strokeHalf),
		},
	}
})

// LetterHulls returns a copy of the hull decomposition for the glyph with
// the given tag (1 = A .. 5 = E). It returns nil for any other tag.
func LetterHulls(tag uint64) []Cuboid {
	if tag < 1 || tag > 5 {
		return nil
	}
	hulls := letterHulls()[tag-1]
	return append([]Cuboid(nil), hulls...)
}
