package core

import (
	"cmp"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
)

// ColliderPair is a potentially touching pair, ordered so A has the lower
// slot index.
type ColliderPair struct {
	A, B ColliderHandle
}

// BroadPhase finds overlapping bounding boxes with a sort and sweep along X.
type BroadPhase struct {
	Margin float64
	Pairs  []ColliderPair
}

type proxy struct {
	collider ColliderHandle
	parent   BodyHandle
	awake    bool
	min, max mgl64.Vec3
}

func (bp *BroadPhase) update(bodies *RigidBodySet, colliders *ColliderSet) {
	var proxies []proxy
	colliders.Each(func(h ColliderHandle, c *Collider) {
		parent, ok := bodies.Get(c.Parent)
		if !ok {
			return
		}
		center := c.worldCenter(parent)
		r := c.Hull.BoundingRadius() + bp.Margin
		ext := mgl64.Vec3{r, r, r}
		proxies = append(proxies, proxy{
			collider: h,
			parent:   c.Parent,
			awake:    parent.awake(),
			min:      center.Sub(ext),
			max:      center.Add(ext),
		})
	})
	slices.SortFunc(proxies, func(a, b proxy) int {
		if c := cmp.Compare(a.min[0], b.min[0]); c != 0 {
			return c
		}
		return cmp.Compare(a.collider.Index, b.collider.Index)
	})

	bp.Pairs = bp.Pairs[:0]
	for i := range proxies {
		p := &proxies[i]
		for j := i + 1; j < len(proxies) && proxies[j].min[0] <= p.max[0]; j++ {
			q := &proxies[j]
			if p.parent == q.parent || (!p.awake && !q.awake) {
				continue
			}
			if p.max[1] < q.min[1] || q.max[1] < p.min[1] || p.max[2] < q.min[2] || q.max[2] < p.min[2] {
				continue
			}
			pair := ColliderPair{A: p.collider, B: q.collider}
			if pair.B.Index < pair.A.Index {
				pair.A, pair.B = pair.B, pair.A
			}
			bp.Pairs = append(bp.Pairs, pair)
		}
	}
	slices.SortFunc(bp.Pairs, func(a, b ColliderPair) int {
		if c := cmp.Compare(a.A.Index, b.A.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.B.Index, b.B.Index)
	})
}

func (bp *BroadPhase) clone() BroadPhase {
	return BroadPhase{Margin: bp.Margin, Pairs: append([]ColliderPair(nil), bp.Pairs...)}
}
