package core

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"google.golang.org/protobuf/encoding/protowire"
)

// encoder appends protobuf wire-format fields. Doubles are written as raw
// fixed64 bits so a round trip is bit-exact.
type encoder struct {
	buf []byte
}

func (e *encoder) double(num protowire.Number, v float64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
}

func (e *encoder) uvarint(num protowire.Number, v uint64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) boolean(num protowire.Number, v bool) {
	e.uvarint(num, protowire.EncodeBool(v))
}

func (e *encoder) doubles(num protowire.Number, vs ...float64) {
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, packed)
}

func (e *encoder) vec3(num protowire.Number, v mgl64.Vec3) {
	e.doubles(num, v[0], v[1], v[2])
}

func (e *encoder) quat(num protowire.Number, q mgl64.Quat) {
	e.doubles(num, q.W, q.V[0], q.V[1], q.V[2])
}

func (e *encoder) uvarints(num protowire.Number, vs []uint64) {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, packed)
}

func (e *encoder) message(num protowire.Number, fn func(*encoder)) {
	var inner encoder
	fn(&inner)
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, inner.buf)
}

func handleBits(h Handle) uint64 { return uint64(h.Generation)<<32 | uint64(h.Index) }

func handleFromBits(v uint64) Handle {
	return Handle{Index: uint32(v), Generation: uint32(v >> 32)}
}

// reader walks the fields of one wire-format message. The first error
// stops iteration and is kept in err.
type reader struct {
	buf []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func (r *reader) next() bool {
	if r.err != nil || len(r.buf) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(r.buf)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return false
	}
	r.buf = r.buf[n:]
	r.num, r.typ = num, typ
	return true
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) expect(t protowire.Type) bool {
	if r.typ != t {
		r.fail(fmt.Errorf("field %d: wire type %d, want %d", r.num, r.typ, t))
		return false
	}
	return true
}

func (r *reader) double() float64 {
	if !r.expect(protowire.Fixed64Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.buf)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.buf = r.buf[n:]
	return math.Float64frombits(v)
}

func (r *reader) uvarint() uint64 {
	if !r.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.buf)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) u32() uint32 {
	v := r.uvarint()
	if v > math.MaxUint32 {
		r.fail(fmt.Errorf("field %d: value %d overflows uint32", r.num, v))
	}
	return uint32(v)
}

func (r *reader) boolean() bool { return protowire.DecodeBool(r.uvarint()) }

func (r *reader) bytes() []byte {
	if !r.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.buf)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return nil
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) doubles(want int) []float64 {
	b := r.bytes()
	if r.err != nil {
		return nil
	}
	if len(b) != 8*want {
		r.fail(fmt.Errorf("field %d: %d bytes of packed doubles, want %d", r.num, len(b), 8*want))
		return nil
	}
	out := make([]float64, want)
	for i := range out {
		v, n := protowire.ConsumeFixed64(b)
		out[i] = math.Float64frombits(v)
		b = b[n:]
	}
	return out
}

func (r *reader) vec3() mgl64.Vec3 {
	v := r.doubles(3)
	if v == nil {
		return mgl64.Vec3{}
	}
	return mgl64.Vec3{v[0], v[1], v[2]}
}

func (r *reader) quat() mgl64.Quat {
	v := r.doubles(4)
	if v == nil {
		return mgl64.Quat{}
	}
	return mgl64.Quat{W: v[0], V: mgl64.Vec3{v[1], v[2], v[3]}}
}

func (r *reader) uvarints() []uint64 {
	b := r.bytes()
	var out []uint64
	for len(b) > 0 && r.err == nil {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			r.fail(protowire.ParseError(n))
			return nil
		}
		out = append(out, v)
		b = b[n:]
	}
	return out
}

func (r *reader) handle() Handle { return handleFromBits(r.uvarint()) }

func (r *reader) message(fn func(*reader)) {
	b := r.bytes()
	if r.err != nil {
		return
	}
	inner := reader{buf: b}
	fn(&inner)
	if inner.err != nil {
		r.fail(fmt.Errorf("field %d: %w", r.num, inner.err))
	}
}

func (r *reader) skip() {
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.buf)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return
	}
	r.buf = r.buf[n:]
}
