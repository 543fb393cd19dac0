package rdp

// Value is a 32-bit RDP sequence number. The sequence space wraps modulo
// 2^32; every ordering comparison uses signed-wraparound arithmetic
// (a < b iff (int32)(a-b) < 0), never a naive uint32 <.
type Value uint32

// Size is a count of sequence numbers (fragment counts, window sizes).
type Size uint32

// Sub returns the signed distance from b to a, i.e. a-b interpreted as a
// two's complement int32. This is the one primitive every other ordering
// operation on Value is built from.
func (a Value) Sub(b Value) int32 {
	return int32(a - b)
}

// LessThan reports whether a precedes b in the wrapped sequence space.
func (a Value) LessThan(b Value) bool {
	return a.Sub(b) < 0
}

// LessThanEq reports whether a precedes or equals b.
func (a Value) LessThanEq(b Value) bool {
	return a == b || a.LessThan(b)
}

// GreaterThan reports whether a follows b in the wrapped sequence space.
func (a Value) GreaterThan(b Value) bool {
	return b.LessThan(a)
}

// GreaterThanEq reports whether a follows or equals b.
func (a Value) GreaterThanEq(b Value) bool {
	return a == b || a.GreaterThan(b)
}

// Add returns a advanced by sz sequence numbers.
func (a Value) Add(sz Size) Value {
	return a + Value(sz)
}

// SubSize returns a moved back by sz sequence numbers.
func (a Value) SubSize(sz Size) Value {
	return a - Value(sz)
}

// Sizeof returns the number of sequence numbers from lo up to (exclusive)
// hi, i.e. hi-lo as an unsigned Size. Only meaningful when hi does not
// precede lo in the wrapped space.
func Sizeof(lo, hi Value) Size {
	return Size(hi - lo)
}

// InClosed reports whether v falls in the closed interval [lo, hi] of the
// wrapped sequence space.
func InClosed(v, lo, hi Value) bool {
	return lo.LessThanEq(v) && v.LessThanEq(hi)
}

// InWindow reports whether v falls in [lo, lo+sz), handling the case where
// lo+sz wraps around the sequence space.
func InWindow(v, lo Value, sz Size) bool {
	if sz == 0 {
		return false
	}
	return Size(v.Sub(lo)) < sz
}
