package rdp

import "testing"

func TestSeqCompareWraparound(t *testing.T) {
	cases := []struct {
		a, b Value
		less bool
	}{
		{0, 1, true},
		{1, 0, false},
		{5, 5, false},
		{0xFFFFFFFF, 0, true},
		{0xFFFFFFFE, 2, true},
		{2, 0xFFFFFFFE, false},
		{0x7FFFFFFF, 0x80000000, true},
		{0x80000001, 1, true},
	}
	for _, tc := range cases {
		if got := tc.a.LessThan(tc.b); got != tc.less {
			t.Errorf("LessThan(%#x, %#x) = %v, want %v", uint32(tc.a), uint32(tc.b), got, tc.less)
		}
		if got := tc.b.GreaterThan(tc.a); got != tc.less {
			t.Errorf("GreaterThan(%#x, %#x) = %v, want %v", uint32(tc.b), uint32(tc.a), got, tc.less)
		}
	}
}

func TestSeqAddSubWraps(t *testing.T) {
	v := Value(0xFFFFFFFE)
	if got := v.Add(4); got != 2 {
		t.Errorf("Add wrap: got %#x, want 2", uint32(got))
	}
	if got := Value(2).SubSize(4); got != 0xFFFFFFFE {
		t.Errorf("SubSize wrap: got %#x", uint32(got))
	}
	if d := Value(2).Sub(0xFFFFFFFE); d != 4 {
		t.Errorf("Sub across wrap: got %d, want 4", d)
	}
	if sz := Sizeof(0xFFFFFFFE, 2); sz != 4 {
		t.Errorf("Sizeof across wrap: got %d, want 4", sz)
	}
}

func TestInWindowWraparound(t *testing.T) {
	// The window [0xFFFFFFF0, 0xFFFFFFF0+32) wraps through zero; behavior
	// must match the equivalent non-wrapping window.
	lo := Value(0xFFFFFFF0)
	for i := 0; i < 32; i++ {
		if !InWindow(lo.Add(Size(i)), lo, 32) {
			t.Errorf("InWindow(%#x) = false inside window", uint32(lo.Add(Size(i))))
		}
	}
	if InWindow(lo.Add(32), lo, 32) {
		t.Error("InWindow true just past window end")
	}
	if InWindow(lo.SubSize(1), lo, 32) {
		t.Error("InWindow true just below window start")
	}
	if InWindow(5, lo, 0) {
		t.Error("InWindow true for empty window")
	}
}

func TestInClosed(t *testing.T) {
	if !InClosed(0, 0xFFFFFFFE, 3) {
		t.Error("InClosed false inside wrapped interval")
	}
	if InClosed(4, 0xFFFFFFFE, 3) {
		t.Error("InClosed true past wrapped interval")
	}
}
