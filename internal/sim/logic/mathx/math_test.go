package mathx

import (
	"math"
	"testing"
)

func TestHash3_StableAndDistinct(t *testing.T) {
	a := Hash3(42, 0, 0, 0)
	if a != Hash3(42, 0, 0, 0) {
		t.Fatalf("hash not stable")
	}
	seen := map[uint64]bool{a: true}
	for _, h := range []uint64{Hash3(42, 1, 0, 0), Hash3(42, 0, 1, 0), Hash3(42, 0, 0, 1), Hash3(43, 0, 0, 0)} {
		if seen[h] {
			t.Fatalf("collision: %x", h)
		}
		seen[h] = true
	}
}

func TestUnit_Range(t *testing.T) {
	for _, h := range []uint64{0, 1, math.MaxUint64, 1 << 63, Hash3(7, 3, 9, 1)} {
		u := Unit(h)
		if u < 0 || u >= 1 {
			t.Fatalf("Unit(%x)=%v out of [0,1)", h, u)
		}
	}
}

func TestNormDeg(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0}, {360, 0}, {-90, 270}, {450, 90}, {-720, 0}, {359.5, 359.5},
	}
	for _, c := range cases {
		if got := NormDeg(c.in); got != c.want {
			t.Fatalf("NormDeg(%v)=%v want %v", c.in, got, c.want)
		}
	}
	if got := NormDeg(-1e-20); got < 0 || got >= 360 {
		t.Fatalf("NormDeg(-tiny)=%v out of range", got)
	}
}

func TestBearing_CompassConvention(t *testing.T) {
	cases := []struct {
		dx, dy, want float64
	}{
		{0, 1, 0}, {1, 0, 90}, {0, -1, 180}, {-1, 0, 270},
	}
	for _, c := range cases {
		if got := Bearing(c.dx, c.dy); math.Abs(got-c.want) > 1e-12 {
			t.Fatalf("Bearing(%v,%v)=%v want %v", c.dx, c.dy, got, c.want)
		}
	}
}
