package digestcodec

import (
	"bytes"
	"crypto/sha256"
	"math"
	"testing"
)

func digest(f func(w Writer, tmp *[8]byte)) [32]byte {
	h := sha256.New()
	var tmp [8]byte
	f(h, &tmp)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func TestWriteF64s_DistinguishesUlp(t *testing.T) {
	a := digest(func(w Writer, tmp *[8]byte) { WriteF64s(w, tmp, []float64{0.1, 0.2}) })
	b := digest(func(w Writer, tmp *[8]byte) {
		WriteF64s(w, tmp, []float64{0.1, math.Nextafter(0.2, 1)})
	})
	if a == b {
		t.Fatalf("expected digests to differ")
	}
	c := digest(func(w Writer, tmp *[8]byte) { WriteF64s(w, tmp, []float64{0.1, 0.2}) })
	if a != c {
		t.Fatalf("expected stable digest")
	}
}

func TestWriteString_LengthPrefixed(t *testing.T) {
	var buf bytes.Buffer
	var tmp [8]byte
	WriteString(&buf, &tmp, "ab")
	WriteString(&buf, &tmp, "c")
	var other bytes.Buffer
	WriteString(&other, &tmp, "a")
	WriteString(&other, &tmp, "bc")
	if bytes.Equal(buf.Bytes(), other.Bytes()) {
		t.Fatalf("length prefix should separate adjacent strings")
	}
}

func TestWriteBools(t *testing.T) {
	var buf bytes.Buffer
	var tmp [8]byte
	WriteBools(&buf, &tmp, []bool{true, false, true})
	got := buf.Bytes()
	if len(got) != 8+3 || got[8] != 1 || got[9] != 0 || got[10] != 1 {
		t.Fatalf("unexpected encoding: %v", got)
	}
}
