// Package encoding packs per-cell member grids into compact strings for the
// member log.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeSteps run-length encodes an ignition-step grid as base64 of
// (zigzag value, run length) varint pairs. Ignition grids are dominated by
// long runs of the never-ignited sentinel, so they shrink well.
func EncodeSteps(steps []int32) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	for i := 0; i < len(steps); {
		v := steps[i]
		run := 1
		for j := i + 1; j < len(steps) && steps[j] == v; j++ {
			run++
		}
		n := binary.PutVarint(tmp[:], int64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeSteps reverses EncodeSteps. cells is the expected grid length; a
// payload decoding to any other length is rejected.
func DecodeSteps(b64 string, cells int) ([]int32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, cells)
	for i := 0; i < len(raw); {
		v, n := binary.Varint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("value out of range: %d", v)
		}
		if run == 0 || run > uint64(cells-len(out)) {
			return nil, fmt.Errorf("run of %d overflows %d cells", run, cells)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, int32(v))
		}
	}
	if len(out) != cells {
		return nil, fmt.Errorf("decoded %d cells, want %d", len(out), cells)
	}
	return out, nil
}
