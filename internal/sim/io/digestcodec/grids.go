package digestcodec

// WriteF64s writes a length-prefixed float grid.
func WriteF64s(w Writer, tmp *[8]byte, vs []float64) {
	WriteU64(w, tmp, uint64(len(vs)))
	for _, v := range vs {
		WriteF64(w, tmp, v)
	}
}

// WriteBools writes a length-prefixed mask, one byte per cell.
func WriteBools(w Writer, tmp *[8]byte, vs []bool) {
	WriteU64(w, tmp, uint64(len(vs)))
	buf := make([]byte, len(vs))
	for i, v := range vs {
		buf[i] = BoolByte(v)
	}
	w.Write(buf)
}
