package wasmbin

import (
	"bytes"
	"encoding/binary"
	"math"
)

func writeF32(out *bytes.Buffer, v float32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	out.Write(b[:])
}

func writeF64(out *bytes.Buffer, v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	out.Write(b[:])
}
