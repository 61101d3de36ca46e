package samplebuf

import (
	"encoding/binary"
	"fmt"
)

// SampleSize is the packed wire size of one Sample.
const SampleSize = 6

// Sample is one three-axis accelerometer reading.
type Sample struct {
	X, Y, Z int16
}

// AppendPacked appends the little-endian packing of samples to dst.
func AppendPacked(dst []byte, samples []Sample) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.X))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Y))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Z))
	}
	return dst
}

// Unpack decodes a SENSOR_DATA payload.
func Unpack(data []byte) ([]Sample, error) {
	if len(data)%SampleSize != 0 {
		return nil, fmt.Errorf("sample payload of %d bytes is not a multiple of %d", len(data), SampleSize)
	}
	out := make([]Sample, 0, len(data)/SampleSize)
	for off := 0; off < len(data); off += SampleSize {
		out = append(out, Sample{
			X: int16(binary.LittleEndian.Uint16(data[off:])),
			Y: int16(binary.LittleEndian.Uint16(data[off+2:])),
			Z: int16(binary.LittleEndian.Uint16(data[off+4:])),
		})
	}
	return out, nil
}
