//go:build ignore

// This program generates the half-float volume fixture for unit tests.
// Run with: go run generate_volume.go
package main

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/x448/float16"
)

func main() {
	// 4x4x4 lattice, two channels: a ramp and its negation.
	const n = 4
	var buf bytes.Buffer

	// Header (20 bytes): magic, version, then w, h, d, channels
	buf.WriteString("VOL")
	buf.WriteByte(1)
	binary.Write(&buf, binary.LittleEndian, [4]uint32{n, n, n, 2})

	for i := 0; i < n*n*n; i++ {
		v := float32(i) / 64
		binary.Write(&buf, binary.LittleEndian, float16.Fromfloat32(v).Bits())
		binary.Write(&buf, binary.LittleEndian, float16.Fromfloat32(-v).Bits())
	}

	if err := os.WriteFile("ramp4.vol", buf.Bytes(), 0644); err != nil {
		panic(err)
	}
}
