// Package formats provides codecs for the noise volume files used by the terrain generator.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
)

// Volume format errors.
var (
	ErrInvalidVolumeMagic       = errors.New("invalid volume magic: expected 'VOL'")
	ErrUnsupportedVolumeVersion = errors.New("unsupported volume version")
	ErrTruncatedVolumeData      = errors.New("truncated volume data")
	ErrVolumeSizeMismatch       = errors.New("volume size mismatch")
)

const (
	volumeMagic      = "VOL"
	volumeVersion    = 1
	volumeHeaderSize = 20

	// maxVolumeDim bounds each axis so a corrupt header cannot trigger a huge allocation.
	maxVolumeDim = 1024
)

// Volume is a dense 3D lattice of samples, x fastest, then y, then z.
// Multi-channel volumes interleave channels per sample.
type Volume struct {
	Width    int
	Height   int
	Depth    int
	Channels int
	Samples  []float32
}

// NumSamples returns the number of lattice points (not counting channels).
func (v *Volume) NumSamples() int {
	return v.Width * v.Height * v.Depth
}

// Channel extracts one channel as a dense slice.
func (v *Volume) Channel(c int) ([]float32, error) {
	if c < 0 || c >= v.Channels {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", c, v.Channels)
	}
	if v.Channels == 1 {
		return v.Samples, nil
	}
	out := make([]float32, v.NumSamples())
	for i := range out {
		out[i] = v.Samples[i*v.Channels+c]
	}
	return out, nil
}

func validateDims(w, h, d, ch int) error {
	if w <= 0 || h <= 0 || d <= 0 || w > maxVolumeDim || h > maxVolumeDim || d > maxVolumeDim {
		return fmt.Errorf("invalid volume dimensions: %dx%dx%d", w, h, d)
	}
	if ch <= 0 || ch > 4 {
		return fmt.Errorf("invalid volume channel count: %d", ch)
	}
	return nil
}

// ParseRawVolume parses a headerless little-endian float32 volume.
// A zero dims value infers a cube from the data length.
func ParseRawVolume(data []byte, dims [3]int) (*Volume, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of floats", ErrTruncatedVolumeData, len(data))
	}
	n := len(data) / 4

	if dims == [3]int{} {
		side := int(math.Round(math.Cbrt(float64(n))))
		if side*side*side != n {
			return nil, fmt.Errorf("%w: %d samples is not a cube", ErrVolumeSizeMismatch, n)
		}
		dims = [3]int{side, side, side}
	}
	if err := validateDims(dims[0], dims[1], dims[2], 1); err != nil {
		return nil, err
	}
	if want := dims[0] * dims[1] * dims[2]; want != n {
		return nil, fmt.Errorf("%w: expected %d samples, got %d", ErrVolumeSizeMismatch, want, n)
	}

	vol := &Volume{
		Width:    dims[0],
		Height:   dims[1],
		Depth:    dims[2],
		Channels: 1,
		Samples:  make([]float32, n),
	}
	for i := range vol.Samples {
		vol.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vol, nil
}

// ParseHalfVolume parses a "VOL" volume: 20-byte header followed by half floats.
//
// Header layout:
//
//	[0:3]   magic "VOL"
//	[3]     version
//	[4:8]   width  (uint32)
//	[8:12]  height (uint32)
//	[12:16] depth  (uint32)
//	[16:20] channels (uint32)
func ParseHalfVolume(data []byte) (*Volume, error) {
	if len(data) < volumeHeaderSize {
		return nil, ErrTruncatedVolumeData
	}
	if string(data[0:3]) != volumeMagic {
		return nil, ErrInvalidVolumeMagic
	}
	if data[3] != volumeVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVolumeVersion, data[3])
	}

	r := bytes.NewReader(data[4:volumeHeaderSize])
	var hdr struct {
		Width, Height, Depth, Channels uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: reading header", ErrTruncatedVolumeData)
	}

	w, h, d, ch := int(hdr.Width), int(hdr.Height), int(hdr.Depth), int(hdr.Channels)
	if err := validateDims(w, h, d, ch); err != nil {
		return nil, err
	}

	count := w * h * d * ch
	body := data[volumeHeaderSize:]
	if len(body) < count*2 {
		return nil, fmt.Errorf("%w: expected %d half floats, got %d", ErrTruncatedVolumeData, count, len(body)/2)
	}

	vol := &Volume{
		Width:    w,
		Height:   h,
		Depth:    d,
		Channels: ch,
		Samples:  make([]float32, count),
	}
	for i := range vol.Samples {
		bits := binary.LittleEndian.Uint16(body[i*2:])
		vol.Samples[i] = float16.Frombits(bits).Float32()
	}
	return vol, nil
}

// EncodeHalfVolume serializes a volume in the "VOL" half-float format.
func EncodeHalfVolume(vol *Volume) ([]byte, error) {
	if err := validateDims(vol.Width, vol.Height, vol.Depth, vol.Channels); err != nil {
		return nil, err
	}
	if len(vol.Samples) != vol.NumSamples()*vol.Channels {
		return nil, fmt.Errorf("%w: %d samples for %dx%dx%dx%d", ErrVolumeSizeMismatch,
			len(vol.Samples), vol.Width, vol.Height, vol.Depth, vol.Channels)
	}

	buf := new(bytes.Buffer)
	buf.Grow(volumeHeaderSize + len(vol.Samples)*2)
	buf.WriteString(volumeMagic)
	buf.WriteByte(volumeVersion)
	hdr := [4]uint32{uint32(vol.Width), uint32(vol.Height), uint32(vol.Depth), uint32(vol.Channels)}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	for _, s := range vol.Samples {
		if err := binary.Write(buf, binary.LittleEndian, float16.Fromfloat32(s).Bits()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodeRawVolume serializes the first channel as headerless float32.
func EncodeRawVolume(vol *Volume) ([]byte, error) {
	samples, err := vol.Channel(0)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out, nil
}

// Decompress inflates a zstd stream.
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening zstd stream: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return out, nil
}

// Compress deflates data into a zstd stream.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseVolume decodes a volume, choosing the codec from the file name:
// ".vol" is the half-float format, anything else is raw float32.
// A trailing ".zst" is stripped after inflating the data.
func ParseVolume(name string, data []byte) (*Volume, error) {
	if strings.HasSuffix(name, ".zst") {
		raw, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = raw
		name = strings.TrimSuffix(name, ".zst")
	}

	if strings.EqualFold(filepath.Ext(name), ".vol") {
		return ParseHalfVolume(data)
	}
	return ParseRawVolume(data, [3]int{})
}

// ParseVolumeFile parses a volume file from disk.
func ParseVolumeFile(path string) (*Volume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading volume file: %w", err)
	}
	return ParseVolume(filepath.Base(path), data)
}
