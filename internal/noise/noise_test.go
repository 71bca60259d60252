package noise

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/isoterrain/pkg/formats"
	"github.com/Faultbox/isoterrain/pkg/math"
)

func rampVolume(t *testing.T, n int) *Volume {
	t.Helper()
	data := make([]float32, n*n*n)
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				data[x+y*n+z*n*n] = float32(x)
			}
		}
	}
	v, err := NewVolume(n, n, n, data)
	if err != nil {
		t.Fatalf("NewVolume failed: %v", err)
	}
	return v
}

func TestNewVolume_SizeMismatch(t *testing.T) {
	if _, err := NewVolume(2, 2, 2, make([]float32, 7)); err == nil {
		t.Error("expected error for short data")
	}
	if _, err := NewVolume(0, 2, 2, nil); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestVolume_AtWraps(t *testing.T) {
	v := rampVolume(t, 4)
	if got := v.At(-1, 0, 0); got != 3 {
		t.Errorf("At(-1,0,0) = %v, want 3", got)
	}
	if got := v.At(5, 9, -7); got != 1 {
		t.Errorf("At(5,9,-7) = %v, want 1", got)
	}
}

func TestVolume_SampleTexelCenters(t *testing.T) {
	v := rampVolume(t, 4)
	// Texel centers return stored values exactly.
	for x := 0; x < 4; x++ {
		p := math.Vec3{X: (float32(x) + 0.5) / 4, Y: 0.125, Z: 0.125}
		if got := v.Sample(p); got != float32(x) {
			t.Errorf("Sample at texel %d = %v, want %d", x, got, x)
		}
	}
	// Halfway between texels 1 and 2.
	if got := v.Sample(math.Vec3{X: 0.5, Y: 0.125, Z: 0.125}); got != 1.5 {
		t.Errorf("Sample midway = %v, want 1.5", got)
	}
}

func TestVolume_SampleRepeats(t *testing.T) {
	c := NewSeeded(7, 8)
	v := c.Volume(2)
	p := math.Vec3{X: 0.3, Y: 0.71, Z: 0.05}
	shifted := math.Vec3{X: p.X + 3, Y: p.Y - 2, Z: p.Z + 1}
	a, b := v.Sample(p), v.Sample(shifted)
	if d := a - b; d > 1e-4 || d < -1e-4 {
		t.Errorf("sample not periodic: %v vs %v", a, b)
	}
}

func TestNewSeeded_Deterministic(t *testing.T) {
	a := NewSeeded(42, 8)
	b := NewSeeded(42, 8)
	c := NewSeeded(43, 8)

	same := true
	for i := 0; i < NumVolumes; i++ {
		da, db, dc := a.Volume(i).Data(), b.Volume(i).Data(), c.Volume(i).Data()
		for j := range da {
			if da[j] != db[j] {
				t.Fatalf("volume %d sample %d differs for equal seeds", i, j)
			}
			if da[j] < -1 || da[j] >= 1 {
				t.Fatalf("sample %v out of range", da[j])
			}
			if da[j] != dc[j] {
				same = false
			}
		}
	}
	if same {
		t.Error("different seeds produced identical volumes")
	}
}

func TestNewCache_Count(t *testing.T) {
	v := rampVolume(t, 2)
	if _, err := NewCache(v, v); err == nil {
		t.Error("expected error for too few volumes")
	}
	if _, err := NewCache(v, v, v, nil); err == nil {
		t.Error("expected error for nil volume")
	}
	if _, err := NewCache(v, v, v, v); err != nil {
		t.Errorf("NewCache failed: %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	fv := &formats.Volume{Width: 2, Height: 2, Depth: 2, Channels: 1, Samples: []float32{0, 1, 2, 3, 4, 5, 6, 7}}

	half, err := formats.EncodeHalfVolume(fv)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := formats.EncodeRawVolume(fv)
	if err != nil {
		t.Fatal(err)
	}
	packed, err := formats.Compress(raw)
	if err != nil {
		t.Fatal(err)
	}

	files := map[string][]byte{
		"noise0.vol":     half,
		"noise1.dat":     raw,
		"noise2.dat.zst": packed,
		"noise3.vol":     half,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	for i := 0; i < NumVolumes; i++ {
		if got := c.Volume(i).At(1, 1, 1); got != 7 {
			t.Errorf("volume %d: At(1,1,1) = %v, want 7", i, got)
		}
	}
}

func TestLoadOrSeed(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadDir(dir)
	if !errors.Is(err, ErrVolumeNotFound) {
		t.Fatalf("expected ErrVolumeNotFound, got %v", err)
	}

	c, seeded, err := LoadOrSeed(dir, 1, 8)
	if err != nil {
		t.Fatalf("LoadOrSeed failed: %v", err)
	}
	if !seeded || c == nil {
		t.Error("expected seeded fallback for empty dir")
	}

	// Only the missing slots are seeded.
	fv := &formats.Volume{Width: 2, Height: 2, Depth: 2, Channels: 1, Samples: []float32{7, 7, 7, 7, 7, 7, 7, 7}}
	half, err := formats.EncodeHalfVolume(fv)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "noise2.vol"), half, 0o644); err != nil {
		t.Fatal(err)
	}
	c, seeded, err = LoadOrSeed(dir, 1, 8)
	if err != nil {
		t.Fatalf("LoadOrSeed failed: %v", err)
	}
	if !seeded {
		t.Error("expected seeded slots alongside noise2")
	}
	if w, _, _ := c.Volume(2).Dims(); w != 2 || c.Volume(2).At(1, 1, 1) != 7 {
		t.Errorf("noise2 was not loaded from disk")
	}
	ref := NewSeeded(1, 8)
	for _, i := range []int{0, 1, 3} {
		if got, want := c.Volume(i).At(3, 4, 5), ref.Volume(i).At(3, 4, 5); got != want {
			t.Errorf("volume %d: At(3,4,5) = %v, want seeded %v", i, got, want)
		}
	}

	// A corrupt file is an error, not a fallback.
	for i := 0; i < NumVolumes; i++ {
		os.WriteFile(filepath.Join(dir, "noise"+string(rune('0'+i))+".vol"), []byte("bad"), 0o644)
	}
	if _, _, err := LoadOrSeed(dir, 1, 8); err == nil {
		t.Error("expected decode error")
	}
}
