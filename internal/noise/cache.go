package noise

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/Faultbox/isoterrain/pkg/formats"
)

// NumVolumes is the number of octave volumes the terrain field samples.
const NumVolumes = 4

// DefaultVolumeSize is the edge length of generated volumes.
const DefaultVolumeSize = 16

// ErrVolumeNotFound is returned by LoadDir when no file exists for a volume slot.
var ErrVolumeNotFound = errors.New("noise volume not found")

// Cache holds the read-only noise volumes shared by every build.
// It is safe for concurrent use once constructed.
type Cache struct {
	volumes [NumVolumes]*Volume
}

// NewCache builds a cache from exactly NumVolumes volumes.
func NewCache(volumes ...*Volume) (*Cache, error) {
	if len(volumes) != NumVolumes {
		return nil, fmt.Errorf("noise cache needs %d volumes, got %d", NumVolumes, len(volumes))
	}
	c := &Cache{}
	for i, v := range volumes {
		if v == nil {
			return nil, fmt.Errorf("noise volume %d is nil", i)
		}
		c.volumes[i] = v
	}
	return c, nil
}

// Volume returns volume i.
func (c *Cache) Volume(i int) *Volume {
	return c.volumes[i]
}

// candidateNames lists the file names tried for volume i, in order.
func candidateNames(i int) []string {
	base := fmt.Sprintf("noise%d", i)
	return []string{
		base + ".vol",
		base + ".vol.zst",
		base + ".dat",
		base + ".dat.zst",
	}
}

// LoadDir loads noise0..noise3 from dir. Each slot accepts a half-float
// ".vol" file or a raw float32 ".dat" file, optionally zstd-compressed.
func LoadDir(dir string) (*Cache, error) {
	vols := make([]*Volume, NumVolumes)
	for i := range vols {
		path, err := findVolume(dir, i)
		if err != nil {
			return nil, err
		}
		if vols[i], err = loadVolume(path); err != nil {
			return nil, err
		}
	}
	return NewCache(vols...)
}

func loadVolume(path string) (*Volume, error) {
	fv, err := formats.ParseVolumeFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	v, err := FromFormat(fv)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return v, nil
}

func findVolume(dir string, i int) (string, error) {
	for _, name := range candidateNames(i) {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: noise%d in %s", ErrVolumeNotFound, i, dir)
}

// NewSeeded fills NumVolumes cubes of the given size with uniform values in
// [-1,1) from a deterministic generator.
func NewSeeded(seed int64, size int) *Cache {
	if size <= 0 {
		size = DefaultVolumeSize
	}
	rng := rand.New(rand.NewSource(seed))
	c := &Cache{}
	for i := range c.volumes {
		data := make([]float32, size*size*size)
		for j := range data {
			data[j] = rng.Float32()*2 - 1
		}
		c.volumes[i] = &Volume{w: size, h: size, d: size, data: data}
	}
	return c
}

// LoadOrSeed loads volumes from dir. Each slot without a file takes the
// matching volume of NewSeeded(seed, size); an empty dir seeds every slot.
// The bool reports whether any slot was seeded. Decode errors are returned.
func LoadOrSeed(dir string, seed int64, size int) (*Cache, bool, error) {
	seeded := NewSeeded(seed, size)
	if dir == "" {
		return seeded, true, nil
	}

	c := &Cache{}
	used := false
	for i := range c.volumes {
		path, err := findVolume(dir, i)
		if errors.Is(err, ErrVolumeNotFound) {
			c.volumes[i] = seeded.volumes[i]
			used = true
			continue
		}
		if c.volumes[i], err = loadVolume(path); err != nil {
			return nil, false, err
		}
	}
	return c, used, nil
}
