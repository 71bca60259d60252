// Package glcompute runs the chunk pipeline as OpenGL 4.3 compute shaders.
//
// The device owns a hidden SDL window for its GL context. All GL calls are
// made from the queue goroutine, which is locked to its OS thread.
package glcompute

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-gl/gl/v4.3-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/extract"
	"github.com/Faultbox/isoterrain/internal/mctables"
	"github.com/Faultbox/isoterrain/internal/noise"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

// Config holds the GL device settings.
type Config struct {
	Layout  terrain.Layout
	Terrain *density.TerrainField
	Extract extract.Options
	Limits  device.Limits
	Logger  *zap.Logger
}

// Device implements device.Device on a GL compute context.
type Device struct {
	cfg    Config
	log    *zap.Logger
	queue  *device.Queue
	budget *device.Budget

	// Queue goroutine only.
	gl      *glContext
	progs   programs
	noise   [noise.NumVolumes]uint32
	cases   uint32
	vcounts uint32

	closeOnce sync.Once
}

// New creates the GL context and compiles the kernels.
func New(cfg Config) (*Device, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("gl device: %w", err)
	}
	if cfg.Terrain == nil || cfg.Terrain.Noise == nil {
		return nil, fmt.Errorf("gl device: terrain field with noise volumes required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	d := &Device{
		cfg:    cfg,
		log:    cfg.Logger,
		budget: device.NewBudget(cfg.Limits),
	}
	q, err := device.NewQueue(device.QueueOptions{
		LockThread: true,
		Setup:      d.setup,
		Teardown:   d.teardown,
	})
	if err != nil {
		return nil, fmt.Errorf("gl device: %w", err)
	}
	d.queue = q
	return d, nil
}

func (d *Device) setup() error {
	ctx, err := newGLContext(d.log)
	if err != nil {
		return err
	}
	d.gl = ctx

	if d.progs, err = compilePrograms(d.cfg.Layout); err != nil {
		d.gl.close()
		return err
	}

	cases := make([]int32, mctables.NumCases*mctables.MaxCaseEntries)
	vcounts := make([]uint32, mctables.NumCases)
	for code := range mctables.Cases {
		for i, e := range mctables.Cases[code] {
			cases[code*mctables.MaxCaseEntries+i] = int32(e)
		}
		vcounts[code] = uint32(mctables.VertexCounts[code])
	}
	d.cases = newBuffer(len(cases)*4, gl.Ptr(cases))
	d.vcounts = newBuffer(len(vcounts)*4, gl.Ptr(vcounts))

	for i := range d.noise {
		d.noise[i] = uploadVolume(d.cfg.Terrain.Noise.Volume(i))
	}

	if err := checkError("uploading tables"); err != nil {
		d.teardown()
		return err
	}
	return nil
}

func (d *Device) teardown() {
	d.progs.delete()
	gl.DeleteBuffers(1, &d.cases)
	gl.DeleteBuffers(1, &d.vcounts)
	gl.DeleteTextures(int32(len(d.noise)), &d.noise[0])
	d.gl.close()
}

func newBuffer(size int, data unsafe.Pointer) uint32 {
	var id uint32
	gl.GenBuffers(1, &id)
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, id)
	gl.BufferData(gl.SHADER_STORAGE_BUFFER, size, data, gl.DYNAMIC_COPY)
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, 0)
	return id
}

func readBuffer(id uint32, size int, dst unsafe.Pointer) {
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, id)
	gl.GetBufferSubData(gl.SHADER_STORAGE_BUFFER, 0, size, dst)
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, 0)
}

func uploadVolume(v *noise.Volume) uint32 {
	w, h, dp := v.Dims()
	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_3D, tex)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_S, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_T, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_3D, gl.TEXTURE_WRAP_R, gl.REPEAT)
	gl.TexImage3D(gl.TEXTURE_3D, 0, gl.R32F, int32(w), int32(h), int32(dp), 0, gl.RED, gl.FLOAT, gl.Ptr(v.Data()))
	gl.BindTexture(gl.TEXTURE_3D, 0)
	return tex
}

// Name implements device.Device.
func (d *Device) Name() string {
	return "gl"
}

// Limits implements device.Device.
func (d *Device) Limits() device.Limits {
	return d.cfg.Limits
}

// Layout implements device.Device.
func (d *Device) Layout() terrain.Layout {
	return d.cfg.Layout
}

// Close releases the GL context after pending commands have run.
func (d *Device) Close() error {
	d.closeOnce.Do(d.queue.Close)
	return nil
}

func groups(n, size int) uint32 {
	return uint32((n + size - 1) / size)
}

// Begin implements device.Device.
func (d *Device) Begin(coord terrain.ChunkCoord) (device.Build, error) {
	layout := d.cfg.Layout
	reserved := int64(layout.NumPoints())*4 + int64(layout.NumCells())*4 + 8
	if err := d.budget.Reserve(reserved); err != nil {
		return nil, fmt.Errorf("allocating build buffers: %w", err)
	}

	b := &build{dev: d, coord: coord, reserved: reserved}
	err := d.queue.Submit(func() {
		b.lattice = newBuffer(layout.NumPoints()*4, nil)
		zero := [2]uint32{}
		b.counters = newBuffer(8, gl.Ptr(&zero[0]))
		b.markers = newBuffer(layout.NumCells()*4, nil)
		b.err = checkError("allocating build buffers")
	})
	if err != nil {
		d.budget.Free(reserved)
		return nil, err
	}
	return b, nil
}

type build struct {
	dev      *Device
	coord    terrain.ChunkCoord
	reserved int64
	released bool

	// Queue goroutine only.
	lattice  uint32
	counters uint32
	markers  uint32
	active   uint32
	err      error
}

func (b *build) Coord() terrain.ChunkCoord {
	return b.coord
}

func (b *build) GenerateDensity() error {
	d := b.dev
	return d.queue.Submit(func() {
		if b.err != nil {
			return
		}
		layout := d.cfg.Layout
		f := d.cfg.Terrain
		prog := d.progs.density
		gl.UseProgram(prog)

		origin := layout.ChunkOrigin(b.coord)
		gl.Uniform3f(uniform(prog, "chunkOrigin"), origin.X, origin.Y, origin.Z)
		gl.Uniform1f(uniform(prog, "voxelSize"), layout.VoxelSize())
		gl.Uniform1f(uniform(prog, "verticalBias"), f.VerticalBias)
		gl.Uniform1f(uniform(prog, "hardFloor"), f.HardFloor)
		gl.Uniform1f(uniform(prog, "hardFloorStrength"), f.HardFloorStrength)

		var octaves [noise.NumVolumes * 2]float32
		var offsets [noise.NumVolumes * 3]float32
		for k, o := range f.Octaves {
			octaves[k*2], octaves[k*2+1] = o.Frequency, o.Amplitude
			offsets[k*3], offsets[k*3+1], offsets[k*3+2] = o.Offset.X, o.Offset.Y, o.Offset.Z
		}
		gl.Uniform2fv(uniform(prog, "octaves"), noise.NumVolumes, &octaves[0])
		gl.Uniform3fv(uniform(prog, "offsets"), noise.NumVolumes, &offsets[0])

		for i, tex := range d.noise {
			gl.ActiveTexture(gl.TEXTURE0 + uint32(i))
			gl.BindTexture(gl.TEXTURE_3D, tex)
			gl.Uniform1i(uniform(prog, fmt.Sprintf("noise%d", i)), int32(i))
		}

		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 0, b.lattice)
		n := groups(layout.Points(), 4)
		gl.DispatchCompute(n, n, n)
		gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT)
		b.err = checkError("density dispatch")
	})
}

func (b *build) Scan() error {
	d := b.dev
	return d.queue.Submit(func() {
		if b.err != nil {
			return
		}
		gl.UseProgram(d.progs.scan)
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 0, b.lattice)
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 1, b.counters)
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 2, b.markers)
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 3, d.vcounts)
		n := groups(d.cfg.Layout.Cells(), 4)
		gl.DispatchCompute(n, n, n)
		gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT | gl.BUFFER_UPDATE_BARRIER_BIT)
		b.err = checkError("scan dispatch")
	})
}

func (b *build) Counters(ctx context.Context) (terrain.Counters, error) {
	var c terrain.Counters
	err := b.dev.queue.Do(ctx, func() error {
		if b.err != nil {
			return b.err
		}
		var raw [2]uint32
		readBuffer(b.counters, 8, gl.Ptr(&raw[0]))
		if err := checkError("reading counters"); err != nil {
			return err
		}
		b.active = raw[0]
		c = terrain.Counters{ActiveVoxels: raw[0], Vertices: raw[1]}
		return nil
	})
	return c, err
}

func (b *build) AllocateVertices(n uint32) (device.VertexBuffer, error) {
	d := b.dev
	size := device.BufferBytes(n)
	if err := d.budget.Reserve(size); err != nil {
		return nil, fmt.Errorf("allocating vertex buffer: %w", err)
	}

	vb := &vertexBuffer{dev: d, n: n, ready: make(chan struct{})}
	err := d.queue.Submit(func() {
		vb.buffer = newBuffer(int(size), nil)
		zero := [2]uint32{}
		vb.state = newBuffer(8, gl.Ptr(&zero[0]))
		vb.err = checkError("allocating vertex buffer")
	})
	if err != nil {
		d.budget.Free(size)
		return nil, err
	}
	return vb, nil
}

func (b *build) Extract(buf device.VertexBuffer) error {
	vb, ok := buf.(*vertexBuffer)
	if !ok {
		return fmt.Errorf("gl device: foreign vertex buffer %T", buf)
	}
	d := b.dev
	return d.queue.Submit(func() {
		vb.finish(b.runExtract(vb))
	})
}

func (b *build) runExtract(vb *vertexBuffer) error {
	if b.err != nil {
		return b.err
	}
	if vb.err != nil {
		return vb.err
	}
	d := b.dev
	layout := d.cfg.Layout
	prog := d.progs.extract
	gl.UseProgram(prog)

	origin := layout.ChunkOrigin(b.coord)
	gl.Uniform1ui(uniform(prog, "activeVoxels"), b.active)
	gl.Uniform1ui(uniform(prog, "capacity"), vb.n)
	gl.Uniform3f(uniform(prog, "chunkOrigin"), origin.X, origin.Y, origin.Z)
	gl.Uniform1f(uniform(prog, "voxelSize"), layout.VoxelSize())
	occlusion := int32(0)
	if d.cfg.Extract.Occlusion {
		occlusion = 1
	}
	gl.Uniform1i(uniform(prog, "occlusion"), occlusion)
	gl.Uniform1f(uniform(prog, "rayLength"), d.cfg.Extract.RayLength)

	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 0, b.lattice)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 1, b.markers)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 2, d.cases)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 3, d.vcounts)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 4, vb.state)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 5, vb.buffer)
	gl.DispatchCompute(uint32(extract.Groups(int(b.active))), 1, 1)
	gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT | gl.BUFFER_UPDATE_BARRIER_BIT)
	if err := checkError("extract dispatch"); err != nil {
		return err
	}

	var state [2]uint32
	readBuffer(vb.state, 8, gl.Ptr(&state[0]))
	if state[1] != 0 {
		return fmt.Errorf("%w: %d vertices claimed, capacity %d", extract.ErrOverrun, state[0], vb.n)
	}

	vb.host = make([]terrain.Vertex, vb.n)
	if vb.n > 0 {
		readBuffer(vb.buffer, int(device.BufferBytes(vb.n)), unsafe.Pointer(&vb.host[0]))
	}
	return checkError("reading vertices")
}

func (b *build) Release() {
	if b.released {
		return
	}
	b.released = true
	d := b.dev
	err := d.queue.Submit(func() {
		gl.DeleteBuffers(1, &b.lattice)
		gl.DeleteBuffers(1, &b.counters)
		gl.DeleteBuffers(1, &b.markers)
		d.budget.Free(b.reserved)
	})
	if err != nil {
		d.budget.Free(b.reserved)
	}
}

type vertexBuffer struct {
	dev   *Device
	n     uint32
	ready chan struct{}

	// Written on the queue goroutine before ready is closed.
	buffer uint32
	state  uint32
	host   []terrain.Vertex
	err    error

	releaseOnce sync.Once
}

func (v *vertexBuffer) Len() uint32 {
	return v.n
}

func (v *vertexBuffer) Ready() <-chan struct{} {
	return v.ready
}

func (v *vertexBuffer) finish(err error) {
	if err != nil {
		v.err = err
	}
	close(v.ready)
}

func (v *vertexBuffer) Read(ctx context.Context) ([]terrain.Vertex, error) {
	select {
	case <-v.ready:
		return v.host, v.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *vertexBuffer) Release() {
	v.releaseOnce.Do(func() {
		size := device.BufferBytes(v.n)
		err := v.dev.queue.Submit(func() {
			gl.DeleteBuffers(1, &v.buffer)
			gl.DeleteBuffers(1, &v.state)
			v.dev.budget.Free(size)
		})
		if err != nil {
			v.dev.budget.Free(size)
		}
	})
}
