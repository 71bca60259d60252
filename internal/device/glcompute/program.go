package glcompute

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.3-core/gl"

	"github.com/Faultbox/isoterrain/internal/extract"
	"github.com/Faultbox/isoterrain/internal/mctables"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

var (
	//go:embed shaders/density.comp
	densitySource string

	//go:embed shaders/scan.comp
	scanSource string

	//go:embed shaders/extract.comp
	extractSource string
)

// header returns the GLSL preamble shared by every kernel: the lattice
// shape and the constant tables.
func header(layout terrain.Layout) string {
	var b strings.Builder
	b.WriteString("#version 430 core\n")
	fmt.Fprintf(&b, "#define CELLS %d\n", layout.Cells())
	fmt.Fprintf(&b, "#define MARGIN %d\n", layout.Margin)
	fmt.Fprintf(&b, "#define POINTS %d\n", layout.Points())
	fmt.Fprintf(&b, "#define GROUP_SIZE %d\n", extract.GroupSize)
	fmt.Fprintf(&b, "#define RAY_COUNT %d\n", extract.NumRays)
	fmt.Fprintf(&b, "#define RAY_STEPS %d\n", extract.NumRaySteps)

	b.WriteString("const ivec3 CORNER_OFFSETS[8] = ivec3[8](")
	for i, o := range mctables.CornerOffsets {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "ivec3(%d, %d, %d)", o[0], o[1], o[2])
	}
	b.WriteString(");\n")

	b.WriteString("const ivec2 EDGE_CORNERS[12] = ivec2[12](")
	for i, e := range mctables.EdgeCorners {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "ivec2(%d, %d)", e[0], e[1])
	}
	b.WriteString(");\n")

	b.WriteString("const vec3 RAY_DIRS[RAY_COUNT] = vec3[RAY_COUNT](")
	for i, d := range extract.RayDirs {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "vec3(%f, %f, %f)", d.X, d.Y, d.Z)
	}
	b.WriteString(");\n")

	b.WriteString("const float RAY_FALLOFF[RAY_STEPS] = float[RAY_STEPS](")
	for i, f := range extract.RayFalloff {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.9f", f)
	}
	b.WriteString(");\n")

	return b.String()
}

// programs holds the three linked kernels.
type programs struct {
	density uint32
	scan    uint32
	extract uint32
}

func compilePrograms(layout terrain.Layout) (programs, error) {
	pre := header(layout)

	var p programs
	var err error
	if p.density, err = compileCompute(pre+densitySource, "density"); err != nil {
		return programs{}, err
	}
	if p.scan, err = compileCompute(pre+scanSource, "scan"); err != nil {
		gl.DeleteProgram(p.density)
		return programs{}, err
	}
	if p.extract, err = compileCompute(pre+extractSource, "extract"); err != nil {
		gl.DeleteProgram(p.density)
		gl.DeleteProgram(p.scan)
		return programs{}, err
	}
	return p, nil
}

func (p programs) delete() {
	gl.DeleteProgram(p.density)
	gl.DeleteProgram(p.scan)
	gl.DeleteProgram(p.extract)
}

// compileCompute compiles and links a single compute shader program.
func compileCompute(source, name string) (uint32, error) {
	shader := gl.CreateShader(gl.COMPUTE_SHADER)
	csource, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csource, nil)
	free()
	gl.CompileShader(shader)
	defer gl.DeleteShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetShaderInfoLog(shader, logLen, nil, &log[0])
		return 0, fmt.Errorf("%s kernel: %s", name, strings.TrimRight(string(log), "\x00"))
	}

	program := gl.CreateProgram()
	gl.AttachShader(program, shader)
	gl.LinkProgram(program)

	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetProgramInfoLog(program, logLen, nil, &log[0])
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("%s kernel link: %s", name, strings.TrimRight(string(log), "\x00"))
	}

	return program, nil
}

func uniform(program uint32, name string) int32 {
	return gl.GetUniformLocation(program, gl.Str(name+"\x00"))
}
