package extract

import "github.com/Faultbox/isoterrain/pkg/math"

// NumRays is the number of occlusion rays cast per vertex.
const NumRays = 32

// NumRaySteps is the number of density samples taken along each ray.
const NumRaySteps = 16

// RayDirs is a Poisson-distributed set of unit directions on the sphere.
var RayDirs = [NumRays]math.Vec3{
	{X: 0.286582, Y: 0.257763, Z: -0.922729},
	{X: -0.171812, Y: -0.888079, Z: 0.426375},
	{X: 0.440764, Y: -0.502089, Z: -0.744066},
	{X: -0.841007, Y: -0.428818, Z: -0.329882},
	{X: -0.380213, Y: -0.588038, Z: -0.713898},
	{X: -0.055393, Y: -0.207160, Z: -0.976738},
	{X: -0.901510, Y: -0.077811, Z: 0.425706},
	{X: -0.974593, Y: 0.123830, Z: -0.186643},
	{X: 0.208042, Y: -0.524280, Z: 0.825741},
	{X: 0.258429, Y: -0.898570, Z: -0.354663},
	{X: -0.262118, Y: 0.574475, Z: -0.775418},
	{X: 0.735212, Y: 0.551820, Z: 0.393646},
	{X: 0.828700, Y: -0.523923, Z: -0.196877},
	{X: 0.788742, Y: 0.005727, Z: -0.614698},
	{X: -0.696885, Y: 0.649338, Z: -0.304486},
	{X: -0.625313, Y: 0.082413, Z: -0.776010},
	{X: 0.358696, Y: 0.928723, Z: 0.093864},
	{X: 0.188264, Y: 0.628978, Z: 0.754283},
	{X: -0.495193, Y: 0.294596, Z: 0.817311},
	{X: 0.818889, Y: 0.508670, Z: -0.265851},
	{X: 0.027189, Y: 0.057757, Z: 0.997960},
	{X: -0.188421, Y: 0.961802, Z: -0.198582},
	{X: 0.995439, Y: 0.019982, Z: 0.093282},
	{X: -0.315254, Y: -0.925345, Z: -0.210596},
	{X: 0.411992, Y: -0.877706, Z: 0.244733},
	{X: 0.625857, Y: 0.080059, Z: 0.775818},
	{X: -0.243839, Y: 0.866185, Z: 0.436194},
	{X: -0.725464, Y: -0.643645, Z: 0.243768},
	{X: 0.766785, Y: -0.430702, Z: 0.475959},
	{X: -0.446376, Y: -0.391664, Z: 0.804580},
	{X: -0.761557, Y: 0.562508, Z: 0.321895},
	{X: 0.344460, Y: 0.753223, Z: -0.560359},
}

// RayFalloff weights step i of a ray by (1 - i/16)^2.5.
var RayFalloff = [NumRaySteps]float32{
	1, 0.850997317, 0.716176609, 0.595056802,
	0.48713929, 0.391905859, 0.308816178, 0.237304688,
	0.176776695, 0.126603334, 0.086114874, 0.054591503,
	0.03125, 0.015223103, 0.005524272, 0.000976563,
}
