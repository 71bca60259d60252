// Package mctables holds the constant lookup tables for marching cubes.
//
// Corner numbering (offsets within a cell):
//
//	0:(0,0,0) 1:(1,0,0) 2:(1,1,0) 3:(0,1,0)
//	4:(0,0,1) 5:(1,0,1) 6:(1,1,1) 7:(0,1,1)
//
// Edge numbering (corner pairs):
//
//	0:0-1  1:1-2  2:2-3  3:3-0
//	4:4-5  5:5-6  6:6-7  7:7-4
//	8:0-4  9:1-5 10:2-6 11:3-7
//
// Bit i of a configuration code is set when corner i has density > 0.
package mctables

// Sentinel terminates a row of Cases.
const Sentinel int8 = -1

// MaxCaseEntries is the width of a Cases row.
const MaxCaseEntries = 16

// NumCases is the number of corner configurations of a cell.
const NumCases = 256

// CornerOffsets gives the lattice offset of each cell corner.
var CornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// EdgeCorners gives the two corners joined by each cell edge.
var EdgeCorners = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

var (
	// Cases lists cut edges for each configuration, three per triangle,
	// terminated by Sentinel.
	Cases [NumCases][MaxCaseEntries]int8

	// VertexCounts is the number of non-sentinel entries of each Cases row (0..15).
	VertexCounts [NumCases]uint8

	// TriangleCounts is VertexCounts divided by three (0..5).
	TriangleCounts [NumCases]uint8

	// EdgeMask has bit e set when edge e is cut for the configuration.
	EdgeMask [NumCases]uint16
)

func init() {
	for code, row := range caseRows {
		if len(row)%3 != 0 || len(row) >= MaxCaseEntries {
			panic("mctables: malformed case row")
		}
		for i := range Cases[code] {
			Cases[code][i] = Sentinel
		}
		copy(Cases[code][:], row)
		VertexCounts[code] = uint8(len(row))
		TriangleCounts[code] = uint8(len(row) / 3)

		for e, c := range EdgeCorners {
			if (code>>c[0])&1 != (code>>c[1])&1 {
				EdgeMask[code] |= 1 << e
			}
		}
	}
}

// Code returns the configuration code for the eight corner densities.
func Code(corners [8]float32) uint8 {
	var code uint8
	for i, d := range corners {
		if d > 0 {
			code |= 1 << i
		}
	}
	return code
}

// Row returns the cut edges of a configuration without the sentinel padding.
func Row(code uint8) []int8 {
	return Cases[code][:VertexCounts[code]]
}
