package fluid

import "sort"

// Vec3i is an absolute voxel coordinate.
type Vec3i struct {
	X, Y, Z int
}

func (v Vec3i) Add(o Vec3i) Vec3i {
	return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3i) Up() Vec3i   { return Vec3i{X: v.X, Y: v.Y + 1, Z: v.Z} }
func (v Vec3i) Down() Vec3i { return Vec3i{X: v.X, Y: v.Y - 1, Z: v.Z} }

// horizDirs are the four lateral face directions (x fastest, then z).
var horizDirs = [4]Vec3i{
	{X: 1}, {X: -1}, {Z: 1}, {Z: -1},
}

// faceDirs are all six face-neighbor directions.
var faceDirs = [6]Vec3i{
	{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1},
}

// ChunkKey identifies a vertical chunk column.
type ChunkKey struct {
	CX int
	CZ int
}

func chunkOf(p Vec3i, size int) ChunkKey {
	return ChunkKey{CX: floorDiv(p.X, size), CZ: floorDiv(p.Z, size)}
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func lessVec3i(a, b Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

func sortVec3i(s []Vec3i) {
	sort.Slice(s, func(i, j int) bool { return lessVec3i(s[i], s[j]) })
}

func sortedCoordSet(set map[Vec3i]struct{}) []Vec3i {
	out := make([]Vec3i, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sortVec3i(out)
	return out
}
