package fluid

import "math"

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// floorAt returns a terrain that is solid strictly below the given y.
func floorAt(y int) Terrain {
	return TerrainFunc(func(p Vec3i) bool { return p.Y < y })
}

// basin returns a floor at y=0 with solid walls outside the given x/z
// bounds: a closed box open at the top.
func basin(x0, x1, z0, z1 int) Terrain {
	return TerrainFunc(func(p Vec3i) bool {
		if p.Y < 0 {
			return true
		}
		return p.X < x0 || p.X > x1 || p.Z < z0 || p.Z > z1
	})
}

// openCells returns a terrain that is air only at the listed coordinates.
func openCells(cells ...Vec3i) Terrain {
	open := map[Vec3i]bool{}
	for _, c := range cells {
		open[c] = true
	}
	return TerrainFunc(func(p Vec3i) bool { return !open[p] })
}

// mutableTerrain supports solidity edits mid-test.
type mutableTerrain struct {
	floorY int
	solid  map[Vec3i]bool
}

func newMutableTerrain(floorY int) *mutableTerrain {
	return &mutableTerrain{floorY: floorY, solid: map[Vec3i]bool{}}
}

func (t *mutableTerrain) IsSolid(p Vec3i) bool {
	return p.Y < t.floorY || t.solid[p]
}
