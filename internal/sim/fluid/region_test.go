package fluid

import (
	"math/rand"
	"testing"
)

func repairAll(s *VolumeStore, ri *RegionIndex) []RegionID {
	return ri.Repair(s.TakeDirty())
}

func regionCells(t *testing.T, ri *RegionIndex, p Vec3i) []Vec3i {
	t.Helper()
	id, ok := ri.RegionOf(p)
	if !ok {
		t.Fatalf("no region at %v", p)
	}
	return sortedCoordSet(ri.Region(id).Cells)
}

func sameCoords(a, b []Vec3i) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMergeAndSplitSymmetry(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	ri := NewRegionIndex(s)

	// Two separate lines with a one-cell gap at x=3.
	var setA, setB []Vec3i
	for x := 0; x <= 2; x++ {
		p := Vec3i{X: x}
		s.Set(p, 0.5)
		setA = append(setA, p)
	}
	for x := 4; x <= 6; x++ {
		p := Vec3i{X: x}
		s.Set(p, 0.5)
		setB = append(setB, p)
	}
	repairAll(s, ri)
	if got := ri.RegionCount(); got != 2 {
		t.Fatalf("regions=%d, want 2", got)
	}

	// Insert the connector: one region holding exactly A ∪ B ∪ {connector}.
	conn := Vec3i{X: 3}
	s.Set(conn, 0.5)
	repairAll(s, ri)
	if got := ri.RegionCount(); got != 1 {
		t.Fatalf("after connect: regions=%d, want 1", got)
	}
	want := append(append(append([]Vec3i(nil), setA...), conn), setB...)
	sortVec3i(want)
	if got := regionCells(t, ri, conn); !sameCoords(got, want) {
		t.Fatalf("merged membership %v, want %v", got, want)
	}

	// Remove the sole connector: back to exactly the original memberships.
	s.Set(conn, 0)
	repairAll(s, ri)
	if got := ri.RegionCount(); got != 2 {
		t.Fatalf("after split: regions=%d, want 2", got)
	}
	if got := regionCells(t, ri, setA[0]); !sameCoords(got, setA) {
		t.Fatalf("component A %v, want %v", got, setA)
	}
	if got := regionCells(t, ri, setB[0]); !sameCoords(got, setB) {
		t.Fatalf("component B %v, want %v", got, setB)
	}
}

func TestMergeKeepsLowestID(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	ri := NewRegionIndex(s)

	s.Set(Vec3i{X: 0}, 0.5)
	repairAll(s, ri)
	first, _ := ri.RegionOf(Vec3i{X: 0})

	s.Set(Vec3i{X: 2}, 0.5)
	repairAll(s, ri)

	s.Set(Vec3i{X: 1}, 0.5)
	repairAll(s, ri)

	got, _ := ri.RegionOf(Vec3i{X: 2})
	if got != first {
		t.Fatalf("merge kept id %d, want lowest original id %d", got, first)
	}
}

func TestSplitKeepsIDOnLargestComponent(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	ri := NewRegionIndex(s)

	// Line of five; removing x=1 leaves components of size 1 and 3.
	for x := 0; x <= 4; x++ {
		s.Set(Vec3i{X: x}, 0.5)
	}
	repairAll(s, ri)
	orig, _ := ri.RegionOf(Vec3i{X: 0})

	s.Set(Vec3i{X: 1}, 0)
	repairAll(s, ri)

	big, _ := ri.RegionOf(Vec3i{X: 3})
	small, _ := ri.RegionOf(Vec3i{X: 0})
	if big != orig {
		t.Fatalf("largest component id %d, want original %d", big, orig)
	}
	if small == orig {
		t.Fatalf("small component must get a fresh id")
	}
}

// refPartition labels each cell with the minimum coordinate of its
// face-connected component, computed by a from-scratch flood fill.
func refPartition(cells map[Vec3i]struct{}) map[Vec3i]Vec3i {
	labels := map[Vec3i]Vec3i{}
	visited := map[Vec3i]struct{}{}
	for _, start := range sortedCoordSet(cells) {
		if _, ok := visited[start]; ok {
			continue
		}
		comp := []Vec3i{start}
		visited[start] = struct{}{}
		for i := 0; i < len(comp); i++ {
			for _, d := range faceDirs {
				n := comp[i].Add(d)
				if _, in := cells[n]; !in {
					continue
				}
				if _, ok := visited[n]; ok {
					continue
				}
				visited[n] = struct{}{}
				comp = append(comp, n)
			}
		}
		min := comp[0]
		for _, c := range comp[1:] {
			if lessVec3i(c, min) {
				min = c
			}
		}
		for _, c := range comp {
			labels[c] = min
		}
	}
	return labels
}

func indexPartition(ri *RegionIndex) map[Vec3i]Vec3i {
	labels := map[Vec3i]Vec3i{}
	for _, id := range ri.RegionIDs() {
		cells := sortedCoordSet(ri.Region(id).Cells)
		if len(cells) == 0 {
			continue
		}
		min := cells[0]
		for _, c := range cells {
			labels[c] = min
		}
	}
	return labels
}

func TestRepairMatchesFloodFillReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewVolumeStore(16, 1.0)
	ri := NewRegionIndex(s)

	coord := func() Vec3i {
		return Vec3i{X: rng.Intn(6), Y: rng.Intn(4), Z: rng.Intn(6)}
	}

	for i := 0; i < 400; i++ {
		p := coord()
		if s.Has(p) && rng.Intn(2) == 0 {
			s.Set(p, 0)
		} else {
			s.Set(p, 0.1+rng.Float64()*0.9)
		}
		if i%7 == 0 {
			repairAll(s, ri)
		}
	}
	repairAll(s, ri)

	if iv := ri.Validate(); iv != nil {
		t.Fatalf("partition invalid: %v", iv)
	}

	cells := map[Vec3i]struct{}{}
	s.ForEach(func(p Vec3i, _ float64) bool {
		cells[p] = struct{}{}
		return true
	})
	want := refPartition(cells)
	got := indexPartition(ri)
	if len(got) != len(want) {
		t.Fatalf("cell counts differ: got %d, want %d", len(got), len(want))
	}
	for p, label := range want {
		if got[p] != label {
			t.Fatalf("cell %v in component %v, want %v", p, got[p], label)
		}
	}
}

func TestFreezePropagatesThroughMerge(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	ri := NewRegionIndex(s)

	s.Set(Vec3i{X: 0}, 0.5)
	s.Set(Vec3i{X: 2}, 0.5)
	repairAll(s, ri)

	id, _ := ri.RegionOf(Vec3i{X: 2})
	ri.Freeze(id, InvPartition)

	s.Set(Vec3i{X: 1}, 0.5)
	repairAll(s, ri)

	merged, _ := ri.RegionOf(Vec3i{X: 0})
	r := ri.Region(merged)
	if !r.Frozen || r.FrozenCause != InvPartition {
		t.Fatalf("merge must carry the frozen flag: %+v", r)
	}
}

func TestDropRegionReturnsCells(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	ri := NewRegionIndex(s)

	s.Set(Vec3i{X: 0}, 0.5)
	s.Set(Vec3i{X: 1}, 0.5)
	repairAll(s, ri)

	id, _ := ri.RegionOf(Vec3i{X: 0})
	cells := ri.DropRegion(id)
	if len(cells) != 2 {
		t.Fatalf("dropped %d cells, want 2", len(cells))
	}
	if ri.RegionCount() != 0 {
		t.Fatalf("region should be gone")
	}
	if _, ok := ri.RegionOf(Vec3i{X: 0}); ok {
		t.Fatalf("byCell mapping should be cleared")
	}
}
