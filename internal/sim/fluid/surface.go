package fluid

import "sort"

// PatchID identifies a surface patch. Ids are not stable across recomputes;
// patches are rebuilt whenever their region's membership changes.
type PatchID uint32

// SurfacePatch is a maximal set of same-elevation, horizontally connected
// cells of one region whose upward neighbor is neither solid nor water.
type SurfacePatch struct {
	ID     PatchID
	Region RegionID
	Y      int

	cells  map[Vec3i]struct{}
	sorted []Vec3i

	Awake bool
	// StableTicks counts consecutive ticks below the stability epsilon;
	// reaching the configured threshold retires the patch to sleep.
	StableTicks int
}

func (p *SurfacePatch) Size() int { return len(p.cells) }

func (p *SurfacePatch) Has(c Vec3i) bool {
	_, ok := p.cells[c]
	return ok
}

// Cells returns the member coordinates sorted.
func (p *SurfacePatch) Cells() []Vec3i { return p.sorted }

// SurfaceExtractor derives surface patches from region membership and
// terrain solidity. Patches are recomputed whole, never patched in place.
type SurfaceExtractor struct {
	store   *VolumeStore
	regions *RegionIndex
	terrain Terrain

	nextID   PatchID
	patches  map[PatchID]*SurfacePatch
	byRegion map[RegionID][]PatchID
}

func NewSurfaceExtractor(store *VolumeStore, regions *RegionIndex, terrain Terrain) *SurfaceExtractor {
	return &SurfaceExtractor{
		store:    store,
		regions:  regions,
		terrain:  terrain,
		patches:  map[PatchID]*SurfacePatch{},
		byRegion: map[RegionID][]PatchID{},
	}
}

func (se *SurfaceExtractor) Patch(id PatchID) *SurfacePatch { return se.patches[id] }

// PatchIDs returns all live patch ids, sorted.
func (se *SurfaceExtractor) PatchIDs() []PatchID {
	ids := make([]PatchID, 0, len(se.patches))
	for id := range se.patches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RegionPatches returns the region's patch ids, sorted.
func (se *SurfaceExtractor) RegionPatches(id RegionID) []PatchID {
	out := append([]PatchID(nil), se.byRegion[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AwakePatches returns every awake patch, sorted by id.
func (se *SurfaceExtractor) AwakePatches() []*SurfacePatch {
	var out []*SurfacePatch
	for _, id := range se.PatchIDs() {
		if p := se.patches[id]; p.Awake {
			out = append(out, p)
		}
	}
	return out
}

// DropRegion discards all patches owned by the region.
func (se *SurfaceExtractor) DropRegion(id RegionID) {
	for _, pid := range se.byRegion[id] {
		delete(se.patches, pid)
	}
	delete(se.byRegion, id)
}

// Recompute rebuilds the region's patches from scratch: every member cell
// with non-solid, non-water space above is a candidate; candidates group by
// lateral adjacency at the same elevation. Two candidates at different
// elevations never share a patch, keeping the height field single-valued
// over the horizontal footprint.
func (se *SurfaceExtractor) Recompute(regionID RegionID) []*SurfacePatch {
	se.DropRegion(regionID)
	r := se.regions.Region(regionID)
	if r == nil || r.Frozen {
		return nil
	}

	candidates := map[Vec3i]struct{}{}
	for c := range r.Cells {
		up := c.Up()
		if se.terrain.IsSolid(up) || se.store.Has(up) {
			continue
		}
		candidates[c] = struct{}{}
	}

	var out []*SurfacePatch
	for _, start := range sortedCoordSet(candidates) {
		if _, ok := candidates[start]; !ok {
			continue
		}
		cells := map[Vec3i]struct{}{}
		queue := []Vec3i{start}
		delete(candidates, start)
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			cells[c] = struct{}{}
			for _, d := range horizDirs {
				n := c.Add(d)
				if _, ok := candidates[n]; ok {
					delete(candidates, n)
					queue = append(queue, n)
				}
			}
		}
		se.nextID++
		p := &SurfacePatch{
			ID:     se.nextID,
			Region: regionID,
			Y:      start.Y,
			cells:  cells,
			sorted: sortedCoordSet(cells),
			Awake:  true,
		}
		se.patches[p.ID] = p
		se.byRegion[regionID] = append(se.byRegion[regionID], p.ID)
		out = append(out, p)
	}
	return out
}

// CheckHorizontality verifies that no patch holds two vertically stacked
// cells. Grouping is by construction same-elevation, so a hit here means
// corrupted bookkeeping; the caller freezes the owning region.
func (se *SurfaceExtractor) CheckHorizontality(p *SurfacePatch) *InvariantViolation {
	for c := range p.cells {
		if c.Y != p.Y {
			return &InvariantViolation{
				Region: p.Region, Patch: p.ID,
				Invariant: InvStackedPatch, Pos: c,
			}
		}
	}
	return nil
}

// Reset drops every patch. Used by snapshot restore.
func (se *SurfaceExtractor) Reset() {
	se.patches = map[PatchID]*SurfacePatch{}
	se.byRegion = map[RegionID][]PatchID{}
	se.nextID = 0
}
