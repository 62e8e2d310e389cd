package fluid

import "sort"

// RegionID is a stable region identifier. Cells reference their owning
// region by id only; the region holds the coordinate set. Merges and splits
// are reassignments of the id plus set union/partition, so there are no
// back-references to break.
type RegionID uint32

// FluidKind tags a region's fluid. Only water is defined, but merges check
// kind so additional fluids can share the region machinery.
type FluidKind uint8

const (
	FluidNone  FluidKind = 0
	FluidWater FluidKind = 1
)

// Region is a maximal set of water cells connected by face adjacency.
type Region struct {
	ID    RegionID
	Kind  FluidKind
	Cells map[Vec3i]struct{}

	Awake bool
	// Epoch increases on every membership change.
	Epoch uint64

	// Frozen regions are excluded from simulation after a detected
	// invariant violation, until an edit forces a fresh rebuild.
	Frozen      bool
	FrozenCause string
}

func (r *Region) Size() int { return len(r.Cells) }

func (r *Region) Has(p Vec3i) bool {
	_, ok := r.Cells[p]
	return ok
}

// RegionIndex maintains the partition of water cells into regions. It is
// repaired incrementally around dirty coordinates, never recomputed from
// scratch during normal operation.
type RegionIndex struct {
	store   *VolumeStore
	nextID  RegionID
	regions map[RegionID]*Region
	byCell  map[Vec3i]RegionID
}

func NewRegionIndex(store *VolumeStore) *RegionIndex {
	return &RegionIndex{
		store:   store,
		regions: map[RegionID]*Region{},
		byCell:  map[Vec3i]RegionID{},
	}
}

func (ri *RegionIndex) Region(id RegionID) *Region { return ri.regions[id] }

func (ri *RegionIndex) RegionOf(p Vec3i) (RegionID, bool) {
	id, ok := ri.byCell[p]
	return id, ok
}

// RegionIDs returns all live region ids, sorted.
func (ri *RegionIndex) RegionIDs() []RegionID {
	ids := make([]RegionID, 0, len(ri.regions))
	for id := range ri.regions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (ri *RegionIndex) RegionCount() int { return len(ri.regions) }

func (ri *RegionIndex) alloc(kind FluidKind) *Region {
	ri.nextID++
	r := &Region{
		ID:    ri.nextID,
		Kind:  kind,
		Cells: map[Vec3i]struct{}{},
		Awake: true,
	}
	ri.regions[r.ID] = r
	return r
}

// Repair re-establishes the partition around the dirty coordinates and
// returns the ids of every region whose membership changed or that was
// touched by an edit, sorted. Removals run before additions so that a cell
// moving within the same batch never appears in two regions.
func (ri *RegionIndex) Repair(dirty map[Vec3i]struct{}) []RegionID {
	touched := map[RegionID]struct{}{}
	coords := sortedCoordSet(dirty)

	for _, p := range coords {
		if id, ok := ri.byCell[p]; ok && !ri.store.Has(p) {
			ri.removeCell(p, id, touched)
		}
	}
	for _, p := range coords {
		if ri.store.Has(p) {
			if _, ok := ri.byCell[p]; !ok {
				ri.addCell(p, FluidWater, touched)
			} else {
				ri.mergeAround(p, touched)
			}
		}
		// An edit adjacent to a region wakes it even when membership did
		// not change (dirty marking already spread to face neighbors).
		if id, ok := ri.byCell[p]; ok {
			touched[id] = struct{}{}
		}
	}

	out := make([]RegionID, 0, len(touched))
	for id := range touched {
		if _, live := ri.regions[id]; live {
			ri.regions[id].Awake = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// addCell joins p to an adjacent region, allocating or merging as needed.
func (ri *RegionIndex) addCell(p Vec3i, kind FluidKind, touched map[RegionID]struct{}) {
	adj := ri.adjacentRegions(p, kind)
	var r *Region
	if len(adj) == 0 {
		r = ri.alloc(kind)
	} else {
		// Keep the lowest id; merge the rest into it. Merge order within a
		// batch does not matter: every chain collapses onto the lowest id.
		r = ri.regions[adj[0]]
		for _, id := range adj[1:] {
			ri.merge(r, ri.regions[id], touched)
		}
	}
	r.Cells[p] = struct{}{}
	r.Epoch++
	ri.byCell[p] = r.ID
	touched[r.ID] = struct{}{}
}

// mergeAround merges any distinct regions now adjacent through p.
func (ri *RegionIndex) mergeAround(p Vec3i, touched map[RegionID]struct{}) {
	own := ri.regions[ri.byCell[p]]
	adj := ri.adjacentRegions(p, own.Kind)
	for _, id := range adj {
		if id != own.ID {
			if id < own.ID {
				dst := ri.regions[id]
				ri.merge(dst, own, touched)
				own = dst
			} else {
				ri.merge(own, ri.regions[id], touched)
			}
		}
	}
}

// adjacentRegions returns the distinct region ids of p's face neighbors,
// restricted to the given kind, sorted ascending.
func (ri *RegionIndex) adjacentRegions(p Vec3i, kind FluidKind) []RegionID {
	seen := map[RegionID]struct{}{}
	for _, d := range faceDirs {
		if id, ok := ri.byCell[p.Add(d)]; ok {
			if r := ri.regions[id]; r != nil && r.Kind == kind {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]RegionID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (ri *RegionIndex) merge(dst, src *Region, touched map[RegionID]struct{}) {
	if dst == src {
		return
	}
	for p := range src.Cells {
		dst.Cells[p] = struct{}{}
		ri.byCell[p] = dst.ID
	}
	if src.Frozen {
		dst.Frozen = true
		dst.FrozenCause = src.FrozenCause
	}
	dst.Epoch++
	touched[dst.ID] = struct{}{}
	delete(ri.regions, src.ID)
	delete(touched, src.ID)
}

// removeCell takes p out of its region and, if p was an articulation point,
// splits the region via a flood fill confined to the former member set. The
// largest component keeps the original id; ties keep it on the component
// holding the smallest coordinate.
func (ri *RegionIndex) removeCell(p Vec3i, id RegionID, touched map[RegionID]struct{}) {
	r := ri.regions[id]
	delete(r.Cells, p)
	delete(ri.byCell, p)
	r.Epoch++
	touched[id] = struct{}{}
	if len(r.Cells) == 0 {
		delete(ri.regions, id)
		delete(touched, id)
		return
	}

	// Former in-region neighbors of p. With zero or one the region cannot
	// have been disconnected by this removal.
	var seeds []Vec3i
	for _, d := range faceDirs {
		n := p.Add(d)
		if r.Has(n) {
			seeds = append(seeds, n)
		}
	}
	if len(seeds) <= 1 {
		return
	}

	comps := floodComponents(r.Cells, seeds)
	if len(comps) <= 1 {
		return
	}

	keep := largestComponent(comps)
	for i, comp := range comps {
		if i == keep {
			continue
		}
		nr := ri.alloc(r.Kind)
		for _, c := range comp {
			delete(r.Cells, c)
			nr.Cells[c] = struct{}{}
			ri.byCell[c] = nr.ID
		}
		nr.Epoch++
		touched[nr.ID] = struct{}{}
	}
	r.Epoch++
}

// floodComponents partitions the cell set into face-connected components,
// seeded from the given coordinates. Cells unreachable from any seed form
// their own components. Component cell slices are sorted.
func floodComponents(cells map[Vec3i]struct{}, seeds []Vec3i) [][]Vec3i {
	visited := map[Vec3i]struct{}{}
	var comps [][]Vec3i

	fill := func(start Vec3i) {
		if _, ok := visited[start]; ok {
			return
		}
		var comp []Vec3i
		queue := []Vec3i{start}
		visited[start] = struct{}{}
		for len(queue) > 0 {
			c := queue[0]
			queue = queue[1:]
			comp = append(comp, c)
			for _, d := range faceDirs {
				n := c.Add(d)
				if _, in := cells[n]; !in {
					continue
				}
				if _, ok := visited[n]; ok {
					continue
				}
				visited[n] = struct{}{}
				queue = append(queue, n)
			}
		}
		sortVec3i(comp)
		comps = append(comps, comp)
	}

	for _, s := range seeds {
		if _, in := cells[s]; in {
			fill(s)
		}
	}
	if len(visited) < len(cells) {
		for _, c := range sortedCoordSet(cells) {
			fill(c)
		}
	}
	return comps
}

func largestComponent(comps [][]Vec3i) int {
	keep := 0
	for i := 1; i < len(comps); i++ {
		if len(comps[i]) > len(comps[keep]) {
			keep = i
		} else if len(comps[i]) == len(comps[keep]) && lessVec3i(comps[i][0], comps[keep][0]) {
			keep = i
		}
	}
	return keep
}

// Freeze excludes a region from simulation after an invariant violation.
func (ri *RegionIndex) Freeze(id RegionID, cause string) {
	if r := ri.regions[id]; r != nil {
		r.Frozen = true
		r.FrozenCause = cause
		r.Awake = false
	}
}

// DropRegion removes a region entirely and returns its former cells, used
// to rebuild a frozen region from a fresh repair.
func (ri *RegionIndex) DropRegion(id RegionID) []Vec3i {
	r := ri.regions[id]
	if r == nil {
		return nil
	}
	cells := sortedCoordSet(r.Cells)
	for _, c := range cells {
		delete(ri.byCell, c)
	}
	delete(ri.regions, id)
	return cells
}

// Validate checks partition correctness: every stored cell belongs to
// exactly one live region and every region cell is stored. It returns the
// first violation found, or nil.
func (ri *RegionIndex) Validate() *InvariantViolation {
	var bad *InvariantViolation
	ri.store.ForEach(func(p Vec3i, v float64) bool {
		if v <= 0 {
			bad = &InvariantViolation{Invariant: InvSparseStorage, Pos: p}
			return false
		}
		id, ok := ri.byCell[p]
		if !ok {
			bad = &InvariantViolation{Invariant: InvPartition, Pos: p}
			return false
		}
		r := ri.regions[id]
		if r == nil || !r.Has(p) {
			bad = &InvariantViolation{Invariant: InvPartition, Region: id, Pos: p}
			return false
		}
		return true
	})
	if bad != nil {
		return bad
	}
	for _, id := range ri.RegionIDs() {
		r := ri.regions[id]
		for p := range r.Cells {
			if got, ok := ri.byCell[p]; !ok || got != id {
				return &InvariantViolation{Invariant: InvPartition, Region: id, Pos: p}
			}
			if !ri.store.Has(p) {
				return &InvariantViolation{Invariant: InvSparseStorage, Region: id, Pos: p}
			}
		}
	}
	return nil
}

// Reset drops every region. Used by snapshot restore.
func (ri *RegionIndex) Reset() {
	ri.regions = map[RegionID]*Region{}
	ri.byCell = map[Vec3i]RegionID{}
	ri.nextID = 0
}
