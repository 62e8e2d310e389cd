package fluid

import (
	"sort"
)

// Delta records one mutation of a cell's volume.
type Delta struct {
	Pos   Vec3i
	Old   float64
	New   float64
	Epoch uint64
}

type chunkVolumes struct {
	key   ChunkKey
	cells map[Vec3i]float64
}

// VolumeStore is the sparse per-voxel water volume, partitioned by chunk
// column. It is the single source of truth the other components react to:
// every mutation marks the coordinate and its six face neighbors dirty.
//
// Accessed only from the goroutine that owns the engine for the tick.
type VolumeStore struct {
	size     int
	capacity float64

	chunks map[ChunkKey]*chunkVolumes

	dirty   map[Vec3i]struct{}
	over    map[Vec3i]struct{}
	journal []Delta
	epoch   uint64

	// displacing allows transient over-capacity volumes (block placement
	// and solver commits). Outside this window Set clamps to capacity.
	displacing bool
}

func NewVolumeStore(chunkSize int, capacity float64) *VolumeStore {
	return &VolumeStore{
		size:     chunkSize,
		capacity: capacity,
		chunks:   map[ChunkKey]*chunkVolumes{},
		dirty:    map[Vec3i]struct{}{},
		over:     map[Vec3i]struct{}{},
	}
}

func (s *VolumeStore) Capacity() float64 { return s.capacity }
func (s *VolumeStore) ChunkSize() int    { return s.size }

func (s *VolumeStore) chunkFor(p Vec3i, create bool) *chunkVolumes {
	k := chunkOf(p, s.size)
	ch, ok := s.chunks[k]
	if !ok && create {
		ch = &chunkVolumes{key: k, cells: map[Vec3i]float64{}}
		s.chunks[k] = ch
	}
	return ch
}

// Get returns the stored volume at p, zero if absent.
func (s *VolumeStore) Get(p Vec3i) float64 {
	ch := s.chunkFor(p, false)
	if ch == nil {
		return 0
	}
	return ch.cells[p]
}

// Has reports whether a cell exists at p.
func (s *VolumeStore) Has(p Vec3i) bool { return s.Get(p) > 0 }

// Set stores v at p. Non-positive volumes remove the entry. Volumes above
// capacity are clamped unless a displacement window is open, in which case
// the cell is flagged over-capacity for the solver to drain first.
func (s *VolumeStore) Set(p Vec3i, v float64) {
	old := s.Get(p)
	if v > s.capacity {
		if s.displacing {
			s.over[p] = struct{}{}
		} else {
			v = s.capacity
		}
	}
	if v <= s.capacity {
		delete(s.over, p)
	}
	if v <= 0 {
		if old > 0 {
			delete(s.chunkFor(p, false).cells, p)
		}
		delete(s.over, p)
		v = 0
	} else {
		s.chunkFor(p, true).cells[p] = v
	}
	if old == v {
		return
	}
	s.journal = append(s.journal, Delta{Pos: p, Old: old, New: v, Epoch: s.epoch})
	s.MarkDirty(p)
}

// Add adds up to amount at p, clamping at capacity, and returns the volume
// actually applied.
func (s *VolumeStore) Add(p Vec3i, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	old := s.Get(p)
	applied := amount
	if old+applied > s.capacity {
		applied = s.capacity - old
	}
	if applied <= 0 {
		return 0
	}
	s.Set(p, old+applied)
	return applied
}

// Remove removes up to amount at p and returns the volume actually removed.
func (s *VolumeStore) Remove(p Vec3i, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	old := s.Get(p)
	applied := amount
	if applied > old {
		applied = old
	}
	if applied <= 0 {
		return 0
	}
	s.Set(p, old-applied)
	return applied
}

// MarkDirty marks p and its six face neighbors dirty for the current tick.
func (s *VolumeStore) MarkDirty(p Vec3i) {
	s.dirty[p] = struct{}{}
	for _, d := range faceDirs {
		s.dirty[p.Add(d)] = struct{}{}
	}
}

// TakeDirty returns the accumulated dirty set and resets it.
func (s *VolumeStore) TakeDirty() map[Vec3i]struct{} {
	d := s.dirty
	s.dirty = map[Vec3i]struct{}{}
	return d
}

// BeginDisplacement opens a window in which volumes may transiently exceed
// capacity. EndDisplacement closes it; over-capacity cells stay flagged.
func (s *VolumeStore) BeginDisplacement() { s.displacing = true }
func (s *VolumeStore) EndDisplacement()   { s.displacing = false }

// OverCapacity returns the flagged over-capacity cells in deterministic order.
func (s *VolumeStore) OverCapacity() []Vec3i {
	return sortedCoordSet(s.over)
}

func (s *VolumeStore) IsOverCapacity(p Vec3i) bool {
	_, ok := s.over[p]
	return ok
}

// AdvanceEpoch closes the current journal epoch and returns the new one.
func (s *VolumeStore) AdvanceEpoch() uint64 {
	s.epoch++
	return s.epoch
}

// DeltasSince returns every recorded mutation at or after the given epoch,
// in the order they were applied.
func (s *VolumeStore) DeltasSince(epoch uint64) []Delta {
	i := sort.Search(len(s.journal), func(i int) bool { return s.journal[i].Epoch >= epoch })
	out := make([]Delta, len(s.journal)-i)
	copy(out, s.journal[i:])
	return out
}

// TrimDeltas drops journal entries older than the given epoch.
func (s *VolumeStore) TrimDeltas(epoch uint64) {
	i := sort.Search(len(s.journal), func(i int) bool { return s.journal[i].Epoch >= epoch })
	if i > 0 {
		s.journal = append([]Delta(nil), s.journal[i:]...)
	}
}

// ForEach visits every stored cell. Iteration order is not deterministic;
// callers that need determinism should collect and sort.
func (s *VolumeStore) ForEach(fn func(p Vec3i, v float64) bool) {
	for _, ch := range s.chunks {
		for p, v := range ch.cells {
			if !fn(p, v) {
				return
			}
		}
	}
}

// Cells returns every stored cell sorted by coordinate.
func (s *VolumeStore) Cells() []Vec3i {
	var out []Vec3i
	s.ForEach(func(p Vec3i, _ float64) bool {
		out = append(out, p)
		return true
	})
	sortVec3i(out)
	return out
}

func (s *VolumeStore) CellCount() int {
	n := 0
	for _, ch := range s.chunks {
		n += len(ch.cells)
	}
	return n
}

func (s *VolumeStore) TotalVolume() float64 {
	var sum float64
	s.ForEach(func(_ Vec3i, v float64) bool {
		sum += v
		return true
	})
	return sum
}

// ChunkKeys returns the keys of every non-empty chunk, sorted.
func (s *VolumeStore) ChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k, ch := range s.chunks {
		if len(ch.cells) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// Reset drops all cells, flags, and journal state. Used by snapshot restore.
func (s *VolumeStore) Reset() {
	s.chunks = map[ChunkKey]*chunkVolumes{}
	s.dirty = map[Vec3i]struct{}{}
	s.over = map[Vec3i]struct{}{}
	s.journal = nil
}
