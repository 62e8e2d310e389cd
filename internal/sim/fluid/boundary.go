package fluid

import "sync"

// NeighborProvider supplies read-only ghost values for cells in chunks this
// engine does not own, and accepts flux deltas destined for them. An engine
// instance is itself a NeighborProvider for its peers.
type NeighborProvider interface {
	// GhostVolume returns the current volume at p and whether the owning
	// chunk is loaded. An unloaded chunk reads as (0, false) and the seam
	// is treated as a closed wall.
	GhostVolume(p Vec3i) (float64, bool)

	// QueueDelta records a volume delta for p, to be applied by the owner
	// at the start of its next tick.
	QueueDelta(p Vec3i, dv float64)
}

// GhostCell is a time-stamped, read-only mirror of a foreign cell.
type GhostCell struct {
	Pos    Vec3i
	Volume float64
	Tick   uint64
}

// VolumeDelta is a pending cross-chunk volume change.
type VolumeDelta struct {
	Pos Vec3i
	DV  float64
}

// BoundaryExchange mediates flow across chunk seams. Reads at a seam go
// through ghost snapshots refreshed at tick start; writes to foreign cells
// are queued and applied by the owner, never made directly.
type BoundaryExchange struct {
	chunkSize int
	margin    int
	owns      func(ChunkKey) bool
	provider  NeighborProvider

	ghosts map[Vec3i]GhostCell

	mu    sync.Mutex
	inbox []VolumeDelta
}

func NewBoundaryExchange(chunkSize, margin int, owns func(ChunkKey) bool, provider NeighborProvider) *BoundaryExchange {
	return &BoundaryExchange{
		chunkSize: chunkSize,
		margin:    margin,
		owns:      owns,
		provider:  provider,
		ghosts:    map[Vec3i]GhostCell{},
	}
}

// Owns reports whether the coordinate lies in a chunk owned by this engine.
func (bx *BoundaryExchange) Owns(p Vec3i) bool {
	return bx.owns(chunkOf(p, bx.chunkSize))
}

// NearSeam reports whether p lies within the boundary margin of a chunk
// edge bordering a non-owned chunk.
func (bx *BoundaryExchange) NearSeam(p Vec3i) bool {
	for _, d := range horizDirs {
		n := p
		n.X += d.X * bx.margin
		n.Z += d.Z * bx.margin
		if !bx.Owns(n) {
			return true
		}
	}
	return false
}

// Refresh snapshots ghost values for the lateral neighbors of the given
// seam cells. Called once at tick start, before any solver pass reads.
func (bx *BoundaryExchange) Refresh(tick uint64, seamCells []Vec3i) {
	bx.ghosts = map[Vec3i]GhostCell{}
	if bx.provider == nil {
		return
	}
	for _, c := range seamCells {
		for _, d := range horizDirs {
			n := c.Add(d)
			if bx.Owns(n) {
				continue
			}
			if _, ok := bx.ghosts[n]; ok {
				continue
			}
			if v, loaded := bx.provider.GhostVolume(n); loaded {
				bx.ghosts[n] = GhostCell{Pos: n, Volume: v, Tick: tick}
			}
		}
	}
}

// Ghost returns the snapshotted mirror of a foreign cell. A miss means the
// neighbor chunk is unloaded and the seam is closed.
func (bx *BoundaryExchange) Ghost(p Vec3i) (GhostCell, bool) {
	g, ok := bx.ghosts[p]
	return g, ok
}

// PushRemote queues a delta for a foreign cell with its owner.
func (bx *BoundaryExchange) PushRemote(p Vec3i, dv float64) {
	if bx.provider != nil {
		bx.provider.QueueDelta(p, dv)
	}
}

// QueueInbound accepts a delta from a neighboring engine. Safe to call from
// the neighbor's tick goroutine.
func (bx *BoundaryExchange) QueueInbound(p Vec3i, dv float64) {
	bx.mu.Lock()
	bx.inbox = append(bx.inbox, VolumeDelta{Pos: p, DV: dv})
	bx.mu.Unlock()
}

// DrainInbound returns and clears the queued deltas. Called at tick start
// by the owning engine.
func (bx *BoundaryExchange) DrainInbound() []VolumeDelta {
	bx.mu.Lock()
	out := bx.inbox
	bx.inbox = nil
	bx.mu.Unlock()
	return out
}
