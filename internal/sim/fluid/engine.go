package fluid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"sync"
)

type mutationKind uint8

const (
	mutBlockAdded mutationKind = iota + 1
	mutBlockRemoved
)

type mutation struct {
	kind mutationKind
	pos  Vec3i
}

// TickStats summarizes one completed simulation tick.
type TickStats struct {
	Tick         uint64  `json:"tick"`
	AwakePatches int     `json:"awake_patches"`
	SleptPatches int     `json:"slept_patches"`
	WokenPatches int     `json:"woken_patches"`
	MovedVolume  float64 `json:"moved_volume"`
	Losses       int     `json:"losses"`
	LostVolume   float64 `json:"lost_volume"`
	Regions      int     `json:"regions"`
	Cells        int     `json:"cells"`
	TotalVolume  float64 `json:"total_volume"`
}

// CellSnapshot is one cell of a persistence snapshot. Region and patch
// state is deliberately excluded: it is fully derivable from the cell set
// plus terrain solidity, so a restore rebuilds it.
type CellSnapshot struct {
	Pos    [3]int  `json:"pos"`
	Volume float64 `json:"volume"`
}

// CellHeight is one entry of a renderer-facing height field.
type CellHeight struct {
	Pos    [3]int  `json:"pos"`
	Height float64 `json:"h"`
}

// PatchView is the read-only surface exposed to the rendering collaborator.
// It reflects the most recently completed tick.
type PatchView struct {
	Patch  PatchID      `json:"patch"`
	Region RegionID     `json:"region"`
	Y      int          `json:"y"`
	Awake  bool         `json:"awake"`
	Cells  []CellHeight `json:"cells"`
}

// Engine owns the water state of one set of chunk columns and advances it
// one batch-synchronous tick at a time. All methods must be called from the
// single goroutine that owns the engine, except QueueDelta, which peers may
// call from their own tick goroutines.
type Engine struct {
	cfg     Config
	terrain Terrain

	store    *VolumeStore
	regions  *RegionIndex
	surfaces *SurfaceExtractor
	solver   *FlowSolver
	bx       *BoundaryExchange
	mut      *MutationHandler

	owns     func(ChunkKey) bool
	provider NeighborProvider

	tick       uint64
	pendingMut []mutation

	// lastEpoch tracks the region epoch at the last patch recompute, so a
	// wake without a membership change does not discard sleep bookkeeping.
	lastEpoch map[RegionID]uint64

	losses     []ConservationLoss
	lossSink   func(ConservationLoss)
	tickSink   func(TickStats)
	violations []*InvariantViolation
}

// Option configures an Engine.
type Option func(*Engine)

// WithOwnership restricts which chunk columns this engine owns. Coordinates
// outside the owned set are reached only through the boundary exchange.
func WithOwnership(owns func(ChunkKey) bool) Option {
	return func(e *Engine) { e.owns = owns }
}

// WithNeighbor wires the provider used for ghost reads and pending deltas
// at seams to non-owned chunks.
func WithNeighbor(p NeighborProvider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithLossSink registers a sink for conservation exceptions.
func WithLossSink(fn func(ConservationLoss)) Option {
	return func(e *Engine) { e.lossSink = fn }
}

// WithTickSink registers a sink for per-tick statistics.
func WithTickSink(fn func(TickStats)) Option {
	return func(e *Engine) { e.tickSink = fn }
}

func New(cfg Config, terrain Terrain, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:       cfg,
		terrain:   terrain,
		owns:      func(ChunkKey) bool { return true },
		lastEpoch: map[RegionID]uint64{},
	}
	for _, o := range opts {
		o(e)
	}
	e.store = NewVolumeStore(cfg.ChunkSize, cfg.CellCapacity)
	e.regions = NewRegionIndex(e.store)
	e.surfaces = NewSurfaceExtractor(e.store, e.regions, terrain)
	e.bx = NewBoundaryExchange(cfg.ChunkSize, cfg.BoundaryMargin, e.owns, e.provider)
	e.solver = NewFlowSolver(&e.cfg, e.store, terrain, e.bx)
	e.mut = NewMutationHandler(e.store, terrain, e.recordLoss)
	return e
}

func (e *Engine) Config() Config   { return e.cfg }
func (e *Engine) Tick() uint64     { return e.tick }
func (e *Engine) CellCount() int   { return e.store.CellCount() }
func (e *Engine) RegionCount() int { return e.regions.RegionCount() }

// TotalVolume is the sum of all stored cell volumes.
func (e *Engine) TotalVolume() float64 { return e.store.TotalVolume() }

// Losses returns every conservation exception recorded so far.
func (e *Engine) Losses() []ConservationLoss {
	return append([]ConservationLoss(nil), e.losses...)
}

// Violations returns every invariant violation detected so far.
func (e *Engine) Violations() []*InvariantViolation {
	return append([]*InvariantViolation(nil), e.violations...)
}

func (e *Engine) recordLoss(pos Vec3i, amount float64, reason string) {
	loss := ConservationLoss{
		Tick:   e.tick,
		Pos:    [3]int{pos.X, pos.Y, pos.Z},
		Amount: amount,
		Reason: reason,
	}
	e.losses = append(e.losses, loss)
	if e.lossSink != nil {
		e.lossSink(loss)
	}
}

func (e *Engine) freezeRegion(id RegionID, iv *InvariantViolation) {
	iv.Tick = e.tick
	iv.Region = id
	e.violations = append(e.violations, iv)
	e.regions.Freeze(id, iv.Invariant)
	e.surfaces.DropRegion(id)
	delete(e.lastEpoch, id)
}

// OnBlockAdded buffers a solidity change at p (air became solid). Applied
// atomically at the start of the next tick.
func (e *Engine) OnBlockAdded(p Vec3i) {
	e.pendingMut = append(e.pendingMut, mutation{kind: mutBlockAdded, pos: p})
}

// OnBlockRemoved buffers a solidity change at p (solid became air).
func (e *Engine) OnBlockRemoved(p Vec3i) {
	e.pendingMut = append(e.pendingMut, mutation{kind: mutBlockRemoved, pos: p})
}

// AddVolume adds up to amount at p and returns the volume actually applied.
// The coordinate is marked dirty for the next repair pass.
func (e *Engine) AddVolume(p Vec3i, amount float64) float64 {
	if e.terrain.IsSolid(p) || !e.bx.Owns(p) {
		return 0
	}
	return e.store.Add(p, amount)
}

// RemoveVolume removes up to amount at p and returns the volume removed.
func (e *Engine) RemoveVolume(p Vec3i, amount float64) float64 {
	return e.store.Remove(p, amount)
}

// GhostVolume implements NeighborProvider for peer engines.
func (e *Engine) GhostVolume(p Vec3i) (float64, bool) {
	if !e.bx.Owns(p) {
		return 0, false
	}
	return e.store.Get(p), true
}

// QueueDelta implements NeighborProvider for peer engines. Safe to call
// from another engine's tick goroutine.
func (e *Engine) QueueDelta(p Vec3i, dv float64) {
	e.bx.QueueInbound(p, dv)
}

// Step advances the simulation by one tick: queued seam deltas and buffered
// terrain mutations apply first, then region repair and patch recompute
// settle around the dirty set, and only then do the solver passes run over
// a consistent snapshot.
func (e *Engine) Step() TickStats {
	e.tick++
	e.store.AdvanceEpoch()
	stats := TickStats{Tick: e.tick}
	lossesBefore := len(e.losses)

	// 1. Deltas queued by neighbors apply at our tick start.
	if inbound := e.bx.DrainInbound(); len(inbound) > 0 {
		e.store.BeginDisplacement()
		for _, d := range inbound {
			e.store.Set(d.Pos, e.store.Get(d.Pos)+d.DV)
		}
		e.store.EndDisplacement()
	}

	// 2. Buffered terrain mutations, in arrival order.
	mutated := make([]Vec3i, 0, len(e.pendingMut))
	for _, m := range e.pendingMut {
		switch m.kind {
		case mutBlockAdded:
			e.mut.BlockAdded(m.pos)
		case mutBlockRemoved:
			e.mut.BlockRemoved(m.pos)
		}
		mutated = append(mutated, m.pos)
	}
	e.pendingMut = e.pendingMut[:0]

	// 3. Repair region membership around the dirty set. Frozen regions hit
	// by an edit are dropped and rebuilt from scratch.
	dirty := e.store.TakeDirty()
	e.rebuildFrozenTouched(dirty)
	touched := e.regions.Repair(dirty)
	touched, flips := e.addSurfaceFlips(dirty, mutated, touched)

	// 4. Recompute patches for regions whose membership changed or whose
	// surface answer flipped; wake the patches of regions merely touched.
	stats.WokenPatches = e.refreshPatches(touched, flips)

	// 5. Active set and ghost refresh.
	active := e.activePatches()
	e.bx.Refresh(e.tick, e.seamCells(active))

	// 6. Solver passes, evaluated in parallel. Simulation is read-only;
	// all writes happen in the serial commit below.
	results := e.simulateAll(active)

	// 7. Commit and sleep accounting, in patch order.
	for i, p := range active {
		res := results[i]
		e.commit(p, res)
		stats.MovedVolume += res.moved
		if res.moved == 0 && res.maxDiff <= e.cfg.StabilityEps {
			p.StableTicks++
			if p.StableTicks >= e.cfg.SleepAfterTicks {
				p.Awake = false
				stats.SleptPatches++
			}
		} else {
			p.StableTicks = 0
		}
	}

	// 8. Region awake flags follow their patches.
	for _, id := range e.regions.RegionIDs() {
		r := e.regions.Region(id)
		awake := false
		for _, pid := range e.surfaces.RegionPatches(id) {
			if e.surfaces.Patch(pid).Awake {
				awake = true
				break
			}
		}
		r.Awake = awake && !r.Frozen
	}

	stats.AwakePatches = len(e.surfaces.AwakePatches())
	stats.Losses = len(e.losses) - lossesBefore
	for _, l := range e.losses[lossesBefore:] {
		stats.LostVolume += l.Amount
	}
	stats.Regions = e.regions.RegionCount()
	stats.Cells = e.store.CellCount()
	stats.TotalVolume = e.store.TotalVolume()
	if e.tickSink != nil {
		e.tickSink(stats)
	}
	return stats
}

// rebuildFrozenTouched drops any frozen region touched by a dirty
// coordinate and reinserts its cells into the dirty set, so the repair pass
// rebuilds it fresh.
func (e *Engine) rebuildFrozenTouched(dirty map[Vec3i]struct{}) {
	rebuilt := map[RegionID]struct{}{}
	for p := range dirty {
		id, ok := e.regions.RegionOf(p)
		if !ok {
			continue
		}
		if _, done := rebuilt[id]; done {
			continue
		}
		r := e.regions.Region(id)
		if r == nil || !r.Frozen {
			continue
		}
		rebuilt[id] = struct{}{}
		cells := e.regions.DropRegion(id)
		e.surfaces.DropRegion(id)
		delete(e.lastEpoch, id)
		for _, c := range cells {
			dirty[c] = struct{}{}
		}
	}
}

// addSurfaceFlips widens the touched set with regions whose surface answer
// may have flipped: a dirty coordinate directly above a member cell means
// "is there air above me" changed for that cell even when membership did
// not. Solidity flips are returned separately because a wake alone is not
// enough there: the region's epoch is unchanged, yet its patch set is stale
// (a removed lid exposes cells, a placed block covers them), so the caller
// must force a recompute.
func (e *Engine) addSurfaceFlips(dirty map[Vec3i]struct{}, mutated []Vec3i, touched []RegionID) ([]RegionID, map[RegionID]struct{}) {
	seen := map[RegionID]struct{}{}
	for _, id := range touched {
		seen[id] = struct{}{}
	}
	for p := range dirty {
		if id, ok := e.regions.RegionOf(p.Down()); ok {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				touched = append(touched, id)
			}
		}
	}
	var flips map[RegionID]struct{}
	for _, p := range mutated {
		if id, ok := e.regions.RegionOf(p.Down()); ok {
			if flips == nil {
				flips = map[RegionID]struct{}{}
			}
			flips[id] = struct{}{}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				touched = append(touched, id)
			}
		}
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })
	return touched, flips
}

// refreshPatches recomputes patches for regions whose membership changed
// since the last recompute (or whose surface solidity flipped) and re-wakes
// the rest. Returns the number of patches woken or created awake.
func (e *Engine) refreshPatches(touched []RegionID, flips map[RegionID]struct{}) int {
	woken := 0
	for _, id := range touched {
		r := e.regions.Region(id)
		if r == nil || r.Frozen {
			continue
		}
		_, flipped := flips[id]
		if flipped || e.lastEpoch[id] != r.Epoch {
			patches := e.surfaces.Recompute(id)
			e.lastEpoch[id] = r.Epoch
			for _, p := range patches {
				if iv := e.surfaces.CheckHorizontality(p); iv != nil {
					e.freezeRegion(id, iv)
					break
				}
				woken++
			}
			continue
		}
		for _, pid := range e.surfaces.RegionPatches(id) {
			p := e.surfaces.Patch(pid)
			if !p.Awake {
				p.Awake = true
				woken++
			}
			p.StableTicks = 0
		}
	}
	return woken
}

// activePatches returns the awake patches of unfrozen regions, sorted.
func (e *Engine) activePatches() []*SurfacePatch {
	var out []*SurfacePatch
	for _, p := range e.surfaces.AwakePatches() {
		r := e.regions.Region(p.Region)
		if r == nil || r.Frozen {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (e *Engine) seamCells(active []*SurfacePatch) []Vec3i {
	var out []Vec3i
	for _, p := range active {
		for _, c := range p.Cells() {
			if e.bx.NearSeam(c) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (e *Engine) simulateAll(active []*SurfacePatch) []patchResult {
	results := make([]patchResult, len(active))
	workers := e.cfg.Workers
	if workers <= 1 || len(active) <= 1 {
		for i, p := range active {
			results[i] = e.solver.Simulate(p)
		}
		return results
	}
	if workers > len(active) {
		workers = len(active)
	}
	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				results[i] = e.solver.Simulate(active[i])
			}
		}()
	}
	for i := range active {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return results
}

func (e *Engine) commit(p *SurfacePatch, res patchResult) {
	if len(res.deltas) == 0 && len(res.remote) == 0 {
		return
	}
	coords := make([]Vec3i, 0, len(res.deltas))
	for c := range res.deltas {
		coords = append(coords, c)
	}
	sortVec3i(coords)

	// Validate every resulting value before the first write: freezing on a
	// negative cell must reject the whole delta set, never half of it.
	vals := make([]float64, len(coords))
	for i, c := range coords {
		nv := e.store.Get(c) + res.deltas[c]
		if nv < -e.cfg.ConservationEps {
			e.freezeRegion(p.Region, &InvariantViolation{
				Patch: p.ID, Invariant: InvNegativeCell, Pos: c,
			})
			return
		}
		if nv < 0 {
			nv = 0 // numerical dust
		}
		vals[i] = nv
	}

	e.store.BeginDisplacement()
	for i, c := range coords {
		e.store.Set(c, vals[i])
	}
	e.store.EndDisplacement()

	for _, rd := range res.remote {
		e.bx.PushRemote(rd.Pos, rd.DV)
	}
}

// SurfaceView exposes the per-patch height fields of the last completed
// tick for the rendering collaborator.
func (e *Engine) SurfaceView() []PatchView {
	area := e.cfg.FootprintArea
	var out []PatchView
	for _, id := range e.surfaces.PatchIDs() {
		p := e.surfaces.Patch(id)
		pv := PatchView{Patch: p.ID, Region: p.Region, Y: p.Y, Awake: p.Awake}
		for _, c := range p.Cells() {
			pv.Cells = append(pv.Cells, CellHeight{
				Pos:    [3]int{c.X, c.Y, c.Z},
				Height: e.store.Get(c) / area,
			})
		}
		out = append(out, pv)
	}
	return out
}

// ExportCells snapshots every cell, sorted by coordinate.
func (e *Engine) ExportCells() []CellSnapshot {
	cells := e.store.Cells()
	out := make([]CellSnapshot, 0, len(cells))
	for _, c := range cells {
		out = append(out, CellSnapshot{
			Pos:    [3]int{c.X, c.Y, c.Z},
			Volume: e.store.Get(c),
		})
	}
	return out
}

// RestoreCells replaces all water state with the snapshot and rebuilds
// regions and patches from the cell set plus current terrain solidity.
func (e *Engine) RestoreCells(cells []CellSnapshot) {
	e.store.Reset()
	e.regions.Reset()
	e.surfaces.Reset()
	e.lastEpoch = map[RegionID]uint64{}
	e.pendingMut = e.pendingMut[:0]

	for _, c := range cells {
		if c.Volume <= 0 {
			continue
		}
		e.store.Set(Vec3i{X: c.Pos[0], Y: c.Pos[1], Z: c.Pos[2]}, c.Volume)
	}
	dirty := e.store.TakeDirty()
	touched := e.regions.Repair(dirty)
	e.refreshPatches(touched, nil)
}

// Digest is a deterministic fingerprint of the cell set, for replay and
// regression tests.
func (e *Engine) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	for _, c := range e.store.Cells() {
		for _, v := range [3]int{c.X, c.Y, c.Z} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
			h.Write(tmp[:])
		}
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(e.store.Get(c)))
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DeltasSince exposes the store's mutation journal to read-side consumers.
func (e *Engine) DeltasSince(epoch uint64) []Delta { return e.store.DeltasSince(epoch) }
