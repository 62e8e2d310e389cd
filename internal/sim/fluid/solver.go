package fluid

import "math"

// FlowSolver advances awake surface patches: an event-driven vertical pass
// run to fixpoint, then a Jacobi lateral pass over height differentials.
// Simulation is pure: Simulate reads a settled snapshot and returns deltas;
// the engine commits all results serially afterwards, which keeps writes
// single-owner per chunk and makes patch evaluation safe to parallelize.
type FlowSolver struct {
	cfg     *Config
	store   *VolumeStore
	terrain Terrain
	bx      *BoundaryExchange
}

func NewFlowSolver(cfg *Config, store *VolumeStore, terrain Terrain, bx *BoundaryExchange) *FlowSolver {
	return &FlowSolver{cfg: cfg, store: store, terrain: terrain, bx: bx}
}

// patchResult is the outcome of simulating one patch for one tick.
type patchResult struct {
	patch  PatchID
	deltas map[Vec3i]float64
	remote []VolumeDelta

	moved         float64
	maxDiff       float64
	verticalMoved bool
}

// scratch is a read-through overlay on the store, so simulation never
// mutates shared state.
type scratch struct {
	store   *VolumeStore
	overlay map[Vec3i]float64
}

func newScratch(store *VolumeStore) *scratch {
	return &scratch{store: store, overlay: map[Vec3i]float64{}}
}

func (sc *scratch) get(p Vec3i) float64 {
	if v, ok := sc.overlay[p]; ok {
		return v
	}
	return sc.store.Get(p)
}

func (sc *scratch) add(p Vec3i, dv float64) {
	sc.overlay[p] = sc.get(p) + dv
}

// deltas returns the net change per touched coordinate.
func (sc *scratch) deltas() map[Vec3i]float64 {
	out := map[Vec3i]float64{}
	for p, v := range sc.overlay {
		dv := v - sc.store.Get(p)
		if dv != 0 {
			out[p] = dv
		}
	}
	return out
}

// Simulate runs both passes for one patch and returns the resulting deltas
// without touching the store.
func (s *FlowSolver) Simulate(p *SurfacePatch) patchResult {
	res := patchResult{patch: p.ID}
	sc := newScratch(s.store)

	res.verticalMoved = s.verticalPass(sc, p, &res)
	s.lateralPass(sc, p, &res)

	res.maxDiff = s.maxAdjacentDiff(sc, p)
	res.deltas = sc.deltas()
	return res
}

// verticalPass transfers volume one level down wherever the cell directly
// below is non-solid and has spare capacity, repeating until no member cell
// can transfer, then relieves over-capacity cells upward. Gravity transfer
// only reduces instability, so the fixpoint loop terminates.
func (s *FlowSolver) verticalPass(sc *scratch, p *SurfacePatch, res *patchResult) bool {
	cap := s.cfg.CellCapacity
	moved := false

	for again := true; again; {
		again = false
		for _, c := range p.Cells() {
			v := sc.get(c)
			if v <= 0 {
				continue
			}
			below := c.Down()
			if s.terrain.IsSolid(below) {
				continue
			}
			spare := cap - sc.get(below)
			if spare <= 0 {
				continue
			}
			mv := v
			if mv > spare {
				mv = spare
			}
			sc.add(c, -mv)
			sc.add(below, mv)
			res.moved += mv
			moved = true
			again = true
		}
	}

	// Over-capacity relief: excess forced in by a displacement climbs into
	// the nearest open cells above.
	for _, c := range p.Cells() {
		excess := sc.get(c) - cap
		if excess <= s.cfg.ConservationEps {
			continue
		}
		up := c.Up()
		for excess > 0 && !s.terrain.IsSolid(up) {
			room := cap - sc.get(up)
			if room > 0 {
				mv := excess
				if mv > room {
					mv = room
				}
				sc.add(c, -mv)
				sc.add(up, mv)
				res.moved += mv
				excess -= mv
				moved = true
			}
			up = up.Up()
		}
	}
	return moved
}

// lateralPass computes bounded symmetric fluxes between adjacent surface
// cells from a single height snapshot, then applies them all at once.
// Height differentials at or below the stability epsilon produce no flux,
// so a flat patch is a fixed point.
func (s *FlowSolver) lateralPass(sc *scratch, p *SurfacePatch, res *patchResult) {
	area := s.cfg.FootprintArea

	heights := make(map[Vec3i]float64, p.Size())
	for _, c := range p.Cells() {
		heights[c] = sc.get(c) / area
	}

	type pairFlux struct {
		from, to Vec3i
		f        float64
		remote   bool
	}
	var fluxes []pairFlux
	outflow := map[Vec3i]float64{}

	bound := func(hi, hj, donorVol float64) float64 {
		f := s.cfg.FlowRate * (hi - hj) * area
		limit := s.cfg.MaxFluxFrac * donorVol
		if f > limit {
			f = limit
		}
		return f
	}

	for _, c := range p.Cells() {
		// In-patch pairs, visited once each via the positive directions.
		for _, d := range [2]Vec3i{{X: 1}, {Z: 1}} {
			n := c.Add(d)
			if !p.Has(n) {
				continue
			}
			hi, hj := heights[c], heights[n]
			if math.Abs(hi-hj) <= s.cfg.StabilityEps {
				continue
			}
			if hi > hj {
				f := bound(hi, hj, sc.get(c))
				fluxes = append(fluxes, pairFlux{from: c, to: n, f: f})
				outflow[c] += f
			} else {
				f := bound(hj, hi, sc.get(n))
				fluxes = append(fluxes, pairFlux{from: n, to: c, f: f})
				outflow[n] += f
			}
		}

		// Out-of-patch lateral neighbors. Empty owned cells receive
		// spreading flux at height zero; cells across a seam go through
		// ghost mirrors, and only outbound flux is computed there because
		// inbound volume arrives as the neighbor's queued delta, so a
		// shared seam pair is never applied twice.
		for _, d := range horizDirs {
			n := c.Add(d)
			if p.Has(n) || s.terrain.IsSolid(n) {
				continue
			}
			if s.bx == nil || s.bx.Owns(n) {
				// Submerged or foreign-patch water is not a spread target;
				// vertical flow and region repair own those interactions.
				if sc.get(n) > 0 {
					continue
				}
				hi := heights[c]
				if hi <= s.cfg.StabilityEps {
					continue
				}
				f := bound(hi, 0, sc.get(c))
				fluxes = append(fluxes, pairFlux{from: c, to: n, f: f})
				outflow[c] += f
				continue
			}
			g, loaded := s.bx.Ghost(n)
			if !loaded {
				continue // unloaded neighbor chunk: closed wall
			}
			hi, hj := heights[c], g.Volume/area
			if hi-hj <= s.cfg.StabilityEps {
				continue
			}
			f := bound(hi, hj, sc.get(c))
			fluxes = append(fluxes, pairFlux{from: c, to: n, f: f, remote: true})
			outflow[c] += f
		}
	}

	// Jacobi apply with a donor limiter: if a cell's total outflow exceeds
	// its volume, all its outgoing fluxes scale down together, preserving
	// pair symmetry and therefore exact conservation. Factors are fixed
	// before any write so application order cannot matter.
	factors := map[Vec3i]float64{}
	for donor, out := range outflow {
		if avail := sc.get(donor); out > avail {
			if avail <= 0 {
				factors[donor] = 0
			} else {
				factors[donor] = avail / out
			}
		}
	}
	for _, fx := range fluxes {
		f := fx.f
		if scale, ok := factors[fx.from]; ok {
			f *= scale
		}
		if f <= 0 {
			continue
		}
		sc.add(fx.from, -f)
		if fx.remote {
			res.remote = append(res.remote, VolumeDelta{Pos: fx.to, DV: f})
		} else {
			sc.add(fx.to, f)
		}
		res.moved += f
	}
}

// maxAdjacentDiff is the post-apply convergence metric: the largest height
// differential over in-patch adjacent pairs.
func (s *FlowSolver) maxAdjacentDiff(sc *scratch, p *SurfacePatch) float64 {
	area := s.cfg.FootprintArea
	var max float64
	for _, c := range p.Cells() {
		hc := sc.get(c) / area
		for _, d := range [2]Vec3i{{X: 1}, {Z: 1}} {
			n := c.Add(d)
			if !p.Has(n) {
				continue
			}
			diff := math.Abs(hc - sc.get(n)/area)
			if diff > max {
				max = diff
			}
		}
	}
	return max
}
