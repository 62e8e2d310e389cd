package fluid

// Terrain answers solidity queries for any absolute coordinate. Queries
// must be cheap; the solver calls them on every vertical step and surface
// check.
type Terrain interface {
	IsSolid(p Vec3i) bool
}

// TerrainFunc adapts a plain function to the Terrain interface.
type TerrainFunc func(p Vec3i) bool

func (f TerrainFunc) IsSolid(p Vec3i) bool { return f(p) }

// MutationHandler translates block add/remove notifications into volume
// redistribution against the store. Both operations conserve volume except
// for the single sanctioned lossy path in BlockAdded, which is reported to
// the loss sink.
type MutationHandler struct {
	store   *VolumeStore
	terrain Terrain
	onLoss  func(pos Vec3i, amount float64, reason string)
}

func NewMutationHandler(store *VolumeStore, terrain Terrain, onLoss func(Vec3i, float64, string)) *MutationHandler {
	if onLoss == nil {
		onLoss = func(Vec3i, float64, string) {}
	}
	return &MutationHandler{store: store, terrain: terrain, onLoss: onLoss}
}

// BlockRemoved handles a coordinate turning from solid to air. If water sits
// directly above, as much as fits drops into the opening immediately;
// otherwise the adjacent water is only marked dirty and the next solver tick
// redistributes into the opening through normal flow.
func (h *MutationHandler) BlockRemoved(p Vec3i) {
	above := p.Up()
	if v := h.store.Get(above); v > 0 {
		mv := v
		if mv > h.store.Capacity() {
			mv = h.store.Capacity()
		}
		h.store.Set(above, v-mv)
		h.store.Set(p, h.store.Get(p)+mv)
		return
	}
	// Wakes every face-adjacent cell's region via the dirty spread.
	h.store.MarkDirty(p)
}

// BlockAdded relocates the volume stored at a coordinate that is becoming
// solid. Placement order: push up, split across lateral headroom, then
// force the remainder upward over capacity. Only a fully sealed pocket
// (solid above and on all four sides) destroys volume, and that loss is
// reported, never silent.
func (h *MutationHandler) BlockAdded(p Vec3i) float64 {
	displaced := h.store.Get(p)
	h.store.MarkDirty(p)
	if displaced <= 0 {
		return 0
	}

	h.store.BeginDisplacement()
	defer h.store.EndDisplacement()

	h.store.Set(p, 0)
	remaining := displaced

	up := p.Up()
	upOpen := !h.terrain.IsSolid(up)

	// 1. Push up as much as fits.
	if upOpen {
		head := h.store.Capacity() - h.store.Get(up)
		if head > 0 {
			mv := remaining
			if mv > head {
				mv = head
			}
			h.store.Set(up, h.store.Get(up)+mv)
			remaining -= mv
		}
	}

	// 2. Split the rest across lateral neighbors, weighted by headroom.
	if remaining > 0 {
		type side struct {
			pos  Vec3i
			head float64
		}
		var sides []side
		var total float64
		for _, d := range horizDirs {
			n := p.Add(d)
			if h.terrain.IsSolid(n) {
				continue
			}
			head := h.store.Capacity() - h.store.Get(n)
			if head > 0 {
				sides = append(sides, side{pos: n, head: head})
				total += head
			}
		}
		if total > 0 {
			if remaining >= total {
				for _, s := range sides {
					h.store.Set(s.pos, h.store.Get(s.pos)+s.head)
				}
				remaining -= total
			} else {
				for _, s := range sides {
					share := remaining * s.head / total
					h.store.Set(s.pos, h.store.Get(s.pos)+share)
				}
				remaining = 0
			}
		}
	}

	// 3. Force the remainder upward, over capacity if needed. The store
	// flags the cell so the solver drains it on the next tick.
	if remaining > 0 && upOpen {
		h.store.Set(up, h.store.Get(up)+remaining)
		remaining = 0
	}

	if remaining > 0 {
		h.onLoss(p, remaining, "sealed displacement")
	}
	return remaining
}
