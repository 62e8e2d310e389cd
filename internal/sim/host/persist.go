package host

import (
	"fmt"
	"path/filepath"

	"github.com/kmorrisongr/rustcraft-sub000/internal/persistence/snapshot"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/encoding"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/fluid"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/terrain"
)

// restoreLatest loads the most recent snapshot recorded in the index, if
// any. Terrain chunks load first so the engine's region rebuild sees the
// right solidity.
func (h *Host) restoreLatest() error {
	tick, path, ok, err := h.index.LatestSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	snap, err := snapshot.Read(path)
	if err != nil {
		return err
	}
	if snap.Header.WorldID != h.cfg.WorldID {
		return fmt.Errorf("snapshot world %q, want %q", snap.Header.WorldID, h.cfg.WorldID)
	}

	want := h.cfg.ChunkSize * h.cfg.ChunkSize * h.cfg.Height
	for _, tc := range snap.Chunks {
		blocks, err := encoding.RunsDecode(tc.Runs, want)
		if err != nil {
			return fmt.Errorf("chunk (%d,%d): %w", tc.CX, tc.CZ, err)
		}
		h.terr.LoadChunkBlocks(terrain.ChunkKey{CX: tc.CX, CZ: tc.CZ}, blocks)
	}

	cells := make([]fluid.CellSnapshot, 0, len(snap.Cells))
	for _, c := range snap.Cells {
		cells = append(cells, fluid.CellSnapshot{Pos: c.Pos, Volume: c.Volume})
	}
	h.eng.RestoreCells(cells)
	h.lostTotal = snap.LostVolume

	h.log.Printf("host %s: restored snapshot tick=%d cells=%d chunks=%d",
		h.cfg.WorldID, tick, len(cells), len(snap.Chunks))
	return nil
}

func (h *Host) writeSnapshot(tick uint64) error {
	snap := snapshot.WaterV1{
		Header:     snapshot.Header{Version: 1, WorldID: h.cfg.WorldID, Tick: tick},
		Seed:       h.cfg.Seed,
		ChunkSize:  h.cfg.ChunkSize,
		Height:     h.cfg.Height,
		LostVolume: h.lostTotal,
	}
	for _, c := range h.eng.ExportCells() {
		snap.Cells = append(snap.Cells, snapshot.CellV1{Pos: c.Pos, Volume: c.Volume})
	}
	for _, k := range h.terr.LoadedChunkKeys() {
		snap.Chunks = append(snap.Chunks, snapshot.TerrainChunkV1{
			CX:   k.CX,
			CZ:   k.CZ,
			Runs: encoding.RunsEncode(h.terr.ChunkBlocks(k)),
		})
	}

	path := filepath.Join(h.cfg.DataDir, h.cfg.WorldID, "snapshots",
		fmt.Sprintf("water-%010d.snap", tick))
	if err := snapshot.Write(path, snap); err != nil {
		return err
	}
	h.index.RecordSnapshot(path, snap)
	return nil
}
