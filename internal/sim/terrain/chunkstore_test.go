package terrain

import (
	"testing"

	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/fluid"
)

func TestGenerationIsSeedDeterministic(t *testing.T) {
	a := NewChunkStore(16, Gen{Seed: 1337, Height: 64})
	b := NewChunkStore(16, Gen{Seed: 1337, Height: 64})

	for _, k := range []ChunkKey{{0, 0}, {-1, 2}, {3, -4}} {
		ba, bb := a.ChunkBlocks(k), b.ChunkBlocks(k)
		for i := range ba {
			if ba[i] != bb[i] {
				t.Fatalf("chunk %+v differs at %d: %d vs %d", k, i, ba[i], bb[i])
			}
		}
	}

	c := NewChunkStore(16, Gen{Seed: 1338, Height: 64})
	same := true
	ba, bc := a.ChunkBlocks(ChunkKey{0, 0}), c.ChunkBlocks(ChunkKey{0, 0})
	for i := range ba {
		if ba[i] != bc[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds produced identical chunks")
	}
}

func TestWorldBoundsSolidity(t *testing.T) {
	s := NewChunkStore(16, Gen{Seed: 1, Height: 32})

	if !s.IsSolid(fluid.Vec3i{Y: -1}) {
		t.Fatalf("below the floor is solid")
	}
	if s.IsSolid(fluid.Vec3i{Y: 32}) {
		t.Fatalf("above the ceiling is air")
	}
	if got := s.GetBlock(fluid.Vec3i{Y: 0}); got != Bedrock {
		t.Fatalf("y=0 is %d, want bedrock", got)
	}
	if got := s.GetBlock(fluid.Vec3i{Y: -5}); got != Bedrock {
		t.Fatalf("below-world reads %d, want bedrock", got)
	}
}

type flipRecorder struct {
	added   []fluid.Vec3i
	removed []fluid.Vec3i
}

func (r *flipRecorder) OnBlockAdded(p fluid.Vec3i)   { r.added = append(r.added, p) }
func (r *flipRecorder) OnBlockRemoved(p fluid.Vec3i) { r.removed = append(r.removed, p) }

func TestSetBlockNotifiesOnSolidityFlips(t *testing.T) {
	s := NewChunkStore(16, Gen{Seed: 1, Height: 32})
	rec := &flipRecorder{}
	s.Subscribe(rec)

	p := fluid.Vec3i{X: 3, Y: 30, Z: 3} // above generated surface, air
	if s.GetBlock(p) != Air {
		t.Fatalf("fixture wants air at %v", p)
	}

	s.SetBlock(p, Stone)
	s.SetBlock(p, Dirt) // solid to solid, no flip
	s.SetBlock(p, Air)
	s.SetBlock(p, Air) // no-op write

	if len(rec.added) != 1 || rec.added[0] != p {
		t.Fatalf("added notifications %v, want one at %v", rec.added, p)
	}
	if len(rec.removed) != 1 || rec.removed[0] != p {
		t.Fatalf("removed notifications %v, want one at %v", rec.removed, p)
	}
}

func TestBoundaryRadiusClampsEdits(t *testing.T) {
	s := NewChunkStore(16, Gen{Seed: 1, Height: 32, BoundaryR: 10})
	rec := &flipRecorder{}
	s.Subscribe(rec)

	out := fluid.Vec3i{X: 11, Y: 30}
	s.SetBlock(out, Stone)
	if len(rec.added) != 0 {
		t.Fatalf("out-of-bounds edit must be ignored")
	}
	if s.GetBlock(out) != Air {
		t.Fatalf("out-of-bounds reads as air above the floor")
	}
}

func TestLoadChunkBlocksRoundTrip(t *testing.T) {
	src := NewChunkStore(16, Gen{Seed: 9, Height: 32})
	src.SetBlock(fluid.Vec3i{X: 1, Y: 30, Z: 1}, Stone)
	blocks := src.ChunkBlocks(ChunkKey{0, 0})

	dst := NewChunkStore(16, Gen{Seed: 0xdead, Height: 32})
	dst.LoadChunkBlocks(ChunkKey{0, 0}, blocks)

	if got := dst.GetBlock(fluid.Vec3i{X: 1, Y: 30, Z: 1}); got != Stone {
		t.Fatalf("restored block %d, want stone", got)
	}
	got := dst.ChunkBlocks(ChunkKey{0, 0})
	for i := range blocks {
		if got[i] != blocks[i] {
			t.Fatalf("restored chunk differs at %d", i)
		}
	}

	// A wrong-sized payload is rejected, leaving generation to fill the gap.
	dst.LoadChunkBlocks(ChunkKey{1, 0}, blocks[:10])
	if len(dst.LoadedChunkKeys()) != 1 {
		t.Fatalf("short payload must not install a chunk")
	}
}
