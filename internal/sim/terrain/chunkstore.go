package terrain

import (
	"sort"

	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/fluid"
)

// Block palette. Anything except Air is solid.
const (
	Air uint16 = iota
	Stone
	Dirt
	Sand
	Bedrock
)

type ChunkKey struct {
	CX int
	CZ int
}

// Chunk is one vertical column of blocks, ChunkSize x Height x ChunkSize.
type Chunk struct {
	CX, CZ int
	Blocks []uint16 // x fastest, then z, then y

	dirty bool
}

func (c *Chunk) index(x, y, z, size int) int {
	return x + z*size + y*size*size
}

func (c *Chunk) Get(x, y, z, size int) uint16 {
	return c.Blocks[c.index(x, y, z, size)]
}

func (c *Chunk) Set(x, y, z, size int, b uint16) bool {
	i := c.index(x, y, z, size)
	if c.Blocks[i] == b {
		return false
	}
	c.Blocks[i] = b
	c.dirty = true
	return true
}

// Gen holds the deterministic worldgen parameters.
type Gen struct {
	Seed      int64
	Height    int
	SeaFloorY int // base terrain elevation
	ReliefAmp int // max additional elevation from noise
	BoundaryR int // blocks; zero means unbounded
}

// Listener is notified when a coordinate's solidity changes. The fluid
// engine's mutation intake satisfies this.
type Listener interface {
	OnBlockAdded(p fluid.Vec3i)
	OnBlockRemoved(p fluid.Vec3i)
}

// ChunkStore is the solid-terrain collaborator: O(1) solidity queries for
// the engine, deterministic seeded generation, and solidity-change
// notifications on edits.
//
// Accessed only from the goroutine that owns the simulation for the tick.
type ChunkStore struct {
	size int
	gen  Gen

	chunks    map[ChunkKey]*Chunk
	listeners []Listener
}

func NewChunkStore(size int, gen Gen) *ChunkStore {
	if size <= 0 {
		size = 16
	}
	if gen.Height <= 0 {
		gen.Height = 64
	}
	if gen.SeaFloorY <= 0 {
		gen.SeaFloorY = 8
	}
	if gen.ReliefAmp <= 0 {
		gen.ReliefAmp = 6
	}
	return &ChunkStore{
		size:   size,
		gen:    gen,
		chunks: map[ChunkKey]*Chunk{},
	}
}

func (s *ChunkStore) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *ChunkStore) inBounds(p fluid.Vec3i) bool {
	if p.Y < 0 || p.Y >= s.gen.Height {
		return false
	}
	if s.gen.BoundaryR > 0 {
		if p.X < -s.gen.BoundaryR || p.X > s.gen.BoundaryR || p.Z < -s.gen.BoundaryR || p.Z > s.gen.BoundaryR {
			return false
		}
	}
	return true
}

// IsSolid satisfies fluid.Terrain. Below the world floor everything is
// solid; above the ceiling everything is air.
func (s *ChunkStore) IsSolid(p fluid.Vec3i) bool {
	if p.Y < 0 {
		return true
	}
	if p.Y >= s.gen.Height {
		return false
	}
	return s.GetBlock(p) != Air
}

func (s *ChunkStore) GetBlock(p fluid.Vec3i) uint16 {
	if !s.inBounds(p) {
		if p.Y < 0 {
			return Bedrock
		}
		return Air
	}
	cx := floorDiv(p.X, s.size)
	cz := floorDiv(p.Z, s.size)
	ch := s.getOrGenChunk(cx, cz)
	return ch.Get(mod(p.X, s.size), p.Y, mod(p.Z, s.size), s.size)
}

// SetBlock writes a block and notifies listeners when solidity flipped.
func (s *ChunkStore) SetBlock(p fluid.Vec3i, b uint16) {
	if !s.inBounds(p) {
		return
	}
	cx := floorDiv(p.X, s.size)
	cz := floorDiv(p.Z, s.size)
	ch := s.getOrGenChunk(cx, cz)
	old := ch.Get(mod(p.X, s.size), p.Y, mod(p.Z, s.size), s.size)
	if !ch.Set(mod(p.X, s.size), p.Y, mod(p.Z, s.size), s.size, b) {
		return
	}
	wasSolid := old != Air
	isSolid := b != Air
	if wasSolid == isSolid {
		return
	}
	for _, l := range s.listeners {
		if isSolid {
			l.OnBlockAdded(p)
		} else {
			l.OnBlockRemoved(p)
		}
	}
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// ChunkBlocks returns a copy of a chunk's block array, generating it if
// needed. Used by snapshots.
func (s *ChunkStore) ChunkBlocks(k ChunkKey) []uint16 {
	ch := s.getOrGenChunk(k.CX, k.CZ)
	out := make([]uint16, len(ch.Blocks))
	copy(out, ch.Blocks)
	return out
}

// LoadChunkBlocks replaces a chunk's block array from a snapshot. No
// listener notifications fire; restores happen before the engine attaches.
func (s *ChunkStore) LoadChunkBlocks(k ChunkKey, blocks []uint16) {
	if len(blocks) != s.size*s.size*s.gen.Height {
		return
	}
	ch := &Chunk{CX: k.CX, CZ: k.CZ, Blocks: append([]uint16(nil), blocks...)}
	s.chunks[k] = ch
}

func (s *ChunkStore) Size() int   { return s.size }
func (s *ChunkStore) Height() int { return s.gen.Height }

func (s *ChunkStore) getOrGenChunk(cx, cz int) *Chunk {
	k := ChunkKey{CX: cx, CZ: cz}
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &Chunk{
		CX:     cx,
		CZ:     cz,
		Blocks: make([]uint16, s.size*s.size*s.gen.Height),
	}
	s.generateChunk(ch)
	ch.dirty = true
	s.chunks[k] = ch
	return ch
}

// generateChunk fills a column deterministically from the seed: a bedrock
// floor, stone up to a hashed surface height, a skin of dirt or sand.
func (s *ChunkStore) generateChunk(ch *Chunk) {
	for z := 0; z < s.size; z++ {
		for x := 0; x < s.size; x++ {
			wx := ch.CX*s.size + x
			wz := ch.CZ*s.size + z

			relief := int(hash2(s.gen.Seed, wx, wz) % uint64(s.gen.ReliefAmp+1))
			surface := s.gen.SeaFloorY + relief
			if surface >= s.gen.Height {
				surface = s.gen.Height - 1
			}

			for y := 0; y < s.gen.Height; y++ {
				var b uint16
				switch {
				case y == 0:
					b = Bedrock
				case y < surface:
					b = Stone
				case y == surface:
					if hash3(s.gen.Seed, wx, y, wz)%5 == 0 {
						b = Sand
					} else {
						b = Dirt
					}
				default:
					b = Air
				}
				ch.Blocks[ch.index(x, y, z, s.size)] = b
			}
		}
	}
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9))
}
