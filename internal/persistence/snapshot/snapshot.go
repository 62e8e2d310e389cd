package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Header is the uncompressed-readable first line of a snapshot file.
type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// WaterV1 is a full water-state snapshot: the sparse cell set plus the
// terrain solidity it was taken against. Regions and surface patches are
// not stored; they are rebuilt from cells x solidity on restore.
type WaterV1 struct {
	Header Header `json:"header"`

	Seed      int64 `json:"seed"`
	ChunkSize int   `json:"chunk_size"`
	Height    int   `json:"height"`

	Cells  []CellV1         `json:"cells"`
	Chunks []TerrainChunkV1 `json:"chunks"`

	// Conservation accounting carried across restarts.
	LostVolume float64 `json:"lost_volume,omitempty"`
}

// CellV1 is one water cell, coordinate to volume.
type CellV1 struct {
	Pos    [3]int  `json:"pos"`
	Volume float64 `json:"volume"`
}

// TerrainChunkV1 holds one chunk column's blocks as RLE varint pairs.
type TerrainChunkV1 struct {
	CX   int    `json:"cx"`
	CZ   int    `json:"cz"`
	Runs []byte `json:"runs"`
}

func Write(path string, snap WaterV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func Read(path string) (WaterV1, error) {
	var snap WaterV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob body carries the header too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
