package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the daemon-level configuration loaded from tuning.yaml.
// Engine-internal defaults live in fluid.Config; this file only carries
// what an operator actually changes.
type Tuning struct {
	WorldID string `yaml:"world_id"`
	Seed    int64  `yaml:"seed"`

	TickRateHz int `yaml:"tick_rate_hz"`
	ChunkSize  int `yaml:"chunk_size"`
	Height     int `yaml:"height"`

	FlowRateK       float64 `yaml:"flow_rate_k"`
	MaxFluxFrac     float64 `yaml:"max_flux_frac"`
	StabilityEps    float64 `yaml:"stability_eps"`
	SleepAfterTicks int     `yaml:"sleep_after_ticks"`
	BoundaryMargin  int     `yaml:"boundary_margin"`
	SolverWorkers   int     `yaml:"solver_workers"`

	SnapshotEveryTicks int    `yaml:"snapshot_every_ticks"`
	DataDir            string `yaml:"data_dir"`
	ListenAddr         string `yaml:"listen_addr"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.ApplyDefaults()
	return t, nil
}

func (t *Tuning) ApplyDefaults() {
	if t.WorldID == "" {
		t.WorldID = "W1"
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = 16
	}
	if t.Height <= 0 {
		t.Height = 64
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = 3000
	}
	if t.DataDir == "" {
		t.DataDir = "data"
	}
	if t.ListenAddr == "" {
		t.ListenAddr = ":8791"
	}
}
