package fluid

// Config carries the engine tunables. Zero values are replaced by defaults
// when the engine is constructed.
type Config struct {
	// ChunkSize is the horizontal edge length of a chunk column, in voxels.
	ChunkSize int

	// CellCapacity is the volume a single voxel holds when full.
	CellCapacity float64

	// FootprintArea is the horizontal cross-section represented by one cell.
	// Surface heights are volume / FootprintArea.
	FootprintArea float64

	// FlowRate is the lateral flow constant K: flux between two adjacent
	// surface cells is K times their height difference.
	FlowRate float64

	// MaxFluxFrac bounds the fraction of the donor cell's volume that a
	// single pair flux may move in one tick.
	MaxFluxFrac float64

	// StabilityEps: a patch whose largest adjacent height differential stays
	// below this for SleepAfterTicks consecutive ticks is put to sleep.
	StabilityEps float64

	// SleepAfterTicks is the number of consecutive stable ticks before a
	// patch is retired from the active set.
	SleepAfterTicks int

	// BoundaryMargin is the distance (in voxels) from a chunk edge within
	// which ghost snapshots are prefetched for seam flow.
	BoundaryMargin int

	// Workers is the number of goroutines evaluating awake patches.
	Workers int

	// ConservationEps is the numerical tolerance for conservation checks.
	ConservationEps float64
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 16
	}
	if c.CellCapacity <= 0 {
		c.CellCapacity = 1.0
	}
	if c.FootprintArea <= 0 {
		c.FootprintArea = 1.0
	}
	if c.FlowRate <= 0 {
		c.FlowRate = 0.25
	}
	if c.MaxFluxFrac <= 0 || c.MaxFluxFrac > 1.0 {
		c.MaxFluxFrac = 0.5
	}
	if c.StabilityEps <= 0 {
		c.StabilityEps = 1e-4
	}
	if c.SleepAfterTicks <= 0 {
		c.SleepAfterTicks = 12
	}
	if c.BoundaryMargin <= 0 {
		c.BoundaryMargin = 1
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ConservationEps <= 0 {
		c.ConservationEps = 1e-9
	}
}
