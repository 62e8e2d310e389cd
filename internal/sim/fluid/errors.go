package fluid

import "fmt"

// Invariant names used in diagnostics.
const (
	InvPartition     = "PARTITION"      // a cell owned by two regions, or by none
	InvNegativeCell  = "NEGATIVE_CELL"  // volume below zero outside a displacement window
	InvStackedPatch  = "STACKED_PATCH"  // a surface patch containing vertically stacked cells
	InvSparseStorage = "SPARSE_STORAGE" // a stored cell with zero volume
)

// ConservationLoss records the one sanctioned lossy path: volume destroyed
// during block placement because no neighbor could accept it.
type ConservationLoss struct {
	Tick   uint64  `json:"tick"`
	Pos    [3]int  `json:"pos"`
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}

// InvariantViolation is an unrecoverable bookkeeping error. The affected
// region is frozen rather than simulated further.
type InvariantViolation struct {
	Tick      uint64
	Region    RegionID
	Patch     PatchID
	Invariant string
	Pos       Vec3i
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: region=%d patch=%d pos=(%d,%d,%d) tick=%d",
		e.Invariant, e.Region, e.Patch, e.Pos.X, e.Pos.Y, e.Pos.Z, e.Tick)
}
