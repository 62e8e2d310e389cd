package fluid

import "testing"

func TestVolumeStoreSparsity(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	p := Vec3i{X: 3, Y: 1, Z: -2}

	if s.Has(p) || s.Get(p) != 0 {
		t.Fatalf("empty store: Has=%v Get=%v", s.Has(p), s.Get(p))
	}
	s.Set(p, 0.4)
	if !s.Has(p) || s.Get(p) != 0.4 {
		t.Fatalf("after set: Has=%v Get=%v", s.Has(p), s.Get(p))
	}
	if got := s.CellCount(); got != 1 {
		t.Fatalf("CellCount=%d, want 1", got)
	}

	// Zero volume removes the entry entirely.
	s.Set(p, 0)
	if s.Has(p) || s.CellCount() != 0 {
		t.Fatalf("zero volume should remove the cell")
	}
}

func TestVolumeStoreClampsAboveCapacity(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	p := Vec3i{}

	s.Set(p, 3.0)
	if got := s.Get(p); got != 1.0 {
		t.Fatalf("Set above capacity: got %v, want clamp to 1.0", got)
	}
	if s.IsOverCapacity(p) {
		t.Fatalf("clamped cell must not be flagged over-capacity")
	}
}

func TestVolumeStoreDisplacementWindow(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	p := Vec3i{X: 1}

	s.BeginDisplacement()
	s.Set(p, 1.3)
	s.EndDisplacement()

	if got := s.Get(p); got != 1.3 {
		t.Fatalf("displaced volume: got %v, want 1.3", got)
	}
	if !s.IsOverCapacity(p) {
		t.Fatalf("over-capacity flag missing")
	}
	if got := s.OverCapacity(); len(got) != 1 || got[0] != p {
		t.Fatalf("OverCapacity=%v", got)
	}

	// Draining back under capacity clears the flag.
	s.Set(p, 0.9)
	if s.IsOverCapacity(p) {
		t.Fatalf("flag should clear at or below capacity")
	}
}

func TestAddRemoveClampAndReport(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	p := Vec3i{Z: 5}

	if got := s.Add(p, 0.7); got != 0.7 {
		t.Fatalf("Add applied %v, want 0.7", got)
	}
	if got := s.Add(p, 0.7); !near(got, 0.3) {
		t.Fatalf("Add near capacity applied %v, want 0.3", got)
	}
	if got := s.Add(p, 0.1); got != 0 {
		t.Fatalf("Add at capacity applied %v, want 0", got)
	}

	if got := s.Remove(p, 0.4); got != 0.4 {
		t.Fatalf("Remove applied %v, want 0.4", got)
	}
	if got := s.Remove(p, 5); !near(got, 0.6) {
		t.Fatalf("Remove past zero applied %v, want 0.6", got)
	}
	if s.Has(p) {
		t.Fatalf("cell should be gone after removing everything")
	}
}

func TestDirtySpreadsToFaceNeighbors(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	p := Vec3i{X: 2, Y: 3, Z: 4}
	s.Set(p, 0.5)

	dirty := s.TakeDirty()
	if len(dirty) != 7 {
		t.Fatalf("dirty set size %d, want 7 (self + 6 neighbors)", len(dirty))
	}
	if _, ok := dirty[p]; !ok {
		t.Fatalf("self missing from dirty set")
	}
	for _, d := range faceDirs {
		if _, ok := dirty[p.Add(d)]; !ok {
			t.Fatalf("neighbor %v missing from dirty set", p.Add(d))
		}
	}
	if len(s.TakeDirty()) != 0 {
		t.Fatalf("TakeDirty must reset the set")
	}
}

func TestDeltaJournal(t *testing.T) {
	s := NewVolumeStore(16, 1.0)
	a := Vec3i{}
	b := Vec3i{X: 1}

	s.AdvanceEpoch() // epoch 1
	s.Set(a, 0.5)
	s.AdvanceEpoch() // epoch 2
	s.Set(a, 0.2)
	s.Set(b, 0.9)

	all := s.DeltasSince(1)
	if len(all) != 3 {
		t.Fatalf("DeltasSince(1): %d entries, want 3", len(all))
	}
	if all[0].Pos != a || all[0].Old != 0 || all[0].New != 0.5 {
		t.Fatalf("first delta %+v", all[0])
	}

	recent := s.DeltasSince(2)
	if len(recent) != 2 {
		t.Fatalf("DeltasSince(2): %d entries, want 2", len(recent))
	}
	if recent[0].Pos != a || recent[0].Old != 0.5 || recent[0].New != 0.2 {
		t.Fatalf("epoch-2 delta %+v", recent[0])
	}

	s.TrimDeltas(2)
	if got := s.DeltasSince(0); len(got) != 2 {
		t.Fatalf("after trim: %d entries, want 2", len(got))
	}

	// Writing the same value records nothing.
	s.Set(b, 0.9)
	if got := s.DeltasSince(2); len(got) != 2 {
		t.Fatalf("no-op set must not journal: %d entries", len(got))
	}
}
