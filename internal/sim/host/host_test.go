package host

import (
	"encoding/json"
	"log"
	"os"
	"testing"

	"github.com/kmorrisongr/rustcraft-sub000/internal/protocol"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/fluid"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/tuning"
)

func testTuning(t *testing.T) tuning.Tuning {
	t.Helper()
	return tuning.Tuning{
		WorldID:            "test-world",
		Seed:               1337,
		ChunkSize:          16,
		Height:             32,
		SnapshotEveryTicks: 1 << 30, // no mid-test snapshots
		DataDir:            t.TempDir(),
	}
}

func newTestHost(t *testing.T, cfg tuning.Tuning) *Host {
	t.Helper()
	h, err := New(cfg, log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	return h
}

func joinClient(t *testing.T, h *Host, id string, observer bool) (chan []byte, protocol.WelcomeMsg) {
	t.Helper()
	out := make(chan []byte, 32)
	resp := make(chan protocol.WelcomeMsg, 1)
	h.stepInternal([]JoinRequest{{ClientID: id, Observer: observer, Out: out, Resp: resp}}, nil, nil)
	select {
	case w := <-resp:
		return out, w
	default:
		t.Fatalf("no welcome for %s", id)
		return nil, protocol.WelcomeMsg{}
	}
}

func nextAck(t *testing.T, out chan []byte) protocol.AckMsg {
	t.Helper()
	for {
		select {
		case b := <-out:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				t.Fatalf("frame: %v", err)
			}
			if base.Type != protocol.TypeAck {
				continue // surface frames interleave with acks
			}
			var a protocol.AckMsg
			if err := json.Unmarshal(b, &a); err != nil {
				t.Fatalf("ack json: %v", err)
			}
			return a
		default:
			t.Fatalf("no ack queued")
		}
	}
}

func TestJoinReceivesWelcome(t *testing.T) {
	h := newTestHost(t, testTuning(t))
	defer h.shutdown()

	_, w := joinClient(t, h, "c1", false)
	if w.Type != protocol.TypeWelcome || w.WorldID != "test-world" {
		t.Fatalf("welcome %+v", w)
	}
	if w.ProtocolVersion != protocol.Version || w.ChunkSize != 16 {
		t.Fatalf("welcome %+v", w)
	}
}

func TestEditAppliesAndAcks(t *testing.T) {
	h := newTestHost(t, testTuning(t))
	defer h.shutdown()

	out, _ := joinClient(t, h, "c1", false)

	h.stepInternal(nil, nil, []EditEnvelope{{
		ClientID: "c1",
		Edit: protocol.EditMsg{
			Type: protocol.TypeEdit, EditID: "e1",
			Op: protocol.OpAddVolume, Pos: [3]int{0, 25, 0}, Amount: 0.5,
		},
	}})

	a := nextAck(t, out)
	if !a.Accepted || a.AckFor != "e1" {
		t.Fatalf("ack %+v", a)
	}
	if a.Applied != 0.5 {
		t.Fatalf("applied %v, want 0.5", a.Applied)
	}
	if got := h.Engine().TotalVolume(); got != 0.5 {
		t.Fatalf("engine total %v, want 0.5", got)
	}
}

func TestEditRejections(t *testing.T) {
	h := newTestHost(t, testTuning(t))
	defer h.shutdown()

	out, _ := joinClient(t, h, "c1", false)
	obs, _ := joinClient(t, h, "spectator", true)

	cases := []struct {
		name string
		out  chan []byte
		env  EditEnvelope
		code string
	}{
		{
			name: "observer may not edit",
			out:  obs,
			env: EditEnvelope{ClientID: "spectator", Edit: protocol.EditMsg{
				EditID: "e1", Op: protocol.OpAddVolume, Pos: [3]int{0, 25, 0}, Amount: 1,
			}},
			code: protocol.ErrBadRequest,
		},
		{
			name: "solid target",
			out:  out,
			env: EditEnvelope{ClientID: "c1", Edit: protocol.EditMsg{
				EditID: "e2", Op: protocol.OpAddVolume, Pos: [3]int{0, 0, 0}, Amount: 1,
			}},
			code: protocol.ErrInvalidTarget,
		},
		{
			name: "non-positive amount",
			out:  out,
			env: EditEnvelope{ClientID: "c1", Edit: protocol.EditMsg{
				EditID: "e3", Op: protocol.OpRemoveVolume, Pos: [3]int{0, 25, 0},
			}},
			code: protocol.ErrBadRequest,
		},
		{
			name: "set_block out of range",
			out:  out,
			env: EditEnvelope{ClientID: "c1", Edit: protocol.EditMsg{
				EditID: "e4", Op: protocol.OpSetBlock, Pos: [3]int{0, 99, 0}, Solid: true,
			}},
			code: protocol.ErrInvalidTarget,
		},
		{
			name: "unknown op",
			out:  out,
			env: EditEnvelope{ClientID: "c1", Edit: protocol.EditMsg{
				EditID: "e5", Op: "DRAIN_WORLD", Pos: [3]int{0, 25, 0},
			}},
			code: protocol.ErrBadRequest,
		},
	}
	for _, tc := range cases {
		h.stepInternal(nil, nil, []EditEnvelope{tc.env})
		a := nextAck(t, tc.out)
		if a.Accepted || a.Code != tc.code {
			t.Fatalf("%s: ack %+v, want code %s", tc.name, a, tc.code)
		}
	}
}

func TestSetBlockReachesTheEngine(t *testing.T) {
	h := newTestHost(t, testTuning(t))
	defer h.shutdown()

	out, _ := joinClient(t, h, "c1", false)

	// Water above an air cell, then seal the cell beneath it solid.
	h.stepInternal(nil, nil, []EditEnvelope{{ClientID: "c1", Edit: protocol.EditMsg{
		EditID: "e1", Op: protocol.OpAddVolume, Pos: [3]int{0, 25, 0}, Amount: 1,
	}}})
	nextAck(t, out)

	h.stepInternal(nil, nil, []EditEnvelope{{ClientID: "c1", Edit: protocol.EditMsg{
		EditID: "e2", Op: protocol.OpSetBlock, Pos: [3]int{0, 20, 0}, Solid: true,
	}}})
	a := nextAck(t, out)
	if !a.Accepted {
		t.Fatalf("set_block rejected: %+v", a)
	}
	if !h.Terrain().IsSolid(fluid.Vec3i{Y: 20}) {
		t.Fatalf("block not placed")
	}
}

func TestStepOnceIsDeterministic(t *testing.T) {
	edits := func(h *Host) []string {
		var digests []string
		for i := 0; i < 10; i++ {
			_, d := h.StepOnce([]EditEnvelope{{ClientID: "nobody", Edit: protocol.EditMsg{
				EditID: "e", Op: protocol.OpAddVolume, Pos: [3]int{i, 25, -i}, Amount: 0.7,
			}}})
			digests = append(digests, d)
		}
		return digests
	}

	h1 := newTestHost(t, testTuning(t))
	h2 := newTestHost(t, testTuning(t))
	defer h1.shutdown()
	defer h2.shutdown()

	d1, d2 := edits(h1), edits(h2)
	for i := range d1 {
		if d1[i] != d2[i] {
			t.Fatalf("digest diverged at tick %d", i+1)
		}
	}
}

func TestSnapshotRestoreAcrossHosts(t *testing.T) {
	cfg := testTuning(t)
	cfg.SnapshotEveryTicks = 2

	h1 := newTestHost(t, cfg)
	h1.StepOnce([]EditEnvelope{{ClientID: "nobody", Edit: protocol.EditMsg{
		EditID: "e1", Op: protocol.OpAddVolume, Pos: [3]int{0, 25, 0}, Amount: 1,
	}}})
	_, digest := h1.StepOnce(nil) // tick 2 writes a snapshot
	total := h1.Engine().TotalVolume()
	h1.shutdown()

	h2 := newTestHost(t, cfg)
	defer h2.shutdown()
	if got := h2.Engine().Digest(); got != digest {
		t.Fatalf("restored digest differs")
	}
	if got := h2.Engine().TotalVolume(); got != total {
		t.Fatalf("restored total %v, want %v", got, total)
	}
}

func TestSendLatestDropsOldestFrame(t *testing.T) {
	ch := make(chan []byte, 1)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	if got := string(<-ch); got != "b" {
		t.Fatalf("queued frame %q, want the latest", got)
	}
}
