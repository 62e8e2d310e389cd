// Package host runs one water world: a fluid engine plus its terrain
// store, driven by a single tick goroutine that also owns client
// registration, edit intake, and persistence.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kmorrisongr/rustcraft-sub000/internal/persistence/indexdb"
	plog "github.com/kmorrisongr/rustcraft-sub000/internal/persistence/log"
	"github.com/kmorrisongr/rustcraft-sub000/internal/protocol"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/fluid"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/terrain"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/tuning"
)

// JoinRequest registers a connected client with the tick loop.
type JoinRequest struct {
	ClientID string
	Observer bool
	Out      chan []byte
	Resp     chan protocol.WelcomeMsg
}

// EditEnvelope is one client edit waiting for the next tick.
type EditEnvelope struct {
	ClientID string
	Edit     protocol.EditMsg
}

type client struct {
	id       string
	observer bool
	out      chan []byte
}

// Host owns the simulation state for one world.
//
// All fields are accessed only from the tick goroutine; external callers
// talk to it through the Join/Leave/Inbox channels.
type Host struct {
	cfg tuning.Tuning
	log *log.Logger

	eng  *fluid.Engine
	terr *terrain.ChunkStore

	tickLog *plog.TickLogger
	consLog *plog.ConservationLogger
	index   *indexdb.SQLiteIndex

	clients map[string]*client

	join  chan JoinRequest
	leave chan string
	inbox chan EditEnvelope
	stop  chan struct{}

	// Conservation accounting carried across restarts.
	lostTotal float64

	// Stats of the last completed tick, readable from any goroutine.
	lastStats atomic.Pointer[fluid.TickStats]
}

func New(cfg tuning.Tuning, logger *log.Logger) (*Host, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = log.Default()
	}

	worldDir := filepath.Join(cfg.DataDir, cfg.WorldID)
	idx, err := indexdb.OpenSQLite(filepath.Join(worldDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	h := &Host{
		cfg:     cfg,
		log:     logger,
		tickLog: plog.NewTickLogger(worldDir),
		consLog: plog.NewConservationLogger(worldDir),
		index:   idx,
		clients: map[string]*client{},
		join:    make(chan JoinRequest, 16),
		leave:   make(chan string, 16),
		inbox:   make(chan EditEnvelope, 1024),
		stop:    make(chan struct{}),
	}

	h.terr = terrain.NewChunkStore(cfg.ChunkSize, terrain.Gen{
		Seed:   cfg.Seed,
		Height: cfg.Height,
	})
	h.eng = fluid.New(fluid.Config{
		ChunkSize:       cfg.ChunkSize,
		FlowRate:        cfg.FlowRateK,
		MaxFluxFrac:     cfg.MaxFluxFrac,
		StabilityEps:    cfg.StabilityEps,
		SleepAfterTicks: cfg.SleepAfterTicks,
		BoundaryMargin:  cfg.BoundaryMargin,
		Workers:         cfg.SolverWorkers,
	}, h.terr,
		fluid.WithLossSink(h.recordLoss),
		fluid.WithTickSink(h.recordTick),
	)
	h.terr.Subscribe(h.eng)

	if err := h.restoreLatest(); err != nil {
		logger.Printf("host %s: restore failed, starting empty: %v", cfg.WorldID, err)
	}
	return h, nil
}

func (h *Host) ID() string                   { return h.cfg.WorldID }
func (h *Host) TickRateHz() int              { return h.cfg.TickRateHz }
func (h *Host) ChunkSize() int               { return h.cfg.ChunkSize }
func (h *Host) Engine() *fluid.Engine        { return h.eng }
func (h *Host) Terrain() *terrain.ChunkStore { return h.terr }

func (h *Host) Join() chan<- JoinRequest   { return h.join }
func (h *Host) Leave() chan<- string       { return h.leave }
func (h *Host) Inbox() chan<- EditEnvelope { return h.inbox }

func (h *Host) Stop() { close(h.stop) }

// Run drives the tick loop until the context is cancelled or Stop is
// called. Edits and joins received between ticks are buffered and applied
// in arrival order at the next tick boundary.
func (h *Host) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(h.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer h.shutdown()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingEdits []EditEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case req := <-h.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-h.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-h.inbox:
			pendingEdits = append(pendingEdits, env)
		case <-ticker.C:
			h.stepInternal(pendingJoins, pendingLeaves, pendingEdits)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingEdits = pendingEdits[:0]
		}
	}
}

// StepOnce advances the world by a single tick with the given edits and
// returns the completed tick plus a deterministic state digest. Intended
// for replays and tests; it uses the same ordering as Run.
func (h *Host) StepOnce(edits []EditEnvelope) (tick uint64, digest string) {
	h.stepInternal(nil, nil, edits)
	return h.eng.Tick(), h.eng.Digest()
}

func (h *Host) stepInternal(joins []JoinRequest, leaves []string, edits []EditEnvelope) {
	for _, id := range leaves {
		delete(h.clients, id)
	}
	for _, req := range joins {
		h.handleJoin(req)
	}
	for _, env := range edits {
		h.applyEdit(env)
	}

	h.eng.Step()

	tick := h.eng.Tick()
	if len(h.clients) > 0 {
		h.broadcastSurface(tick)
	}
	if h.cfg.SnapshotEveryTicks > 0 && tick%uint64(h.cfg.SnapshotEveryTicks) == 0 {
		if err := h.writeSnapshot(tick); err != nil {
			h.log.Printf("host %s: snapshot at tick %d failed: %v", h.cfg.WorldID, tick, err)
		}
	}
}

func (h *Host) handleJoin(req JoinRequest) {
	h.clients[req.ClientID] = &client{
		id:       req.ClientID,
		observer: req.Observer,
		out:      req.Out,
	}
	w := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		WorldID:         h.cfg.WorldID,
		ServerTick:      h.eng.Tick(),
		ChunkSize:       h.cfg.ChunkSize,
	}
	select {
	case req.Resp <- w:
	default:
	}
}

func (h *Host) broadcastSurface(tick uint64) {
	frame := protocol.SurfaceFrameMsg{
		Type: protocol.TypeSurface,
		Tick: tick,
	}
	for _, pv := range h.eng.SurfaceView() {
		sp := protocol.SurfacePatch{
			Patch:  uint32(pv.Patch),
			Region: uint32(pv.Region),
			Y:      pv.Y,
			Awake:  pv.Awake,
		}
		for _, c := range pv.Cells {
			sp.Cells = append(sp.Cells, protocol.CellHeight{Pos: c.Pos, Height: c.Height})
		}
		frame.Patches = append(frame.Patches, sp)
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	for _, c := range h.clients {
		sendLatest(c.out, b)
	}
}

func (h *Host) recordTick(stats fluid.TickStats) {
	h.lastStats.Store(&stats)
	if err := h.tickLog.WriteTick(stats); err != nil {
		h.log.Printf("host %s: tick log: %v", h.cfg.WorldID, err)
	}
	h.index.WriteTick(stats)
}

// Stats returns the stats of the last completed tick. Safe to call from
// any goroutine.
func (h *Host) Stats() fluid.TickStats {
	if s := h.lastStats.Load(); s != nil {
		return *s
	}
	return fluid.TickStats{}
}

func (h *Host) recordLoss(loss fluid.ConservationLoss) {
	h.lostTotal += loss.Amount
	if err := h.consLog.WriteLoss(loss); err != nil {
		h.log.Printf("host %s: conservation log: %v", h.cfg.WorldID, err)
	}
	h.index.WriteLoss(loss)
}

func (h *Host) shutdown() {
	if err := h.writeSnapshot(h.eng.Tick()); err != nil {
		h.log.Printf("host %s: shutdown snapshot: %v", h.cfg.WorldID, err)
	}
	_ = h.tickLog.Close()
	_ = h.consLog.Close()
	_ = h.index.Close()
}

// sendLatest delivers b without ever blocking the tick loop: when the
// client's queue is full the oldest frame is dropped to make room.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
