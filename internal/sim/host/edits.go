package host

import (
	"encoding/json"

	"github.com/kmorrisongr/rustcraft-sub000/internal/protocol"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/fluid"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/terrain"
)

// applyEdit runs one buffered edit at the tick boundary and acks it back
// to the submitting client. Unknown clients (disconnected since submit)
// still get their edit applied; only the ack is dropped.
func (h *Host) applyEdit(env EditEnvelope) {
	c := h.clients[env.ClientID]
	e := env.Edit
	pos := fluid.Vec3i{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}

	reject := func(code, msg string) {
		h.ack(c, protocol.AckMsg{
			Type:       protocol.TypeAck,
			AckFor:     e.EditID,
			Accepted:   false,
			Code:       code,
			Message:    msg,
			ServerTick: h.eng.Tick(),
		})
	}
	accept := func(applied float64) {
		h.ack(c, protocol.AckMsg{
			Type:       protocol.TypeAck,
			AckFor:     e.EditID,
			Accepted:   true,
			Applied:    applied,
			ServerTick: h.eng.Tick(),
		})
	}

	if c != nil && c.observer {
		reject(protocol.ErrBadRequest, "observer connections may not edit")
		return
	}

	switch e.Op {
	case protocol.OpAddVolume:
		if e.Amount <= 0 {
			reject(protocol.ErrBadRequest, "amount must be positive")
			return
		}
		if h.terr.IsSolid(pos) {
			reject(protocol.ErrInvalidTarget, "target cell is solid")
			return
		}
		accept(h.eng.AddVolume(pos, e.Amount))

	case protocol.OpRemoveVolume:
		if e.Amount <= 0 {
			reject(protocol.ErrBadRequest, "amount must be positive")
			return
		}
		accept(h.eng.RemoveVolume(pos, e.Amount))

	case protocol.OpSetBlock:
		if pos.Y < 0 || pos.Y >= h.terr.Height() {
			reject(protocol.ErrInvalidTarget, "y out of range")
			return
		}
		if e.Solid {
			h.terr.SetBlock(pos, terrain.Stone)
		} else {
			h.terr.SetBlock(pos, terrain.Air)
		}
		accept(0)

	default:
		reject(protocol.ErrBadRequest, "unknown op")
	}
}

func (h *Host) ack(c *client, a protocol.AckMsg) {
	if c == nil {
		return
	}
	b, err := json.Marshal(a)
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
	}
}
