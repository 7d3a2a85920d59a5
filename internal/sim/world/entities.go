package world

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"railcart.ai/internal/protocol"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/surface"
)

func (w *World) BlockAt(pos host.Pos) host.Block {
	w.mu.RLock()
	m, ok := w.blocks[pos]
	w.mu.RUnlock()
	if !ok {
		m = surface.MaterialAir
	}
	return host.Block{Material: m, Pos: pos}
}

func (w *World) SpawnVehicle(at host.Point) (host.VehicleID, error) {
	w.mu.Lock()
	if len(w.vehicles) >= MaxVehicles {
		w.mu.Unlock()
		return 0, fmt.Errorf("%w (%d)", ErrEntityLimit, MaxVehicles)
	}
	w.nextVehicle++
	v := &Vehicle{ID: host.VehicleID(w.nextVehicle), Pos: at}
	w.vehicles[v.ID] = v
	snap := *v
	w.mu.Unlock()

	w.broadcastEntity(protocol.EntityOpSpawn, &snap)
	return snap.ID, nil
}

// Destroy removes a vehicle. A rider is dropped without an exit event.
func (w *World) Destroy(id host.VehicleID) error {
	w.mu.Lock()
	v, ok := w.vehicles[id]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoSuchVehicle, id)
	}
	delete(w.vehicles, id)
	if v.Rider != uuid.Nil {
		if p := w.players[v.Rider]; p != nil && p.Riding() == id {
			p.setRiding(0)
		}
	}
	snap := *v
	w.mu.Unlock()

	w.broadcastEntity(protocol.EntityOpRemove, &snap)
	return nil
}

// Vehicles returns the live minecarts ordered by id.
func (w *World) Vehicles() []Vehicle {
	w.mu.RLock()
	out := make([]Vehicle, 0, len(w.vehicles))
	for _, v := range w.vehicles {
		out = append(out, *v)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasCapability maps the rail capability onto the configured permission
// node; other capabilities are looked up as nodes directly.
func (w *World) HasCapability(player uuid.UUID, capability string) bool {
	node := capability
	if capability == host.CapabilityUseRail {
		node = w.cfg.PermissionNode
	}
	p := w.player(player)
	if p == nil {
		return false
	}
	return w.cfg.Permissions.Grants(p.Name(), node)
}

// WorldMetrics is a read-only view of runtime signals for HTTP handlers.
type WorldMetrics struct {
	Tick     uint64 `json:"tick"`
	Players  int    `json:"players"`
	Vehicles int    `json:"vehicles"`

	QueueDepths QueueDepths `json:"queue_depths"`

	// DroppedMessages sums frames discarded for connected players whose
	// client queue was full.
	DroppedMessages uint64 `json:"dropped_messages"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
	Tasks int `json:"tasks"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	w.mu.RLock()
	players, vehicles := len(w.players), len(w.vehicles)
	var dropped uint64
	for _, p := range w.players {
		dropped += p.Dropped()
	}
	w.mu.RUnlock()
	return WorldMetrics{
		Tick:     w.CurrentTick(),
		Players:  players,
		Vehicles: vehicles,
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
			Tasks: w.tasks.Len(),
		},
		DroppedMessages: dropped,
		StepMS:          float64(w.stepNanos.Load()) / float64(time.Millisecond),
	}
}
