package world

import (
	"slices"

	"github.com/google/uuid"

	"railcart.ai/internal/protocol"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/surface"
)

func (w *World) OnInteract(fn func(*host.InteractEvent)) {
	w.lmu.Lock()
	w.interact = append(w.interact, fn)
	w.lmu.Unlock()
}

func (w *World) OnVehicleExit(fn func(host.VehicleExitEvent)) {
	w.lmu.Lock()
	w.exits = append(w.exits, fn)
	w.lmu.Unlock()
}

func (w *World) OnPlayerQuit(fn func(host.Player)) {
	w.lmu.Lock()
	w.quits = append(w.quits, fn)
	w.lmu.Unlock()
}

// Interceptor returns the packet-level input facility, or nil when packet
// interception is disabled for this world.
func (w *World) Interceptor() host.PacketInterceptor {
	if !w.cfg.PacketInterception {
		return nil
	}
	return interceptor{w}
}

type interceptor struct{ w *World }

func (i interceptor) OnUseItem(fn func(host.InputPacket)) {
	i.w.lmu.Lock()
	i.w.useItem = append(i.w.useItem, fn)
	i.w.lmu.Unlock()
}

// InterceptUseItem runs packet listeners inline on the caller's goroutine,
// before the packet is queued for the tick.
func (w *World) InterceptUseItem(p *Player, action host.PlayerAction, pos *host.Pos) {
	if !w.cfg.PacketInterception || p == nil {
		return
	}
	w.lmu.RLock()
	fns := slices.Clone(w.useItem)
	w.lmu.RUnlock()
	pkt := host.InputPacket{Player: p, Action: action, Pos: pos}
	for _, fn := range fns {
		fn(pkt)
	}
}

func (w *World) fireInteract(ev *host.InteractEvent) {
	w.lmu.RLock()
	fns := slices.Clone(w.interact)
	w.lmu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (w *World) fireExit(ev host.VehicleExitEvent) {
	w.lmu.RLock()
	fns := slices.Clone(w.exits)
	w.lmu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (w *World) fireQuit(p host.Player) {
	w.lmu.RLock()
	fns := slices.Clone(w.quits)
	w.lmu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (w *World) applyInput(in Input) {
	p := w.player(in.PlayerID)
	if p == nil {
		return
	}
	switch in.Kind {
	case InputUseItem:
		w.applyUseItem(p, in)
	case InputMount:
		w.mount(p, in.Vehicle)
	case InputExit:
		w.exitVehicle(p)
	case InputSetBlock:
		if in.Pos != nil {
			w.SetBlock(*in.Pos, in.Material)
		}
	}
}

func (w *World) applyUseItem(p *Player, in Input) {
	var action host.InteractAction
	switch {
	case in.Action.IsDestroy():
		action = host.InteractLeftClickBlock
	case in.Action == host.ActionUseItemOn && in.Pos != nil:
		action = host.InteractRightClickBlock
	case in.Action == host.ActionUseItemOn:
		action = host.InteractRightClickAir
	default:
		// Drops, swaps and releases have no interaction semantics.
		return
	}
	ev := &host.InteractEvent{Player: p, Action: action}
	if in.Pos != nil && action != host.InteractRightClickAir {
		b := w.BlockAt(*in.Pos)
		ev.Block = &b
	}
	w.fireInteract(ev)

	if ev.Block != nil {
		pos := ev.Block.Pos
		p.send(protocol.InteractResultMsg{
			Type:            protocol.TypeInteractResult,
			ProtocolVersion: protocol.Version,
			Tick:            w.CurrentTick(),
			Pos:             [3]int{pos.X, pos.Y, pos.Z},
			Consumed:        ev.Consumed(),
		})
	}
}

func (w *World) mount(p *Player, id host.VehicleID) {
	w.mu.Lock()
	v := w.vehicles[id]
	if v == nil || v.Rider != uuid.Nil || p.Riding() != 0 {
		w.mu.Unlock()
		return
	}
	v.Rider = p.ID()
	p.setRiding(id)
	snap := *v
	w.mu.Unlock()
	w.broadcastEntity(protocol.EntityOpMount, &snap)
}

func (w *World) exitVehicle(p *Player) {
	w.mu.Lock()
	id := p.Riding()
	v := w.vehicles[id]
	if v == nil || v.Rider != p.ID() {
		w.mu.Unlock()
		return
	}
	v.Rider = uuid.Nil
	p.setRiding(0)
	snap := *v
	w.mu.Unlock()

	w.broadcastEntity(protocol.EntityOpDismount, &snap)
	w.fireExit(host.VehicleExitEvent{
		Vehicle: host.EntityRef{Kind: host.EntityMinecart, Vehicle: id},
		Exited:  host.EntityRef{Kind: host.EntityPlayer, Player: p},
	})
}

func (w *World) broadcastEntity(op string, v *Vehicle) {
	msg := protocol.EntityMsg{
		Type:            protocol.TypeEntity,
		ProtocolVersion: protocol.Version,
		Tick:            w.CurrentTick(),
		Op:              op,
		Kind:            string(host.EntityMinecart),
		VehicleID:       uint64(v.ID),
		Pos:             [3]float64{v.Pos.X, v.Pos.Y, v.Pos.Z},
	}
	if v.Rider != uuid.Nil {
		msg.Rider = v.Rider.String()
	}
	w.mu.RLock()
	players := make([]*Player, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, p)
	}
	w.mu.RUnlock()
	for _, p := range players {
		p.send(msg)
	}
}

// SetBlock places or clears a block. AIR clears.
func (w *World) SetBlock(pos host.Pos, m surface.Material) {
	m = surface.Normalize(m)
	w.mu.Lock()
	if m == surface.MaterialAir || m == "" {
		delete(w.blocks, pos)
	} else {
		w.blocks[pos] = m
	}
	w.mu.Unlock()
}
