// Package detect turns raw input packets and semantic interact events into
// one source-agnostic Intent. It does not deduplicate: the same physical
// click may arrive on both channels and the ownership gate absorbs it.
package detect

import (
	"log"

	"railcart.ai/internal/sim/host"
)

type Channel uint8

const (
	ChannelPacket Channel = iota + 1
	ChannelEvent
)

func (c Channel) String() string {
	switch c {
	case ChannelPacket:
		return "packet"
	case ChannelEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Intent is a candidate right-click on a block.
type Intent struct {
	Player  host.Player
	Block   host.Block
	Channel Channel
}

// Handler evaluates an intent and reports whether it was accepted.
type Handler func(Intent) bool

type Mode uint8

const (
	FallbackOnly Mode = iota
	FullDetection
)

func (m Mode) String() string {
	if m == FullDetection {
		return "full"
	}
	return "fallback"
}

// ModeFor decides the detection mode once, at startup.
func ModeFor(pi host.PacketInterceptor) Mode {
	if pi == nil {
		return FallbackOnly
	}
	return FullDetection
}

// Producer is one input channel that normalizes host input into intents.
type Producer interface {
	Channel() Channel
}

// PacketAdapter reads raw use-item packets on the network goroutine.
type PacketAdapter struct {
	world  host.World
	handle Handler
	log    *log.Logger
}

func NewPacketAdapter(world host.World, handle Handler, logger *log.Logger) *PacketAdapter {
	return &PacketAdapter{world: world, handle: handle, log: logger}
}

func (a *PacketAdapter) Channel() Channel { return ChannelPacket }

// Intent normalizes a packet. Destroy sub-actions and packets without block
// coordinates yield no intent.
func (a *PacketAdapter) Intent(pkt host.InputPacket) (Intent, bool) {
	if pkt.Player == nil || pkt.Action.IsDestroy() || pkt.Pos == nil {
		return Intent{}, false
	}
	block := a.world.BlockAt(*pkt.Pos)
	return Intent{Player: pkt.Player, Block: block, Channel: ChannelPacket}, true
}

func (a *PacketAdapter) HandlePacket(pkt host.InputPacket) {
	in, ok := a.Intent(pkt)
	if !ok {
		return
	}
	if a.log != nil {
		a.log.Printf("packet: %s right-clicked %s at %s", in.Player.Name(), in.Block.Material, in.Block.Pos)
	}
	// The packet channel cannot suppress default handling; the result is
	// only informational here.
	_ = a.handle(in)
}

// EventAdapter reads the host's interact event on the tick goroutine.
type EventAdapter struct {
	handle Handler
	log    *log.Logger
}

func NewEventAdapter(handle Handler, logger *log.Logger) *EventAdapter {
	return &EventAdapter{handle: handle, log: logger}
}

func (a *EventAdapter) Channel() Channel { return ChannelEvent }

func (a *EventAdapter) Intent(ev *host.InteractEvent) (Intent, bool) {
	if ev == nil || ev.Player == nil || !ev.Action.IsRightClick() || !ev.HasBlock() {
		return Intent{}, false
	}
	return Intent{Player: ev.Player, Block: *ev.Block, Channel: ChannelEvent}, true
}

func (a *EventAdapter) HandleInteract(ev *host.InteractEvent) {
	in, ok := a.Intent(ev)
	if !ok {
		return
	}
	if a.log != nil {
		a.log.Printf("event: %s right-clicked %s at %s", in.Player.Name(), in.Block.Material, in.Block.Pos)
	}
	if a.handle(in) {
		ev.Consume()
	}
}

// Detector composes the mandatory event adapter with the optional packet one.
type Detector struct {
	mode   Mode
	event  *EventAdapter
	packet *PacketAdapter
}

// New builds a detector for the given capability set. trace may be nil to
// silence per-click lines; warn receives the degraded-mode warning.
func New(world host.World, pi host.PacketInterceptor, handle Handler, warn, trace *log.Logger) *Detector {
	d := &Detector{
		mode:  ModeFor(pi),
		event: NewEventAdapter(handle, trace),
	}
	if d.mode == FullDetection {
		d.packet = NewPacketAdapter(world, handle, trace)
	} else if warn != nil {
		warn.Printf("packet interception not available; falling back to interact events only")
	}
	return d
}

func (d *Detector) Mode() Mode { return d.mode }

// Producers lists the active channels, primary first.
func (d *Detector) Producers() []Producer {
	if d.packet != nil {
		return []Producer{d.packet, d.event}
	}
	return []Producer{d.event}
}

// Register attaches the adapters to the host.
func (d *Detector) Register(bus host.EventBus, pi host.PacketInterceptor) {
	if d.packet != nil && pi != nil {
		pi.OnUseItem(d.packet.HandlePacket)
	}
	bus.OnInteract(d.event.HandleInteract)
}
