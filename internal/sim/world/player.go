package world

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"railcart.ai/internal/protocol"
	"railcart.ai/internal/sim/host"
)

// Player is a connected client. Its accessors are safe from any goroutine.
type Player struct {
	id   uuid.UUID
	name string

	sneaking atomic.Bool
	riding   atomic.Uint64

	mu  sync.Mutex
	out chan []byte

	// session identifies the bound connection; guarded by World.mu.
	session uint64

	dropped atomic.Uint64
}

func newPlayer(id uuid.UUID, name string, out chan []byte) *Player {
	return &Player{id: id, name: name, out: out}
}

func (p *Player) ID() uuid.UUID  { return p.id }
func (p *Player) Name() string   { return p.name }
func (p *Player) Sneaking() bool { return p.sneaking.Load() }

// Riding returns the vehicle the player sits in, or zero.
func (p *Player) Riding() host.VehicleID { return host.VehicleID(p.riding.Load()) }

// Dropped counts messages discarded because the client queue was full.
func (p *Player) Dropped() uint64 { return p.dropped.Load() }

func (p *Player) SendMessage(tone host.Tone, text string) {
	p.send(protocol.ChatMsg{
		Type:            protocol.TypeChat,
		ProtocolVersion: protocol.Version,
		Tone:            tone.String(),
		Text:            text,
	})
}

func (p *Player) setSneaking(v bool)          { p.sneaking.Store(v) }
func (p *Player) setRiding(id host.VehicleID) { p.riding.Store(uint64(id)) }

func (p *Player) setOut(out chan []byte) {
	p.mu.Lock()
	p.out = out
	p.mu.Unlock()
}

func (p *Player) send(msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.mu.Lock()
	out := p.out
	p.mu.Unlock()
	if out == nil {
		return
	}
	// Never block the tick on a slow client.
	select {
	case out <- b:
	default:
		p.dropped.Add(1)
	}
}
