// Package hosttest provides in-memory host collaborators for tests.
package hosttest

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/surface"
)

type Message struct {
	Tone host.Tone
	Text string
}

type Player struct {
	id   uuid.UUID
	name string

	mu       sync.Mutex
	sneaking bool
	inbox    []Message
}

func NewPlayer(name string) *Player {
	return &Player{id: uuid.New(), name: name}
}

func (p *Player) ID() uuid.UUID { return p.id }
func (p *Player) Name() string  { return p.name }

func (p *Player) Sneaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sneaking
}

func (p *Player) SetSneaking(v bool) {
	p.mu.Lock()
	p.sneaking = v
	p.mu.Unlock()
}

func (p *Player) SendMessage(tone host.Tone, text string) {
	p.mu.Lock()
	p.inbox = append(p.inbox, Message{Tone: tone, Text: text})
	p.mu.Unlock()
}

func (p *Player) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.inbox...)
}

var ErrSpawnRefused = errors.New("spawn refused")

// World records every spawn/destroy call.
type World struct {
	mu     sync.Mutex
	blocks map[host.Pos]surface.Material
	next   host.VehicleID
	live   map[host.VehicleID]host.Point

	Spawns    []host.Point
	Destroyed []host.VehicleID

	SpawnErr     error
	DestroyErr   error
	PanicOnSpawn bool
}

func NewWorld() *World {
	return &World{
		blocks: map[host.Pos]surface.Material{},
		live:   map[host.VehicleID]host.Point{},
	}
}

func (w *World) SetBlock(pos host.Pos, m surface.Material) {
	w.mu.Lock()
	w.blocks[pos] = m
	w.mu.Unlock()
}

func (w *World) BlockAt(pos host.Pos) host.Block {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.blocks[pos]
	if !ok {
		m = surface.MaterialAir
	}
	return host.Block{Material: m, Pos: pos}
}

func (w *World) SpawnVehicle(at host.Point) (host.VehicleID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.PanicOnSpawn {
		panic("spawn exploded")
	}
	w.Spawns = append(w.Spawns, at)
	if w.SpawnErr != nil {
		return 0, w.SpawnErr
	}
	w.next++
	w.live[w.next] = at
	return w.next, nil
}

func (w *World) Destroy(id host.VehicleID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Destroyed = append(w.Destroyed, id)
	if w.DestroyErr != nil {
		return w.DestroyErr
	}
	delete(w.live, id)
	return nil
}

func (w *World) Live() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.live)
}

func (w *World) SpawnCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Spawns)
}

func (w *World) DestroyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Destroyed)
}

// Permissions grants every capability unless the player is denied.
type Permissions struct {
	mu     sync.Mutex
	denied map[uuid.UUID]bool
}

func NewPermissions() *Permissions {
	return &Permissions{denied: map[uuid.UUID]bool{}}
}

func (p *Permissions) Deny(id uuid.UUID) {
	p.mu.Lock()
	p.denied[id] = true
	p.mu.Unlock()
}

func (p *Permissions) HasCapability(id uuid.UUID, capability string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return capability == host.CapabilityUseRail && !p.denied[id]
}

// Messages returns the key itself so tests can assert which message was sent.
type Messages struct{}

func (Messages) MessageFor(key, def string) string { return key }

type Bus struct {
	Interact []func(*host.InteractEvent)
	Exit     []func(host.VehicleExitEvent)
	Quit     []func(host.Player)
}

func (b *Bus) OnInteract(fn func(*host.InteractEvent)) {
	b.Interact = append(b.Interact, fn)
}

func (b *Bus) OnVehicleExit(fn func(host.VehicleExitEvent)) {
	b.Exit = append(b.Exit, fn)
}

func (b *Bus) OnPlayerQuit(fn func(host.Player)) {
	b.Quit = append(b.Quit, fn)
}

func (b *Bus) FireInteract(ev *host.InteractEvent) {
	for _, fn := range b.Interact {
		fn(ev)
	}
}

func (b *Bus) FireExit(ev host.VehicleExitEvent) {
	for _, fn := range b.Exit {
		fn(ev)
	}
}

func (b *Bus) FireQuit(p host.Player) {
	for _, fn := range b.Quit {
		fn(p)
	}
}

type Interceptor struct {
	UseItem []func(host.InputPacket)
}

func (i *Interceptor) OnUseItem(fn func(host.InputPacket)) { i.UseItem = append(i.UseItem, fn) }

func (i *Interceptor) Fire(pkt host.InputPacket) {
	for _, fn := range i.UseItem {
		fn(pkt)
	}
}
