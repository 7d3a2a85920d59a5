package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"railcart.ai/internal/protocol"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/sched"
	"railcart.ai/internal/sim/surface"
	"railcart.ai/internal/sim/tuning"
)

// MaxVehicles caps live minecarts per world.
const MaxVehicles = 4096

var (
	ErrEntityLimit   = errors.New("world entity limit reached")
	ErrNoSuchVehicle = errors.New("no such vehicle")
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	PacketInterception bool
	PermissionNode     string
	Permissions        tuning.Permissions
	Track              []tuning.TrackBlock
}

type JoinRequest struct {
	Name string
	ID   uuid.UUID // zero: derived from Name
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Player  *Player
	Session uint64
}

// LeaveRequest ends one connection's session. A leave whose session is no
// longer the player's current one (the player reconnected) is ignored.
type LeaveRequest struct {
	PlayerID uuid.UUID
	Session  uint64
}

type InputKind uint8

const (
	InputUseItem InputKind = iota + 1
	InputMount
	InputExit
	InputSetBlock
)

// Input is one client action applied on the tick loop.
type Input struct {
	PlayerID uuid.UUID
	Kind     InputKind

	Action   host.PlayerAction
	Pos      *host.Pos
	Vehicle  host.VehicleID
	Material surface.Material
}

type Vehicle struct {
	ID    host.VehicleID
	Pos   host.Point
	Rider uuid.UUID
}

// World is a minimal authoritative host: blocks, players and minecarts.
// Mutation happens only on the Run goroutine; reads used by the network
// goroutine (BlockAt, player state) are guarded by mu.
type World struct {
	cfg WorldConfig
	log *log.Logger

	tick atomic.Uint64

	mu       sync.RWMutex
	blocks   map[host.Pos]surface.Material
	players  map[uuid.UUID]*Player
	vehicles map[host.VehicleID]*Vehicle

	nextVehicle uint64
	nextSession uint64

	tasks *sched.Queue

	inbox chan Input
	join  chan JoinRequest
	leave chan LeaveRequest
	stop  chan struct{}

	lmu      sync.RWMutex
	interact []func(*host.InteractEvent)
	exits    []func(host.VehicleExitEvent)
	quits    []func(host.Player)
	useItem  []func(host.InputPacket)

	stepNanos atomic.Int64
}

func New(cfg WorldConfig, logger *log.Logger) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("world: tick rate must be positive, got %d", cfg.TickRateHz)
	}
	if cfg.ID == "" {
		cfg.ID = "world"
	}
	if strings.TrimSpace(cfg.PermissionNode) == "" {
		cfg.PermissionNode = tuning.DefaultPermissionNode
	}
	w := &World{
		cfg:      cfg,
		log:      logger,
		blocks:   map[host.Pos]surface.Material{},
		players:  map[uuid.UUID]*Player{},
		vehicles: map[host.VehicleID]*Vehicle{},
		tasks:    sched.NewQueue(logger),
		inbox:    make(chan Input, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan LeaveRequest, 64),
		stop:     make(chan struct{}),
	}
	for _, tb := range cfg.Track {
		w.blocks[host.Pos{X: tb.Pos[0], Y: tb.Pos[1], Z: tb.Pos[2]}] = surface.Normalize(surface.Material(tb.Material))
	}
	return w, nil
}

func (w *World) ID() string                 { return w.cfg.ID }
func (w *World) TickRateHz() int            { return w.cfg.TickRateHz }
func (w *World) CurrentTick() uint64        { return w.tick.Load() }
func (w *World) Inbox() chan<- Input        { return w.inbox }
func (w *World) Join() chan<- JoinRequest   { return w.join }
func (w *World) Leave() chan<- LeaveRequest { return w.leave }

// Scheduler returns the next-tick task queue drained by Run.
func (w *World) Scheduler() host.Scheduler { return w.tasks }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingInputs []Input
	var pendingJoins []JoinRequest
	var pendingLeaves []LeaveRequest

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-w.leave:
			pendingLeaves = append(pendingLeaves, req)
		case in := <-w.inbox:
			pendingInputs = append(pendingInputs, in)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingInputs)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingInputs = pendingInputs[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// Step advances one tick synchronously. Tests drive the world with it
// instead of Run.
func (w *World) Step(joins []JoinRequest, leaves []LeaveRequest, inputs []Input) {
	w.step(joins, leaves, inputs)
}

func (w *World) step(joins []JoinRequest, leaves []LeaveRequest, inputs []Input) {
	start := time.Now()
	w.tick.Add(1)

	for _, req := range joins {
		req.Resp <- w.joinPlayer(req)
	}
	for _, in := range inputs {
		w.applyInput(in)
	}
	// Deferred work runs after event dispatch, never inside a handler.
	w.tasks.RunPending()

	for _, req := range leaves {
		w.removePlayer(req)
	}
	w.stepNanos.Store(int64(time.Since(start)))
}

func (w *World) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}

// OfflinePlayerID derives the stable uuid a server without authentication
// assigns to a player name.
func OfflinePlayerID(name string) uuid.UUID {
	return uuid.NewMD5(uuid.Nil, []byte("OfflinePlayer:"+name))
}

func (w *World) joinPlayer(req JoinRequest) JoinResponse {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "player"
	}
	id := req.ID
	if id == uuid.Nil {
		id = OfflinePlayerID(name)
	}

	w.mu.Lock()
	w.nextSession++
	session := w.nextSession
	p, ok := w.players[id]
	if ok {
		// Reconnect: the new connection takes over output and session.
		p.setOut(req.Out)
	} else {
		p = newPlayer(id, name, req.Out)
		w.players[id] = p
	}
	p.session = session
	w.mu.Unlock()
	w.logf("join %s (%s)", name, id)

	detection := "fallback"
	if w.cfg.PacketInterception {
		detection = "full"
	}
	return JoinResponse{
		Player:  p,
		Session: session,
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			PlayerID:        id.String(),
			PlayerName:      name,
			WorldParams: protocol.WorldParams{
				WorldID:    w.cfg.ID,
				TickRateHz: w.cfg.TickRateHz,
				Detection:  detection,
			},
		},
	}
}

func (w *World) removePlayer(req LeaveRequest) {
	id := req.PlayerID
	w.mu.Lock()
	p, ok := w.players[id]
	if ok && p.session != req.Session {
		w.mu.Unlock()
		w.logf("ignore stale leave for %s (session %d, current %d)", p.Name(), req.Session, p.session)
		return
	}
	if ok {
		delete(w.players, id)
	}
	var riding *Vehicle
	if ok {
		if v := w.vehicles[p.Riding()]; v != nil && v.Rider == id {
			v.Rider = uuid.Nil
			riding = v
		}
		p.setRiding(0)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	if riding != nil {
		w.broadcastEntity(protocol.EntityOpDismount, riding)
	}
	w.logf("leave %s (%s)", p.Name(), id)
	w.fireQuit(p)
}

func (w *World) player(id uuid.UUID) *Player {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.players[id]
}

// Player looks up a connected player.
func (w *World) Player(id uuid.UUID) (*Player, bool) {
	p := w.player(id)
	return p, p != nil
}

func (w *World) SetSneaking(id uuid.UUID, v bool) bool {
	p := w.player(id)
	if p == nil {
		return false
	}
	p.setSneaking(v)
	return true
}
