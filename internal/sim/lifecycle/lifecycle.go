package lifecycle

import (
	"errors"
	"fmt"
	"log"
	"time"

	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/ownership"
)

var (
	ErrSpawnFailed   = errors.New("spawn failed")
	ErrDestroyFailed = errors.New("destroy failed")
)

const (
	KeySpawn        = "messages.spawn"
	KeyExit         = "messages.exit"
	KeyError        = "messages.error"
	KeyReleaseError = "messages.release-error"

	DefaultSpawn        = "Your minecart is ready to ride!"
	DefaultExit         = "Thanks for riding the minecart!"
	DefaultError        = "Failed to spawn a minecart!"
	DefaultReleaseError = "Failed to remove your minecart!"
)

// Spawn point offset from the clicked block's origin: centered, just above
// the rail surface.
const (
	SpawnOffsetX = 0.5
	SpawnOffsetY = 0.1
	SpawnOffsetZ = 0.5
)

func SpawnPoint(pos host.Pos) host.Point {
	return pos.Add(SpawnOffsetX, SpawnOffsetY, SpawnOffsetZ)
}

type Config struct {
	World     host.World
	Scheduler host.Scheduler
	Registry  *ownership.Registry
	Messages  host.Messages

	Logger  *log.Logger
	Trace   *log.Logger // optional per-event lines
	Journal Journal     // optional
	Now     func() time.Time
}

// Controller performs every vehicle spawn and release. All world mutation
// happens inside tasks handed to the scheduler.
type Controller struct {
	world   host.World
	sched   host.Scheduler
	reg     *ownership.Registry
	msgs    host.Messages
	log     *log.Logger
	trace   *log.Logger
	journal Journal
	now     func() time.Time

	stats Stats
}

func New(cfg Config) *Controller {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		world:   cfg.World,
		sched:   cfg.Scheduler,
		reg:     cfg.Registry,
		msgs:    cfg.Messages,
		log:     cfg.Logger,
		trace:   cfg.Trace,
		journal: cfg.Journal,
		now:     now,
	}
}

func (c *Controller) Stats() StatsView { return c.stats.view() }

// Spawn grants player a minecart on block at the next tick.
func (c *Controller) Spawn(p host.Player, block host.Block) {
	c.sched.RunOnNextTick(func() { c.spawnNow(p, block) })
}

func (c *Controller) spawnNow(p host.Player, block host.Block) {
	// Both detector channels may have accepted the same click before this
	// task ran; the first spawn wins and the rest are dropped.
	if c.reg.IsOwned(p.ID()) {
		c.stats.duplicates.Add(1)
		c.tracef("drop duplicate spawn for %s at %s", p.Name(), block.Pos)
		c.record(Record{Kind: KindSpawnDuplicate, Player: p, Pos: block.Pos})
		return
	}

	at := SpawnPoint(block.Pos)
	id, err := c.spawnVehicle(at)
	if err != nil {
		c.stats.spawnFailures.Add(1)
		c.logf("spawn minecart for %s: %v", p.Name(), err)
		p.SendMessage(host.ToneError, c.msgs.MessageFor(KeyError, DefaultError))
		c.record(Record{Kind: KindSpawnFailed, Player: p, Pos: block.Pos, Reason: err.Error()})
		return
	}
	if err := c.reg.TryAcquire(p.ID(), id); err != nil {
		c.stats.spawnFailures.Add(1)
		c.logf("register minecart %d for %s: %v", id, p.Name(), err)
		if derr := c.destroyVehicle(id); derr != nil {
			c.logf("discard minecart %d: %v", id, derr)
		}
		p.SendMessage(host.ToneError, c.msgs.MessageFor(KeyError, DefaultError))
		c.record(Record{Kind: KindSpawnFailed, Player: p, Vehicle: id, Pos: block.Pos, Reason: err.Error()})
		return
	}

	c.stats.spawns.Add(1)
	p.SendMessage(host.ToneSuccess, c.msgs.MessageFor(KeySpawn, DefaultSpawn))
	c.logf("spawned minecart %d for %s at (%.1f,%.1f,%.1f)", id, p.Name(), at.X, at.Y, at.Z)
	c.record(Record{Kind: KindSpawn, Player: p, Vehicle: id, Pos: block.Pos})
}

// OnVehicleExit releases the player's minecart when they leave it. Exits
// from foreign or stale vehicles are ignored.
func (c *Controller) OnVehicleExit(ev host.VehicleExitEvent) {
	if ev.Vehicle.Kind != host.EntityMinecart || ev.Exited.Kind != host.EntityPlayer || ev.Exited.Player == nil {
		c.tracef("ignore vehicle exit: vehicle=%s exited=%s", ev.Vehicle.Kind, ev.Exited.Kind)
		return
	}
	p := ev.Exited.Player
	if !c.reg.Owns(p.ID(), ev.Vehicle.Vehicle) {
		c.tracef("ignore vehicle exit: minecart %d not owned by %s", ev.Vehicle.Vehicle, p.Name())
		return
	}
	c.sched.RunOnNextTick(func() { c.releaseNow(p, ev.Vehicle.Vehicle, true) })
}

// OnPlayerQuit releases whatever the quitting player still owns.
func (c *Controller) OnPlayerQuit(p host.Player) {
	v, ok := c.reg.VehicleOf(p.ID())
	if !ok {
		return
	}
	c.sched.RunOnNextTick(func() { c.releaseNow(p, v, false) })
}

func (c *Controller) releaseNow(p host.Player, v host.VehicleID, notify bool) {
	if err := c.reg.Release(p.ID(), v); err != nil {
		// A repeated exit signal: the first one already released it.
		c.tracef("skip release of minecart %d for %s: %v", v, p.Name(), err)
		return
	}
	c.stats.releases.Add(1)
	if notify {
		p.SendMessage(host.ToneWarning, c.msgs.MessageFor(KeyExit, DefaultExit))
	}
	if err := c.destroyVehicle(v); err != nil {
		c.stats.destroyFailures.Add(1)
		c.logf("remove minecart %d for %s: %v", v, p.Name(), err)
		if notify {
			p.SendMessage(host.ToneError, c.msgs.MessageFor(KeyReleaseError, DefaultReleaseError))
		}
		c.record(Record{Kind: KindDestroyFailed, Player: p, Vehicle: v, Reason: err.Error()})
		return
	}
	kind := KindRelease
	if !notify {
		kind = KindQuit
	}
	c.logf("removed minecart %d for %s", v, p.Name())
	c.record(Record{Kind: kind, Player: p, Vehicle: v})
}

// Sweep releases and destroys every owned vehicle. Destroy failures are
// logged and otherwise ignored.
func (c *Controller) Sweep() int {
	entries := c.reg.Teardown()
	for _, e := range entries {
		if err := c.destroyVehicle(e.Vehicle); err != nil {
			c.logf("sweep minecart %d: %v", e.Vehicle, err)
		}
		c.stats.swept.Add(1)
		c.record(Record{Kind: KindSweep, PlayerID: e.Player.String(), Vehicle: e.Vehicle})
	}
	return len(entries)
}

func (c *Controller) spawnVehicle(at host.Point) (id host.VehicleID, err error) {
	defer func() {
		if r := recover(); r != nil {
			id, err = 0, fmt.Errorf("%w: panic: %v", ErrSpawnFailed, r)
		}
	}()
	id, err = c.world.SpawnVehicle(at)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	return id, nil
}

func (c *Controller) destroyVehicle(id host.VehicleID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrDestroyFailed, r)
		}
	}()
	if err := c.world.Destroy(id); err != nil {
		return fmt.Errorf("%w: %w", ErrDestroyFailed, err)
	}
	return nil
}

func (c *Controller) logf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}

func (c *Controller) tracef(format string, args ...any) {
	if c.trace != nil {
		c.trace.Printf(format, args...)
	}
}
