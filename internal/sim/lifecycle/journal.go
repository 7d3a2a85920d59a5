package lifecycle

import (
	"errors"
	"sync/atomic"
	"time"

	"railcart.ai/internal/sim/host"
)

type Kind string

const (
	KindSpawn          Kind = "SPAWN"
	KindSpawnDuplicate Kind = "SPAWN_DUPLICATE"
	KindSpawnFailed    Kind = "SPAWN_FAILED"
	KindRelease        Kind = "RELEASE"
	KindQuit           Kind = "QUIT_RELEASE"
	KindDestroyFailed  Kind = "DESTROY_FAILED"
	KindSweep          Kind = "SWEEP"
)

// Record is one ownership lifecycle outcome.
type Record struct {
	Time       time.Time      `json:"time"`
	Kind       Kind           `json:"kind"`
	PlayerID   string         `json:"player_id"`
	PlayerName string         `json:"player_name,omitempty"`
	Vehicle    host.VehicleID `json:"vehicle,omitempty"`
	Pos        host.Pos       `json:"pos"`
	Reason     string         `json:"reason,omitempty"`

	Player host.Player `json:"-"`
}

// Journal receives lifecycle records. Implementations must not block the
// tick goroutine; see internal/persistence.
type Journal interface {
	WriteOwnership(rec Record) error
}

// Journals fans one record out to several sinks.
type Journals []Journal

func (js Journals) WriteOwnership(rec Record) error {
	var errs []error
	for _, j := range js {
		if j == nil {
			continue
		}
		if err := j.WriteOwnership(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) record(rec Record) {
	if c.journal == nil {
		return
	}
	rec.Time = c.now().UTC()
	if rec.Player != nil {
		rec.PlayerID = rec.Player.ID().String()
		rec.PlayerName = rec.Player.Name()
	}
	if err := c.journal.WriteOwnership(rec); err != nil {
		c.logf("journal %s: %v", rec.Kind, err)
	}
}

type Stats struct {
	spawns          atomic.Uint64
	duplicates      atomic.Uint64
	spawnFailures   atomic.Uint64
	releases        atomic.Uint64
	destroyFailures atomic.Uint64
	swept           atomic.Uint64
}

type StatsView struct {
	Spawns          uint64 `json:"spawns"`
	Duplicates      uint64 `json:"duplicates"`
	SpawnFailures   uint64 `json:"spawn_failures"`
	Releases        uint64 `json:"releases"`
	DestroyFailures uint64 `json:"destroy_failures"`
	Swept           uint64 `json:"swept"`
}

func (s *Stats) view() StatsView {
	return StatsView{
		Spawns:          s.spawns.Load(),
		Duplicates:      s.duplicates.Load(),
		SpawnFailures:   s.spawnFailures.Load(),
		Releases:        s.releases.Load(),
		DestroyFailures: s.destroyFailures.Load(),
		Swept:           s.swept.Load(),
	}
}
