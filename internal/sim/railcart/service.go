// Package railcart wires the detector, gate and lifecycle controller onto a
// host. Enable registers every listener; Disable sweeps owned vehicles.
package railcart

import (
	"io"
	"log"
	"strings"
	"sync/atomic"

	"railcart.ai/internal/sim/detect"
	"railcart.ai/internal/sim/gate"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/lifecycle"
	"railcart.ai/internal/sim/ownership"
)

// Host bundles the collaborators. Interceptor is nil when the host has no
// packet interception facility.
type Host struct {
	World       host.World
	Bus         host.EventBus
	Interceptor host.PacketInterceptor
	Permissions host.Permissions
	Messages    host.Messages
	Scheduler   host.Scheduler
}

type Options struct {
	Capability string
	Verbose    bool
	Logger     *log.Logger
	Journal    lifecycle.Journal
}

type Service struct {
	log *log.Logger

	reg  *ownership.Registry
	gate *gate.Pipeline
	ctl  *lifecycle.Controller
	det  *detect.Detector

	enabled  atomic.Bool
	accepted atomic.Uint64
	rejects  map[gate.Reason]*atomic.Uint64
}

type Metrics struct {
	Mode      string              `json:"mode"`
	Channels  []string            `json:"channels"`
	Owned     int                 `json:"owned"`
	Accepted  uint64              `json:"accepted"`
	Rejects   map[string]uint64   `json:"rejects"`
	Lifecycle lifecycle.StatsView `json:"lifecycle"`
}

func Enable(h Host, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	var trace *log.Logger
	if opts.Verbose {
		trace = logger
	}

	reg := ownership.NewRegistry()
	s := &Service{
		log: logger,
		reg: reg,
		gate: &gate.Pipeline{
			Perms:      h.Permissions,
			Owners:     reg,
			Messages:   h.Messages,
			Capability: opts.Capability,
			Trace:      trace,
		},
		ctl: lifecycle.New(lifecycle.Config{
			World:     h.World,
			Scheduler: h.Scheduler,
			Registry:  reg,
			Messages:  h.Messages,
			Logger:    logger,
			Trace:     trace,
			Journal:   opts.Journal,
		}),
		rejects: map[gate.Reason]*atomic.Uint64{},
	}
	for _, r := range gate.Reasons {
		s.rejects[r] = new(atomic.Uint64)
	}

	s.det = detect.New(h.World, h.Interceptor, s.HandleIntent, logger, trace)
	s.det.Register(h.Bus, h.Interceptor)
	h.Bus.OnVehicleExit(func(ev host.VehicleExitEvent) {
		if s.enabled.Load() {
			s.ctl.OnVehicleExit(ev)
		}
	})
	h.Bus.OnPlayerQuit(func(p host.Player) {
		if s.enabled.Load() {
			s.ctl.OnPlayerQuit(p)
		}
	})

	s.enabled.Store(true)
	logger.Printf("enabled (detection=%s channels=%s)", s.det.Mode(), strings.Join(s.channels(), ","))
	return s
}

// HandleIntent gates one intent and schedules a spawn when it passes.
func (s *Service) HandleIntent(in detect.Intent) bool {
	if !s.enabled.Load() {
		return false
	}
	d := s.gate.Evaluate(in)
	if !d.Accepted {
		if c := s.rejects[d.Reason]; c != nil {
			c.Add(1)
		}
		return false
	}
	s.accepted.Add(1)
	s.ctl.Spawn(in.Player, in.Block)
	return true
}

// Disable stops accepting input and releases every owned vehicle.
func (s *Service) Disable() int {
	if !s.enabled.Swap(false) {
		return 0
	}
	n := s.ctl.Sweep()
	s.log.Printf("disabled (released %d minecarts)", n)
	return n
}

func (s *Service) Mode() detect.Mode             { return s.det.Mode() }
func (s *Service) Registry() *ownership.Registry { return s.reg }

func (s *Service) Metrics() Metrics {
	m := Metrics{
		Mode:      s.det.Mode().String(),
		Channels:  s.channels(),
		Owned:     s.reg.Len(),
		Accepted:  s.accepted.Load(),
		Rejects:   make(map[string]uint64, len(s.rejects)),
		Lifecycle: s.ctl.Stats(),
	}
	for r, c := range s.rejects {
		m.Rejects[string(r)] = c.Load()
	}
	return m
}

// channels names the active input channels, primary first.
func (s *Service) channels() []string {
	ps := s.det.Producers()
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Channel().String())
	}
	return out
}
