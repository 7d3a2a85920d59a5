package world_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"railcart.ai/internal/protocol"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/railcart"
	"railcart.ai/internal/sim/surface"
	"railcart.ai/internal/sim/tuning"
	"railcart.ai/internal/sim/world"
)

type fixture struct {
	w        *world.World
	svc      *railcart.Service
	sessions map[uuid.UUID]uint64
}

func newFixture(t *testing.T, interception bool) *fixture {
	t.Helper()
	tu := tuning.Defaults()
	tu.Permissions.Players = map[string][]string{"Alex": {"-" + tuning.DefaultPermissionNode}}
	w, err := world.New(world.WorldConfig{
		ID:                 "test",
		TickRateHz:         20,
		PacketInterception: interception,
		PermissionNode:     tu.PermissionNode,
		Permissions:        tu.Permissions,
		Track:              tu.Track,
	}, nil)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	svc := railcart.Enable(railcart.Host{
		World:       w,
		Bus:         w,
		Interceptor: w.Interceptor(),
		Permissions: w,
		Messages:    tu,
		Scheduler:   w.Scheduler(),
	}, railcart.Options{Capability: host.CapabilityUseRail})
	return &fixture{w: w, svc: svc, sessions: map[uuid.UUID]uint64{}}
}

func (f *fixture) join(t *testing.T, name string) (*world.Player, chan []byte) {
	t.Helper()
	jr, out := f.connect(t, name)
	return jr.Player, out
}

// connect joins name on a fresh connection and returns the full response.
func (f *fixture) connect(t *testing.T, name string) (world.JoinResponse, chan []byte) {
	t.Helper()
	out := make(chan []byte, 256)
	resp := make(chan world.JoinResponse, 1)
	f.w.Step([]world.JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Player == nil || jr.Welcome.PlayerName != name || jr.Session == 0 {
		t.Fatalf("join %s: %+v", name, jr)
	}
	f.sessions[jr.Player.ID()] = jr.Session
	return jr, out
}

// leave ends the player's current connection.
func (f *fixture) leave(p *world.Player) world.LeaveRequest {
	return world.LeaveRequest{PlayerID: p.ID(), Session: f.sessions[p.ID()]}
}

// click mimics the transport: packet listeners inline, then the input is
// queued for the next step.
func (f *fixture) click(p *world.Player, pos host.Pos) world.Input {
	f.w.InterceptUseItem(p, host.ActionUseItemOn, &pos)
	return world.Input{PlayerID: p.ID(), Kind: world.InputUseItem, Action: host.ActionUseItemOn, Pos: &pos}
}

type frame struct {
	Type     string `json:"type"`
	Tone     string `json:"tone"`
	Text     string `json:"text"`
	Op       string `json:"op"`
	Consumed bool   `json:"consumed"`
}

func drain(t *testing.T, out chan []byte) []frame {
	t.Helper()
	var frames []frame
	for {
		select {
		case b := <-out:
			var f frame
			if err := json.Unmarshal(b, &f); err != nil {
				t.Fatalf("bad frame %s: %v", b, err)
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func chats(frames []frame) []string {
	var out []string
	for _, f := range frames {
		if f.Type == protocol.TypeChat {
			out = append(out, f.Text)
		}
	}
	return out
}

func TestNew_RejectsBadTickRate(t *testing.T) {
	if _, err := world.New(world.WorldConfig{TickRateHz: 0}, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOfflinePlayerIDStable(t *testing.T) {
	a, b := world.OfflinePlayerID("Steve"), world.OfflinePlayerID("Steve")
	if a != b || a == uuid.Nil || a == world.OfflinePlayerID("Alex") {
		t.Fatalf("offline ids: %s %s", a, b)
	}
}

func TestBlocksAndTrack(t *testing.T) {
	f := newFixture(t, true)
	if got := f.w.BlockAt(host.Pos{X: 2, Y: 64, Z: 0}).Material; got != surface.MaterialDetectorRail {
		t.Fatalf("track block=%s", got)
	}
	if got := f.w.BlockAt(host.Pos{X: 9, Y: 9, Z: 9}).Material; got != surface.MaterialAir {
		t.Fatalf("empty block=%s", got)
	}
	f.w.SetBlock(host.Pos{X: 5, Y: 64, Z: 5}, "minecraft:rail")
	if got := f.w.BlockAt(host.Pos{X: 5, Y: 64, Z: 5}).Material; got != surface.MaterialRail {
		t.Fatalf("set block=%s", got)
	}
	f.w.SetBlock(host.Pos{X: 5, Y: 64, Z: 5}, surface.MaterialAir)
	if got := f.w.BlockAt(host.Pos{X: 5, Y: 64, Z: 5}).Material; got != surface.MaterialAir {
		t.Fatalf("cleared block=%s", got)
	}
}

func TestInterceptorNilWhenDisabled(t *testing.T) {
	f := newFixture(t, false)
	if f.w.Interceptor() != nil {
		t.Fatalf("interceptor must be nil when interception is off")
	}
	if f.svc.Mode().String() != "fallback" {
		t.Fatalf("mode=%s", f.svc.Mode())
	}
}

func TestClick_BothChannelsSpawnOnce(t *testing.T) {
	f := newFixture(t, true)
	p, out := f.join(t, "Steve")

	in := f.click(p, host.Pos{X: 2, Y: 64, Z: 0})
	f.w.Step(nil, nil, []world.Input{in})

	if vs := f.w.Vehicles(); len(vs) != 1 {
		t.Fatalf("vehicles=%d want 1", len(vs))
	} else if vs[0].Pos != (host.Point{X: 2.5, Y: 64.1, Z: 0.5}) {
		t.Fatalf("spawn pos=%+v", vs[0].Pos)
	}
	frames := drain(t, out)
	got := chats(frames)
	if len(got) != 1 || got[0] != tuning.Defaults().Messages["spawn"] {
		t.Fatalf("chat=%v", got)
	}
	var consumed, spawned bool
	for _, fr := range frames {
		consumed = consumed || (fr.Type == protocol.TypeInteractResult && fr.Consumed)
		spawned = spawned || (fr.Type == protocol.TypeEntity && fr.Op == protocol.EntityOpSpawn)
	}
	if !consumed || !spawned {
		t.Fatalf("consumed=%v spawned=%v frames=%+v", consumed, spawned, frames)
	}
	m := f.svc.Metrics()
	if m.Owned != 1 || m.Lifecycle.Spawns != 1 || m.Lifecycle.Duplicates != 1 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestClick_SecondClickAlreadyActive(t *testing.T) {
	f := newFixture(t, false)
	p, out := f.join(t, "Steve")
	pos := host.Pos{X: 0, Y: 64, Z: 0}

	f.w.Step(nil, nil, []world.Input{f.click(p, pos)})
	drain(t, out)
	f.w.Step(nil, nil, []world.Input{f.click(p, pos)})

	got := chats(drain(t, out))
	if len(got) != 1 || got[0] != tuning.Defaults().Messages["already-active"] {
		t.Fatalf("chat=%v", got)
	}
	if n := len(f.w.Vehicles()); n != 1 {
		t.Fatalf("vehicles=%d", n)
	}
}

func TestClick_Rejections(t *testing.T) {
	f := newFixture(t, true)
	alex, alexOut := f.join(t, "Alex")
	steve, steveOut := f.join(t, "Steve")

	// Not a rail: silent, not consumed.
	f.w.Step(nil, nil, []world.Input{f.click(steve, host.Pos{X: 7, Y: 64, Z: 7})})
	if got := chats(drain(t, steveOut)); len(got) != 0 {
		t.Fatalf("non-rail chat=%v", got)
	}

	// Revoked node.
	f.w.Step(nil, nil, []world.Input{f.click(alex, host.Pos{X: 0, Y: 64, Z: 0})})
	got := chats(drain(t, alexOut))
	if len(got) == 0 || got[0] != tuning.Defaults().Messages["no-permission"] {
		t.Fatalf("no-permission chat=%v", got)
	}

	// Sneaking: silent.
	f.w.SetSneaking(steve.ID(), true)
	f.w.Step(nil, nil, []world.Input{f.click(steve, host.Pos{X: 0, Y: 64, Z: 0})})
	if got := chats(drain(t, steveOut)); len(got) != 0 {
		t.Fatalf("sneak chat=%v", got)
	}
	if n := len(f.w.Vehicles()); n != 0 {
		t.Fatalf("vehicles=%d", n)
	}
}

func TestMountExitReleases(t *testing.T) {
	f := newFixture(t, true)
	p, out := f.join(t, "Steve")
	f.w.Step(nil, nil, []world.Input{f.click(p, host.Pos{X: 1, Y: 64, Z: 0})})
	vs := f.w.Vehicles()
	if len(vs) != 1 {
		t.Fatalf("vehicles=%d", len(vs))
	}
	id := vs[0].ID

	f.w.Step(nil, nil, []world.Input{{PlayerID: p.ID(), Kind: world.InputMount, Vehicle: id}})
	if p.Riding() != id {
		t.Fatalf("riding=%d want %d", p.Riding(), id)
	}
	drain(t, out)

	f.w.Step(nil, nil, []world.Input{{PlayerID: p.ID(), Kind: world.InputExit}})
	if p.Riding() != 0 || len(f.w.Vehicles()) != 0 {
		t.Fatalf("riding=%d vehicles=%d", p.Riding(), len(f.w.Vehicles()))
	}
	got := chats(drain(t, out))
	if len(got) != 1 || got[0] != tuning.Defaults().Messages["exit"] {
		t.Fatalf("chat=%v", got)
	}
	if f.svc.Registry().IsOwned(p.ID()) {
		t.Fatalf("still owned after exit")
	}
}

func TestLeaveReleasesOnNextTick(t *testing.T) {
	f := newFixture(t, true)
	p, _ := f.join(t, "Steve")
	f.w.Step(nil, nil, []world.Input{f.click(p, host.Pos{X: 3, Y: 64, Z: 0})})

	f.w.Step(nil, []world.LeaveRequest{f.leave(p)}, nil)
	if _, ok := f.w.Player(p.ID()); ok {
		t.Fatalf("player still present")
	}
	if n := len(f.w.Vehicles()); n != 1 {
		t.Fatalf("release must wait for the next tick, vehicles=%d", n)
	}
	f.w.Step(nil, nil, nil)
	if n := len(f.w.Vehicles()); n != 0 || f.svc.Registry().Len() != 0 {
		t.Fatalf("vehicles=%d owned=%d", n, f.svc.Registry().Len())
	}
}

func TestReconnect_StaleLeaveIgnored(t *testing.T) {
	f := newFixture(t, true)
	first, _ := f.connect(t, "Steve")
	p := first.Player
	f.w.Step(nil, nil, []world.Input{f.click(p, host.Pos{X: 2, Y: 64, Z: 0})})
	if !f.svc.Registry().IsOwned(p.ID()) {
		t.Fatalf("spawn did not register")
	}

	second, out := f.connect(t, "Steve")
	if second.Player != p || second.Session == first.Session {
		t.Fatalf("reconnect: same player=%v sessions %d/%d", second.Player == p, first.Session, second.Session)
	}

	// The first connection closes after the second bound.
	f.w.Step(nil, []world.LeaveRequest{{PlayerID: p.ID(), Session: first.Session}}, nil)
	f.w.Step(nil, nil, nil)
	if _, ok := f.w.Player(p.ID()); !ok {
		t.Fatalf("stale leave removed the live player")
	}
	if !f.svc.Registry().IsOwned(p.ID()) || len(f.w.Vehicles()) != 1 {
		t.Fatalf("stale leave released the minecart: owned=%v vehicles=%d", f.svc.Registry().IsOwned(p.ID()), len(f.w.Vehicles()))
	}

	// Input from the live connection still applies.
	f.w.Step(nil, nil, []world.Input{{PlayerID: p.ID(), Kind: world.InputMount, Vehicle: f.w.Vehicles()[0].ID}})
	f.w.Step(nil, nil, []world.Input{{PlayerID: p.ID(), Kind: world.InputExit}})
	if f.svc.Registry().IsOwned(p.ID()) {
		t.Fatalf("exit from the live connection ignored")
	}
	if got := chats(drain(t, out)); len(got) != 1 || got[0] != tuning.Defaults().Messages["exit"] {
		t.Fatalf("live connection chat=%v", got)
	}

	// The current session's leave removes the player.
	f.w.Step(nil, []world.LeaveRequest{{PlayerID: p.ID(), Session: second.Session}}, nil)
	if _, ok := f.w.Player(p.ID()); ok {
		t.Fatalf("current leave ignored")
	}
}

func TestDisableSweeps(t *testing.T) {
	f := newFixture(t, true)
	for _, name := range []string{"Steve", "Notch"} {
		p, _ := f.join(t, name)
		f.w.Step(nil, nil, []world.Input{f.click(p, host.Pos{X: 0, Y: 64, Z: 0})})
	}
	if n := f.svc.Disable(); n != 2 {
		t.Fatalf("swept=%d", n)
	}
	if n := len(f.w.Vehicles()); n != 0 {
		t.Fatalf("vehicles=%d", n)
	}
}

func TestDestroyUnknownVehicle(t *testing.T) {
	f := newFixture(t, true)
	if err := f.w.Destroy(42); !errors.Is(err, world.ErrNoSuchVehicle) {
		t.Fatalf("err=%v", err)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, true)
	f.join(t, "Steve")
	m := f.w.Metrics()
	if m.Tick != 1 || m.Players != 1 || m.Vehicles != 0 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestMetrics_CountsDroppedFrames(t *testing.T) {
	f := newFixture(t, true)
	resp := make(chan world.JoinResponse, 1)
	// An unbuffered queue with no reader drops every frame.
	f.w.Step([]world.JoinRequest{{Name: "Slow", Out: make(chan []byte), Resp: resp}}, nil, nil)
	p := (<-resp).Player
	p.SendMessage(host.ToneInfo, "hello")
	p.SendMessage(host.ToneInfo, "again")
	if p.Dropped() != 2 || f.w.Metrics().DroppedMessages != 2 {
		t.Fatalf("dropped=%d metrics=%d", p.Dropped(), f.w.Metrics().DroppedMessages)
	}
}
