package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"railcart.ai/internal/persistence/indexdb"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/lifecycle"
	"railcart.ai/internal/sim/railcart"
	"railcart.ai/internal/sim/tuning"
	"railcart.ai/internal/sim/world"
)

func newTestApp(t *testing.T, idx ownershipIndex) *app {
	t.Helper()
	tu := tuning.Defaults()
	w, err := world.New(world.WorldConfig{
		ID:                 "test",
		TickRateHz:         20,
		PacketInterception: true,
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
	return &app{worldID: "test", world: w, svc: svc, index: idx, log: log.New(io.Discard, "", 0)}
}

// spawnFor joins name and clicks the default detector rail on both channels.
func spawnFor(t *testing.T, a *app, name string) {
	t.Helper()
	resp := make(chan world.JoinResponse, 1)
	a.world.Step([]world.JoinRequest{{Name: name, Out: make(chan []byte, 64), Resp: resp}}, nil, nil)
	p := (<-resp).Player
	pos := host.Pos{X: 2, Y: 64, Z: 0}
	a.world.InterceptUseItem(p, host.ActionUseItemOn, &pos)
	a.world.Step(nil, nil, []world.Input{{PlayerID: p.ID(), Kind: world.InputUseItem, Action: host.ActionUseItemOn, Pos: &pos}})
}

func get(t *testing.T, h http.Handler, path, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMetricsExposition(t *testing.T) {
	a := newTestApp(t, nil)
	spawnFor(t, a, "Steve")

	rr := get(t, a.routes(serverEnv{}), "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`railcart_world_players{world="test"} 1`,
		`railcart_world_vehicles{world="test"} 1`,
		`railcart_world_dropped_messages_total{world="test"} 0`,
		`railcart_detection_mode{world="test",mode="full"} 1`,
		`railcart_owned_vehicles{world="test"} 1`,
		`railcart_intents_accepted_total{world="test"} 2`,
		`railcart_lifecycle_total{world="test",outcome="spawn"} 1`,
		`railcart_lifecycle_total{world="test",outcome="spawn_duplicate"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, "railcart_index_queue_depth") {
		t.Fatalf("index metrics without an index")
	}
}

func TestAdminOwnership_LoopbackOnly(t *testing.T) {
	a := newTestApp(t, nil)
	spawnFor(t, a, "Steve")
	h := a.routes(serverEnv{EnableAdminHTTP: true})

	if rr := get(t, h, "/admin/v1/ownership", "203.0.113.9:5555"); rr.Code != http.StatusForbidden {
		t.Fatalf("remote status=%d want 403", rr.Code)
	}

	rr := get(t, h, "/admin/v1/ownership", "127.0.0.1:5555")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		WorldID string `json:"world_id"`
		Mode    string `json:"mode"`
		Entries []struct {
			Player     string     `json:"player"`
			Vehicle    uint64     `json:"vehicle"`
			PlayerName string     `json:"player_name"`
			Pos        [3]float64 `json:"pos"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "test" || resp.Mode != "full" || len(resp.Entries) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
	e := resp.Entries[0]
	if e.PlayerName != "Steve" || e.Player != world.OfflinePlayerID("Steve").String() || e.Pos != [3]float64{2.5, 64.1, 0.5} {
		t.Fatalf("entry=%+v", e)
	}
}

func TestAdminOwnership_ByVehicle(t *testing.T) {
	a := newTestApp(t, nil)
	spawnFor(t, a, "Steve")
	h := a.routes(serverEnv{EnableAdminHTTP: true})
	id := a.world.Vehicles()[0].ID

	rr := get(t, h, "/admin/v1/ownership?vehicle="+strconv.FormatUint(uint64(id), 10), "127.0.0.1:5555")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), world.OfflinePlayerID("Steve").String()) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := get(t, h, "/admin/v1/ownership?vehicle=999", "127.0.0.1:5555"); rr.Code != http.StatusNotFound {
		t.Fatalf("unowned status=%d want 404", rr.Code)
	}
	if rr := get(t, h, "/admin/v1/ownership?vehicle=x", "127.0.0.1:5555"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad vehicle status=%d want 400", rr.Code)
	}
}

func TestAdminDisabled(t *testing.T) {
	a := newTestApp(t, nil)
	h := a.routes(serverEnv{EnableAdminHTTP: false})
	if rr := get(t, h, "/admin/v1/ownership", "127.0.0.1:5555"); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestHistory_RequiresSQLite(t *testing.T) {
	a := newTestApp(t, nil)
	h := a.routes(serverEnv{EnableAdminHTTP: true})
	if rr := get(t, h, "/admin/v1/ownership/history", "127.0.0.1:5555"); rr.Code != http.StatusNotImplemented {
		t.Fatalf("status=%d want 501", rr.Code)
	}
}

func TestHistory_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ownership.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	steve := world.OfflinePlayerID("Steve").String()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, rec := range []lifecycle.Record{
		{Time: at, Kind: lifecycle.KindSpawn, PlayerID: steve, PlayerName: "Steve", Vehicle: 1},
		{Time: at, Kind: lifecycle.KindSpawn, PlayerID: "other", PlayerName: "Alex", Vehicle: 2},
		{Time: at, Kind: lifecycle.KindRelease, PlayerID: steve, PlayerName: "Steve", Vehicle: 1},
	} {
		_ = idx.WriteOwnership(rec)
	}
	// Close flushes the writer queue.
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	idx, err = indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	a := newTestApp(t, idx)
	h := a.routes(serverEnv{EnableAdminHTTP: true})

	type history struct {
		Events []indexdb.HistoryRow `json:"events"`
	}
	decode := func(rr *httptest.ResponseRecorder) history {
		t.Helper()
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		var h history
		if err := json.Unmarshal(rr.Body.Bytes(), &h); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return h
	}

	if got := decode(get(t, h, "/admin/v1/ownership/history?player=Steve", "127.0.0.1:1")); len(got.Events) != 2 {
		t.Fatalf("by name: %+v", got)
	}
	if got := decode(get(t, h, "/admin/v1/ownership/history?player="+steve+"&kind=release", "127.0.0.1:1")); len(got.Events) != 1 || got.Events[0].Record.Kind != lifecycle.KindRelease {
		t.Fatalf("by id+kind: %+v", got)
	}
	if got := decode(get(t, h, "/admin/v1/ownership/history?limit=1", "127.0.0.1:1")); len(got.Events) != 1 {
		t.Fatalf("limit: %+v", got)
	}
	if rr := get(t, h, "/admin/v1/ownership/history?after=x", "127.0.0.1:1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad after status=%d", rr.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":  true,
		"[::1]:443":     true,
		"::1":           true,
		"10.0.0.2:1234": false,
		"garbage":       false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestLoadServerEnv(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	cfg, err := loadServerEnv()
	if err != nil {
		t.Fatalf("loadServerEnv: %v", err)
	}
	if cfg.EnableAdminHTTP || cfg.IndexBackend != "sqlite" || cfg.D1FlushMS != 500 || cfg.SampleEvery != time.Minute {
		t.Fatalf("defaults=%+v", cfg)
	}

	t.Setenv("RAILCART_ENABLE_ADMIN_HTTP", "true")
	t.Setenv("RAILCART_INDEX_BACKEND", "none")
	cfg, err = loadServerEnv()
	if err != nil {
		t.Fatalf("loadServerEnv: %v", err)
	}
	if !cfg.EnableAdminHTTP || cfg.IndexBackend != "none" {
		t.Fatalf("overrides=%+v", cfg)
	}
}

func TestOpenOwnershipIndex(t *testing.T) {
	dir := t.TempDir()
	if idx, err := openOwnershipIndex(dir, "w", true, serverEnv{}, nil); err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}
	if _, err := openOwnershipIndex(dir, "w", false, serverEnv{IndexBackend: "d1"}, nil); err == nil {
		t.Fatalf("d1 without url must fail")
	}
	if _, err := openOwnershipIndex(dir, "w", false, serverEnv{IndexBackend: "mongo"}, nil); err == nil {
		t.Fatalf("unknown backend must fail")
	}
	idx, err := openOwnershipIndex(dir, "w", false, serverEnv{IndexBackend: "sqlite"}, nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer idx.Close()
	if _, ok := idx.(historySource); !ok {
		t.Fatalf("sqlite index must serve history")
	}
}

type captureSamples struct {
	mu  sync.Mutex
	got []any
}

func (c *captureSamples) WriteSample(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v)
	return nil
}

func (c *captureSamples) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestSampleMetrics(t *testing.T) {
	a := newTestApp(t, nil)
	out := &captureSamples{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sampleMetrics(ctx, 5*time.Millisecond, a.world, a.svc, out, a.log)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for out.n() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if out.n() < 2 {
		t.Fatalf("samples=%d want >=2", out.n())
	}
	s, ok := out.got[0].(metricsSample)
	if !ok || s.Service.Mode != "full" || s.Time.IsZero() {
		t.Fatalf("sample=%+v", out.got[0])
	}

	// A non-positive interval disables sampling.
	sampleMetrics(context.Background(), 0, a.world, a.svc, out, a.log)
}
