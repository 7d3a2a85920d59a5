package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"railcart.ai/internal/persistence/indexdb"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/lifecycle"
	"railcart.ai/internal/sim/ownership"
	"railcart.ai/internal/sim/railcart"
	"railcart.ai/internal/sim/world"
	"railcart.ai/internal/transport/ws"
)

type historySource interface {
	History(ctx context.Context, q indexdb.HistoryQuery) ([]indexdb.HistoryRow, error)
}

// app holds what the HTTP handlers read.
type app struct {
	worldID string
	world   *world.World
	svc     *railcart.Service
	index   ownershipIndex
	log     *log.Logger
}

func (a *app) routes(cfg serverEnv) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if cfg.EnableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/ownership", loopbackOnly(a.handleOwnership))
		mux.HandleFunc("/admin/v1/ownership/history", loopbackOnly(a.handleHistory))
	} else {
		a.log.Printf("admin endpoints disabled (RAILCART_ENABLE_ADMIN_HTTP=false)")
	}
	if cfg.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(a.world, log.New(a.log.Writer(), "[ws] ", a.log.Flags())).Handler())
	return mux
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	m := a.world.Metrics()
	s := a.svc.Metrics()
	id := a.worldID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP railcart_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE railcart_world_tick gauge\n")
	fmt.Fprintf(rw, "railcart_world_tick{world=%q} %d\n", id, m.Tick)

	fmt.Fprintf(rw, "# HELP railcart_world_players Connected players.\n")
	fmt.Fprintf(rw, "# TYPE railcart_world_players gauge\n")
	fmt.Fprintf(rw, "railcart_world_players{world=%q} %d\n", id, m.Players)

	fmt.Fprintf(rw, "# HELP railcart_world_vehicles Live minecarts, owned or not.\n")
	fmt.Fprintf(rw, "# TYPE railcart_world_vehicles gauge\n")
	fmt.Fprintf(rw, "railcart_world_vehicles{world=%q} %d\n", id, m.Vehicles)

	fmt.Fprintf(rw, "# HELP railcart_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE railcart_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "railcart_world_queue_depth{world=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "railcart_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "railcart_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)
	fmt.Fprintf(rw, "railcart_world_queue_depth{world=%q,queue=%q} %d\n", id, "tasks", m.QueueDepths.Tasks)

	fmt.Fprintf(rw, "# HELP railcart_world_dropped_messages_total Frames dropped for slow clients.\n")
	fmt.Fprintf(rw, "# TYPE railcart_world_dropped_messages_total counter\n")
	fmt.Fprintf(rw, "railcart_world_dropped_messages_total{world=%q} %d\n", id, m.DroppedMessages)

	fmt.Fprintf(rw, "# HELP railcart_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE railcart_world_step_ms gauge\n")
	fmt.Fprintf(rw, "railcart_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

	fmt.Fprintf(rw, "# HELP railcart_detection_mode Active detection mode (1 for the current one).\n")
	fmt.Fprintf(rw, "# TYPE railcart_detection_mode gauge\n")
	fmt.Fprintf(rw, "railcart_detection_mode{world=%q,mode=%q} 1\n", id, s.Mode)

	fmt.Fprintf(rw, "# HELP railcart_owned_vehicles Minecarts currently owned by a player.\n")
	fmt.Fprintf(rw, "# TYPE railcart_owned_vehicles gauge\n")
	fmt.Fprintf(rw, "railcart_owned_vehicles{world=%q} %d\n", id, s.Owned)

	fmt.Fprintf(rw, "# HELP railcart_intents_accepted_total Intents that passed the gate.\n")
	fmt.Fprintf(rw, "# TYPE railcart_intents_accepted_total counter\n")
	fmt.Fprintf(rw, "railcart_intents_accepted_total{world=%q} %d\n", id, s.Accepted)

	fmt.Fprintf(rw, "# HELP railcart_intents_rejected_total Intents rejected by the gate, by reason.\n")
	fmt.Fprintf(rw, "# TYPE railcart_intents_rejected_total counter\n")
	reasons := make([]string, 0, len(s.Rejects))
	for r := range s.Rejects {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(rw, "railcart_intents_rejected_total{world=%q,reason=%q} %d\n", id, r, s.Rejects[r])
	}

	fmt.Fprintf(rw, "# HELP railcart_lifecycle_total Lifecycle outcomes.\n")
	fmt.Fprintf(rw, "# TYPE railcart_lifecycle_total counter\n")
	lc := s.Lifecycle
	for _, kv := range []struct {
		name string
		n    uint64
	}{
		{"spawn", lc.Spawns},
		{"spawn_duplicate", lc.Duplicates},
		{"spawn_failed", lc.SpawnFailures},
		{"release", lc.Releases},
		{"destroy_failed", lc.DestroyFailures},
		{"sweep", lc.Swept},
	} {
		fmt.Fprintf(rw, "railcart_lifecycle_total{world=%q,outcome=%q} %d\n", id, kv.name, kv.n)
	}

	writeIndexMetrics(rw, id, a.index)
}

func writeIndexMetrics(rw http.ResponseWriter, id string, idx ownershipIndex) {
	var depth, capacity int
	var dropped uint64
	switch v := idx.(type) {
	case *indexdb.SQLiteIndex:
		st := v.Stats()
		depth, capacity, dropped = st.QueueDepth, st.QueueCapacity, st.DroppedTotal
	case *indexdb.D1Index:
		st := v.Stats()
		depth, capacity, dropped = st.QueueDepth, st.QueueCapacity, st.QueueDroppedTotal+st.RetainDropTotal
	default:
		return
	}
	fmt.Fprintf(rw, "# HELP railcart_index_queue_depth Ownership index queue depth.\n")
	fmt.Fprintf(rw, "# TYPE railcart_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "railcart_index_queue_depth{world=%q} %d\n", id, depth)

	fmt.Fprintf(rw, "# HELP railcart_index_queue_capacity Ownership index queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE railcart_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "railcart_index_queue_capacity{world=%q} %d\n", id, capacity)

	fmt.Fprintf(rw, "# HELP railcart_index_dropped_total Ownership events the index dropped.\n")
	fmt.Fprintf(rw, "# TYPE railcart_index_dropped_total counter\n")
	fmt.Fprintf(rw, "railcart_index_dropped_total{world=%q} %d\n", id, dropped)
}

type ownershipEntry struct {
	ownership.Entry
	PlayerName string      `json:"player_name,omitempty"`
	Pos        *[3]float64 `json:"pos,omitempty"`
}

func (a *app) handleOwnership(rw http.ResponseWriter, r *http.Request) {
	vehicles := map[uint64]world.Vehicle{}
	for _, v := range a.world.Vehicles() {
		vehicles[uint64(v.ID)] = v
	}
	var entries []ownership.Entry
	if q := r.URL.Query().Get("vehicle"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			http.Error(rw, "bad vehicle", http.StatusBadRequest)
			return
		}
		id := host.VehicleID(n)
		owner, ok := a.svc.Registry().Owner(id)
		if !ok {
			http.Error(rw, "vehicle not owned", http.StatusNotFound)
			return
		}
		entries = []ownership.Entry{{Player: owner, Vehicle: id}}
	} else {
		entries = a.svc.Registry().Entries()
	}
	out := make([]ownershipEntry, 0, len(entries))
	for _, e := range entries {
		oe := ownershipEntry{Entry: e}
		if p, ok := a.world.Player(e.Player); ok {
			oe.PlayerName = p.Name()
		}
		if v, ok := vehicles[uint64(e.Vehicle)]; ok {
			oe.Pos = &[3]float64{v.Pos.X, v.Pos.Y, v.Pos.Z}
		}
		out = append(out, oe)
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		WorldID string           `json:"world_id"`
		Tick    uint64           `json:"tick"`
		Mode    string           `json:"mode"`
		Entries []ownershipEntry `json:"entries"`
	}{
		WorldID: a.worldID,
		Tick:    a.world.CurrentTick(),
		Mode:    a.svc.Mode().String(),
		Entries: out,
	})
}

func (a *app) handleHistory(rw http.ResponseWriter, r *http.Request) {
	src, ok := a.index.(historySource)
	if !ok {
		http.Error(rw, "history requires the sqlite index backend", http.StatusNotImplemented)
		return
	}
	q := indexdb.HistoryQuery{Kind: lifecycle.Kind(strings.ToUpper(r.URL.Query().Get("kind")))}
	if p := strings.TrimSpace(r.URL.Query().Get("player")); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			// Names resolve to their offline uuid.
			id = world.OfflinePlayerID(p)
		}
		q.PlayerID = id.String()
	}
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(rw, "bad after", http.StatusBadRequest)
			return
		}
		q.AfterSeq = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(rw, "bad limit", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rows, err := src.History(ctx, q)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []indexdb.HistoryRow{}
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		WorldID string               `json:"world_id"`
		Events  []indexdb.HistoryRow `json:"events"`
	}{WorldID: a.worldID, Events: rows})
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
