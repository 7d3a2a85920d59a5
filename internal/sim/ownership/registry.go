package ownership

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"railcart.ai/internal/sim/host"
)

var (
	ErrAlreadyOwned = errors.New("player already owns a vehicle")
	ErrVehicleTaken = errors.New("vehicle already bound to another player")
	ErrNotOwner     = errors.New("vehicle is not the player's owned vehicle")
)

type Entry struct {
	Player  uuid.UUID      `json:"player"`
	Vehicle host.VehicleID `json:"vehicle"`
}

// Registry binds each player to at most one vehicle. Writers are the
// lifecycle controller and the shutdown sweeper; readers may be on any
// goroutine.
type Registry struct {
	mu        sync.Mutex
	byPlayer  map[uuid.UUID]host.VehicleID
	byVehicle map[host.VehicleID]uuid.UUID
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.Init()
	return r
}

// Init resets the registry to empty. Entries held before Init are dropped
// without being released; call ReleaseAll first when that matters.
func (r *Registry) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPlayer = map[uuid.UUID]host.VehicleID{}
	r.byVehicle = map[host.VehicleID]uuid.UUID{}
}

// Teardown drains the registry and returns what it held. The shutdown
// sweeper calls it once; Init makes the registry usable again.
func (r *Registry) Teardown() []Entry { return r.ReleaseAll() }

func (r *Registry) TryAcquire(player uuid.UUID, vehicle host.VehicleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPlayer[player]; ok {
		return ErrAlreadyOwned
	}
	if _, ok := r.byVehicle[vehicle]; ok {
		return ErrVehicleTaken
	}
	r.byPlayer[player] = vehicle
	r.byVehicle[vehicle] = player
	return nil
}

func (r *Registry) IsOwned(player uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPlayer[player]
	return ok
}

func (r *Registry) VehicleOf(player uuid.UUID) (host.VehicleID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byPlayer[player]
	return v, ok
}

func (r *Registry) Owner(vehicle host.VehicleID) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byVehicle[vehicle]
	return p, ok
}

// Owns reports whether (player, vehicle) is the live entry for player.
func (r *Registry) Owns(player uuid.UUID, vehicle host.VehicleID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byPlayer[player]
	return ok && v == vehicle
}

// Release removes the entry only when vehicle is the player's current one.
func (r *Registry) Release(player uuid.UUID, vehicle host.VehicleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byPlayer[player]
	if !ok || v != vehicle {
		return ErrNotOwner
	}
	delete(r.byPlayer, player)
	delete(r.byVehicle, vehicle)
	return nil
}

func (r *Registry) ReleaseAll() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.byPlayer))
	for p, v := range r.byPlayer {
		out = append(out, Entry{Player: p, Vehicle: v})
	}
	r.byPlayer = map[uuid.UUID]host.VehicleID{}
	r.byVehicle = map[host.VehicleID]uuid.UUID{}
	sortEntries(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPlayer)
}

// Entries returns a snapshot ordered by vehicle id.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.byPlayer))
	for p, v := range r.byPlayer {
		out = append(out, Entry{Player: p, Vehicle: v})
	}
	r.mu.Unlock()
	sortEntries(out)
	return out
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Vehicle < es[j].Vehicle })
}
