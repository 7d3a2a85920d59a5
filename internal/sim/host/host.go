// Package host declares the collaborators the railcart core talks to.
// The core never constructs players or touches world state directly.
package host

import (
	"fmt"

	"github.com/google/uuid"

	"railcart.ai/internal/sim/surface"
)

// Capability checked before a vehicle is granted.
const CapabilityUseRail = "use-rail"

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// Point is a continuous world position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Pos) Add(dx, dy, dz float64) Point {
	return Point{X: float64(p.X) + dx, Y: float64(p.Y) + dy, Z: float64(p.Z) + dz}
}

type Block struct {
	Material surface.Material
	Pos      Pos
}

// VehicleID is an opaque handle to a spawned minecart.
type VehicleID uint64

type Tone uint8

const (
	ToneInfo Tone = iota
	ToneSuccess
	ToneWarning
	ToneError
)

func (t Tone) String() string {
	switch t {
	case ToneSuccess:
		return "success"
	case ToneWarning:
		return "warning"
	case ToneError:
		return "error"
	default:
		return "info"
	}
}

// Player must be safe to use from the network goroutine.
type Player interface {
	ID() uuid.UUID
	Name() string
	Sneaking() bool
	SendMessage(tone Tone, text string)
}

type World interface {
	BlockAt(pos Pos) Block
	SpawnVehicle(at Point) (VehicleID, error)
	Destroy(id VehicleID) error
}

type Permissions interface {
	HasCapability(player uuid.UUID, capability string) bool
}

type Messages interface {
	MessageFor(key, def string) string
}

type Scheduler interface {
	RunOnNextTick(task func())
}
