package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	PlayerName      string            `json:"player_name"`
	PlayerID        string            `json:"player_id,omitempty"` // uuid; derived from the name when empty
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	PlayerID        string      `json:"player_id"`
	PlayerName      string      `json:"player_name"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	WorldID    string `json:"world_id"`
	TickRateHz int    `json:"tick_rate_hz"`
	Detection  string `json:"detection"` // "full" or "fallback"
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// USE_ITEM (client -> server): raw use-item packet. Pos is absent when the
// player clicked air.
type UseItemMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Action          string  `json:"action"`
	Pos             *[3]int `json:"pos,omitempty"`
}

type SneakMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Sneaking        bool   `json:"sneaking"`
}

type MountMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	VehicleID       uint64 `json:"vehicle_id"`
}

type ExitVehicleMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

type SetBlockMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Pos             [3]int `json:"pos"`
	Material        string `json:"material"`
}

// CHAT (server -> client)
type ChatMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tone            string `json:"tone"`
	Text            string `json:"text"`
}

// INTERACT_RESULT (server -> client): whether the server consumed a
// right-click instead of running default handling.
type InteractResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Pos             [3]int `json:"pos"`
	Consumed        bool   `json:"consumed"`
}

const (
	EntityOpSpawn    = "spawn"
	EntityOpRemove   = "remove"
	EntityOpMount    = "mount"
	EntityOpDismount = "dismount"
)

// ENTITY (server -> client, broadcast)
type EntityMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	Op              string     `json:"op"`
	Kind            string     `json:"kind"`
	VehicleID       uint64     `json:"vehicle_id"`
	Pos             [3]float64 `json:"pos"`
	Rider           string     `json:"rider,omitempty"`
}
