package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeError   = "ERROR"

	// client -> server
	TypeUseItem     = "USE_ITEM"
	TypeSneak       = "SNEAK"
	TypeMount       = "MOUNT"
	TypeExitVehicle = "EXIT_VEHICLE"
	TypeSetBlock    = "SET_BLOCK"

	// server -> client
	TypeChat           = "CHAT"
	TypeInteractResult = "INTERACT_RESULT"
	TypeEntity         = "ENTITY"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
