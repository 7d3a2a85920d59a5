package host

// PlayerAction is the sub-action carried by a raw use-item packet.
type PlayerAction string

const (
	ActionStartDestroyBlock PlayerAction = "START_DESTROY_BLOCK"
	ActionStopDestroyBlock  PlayerAction = "STOP_DESTROY_BLOCK"
	ActionAbortDestroyBlock PlayerAction = "ABORT_DESTROY_BLOCK"
	ActionDropAllItems      PlayerAction = "DROP_ALL_ITEMS"
	ActionDropItem          PlayerAction = "DROP_ITEM"
	ActionReleaseUseItem    PlayerAction = "RELEASE_USE_ITEM"
	ActionSwapItemOffhand   PlayerAction = "SWAP_ITEM_WITH_OFFHAND"
	ActionUseItemOn         PlayerAction = "USE_ITEM_ON"
)

func (a PlayerAction) Valid() bool {
	switch a {
	case ActionStartDestroyBlock, ActionStopDestroyBlock, ActionAbortDestroyBlock,
		ActionDropAllItems, ActionDropItem, ActionReleaseUseItem,
		ActionSwapItemOffhand, ActionUseItemOn:
		return true
	}
	return false
}

func (a PlayerAction) IsDestroy() bool {
	switch a {
	case ActionStartDestroyBlock, ActionStopDestroyBlock, ActionAbortDestroyBlock:
		return true
	}
	return false
}

// InputPacket is a raw use-item packet as seen by the network layer.
// Pos is nil when the packet carries no block coordinates.
type InputPacket struct {
	Player Player
	Action PlayerAction
	Pos    *Pos
}

type InteractAction uint8

const (
	InteractLeftClickAir InteractAction = iota
	InteractLeftClickBlock
	InteractRightClickAir
	InteractRightClickBlock
	InteractPhysical
)

func (a InteractAction) IsRightClick() bool {
	return a == InteractRightClickAir || a == InteractRightClickBlock
}

// InteractEvent is the host's semantic "player interacted" event.
// It is always delivered on the tick goroutine.
type InteractEvent struct {
	Player Player
	Action InteractAction
	Block  *Block

	consumed bool
}

func (e *InteractEvent) HasBlock() bool { return e.Block != nil }

// Consume suppresses the host's default handling of the interaction.
func (e *InteractEvent) Consume() { e.consumed = true }

func (e *InteractEvent) Consumed() bool { return e.consumed }

type EntityKind string

const (
	EntityPlayer   EntityKind = "PLAYER"
	EntityMinecart EntityKind = "MINECART"
	EntityBoat     EntityKind = "BOAT"
	EntityOther    EntityKind = "OTHER"
)

// EntityRef identifies an entity taking part in a vehicle event.
// Player is set only for EntityPlayer; Vehicle only for vehicle kinds.
type EntityRef struct {
	Kind    EntityKind
	Player  Player
	Vehicle VehicleID
}

type VehicleExitEvent struct {
	Vehicle EntityRef
	Exited  EntityRef
}

type EventBus interface {
	OnInteract(fn func(*InteractEvent))
	OnVehicleExit(fn func(VehicleExitEvent))
	OnPlayerQuit(fn func(Player))
}

// PacketInterceptor is the optional low-level input facility. Listeners run
// on network goroutines, never on the tick goroutine.
type PacketInterceptor interface {
	OnUseItem(fn func(InputPacket))
}
