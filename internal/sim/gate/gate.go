package gate

import (
	"log"

	"github.com/google/uuid"

	"railcart.ai/internal/sim/detect"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/surface"
)

// Message keys and their fallback texts.
const (
	KeyNoPermission  = "messages.no-permission"
	KeyAlreadyActive = "messages.already-active"

	DefaultNoPermission  = "You do not have permission to use this feature!"
	DefaultAlreadyActive = "You already have an active minecart!"
)

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotARail      Reason = "NOT_A_RAIL"
	ReasonNoPermission  Reason = "NO_PERMISSION"
	ReasonAlreadyActive Reason = "ALREADY_ACTIVE"
	ReasonSneaking      Reason = "SNEAKING"
)

// Reasons in evaluation order.
var Reasons = []Reason{ReasonNotARail, ReasonNoPermission, ReasonAlreadyActive, ReasonSneaking}

type Decision struct {
	Accepted bool
	Reason   Reason
}

func Accept() Decision              { return Decision{Accepted: true} }
func Reject(reason Reason) Decision { return Decision{Reason: reason} }

type Owners interface {
	IsOwned(player uuid.UUID) bool
}

type Pipeline struct {
	Perms      host.Permissions
	Owners     Owners
	Messages   host.Messages
	Capability string

	// Trace receives one line per rejected intent (nil = silent).
	Trace *log.Logger
}

// Evaluate applies surface, permission, ownership and posture checks in that
// order and stops at the first failure. Only the permission and ownership
// rejects message the player.
func (p *Pipeline) Evaluate(in detect.Intent) Decision {
	d := p.evaluate(in)
	if !d.Accepted && p.Trace != nil {
		p.Trace.Printf("reject %s: player=%s block=%s at %s via %s", d.Reason, in.Player.Name(), in.Block.Material, in.Block.Pos, in.Channel)
	}
	return d
}

func (p *Pipeline) evaluate(in detect.Intent) Decision {
	if !surface.IsTriggerSurface(in.Block.Material) {
		return Reject(ReasonNotARail)
	}
	capability := p.Capability
	if capability == "" {
		capability = host.CapabilityUseRail
	}
	if !p.Perms.HasCapability(in.Player.ID(), capability) {
		in.Player.SendMessage(host.ToneError, p.Messages.MessageFor(KeyNoPermission, DefaultNoPermission))
		return Reject(ReasonNoPermission)
	}
	if p.Owners.IsOwned(in.Player.ID()) {
		in.Player.SendMessage(host.ToneWarning, p.Messages.MessageFor(KeyAlreadyActive, DefaultAlreadyActive))
		return Reject(ReasonAlreadyActive)
	}
	if in.Player.Sneaking() {
		return Reject(ReasonSneaking)
	}
	return Accept()
}
