package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"railcart.ai/internal/protocol"
	"railcart.ai/internal/sim/host"
	"railcart.ai/internal/sim/surface"
	"railcart.ai/internal/sim/world"
)

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		p, session, out := s.handshake(conn)
		if p == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if code, text := s.route(p, msg); code != "" {
				sendError(out, code, text)
			}
		}

		// Cleanup.
		s.world.Leave() <- world.LeaveRequest{PlayerID: p.ID(), Session: session}
	}
}

// route decodes one client frame. Packet listeners run here, on the
// connection goroutine, before the input is queued for the tick loop.
func (s *Server) route(p *world.Player, msg []byte) (code, text string) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.ErrProtoBadRequest, "malformed json"
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.ErrProtoVersion, "bad protocol_version"
	}

	in := world.Input{PlayerID: p.ID()}
	switch base.Type {
	case protocol.TypeUseItem:
		var m protocol.UseItemMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.ErrBadRequest, err.Error()
		}
		action := host.PlayerAction(m.Action)
		if !action.Valid() {
			return protocol.ErrBadRequest, "unknown action " + m.Action
		}
		var pos *host.Pos
		if m.Pos != nil {
			pos = &host.Pos{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]}
		}
		s.world.InterceptUseItem(p, action, pos)
		in.Kind, in.Action, in.Pos = world.InputUseItem, action, pos

	case protocol.TypeSneak:
		var m protocol.SneakMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.ErrBadRequest, err.Error()
		}
		// Sneak state is read by the packet gate; apply it immediately.
		s.world.SetSneaking(p.ID(), m.Sneaking)
		return "", ""

	case protocol.TypeMount:
		var m protocol.MountMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.ErrBadRequest, err.Error()
		}
		if m.VehicleID == 0 {
			return protocol.ErrInvalidTarget, "missing vehicle_id"
		}
		in.Kind, in.Vehicle = world.InputMount, host.VehicleID(m.VehicleID)

	case protocol.TypeExitVehicle:
		in.Kind = world.InputExit

	case protocol.TypeSetBlock:
		var m protocol.SetBlockMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.ErrBadRequest, err.Error()
		}
		if m.Material == "" {
			return protocol.ErrBadRequest, "missing material"
		}
		in.Kind = world.InputSetBlock
		in.Pos = &host.Pos{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]}
		in.Material = surface.Material(m.Material)

	default:
		return protocol.ErrUnknownType, "unknown type " + base.Type
	}

	select {
	case s.world.Inbox() <- in:
		return "", ""
	default:
		return protocol.ErrWorldBusy, "world inbox full"
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*world.Player, uint64, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, 0, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, 0, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, 0, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, 0, nil
	}
	var id uuid.UUID
	if hello.PlayerID != "" {
		id, err = uuid.Parse(hello.PlayerID)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad player_id"), time.Now().Add(time.Second))
			return nil, 0, nil
		}
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 32
	}
	if maxQ > 256 {
		maxQ = 256
	}
	out := make(chan []byte, maxQ)

	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Name: hello.PlayerName,
		ID:   id,
		Out:  out,
		Resp: respCh,
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		return nil, 0, nil
	}
	if s.log != nil {
		s.log.Printf("ws: %s connected from %s", resp.Welcome.PlayerName, conn.RemoteAddr())
	}
	return resp.Player, resp.Session, out
}

func sendError(out chan []byte, code, text string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         text,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
