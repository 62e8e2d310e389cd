package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kmorrisongr/rustcraft-sub000/internal/protocol"
	"github.com/kmorrisongr/rustcraft-sub000/internal/sim/host"
)

type Server struct {
	host *host.Host
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(h *host.Host, logger *log.Logger) *Server {
	s := &Server{
		host: h,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
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

		clientID, out := s.handshake(conn)
		if clientID == "" {
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
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeEdit {
				continue
			}
			if err := validateRaw(base.Type, msg); err != nil {
				s.sendError(out, protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			var edit protocol.EditMsg
			if err := json.Unmarshal(msg, &edit); err != nil {
				continue
			}
			s.host.Inbox() <- host.EditEnvelope{ClientID: clientID, Edit: edit}
		}

		// Cleanup.
		s.host.Leave() <- clientID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (clientID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return "", nil
	}
	if err := validateRaw(base.Type, msg); err != nil {
		closePolicy(conn, "malformed HELLO")
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return "", nil
	}

	out = make(chan []byte, 32)
	respCh := make(chan protocol.WelcomeMsg, 1)
	s.host.Join() <- host.JoinRequest{
		ClientID: hello.ClientID,
		Observer: hello.Observer,
		Out:      out,
		Resp:     respCh,
	}

	var welcome protocol.WelcomeMsg
	select {
	case welcome = <-respCh:
	case <-time.After(5 * time.Second):
		closePolicy(conn, "join timeout")
		return "", nil
	}

	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	return hello.ClientID, out
}

// validateRaw schema-checks an inbound message's raw JSON.
func validateRaw(msgType string, msg []byte) error {
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return err
	}
	return protocol.Validate(msgType, v)
}

func (s *Server) sendError(out chan []byte, code, message string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
