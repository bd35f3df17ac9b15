package httpapi

import (
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: the control surface's bearer-token
// middleware (auth.go) already gates the connection before the websocket
// handshake runs, so CORS-style origin checks would be redundant here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventFrame is the CBOR wire shape of one orchestrator.Event, per spec
// §6's event bus; each frame is sent as its own binary websocket message.
type eventFrame struct {
	Kind      string    `cbor:"kind"`
	SessionID string    `cbor:"session_id"`
	Tenant    string    `cbor:"tenant"`
	BlockID   string    `cbor:"block_id,omitempty"`
	Detail    string    `cbor:"detail,omitempty"`
	At        time.Time `cbor:"at"`
}

// handleEvents upgrades to a websocket and streams every Coordinator event
// as a CBOR frame until the subscription channel is closed or a write
// fails, e.g. after the client disconnects (Publish never blocks a slow
// reader; events that do not fit Subscribe's buffer are dropped for that
// subscriber and the stream goes on).
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.coord.Events.Subscribe(64)
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			frame := eventFrame{
				Kind:      string(ev.Kind),
				SessionID: ev.SessionID,
				Tenant:    ev.Tenant,
				BlockID:   ev.BlockID,
				Detail:    ev.Detail,
				At:        ev.At,
			}
			data, err := cbor.Marshal(frame)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
