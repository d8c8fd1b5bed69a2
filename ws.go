package board

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader accepts WebSocket upgrades from any origin, the same
// permissive CheckOrigin the corpus's own WebSocket server uses for its
// browser-facing feed (see the corpus's node_jamweb.go).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type pendingDelta struct {
	Pending []string `json:"pending"`
	Head    *string  `json:"head"`
}

func (s *Server) snapshotDelta() (pendingDelta, error) {
	pending, err := s.engine.GetPendingHashValues()
	if err != nil {
		return pendingDelta{}, err
	}
	head, ok, err := s.engine.GetMostRecentPublishedRoot()
	if err != nil {
		return pendingDelta{}, err
	}
	d := pendingDelta{Pending: hexList(pending)}
	if ok {
		h := HexString(head)
		d.Head = &h
	}
	return d, nil
}

// HandleWSPending upgrades the connection and pushes a pendingDelta
// immediately, then again after every call to a mutating operation on
// the engine (including one that fails), until the client disconnects. One goroutine per
// connection, unbuffered beyond Engine.Subscribe's single-slot channel —
// a client that falls behind simply misses intermediate deltas and sees
// the latest state on the next one.
func (s *Server) HandleWSPending(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "ws_upgrade_failed")
		return
	}
	defer conn.Close()

	changes, cancel := s.engine.Subscribe()
	defer cancel()

	if err := s.pushDelta(conn); err != nil {
		return
	}
	for range changes {
		if err := s.pushDelta(conn); err != nil {
			return
		}
	}
}

func (s *Server) pushDelta(conn *websocket.Conn) error {
	d, err := s.snapshotDelta()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(d)
}
