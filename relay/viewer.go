package relay

import "sync"

// wsConn is the slice of *websocket.Conn the broadcaster needs. Tests inject
// fakes; production code passes gorilla connections.
type wsConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Viewer is one downstream socket. Writes are serialized: gorilla connections
// support at most one concurrent writer.
type Viewer struct {
	id   string
	mu   sync.Mutex
	conn wsConn
}

func NewViewer(id string, conn wsConn) *Viewer {
	return &Viewer{id: id, conn: conn}
}

func (v *Viewer) ID() string { return v.id }

// Send marshals frame as JSON onto the socket.
func (v *Viewer) Send(frame any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn.WriteJSON(frame)
}

// Close closes the underlying socket.
func (v *Viewer) Close() error { return v.conn.Close() }
