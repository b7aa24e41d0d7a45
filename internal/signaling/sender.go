package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sender serializes outgoing frames to the WebSocket (private). gorilla
// allows a single concurrent writer; control frames may bypass the mutex.
type sender struct {
	conn      *websocket.Conn
	codec     Codec
	writeWait time.Duration
	mu        sync.Mutex
}

// send encodes msg and writes it as one frame, guarded by a mutex so that
// ordering is preserved per connection.
func (s *sender) send(msg Message) error {
	data, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeWait > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	}
	return s.conn.WriteMessage(s.codec.FrameType(), data)
}

// ping writes a keepalive control frame.
func (s *sender) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, s.deadline())
}

// goodbye writes a normal-closure control frame. Errors are irrelevant: the
// socket is closed right after.
func (s *sender) goodbye() {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), s.deadline())
}

func (s *sender) deadline() time.Time {
	if s.writeWait > 0 {
		return time.Now().Add(s.writeWait)
	}
	return time.Now().Add(time.Second)
}
