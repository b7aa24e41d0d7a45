package signaling

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/vibetalk/internal/util"
)

// receiver turns inbound frames into typed events (private).
type receiver struct {
	conn     *websocket.Conn
	codec    Codec
	out      chan<- Inbound
	done     <-chan struct{}
	pongWait time.Duration
}

// watch reads frames until the connection fails or the channel is closed.
// Undecodable or unknown frames are transient: logged and skipped.
func (r *receiver) watch() error {
	r.extendDeadline()
	if r.pongWait > 0 {
		r.conn.SetPongHandler(func(string) error {
			r.extendDeadline()
			return nil
		})
	}

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}
		r.extendDeadline()

		msg, err := r.codec.Decode(data)
		if err != nil {
			util.LogWarning("dropping undecodable %s frame: %v", r.codec.Name(), err)
			continue
		}

		in, ok, err := inboundFromMessage(msg)
		if err != nil {
			util.LogWarning("dropping malformed %q message: %v", msg.Type, err)
			continue
		}
		if !ok {
			util.LogDebug("ignoring unhandled message type %q", msg.Type)
			continue
		}

		select {
		case r.out <- in:
		case <-r.done:
			return ErrChannelClosed
		}
	}
}

func (r *receiver) extendDeadline() {
	if r.pongWait > 0 {
		r.conn.SetReadDeadline(time.Now().Add(r.pongWait))
	}
}
