package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/vibetalk/internal/util"
)

// inboundBufferSize is the capacity of the typed event stream.
const inboundBufferSize = 64

// Identity is what the matching server knows about this client.
type Identity struct {
	Name     string
	ClientID string // stamped as senderSocketId on outbound messages
}

// Channel is a duplex connection to the matching server. It delivers typed
// Inbound events in arrival order and accepts typed Outbound commands.
// Delivery is not guaranteed once the connection drops: the stream then ends
// with exactly one ChannelClosed event.
type Channel struct {
	conn     *websocket.Conn
	identity Identity
	sender   *sender

	inbound chan Inbound
	done    chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

type options struct {
	codec     Codec
	keepAlive time.Duration
	writeWait time.Duration
	dialer    *websocket.Dialer
}

// Option customizes Dial.
type Option func(*options)

// WithCodec selects the frame codec (JSON by default).
func WithCodec(c Codec) Option { return func(o *options) { o.codec = c } }

// WithKeepAlive sets the ping period; zero disables pings and read deadlines.
func WithKeepAlive(d time.Duration) Option { return func(o *options) { o.keepAlive = d } }

// WithWriteWait bounds every frame write.
func WithWriteWait(d time.Duration) Option { return func(o *options) { o.writeWait = d } }

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option { return func(o *options) { o.dialer = d } }

// Dial connects to the matching server at rawURL, announcing id via the
// name and clientId query parameters. A ClientID is generated when empty.
func Dial(ctx context.Context, rawURL string, id Identity, opts ...Option) (*Channel, error) {
	o := options{
		codec:     JSONCodec{},
		keepAlive: 25 * time.Second,
		writeWait: 10 * time.Second,
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if id.ClientID == "" {
		id.ClientID = uuid.NewString()
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid WS URL: %s", rawURL)
	}
	q := u.Query()
	if id.Name != "" {
		q.Set("name", id.Name)
	}
	q.Set("clientId", id.ClientID)
	u.RawQuery = q.Encode()

	conn, _, err := o.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}

	c := &Channel{
		conn:     conn,
		identity: id,
		sender:   &sender{conn: conn, codec: o.codec, writeWait: o.writeWait},
		inbound:  make(chan Inbound, inboundBufferSize),
		done:     make(chan struct{}),
	}

	var pongWait time.Duration
	if o.keepAlive > 0 {
		pongWait = o.keepAlive + o.writeWait
		go c.keepAlive(o.keepAlive)
	}

	r := &receiver{conn: conn, codec: o.codec, out: c.inbound, done: c.done, pongWait: pongWait}
	go c.run(r)

	util.LogDebug("WS connected: %s (codec=%s, client=%s)", u.Host, o.codec.Name(), id.ClientID)
	return c, nil
}

// run drives the receiver and emits the terminal ChannelClosed event.
func (c *Channel) run(r *receiver) {
	defer close(c.inbound)

	err := r.watch()
	if c.closed.Load() {
		err = ErrChannelClosed
	}
	util.LogDebug("signaling channel closed: %v", err)

	select {
	case c.inbound <- Inbound{Kind: ChannelClosed, Err: err}:
	case <-c.done:
	}
}

// keepAlive pings the server until the channel is closed.
func (c *Channel) keepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.sender.ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Identity returns the identity announced to the server.
func (c *Channel) Identity() Identity {
	return c.identity
}

// Inbound returns the typed event stream. It is closed after ChannelClosed.
func (c *Channel) Inbound() <-chan Inbound {
	return c.inbound
}

// Send writes one command. Ordering is preserved per connection; the error is
// informational (the caller treats sends as fire-and-forget).
func (c *Channel) Send(o Outbound) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}

	msg, err := o.message(c.identity.ClientID)
	if err != nil {
		return err
	}
	if err := c.sender.send(msg); err != nil {
		if c.closed.Load() || errors.Is(err, websocket.ErrCloseSent) {
			return ErrChannelClosed
		}
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

// Close shuts down the connection. Safe to call multiple times.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.sender.goodbye()
		err = c.conn.Close()
	})
	return err
}
