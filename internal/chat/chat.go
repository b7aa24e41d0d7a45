// Package chat relays text messages between the two peers of the active
// session over the signaling channel.
package chat

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/1ureka/vibetalk/internal/util"
)

// Origin tells who wrote a message.
type Origin int

const (
	Local Origin = iota + 1
	Remote
)

func (o Origin) String() string {
	if o == Local {
		return "local"
	}
	return "remote"
}

// Message is one chat line of a session.
type Message struct {
	Text      string
	Origin    Origin
	SessionID string
	At        time.Time
}

// TransmitFunc forwards a local message to the peer of sessionID.
type TransmitFunc func(sessionID, text string) error

// Relay keeps the chat history of the bound session and notifies
// subscribers in delivery order. Subscribers run on the caller's goroutine
// and must not block.
type Relay struct {
	transmit TransmitFunc

	mu          sync.Mutex
	sessionID   string
	history     []Message
	subscribers []func(Message)
}

// NewRelay returns an unbound relay that sends through transmit.
func NewRelay(transmit TransmitFunc) *Relay {
	return &Relay{transmit: transmit}
}

// OnMessage registers fn for every local and remote message.
func (r *Relay) OnMessage(fn func(Message)) {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.mu.Unlock()
}

// Bind scopes the relay to sessionID and clears the previous history.
func (r *Relay) Bind(sessionID string) {
	r.mu.Lock()
	if r.sessionID != sessionID {
		r.history = nil
	}
	r.sessionID = sessionID
	r.mu.Unlock()
}

// Reset unbinds the relay and discards the history.
func (r *Relay) Reset() {
	r.mu.Lock()
	r.sessionID = ""
	r.history = nil
	r.mu.Unlock()
}

// SessionID returns the bound session id, empty when unbound.
func (r *Relay) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// History returns a copy of the messages of the bound session.
func (r *Relay) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.history...)
}

// Send relays a local message. Blank text or no bound session is a silent
// rejection and returns false.
func (r *Relay) Send(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	r.mu.Lock()
	id := r.sessionID
	r.mu.Unlock()
	if id == "" {
		return false
	}

	if err := r.transmit(id, text); err != nil {
		util.LogWarning("failed to send chat message: %v", err)
		return false
	}
	util.Stats.AddChatSent()
	r.publish(Message{Text: text, Origin: Local, SessionID: id, At: time.Now()})
	return true
}

// Deliver records a message received from the peer. It is dropped when no
// session is bound.
func (r *Relay) Deliver(text string) {
	r.mu.Lock()
	id := r.sessionID
	r.mu.Unlock()
	if id == "" {
		util.LogDebug("dropping chat message outside a session")
		return
	}

	util.Stats.AddChatRecv()
	r.publish(Message{Text: text, Origin: Remote, SessionID: id, At: time.Now()})
}

func (r *Relay) publish(msg Message) {
	r.mu.Lock()
	if r.sessionID != msg.SessionID {
		r.mu.Unlock()
		return
	}
	r.history = append(r.history, msg)
	subs := slices.Clone(r.subscribers)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}
