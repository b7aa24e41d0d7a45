// Package coordinator drives the client: it owns the signaling channel and
// the current peer session, and moves between Idle, AwaitingMatch,
// Negotiating, Connected and Terminating on signals, transport events and
// user commands.
//
// All state is owned by one event loop (Run). Negotiation steps run on their
// own goroutines and report back to the loop, which checks that the session
// they ran for is still current before acting on the result.
package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vibetalk/internal/chat"
	"github.com/1ureka/vibetalk/internal/media"
	"github.com/1ureka/vibetalk/internal/session"
	"github.com/1ureka/vibetalk/internal/signaling"
	"github.com/1ureka/vibetalk/internal/util"
)

var (
	// ErrMediaIncomplete is returned by Start when local media lacks an
	// audio or a video track.
	ErrMediaIncomplete = errors.New("local media needs both an audio and a video track")

	// ErrAlreadyStarted is returned by Start outside Idle.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNoSession is returned when a message needs a session and none is bound.
	ErrNoSession = errors.New("no active session")

	// ErrNotRunning is returned by commands issued while Run is not running.
	ErrNotRunning = errors.New("coordinator not running")
)

const eventBufferSize = 64

// Signaler is the duplex channel to the matching server.
// *signaling.Channel implements it.
type Signaler interface {
	Send(o signaling.Outbound) error
	Inbound() <-chan signaling.Inbound
	Close() error
}

// Dialer opens a Signaler. The server enqueues the client for matching as
// soon as it connects.
type Dialer func(ctx context.Context) (Signaler, error)

// Options configures a Coordinator.
type Options struct {
	Dial   Dialer
	Conns  session.ConnFactory
	Source media.Source
	Sink   media.Sink // optional

	// RedialTimeout bounds reconnect attempts after the channel drops.
	// Zero disables redialing: a drop returns the client to Idle.
	RedialTimeout time.Duration

	// NewBackOff overrides the redial policy.
	NewBackOff func() backoff.BackOff
}

// Coordinator is the negotiation state machine.
type Coordinator struct {
	opts Options
	chat *chat.Relay

	cmds   chan func()
	events chan any
	done   chan struct{}

	// Owned by the loop goroutine.
	ctx        context.Context
	state      State
	sig        Signaler
	gen        int // bumped whenever sig is replaced
	dialCancel context.CancelFunc
	current    *session.PeerSession
	negotiated bool // offerer: answer applied; answerer: answer sent
	mediaUp    bool
	pending    *session.CandidateBuffer
	pendingID  string
	pendingBy  string // sender of the buffered candidates, when known
	partner    string // sender id of the current peer, once known
	parked     map[string]webrtc.SessionDescription
	retired    *retiredSet // ended session ids
	former     *retiredSet // sender ids of ended sessions' peers

	// Published for other goroutines.
	mu          sync.RWMutex
	published   State
	status      Status
	statusFns   []func(Status)
	trackFns    []func(media.RemoteTrack)
	stateChange chan struct{}
}

// New returns a coordinator in Idle. Run must be running for commands to
// take effect.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		opts:        opts,
		cmds:        make(chan func()),
		events:      make(chan any, eventBufferSize),
		done:        make(chan struct{}),
		pending:     session.NewCandidateBuffer(),
		parked:      make(map[string]webrtc.SessionDescription),
		retired:     newRetiredSet(),
		former:      newRetiredSet(),
		stateChange: make(chan struct{}),
	}
	c.chat = chat.NewRelay(c.transmitChat)
	return c
}

// Chat returns the relay of the active session.
func (c *Coordinator) Chat() *chat.Relay { return c.chat }

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

// Status returns the current user-facing status.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// StateChanged returns a channel closed at the next state change.
func (c *Coordinator) StateChanged() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateChange
}

// OnStatus registers fn for status changes. It runs on the loop goroutine
// and must not block.
func (c *Coordinator) OnStatus(fn func(Status)) {
	c.mu.Lock()
	c.statusFns = append(c.statusFns, fn)
	c.mu.Unlock()
}

// OnRemoteTrack registers fn for every remote track of the current session.
// It runs on the loop goroutine and must not block.
func (c *Coordinator) OnRemoteTrack(fn func(media.RemoteTrack)) {
	c.mu.Lock()
	c.trackFns = append(c.trackFns, fn)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run processes commands and events until ctx is cancelled, then tears
// everything down and returns to Idle.
func (c *Coordinator) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.leave()
			return ctx.Err()
		case fn := <-c.cmds:
			fn()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (c *Coordinator) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(finished) }:
	case <-c.done:
		return ErrNotRunning
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrNotRunning
	}
}

// post queues an event for the loop. It reports false once Run has exited.
func (c *Coordinator) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	util.LogDebug("state: %s → %s", c.state, s)
	c.state = s

	c.mu.Lock()
	c.published = s
	close(c.stateChange)
	c.stateChange = make(chan struct{})

	status, ok := s.status()
	if ok && status != c.status {
		c.status = status
	} else {
		ok = false
	}
	fns := slices.Clone(c.statusFns)
	c.mu.Unlock()

	if ok {
		for _, fn := range fns {
			fn(status)
		}
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Start connects to the matching server and waits for a match. It requires
// local media with both an audio and a video track.
func (c *Coordinator) Start() error {
	var err error
	if doErr := c.do(func() { err = c.start() }); doErr != nil {
		return doErr
	}
	return err
}

func (c *Coordinator) start() error {
	if c.state != Idle {
		return ErrAlreadyStarted
	}
	if c.opts.Source == nil || !media.HasAudioVideo(c.opts.Source.Tracks()) {
		return ErrMediaIncomplete
	}

	c.setState(AwaitingMatch)
	c.dial(false)
	return nil
}

// Skip ends the current session and asks for the next partner. It reports
// false when there is no session to skip.
func (c *Coordinator) Skip() bool {
	var ok bool
	if err := c.do(func() { ok = c.skip() }); err != nil {
		return false
	}
	return ok
}

func (c *Coordinator) skip() bool {
	if c.current == nil {
		return false
	}
	id := c.current.ID()
	util.LogInfo("skipping partner")
	util.Stats.AddSkip()

	c.send(signaling.Outbound{Kind: signaling.NextUser, SessionID: id})
	c.teardown()
	c.setState(AwaitingMatch)
	return true
}

// Leave ends the current session, closes the signaling channel and returns
// to Idle.
func (c *Coordinator) Leave() {
	_ = c.do(c.leave)
}

func (c *Coordinator) leave() {
	if c.state == Idle {
		return
	}
	c.teardown()
	c.dropChannel()
	c.setState(Idle)
}

// SendChat relays text to the partner of the current session. Blank text or
// no session is silently rejected and reports false.
func (c *Coordinator) SendChat(text string) bool {
	var ok bool
	if err := c.do(func() { ok = c.chat.Send(text) }); err != nil {
		return false
	}
	return ok
}

// transmitChat is the chat relay's path to the channel; it runs on the loop.
func (c *Coordinator) transmitChat(sessionID, text string) error {
	if c.current == nil || c.current.ID() != sessionID {
		return ErrNoSession
	}
	if c.sig == nil {
		return signaling.ErrChannelClosed
	}
	return c.sig.Send(signaling.Outbound{Kind: signaling.SendChat, SessionID: sessionID, Text: text})
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// teardown closes the current session without waiting for operations in
// flight. Their results are discarded by the currency check.
func (c *Coordinator) teardown() {
	c.pending.Reset()
	c.pendingID = ""
	c.pendingBy = ""
	clear(c.parked)

	if c.current == nil {
		return
	}
	c.setState(Terminating)

	s := c.current
	c.current = nil
	c.negotiated = false
	c.mediaUp = false
	c.retired.add(s.ID())
	c.former.add(c.partner)
	c.partner = ""
	c.chat.Reset()

	if err := s.Close(); err != nil {
		util.LogWarning("failed to close session %s: %v", s.ID(), err)
	}
}

// dropChannel closes the signaling channel and abandons any dial in flight.
func (c *Coordinator) dropChannel() {
	c.gen++
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.sig != nil {
		c.sig.Close()
		c.sig = nil
	}
}

// send writes to the channel. Failures are transient: logged, no transition.
func (c *Coordinator) send(o signaling.Outbound) {
	if c.sig == nil {
		util.LogDebug("no signaling channel, dropping outbound %d", o.Kind)
		return
	}
	if err := c.sig.Send(o); err != nil {
		util.LogWarning("signaling send failed: %v", err)
	}
}

// fault handles a local capability failure of the current session: tear it
// down, tell the server when a session id is known, and wait for a new match.
func (c *Coordinator) fault(err error) {
	util.LogError("session failed: %v", err)

	if c.current != nil {
		c.send(signaling.Outbound{Kind: signaling.NextUser, SessionID: c.current.ID()})
	}
	c.teardown()
	if c.sig != nil {
		c.setState(AwaitingMatch)
	} else {
		c.setState(Idle)
	}
}

// checkConnected enters Connected once the descriptions are exchanged and
// media or connectivity has been observed.
func (c *Coordinator) checkConnected() {
	if c.state != Negotiating || c.current == nil {
		return
	}
	if !c.negotiated || !c.mediaUp || !c.current.HasRemoteDescription() {
		return
	}
	util.LogSuccess("connected to partner")
	util.Stats.AddConnected()
	c.setState(Connected)
}

// remoteTrack hands a track of the current session to the sink and
// observers.
func (c *Coordinator) remoteTrack(track media.RemoteTrack) {
	if c.opts.Sink != nil && track != nil {
		c.opts.Sink.Attach(track)
	}
	c.mu.RLock()
	fns := slices.Clone(c.trackFns)
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(track)
	}
}

// connectionState reacts to peer connection state changes of the current
// session.
func (c *Coordinator) connectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.mediaUp = true
		c.checkConnected()
	case webrtc.PeerConnectionStateFailed:
		c.fault(errors.New("peer connection failed"))
	}
}
