package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vibetalk/internal/media"
	"github.com/1ureka/vibetalk/internal/session"
	"github.com/1ureka/vibetalk/internal/signaling"
)

// Compile-time interface checks.
var (
	_ Signaler     = (*fakeSignaler)(nil)
	_ session.Conn = (*fakeConn)(nil)
)

// ---------------------------------------------------------------------------
// Signaler
// ---------------------------------------------------------------------------

// fakeSignaler stands in for the matching server connection: tests push
// inbound signals and read what the coordinator sent.
type fakeSignaler struct {
	in     chan signaling.Inbound
	out    chan signaling.Outbound
	closed chan struct{}
	once   sync.Once
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		in:     make(chan signaling.Inbound, 64),
		out:    make(chan signaling.Outbound, 1024),
		closed: make(chan struct{}),
	}
}

func (f *fakeSignaler) Send(o signaling.Outbound) error {
	select {
	case <-f.closed:
		return signaling.ErrChannelClosed
	default:
	}
	f.out <- o
	return nil
}

func (f *fakeSignaler) Inbound() <-chan signaling.Inbound { return f.in }

func (f *fakeSignaler) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSignaler) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSignaler) push(in signaling.Inbound) {
	f.in <- in
}

// expect reads the next outbound command and checks its kind and session.
func (f *fakeSignaler) expect(t *testing.T, kind signaling.OutboundKind, sessionID string) signaling.Outbound {
	t.Helper()
	select {
	case o := <-f.out:
		if o.Kind != kind || o.SessionID != sessionID {
			t.Fatalf("sent %d for %q, want %d for %q", o.Kind, o.SessionID, kind, sessionID)
		}
		return o
	case <-time.After(5 * time.Second):
		t.Fatalf("nothing sent within 5s, want %d for %q", kind, sessionID)
		return signaling.Outbound{}
	}
}

// expectNothing checks that no command is sent within a short window.
func (f *fakeSignaler) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case o := <-f.out:
		t.Fatalf("unexpected outbound %d for %q", o.Kind, o.SessionID)
	case <-time.After(100 * time.Millisecond):
	}
}

// ---------------------------------------------------------------------------
// Conn
// ---------------------------------------------------------------------------

// fakeConn implements session.Conn in memory. Callbacks are exposed so tests
// can play the transport.
type fakeConn struct {
	mu     sync.Mutex
	calls  []string
	closed bool
	gate   chan struct{} // blocks SetRemoteDescription when set

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(media.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func (f *fakeConn) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeConn) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	f.record("set-local:" + sd.Type.String())
	return nil
}

func (f *fakeConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if f.gate != nil {
		<-f.gate
	}
	f.record("set-remote:" + sd.Type.String())
	return nil
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.record("candidate:" + c.Candidate)
	return nil
}

func (f *fakeConn) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.record("add-track:" + track.ID())
	return new(webrtc.RTPSender), nil
}

func (f *fakeConn) RemoveTrack(*webrtc.RTPSender) error { return nil }

func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit))             { f.onCandidate = fn }
func (f *fakeConn) OnTrack(fn func(media.RemoteTrack))                          { f.onTrack = fn }
func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { f.onState = fn }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

type stubTrack struct {
	webrtc.TrackLocal
	id   string
	kind webrtc.RTPCodecType
}

func (s stubTrack) ID() string                { return s.id }
func (s stubTrack) Kind() webrtc.RTPCodecType { return s.kind }

type stubSource []webrtc.TrackLocal

func (s stubSource) Tracks() []webrtc.TrackLocal { return s }

var audioVideo = stubSource{
	stubTrack{id: "video", kind: webrtc.RTPCodecTypeVideo},
	stubTrack{id: "audio", kind: webrtc.RTPCodecTypeAudio},
}

type stubRemote struct{ id string }

func (s stubRemote) ID() string                { return s.id }
func (s stubRemote) StreamID() string          { return "remote" }
func (s stubRemote) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

func (s stubRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

type recordingSink struct {
	mu     sync.Mutex
	tracks []string
}

func (r *recordingSink) Attach(track media.RemoteTrack) {
	r.mu.Lock()
	r.tracks = append(r.tracks, track.ID())
	r.mu.Unlock()
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

// harness runs a coordinator against fake signalers and fake conns.
type harness struct {
	c      *Coordinator
	sink   *recordingSink
	dialed chan *fakeSignaler

	mu        sync.Mutex
	conns     []*fakeConn
	overlap   bool // a conn was created while another was open
	failConns bool
	gate      chan struct{}
}

func newHarness(t *testing.T, source media.Source) *harness {
	t.Helper()
	h := &harness{
		sink:   &recordingSink{},
		dialed: make(chan *fakeSignaler, 8),
	}
	h.c = New(Options{
		Dial: func(context.Context) (Signaler, error) {
			sig := newFakeSignaler()
			h.dialed <- sig
			return sig, nil
		},
		Conns:         h.newConn,
		Source:        source,
		Sink:          h.sink,
		RedialTimeout: time.Second,
		NewBackOff:    func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.c.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func (h *harness) newConn() (session.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failConns {
		return nil, errors.New("no transport")
	}
	for _, c := range h.conns {
		if !c.isClosed() {
			h.overlap = true
		}
	}
	conn := &fakeConn{gate: h.gate}
	h.conns = append(h.conns, conn)
	return conn, nil
}

func (h *harness) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.conns) {
		t.Fatalf("conn %d not created (have %d)", i, len(h.conns))
	}
	return h.conns[i]
}

// start starts the coordinator and returns the signaler it dialed.
func (h *harness) start(t *testing.T) *fakeSignaler {
	t.Helper()
	if err := h.c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h.nextDial(t)
}

func (h *harness) nextDial(t *testing.T) *fakeSignaler {
	t.Helper()
	select {
	case sig := <-h.dialed:
		return sig
	case <-time.After(5 * time.Second):
		t.Fatal("no dial within 5s")
		return nil
	}
}

// waitState blocks until the coordinator reaches want.
func waitState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		changed := c.StateChanged()
		if c.State() == want {
			return
		}
		select {
		case <-changed:
		case <-timeout:
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
	}
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func offerSignal(id string) signaling.Inbound {
	return signaling.Inbound{
		Kind:      signaling.IncomingOffer,
		SessionID: id,
		SDP:       webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"},
	}
}

func answerSignal(id string) signaling.Inbound {
	return signaling.Inbound{
		Kind:      signaling.IncomingAnswer,
		SessionID: id,
		SDP:       webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
	}
}

func candidateSignal(id, c string) signaling.Inbound {
	return signaling.Inbound{
		Kind:      signaling.IncomingCandidate,
		SessionID: id,
		Candidate: webrtc.ICECandidateInit{Candidate: c},
	}
}

// from stamps the partner's sender id on a signal.
func from(sender string, in signaling.Inbound) signaling.Inbound {
	in.SenderID = sender
	return in
}
