package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vibetalk/internal/media"
)

// Compile-time interface check.
var _ Conn = (*fakeConn)(nil)

// fakeConn implements Conn in memory and records every call in order.
// SetRemoteDescription blocks on gate when it is non-nil.
type fakeConn struct {
	mu     sync.Mutex
	calls  []string
	closed int
	gate   chan struct{}

	failCreate bool

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

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("create-offer")
	if f.failCreate {
		return webrtc.SessionDescription{}, errors.New("boom")
	}
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

func (f *fakeConn) RemoveTrack(*webrtc.RTPSender) error {
	f.record("remove-track")
	return nil
}

func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit))             { f.onCandidate = fn }
func (f *fakeConn) OnTrack(fn func(media.RemoteTrack))                          { f.onTrack = fn }
func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { f.onState = fn }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

// stubTrack is a minimal local track; only ID and Kind matter here.
type stubTrack struct {
	webrtc.TrackLocal
	id   string
	kind webrtc.RTPCodecType
}

func (s stubTrack) ID() string                { return s.id }
func (s stubTrack) Kind() webrtc.RTPCodecType { return s.kind }

func newTestSession(t *testing.T, conn *fakeConn, buf *CandidateBuffer) (*PeerSession, *[]Event) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []Event
	)
	s, err := New("42", Answerer, func() (Conn, error) { return conn, nil }, buf, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, &events
}

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

// waitRemote polls until the session's remote description reaches want.
func waitRemote(t *testing.T, s *PeerSession, want remoteState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := s.remote
		s.mu.Unlock()
		if got == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("remote state never reached %d", want)
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls = %v\nwant    %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewTransportUnavailable(t *testing.T) {
	_, err := New("42", Offerer, func() (Conn, error) { return nil, errors.New("no ice agent") }, nil, nil)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Op != "create" || se.SessionID != "42" {
		t.Fatalf("err = %#v, want *Error{Op: create}", err)
	}
}

// TestBufferedCandidatesFlushInOrder covers three candidates arriving before
// the offer: none is applied early, all are applied once, in order, right
// after the remote description.
func TestBufferedCandidatesFlushInOrder(t *testing.T) {
	conn := &fakeConn{}
	s, _ := newTestSession(t, conn, nil)

	for _, c := range []string{"c1", "c2", "c3"} {
		if err := s.AddCandidate(cand(c)); err != nil {
			t.Fatalf("AddCandidate(%s): %v", c, err)
		}
	}
	if n := s.PendingCandidates(); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}
	assertCalls(t, conn.log(), nil)

	if err := s.ApplyRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}); err != nil {
		t.Fatalf("ApplyRemoteDescription: %v", err)
	}
	if err := s.AddCandidate(cand("c4")); err != nil {
		t.Fatalf("AddCandidate(c4): %v", err)
	}

	assertCalls(t, conn.log(), []string{
		"set-remote:offer", "candidate:c1", "candidate:c2", "candidate:c3", "candidate:c4",
	})
	if n := s.PendingCandidates(); n != 0 {
		t.Fatalf("pending after drain = %d, want 0", n)
	}
}

func TestHandedOverBufferIsDrained(t *testing.T) {
	buf := NewCandidateBuffer()
	buf.Offer(cand("early"), func(webrtc.ICECandidateInit) error {
		t.Fatal("applied before remote description")
		return nil
	})

	conn := &fakeConn{}
	s, _ := newTestSession(t, conn, buf)
	if err := s.ApplyRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}); err != nil {
		t.Fatalf("ApplyRemoteDescription: %v", err)
	}
	assertCalls(t, conn.log(), []string{"set-remote:offer", "candidate:early"})
}

// TestCandidateDuringRemoteDescription races candidates against a pending
// SetRemoteDescription; none may be applied before it completes.
func TestCandidateDuringRemoteDescription(t *testing.T) {
	conn := &fakeConn{gate: make(chan struct{})}
	s, _ := newTestSession(t, conn, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.ApplyRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	}()
	waitRemote(t, s, remotePending)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddCandidate(cand(fmt.Sprintf("c%d", i)))
		}()
	}
	wg.Wait()

	// A second apply while the first is pending is rejected without waiting.
	err := s.ApplyRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	if !errors.Is(err, ErrRemoteDescriptionSet) {
		t.Fatalf("concurrent apply = %v, want ErrRemoteDescriptionSet", err)
	}

	close(conn.gate)
	if err := <-done; err != nil {
		t.Fatalf("ApplyRemoteDescription: %v", err)
	}

	calls := conn.log()
	if len(calls) != 11 || calls[0] != "set-remote:offer" {
		t.Fatalf("calls = %v, want set-remote first then 10 candidates", calls)
	}
	seen := make(map[string]bool)
	for _, c := range calls[1:] {
		if seen[c] {
			t.Fatalf("candidate applied twice: %s", c)
		}
		seen[c] = true
	}
}

func TestApplyRemoteDescriptionTwice(t *testing.T) {
	s, _ := newTestSession(t, &fakeConn{}, nil)
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}

	if err := s.ApplyRemoteDescription(sd); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := s.ApplyRemoteDescription(sd); !errors.Is(err, ErrRemoteDescriptionSet) {
		t.Fatalf("second apply = %v, want ErrRemoteDescriptionSet", err)
	}
	if !s.HasRemoteDescription() {
		t.Fatal("remote description lost")
	}
}

func TestAttachLocalIdempotent(t *testing.T) {
	conn := &fakeConn{}
	s, _ := newTestSession(t, conn, nil)

	video := stubTrack{id: "video", kind: webrtc.RTPCodecTypeVideo}
	audio := stubTrack{id: "audio", kind: webrtc.RTPCodecTypeAudio}

	if err := s.AttachLocal(video, audio); err != nil {
		t.Fatalf("AttachLocal: %v", err)
	}
	if err := s.AttachLocal(video); err != nil {
		t.Fatalf("AttachLocal again: %v", err)
	}

	assertCalls(t, conn.log(), []string{"add-track:video", "add-track:audio"})
	if ids := s.LocalTrackIDs(); fmt.Sprint(ids) != "[video audio]" {
		t.Fatalf("local tracks = %v", ids)
	}
}

func TestCreateOfferSetsLocal(t *testing.T) {
	conn := &fakeConn{}
	s, _ := newTestSession(t, conn, nil)

	sd, err := s.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if sd.Type != webrtc.SDPTypeOffer {
		t.Fatalf("sdp type = %s", sd.Type)
	}
	assertCalls(t, conn.log(), []string{"create-offer", "set-local:offer"})
}

func TestCreateOfferFailure(t *testing.T) {
	s, _ := newTestSession(t, &fakeConn{failCreate: true}, nil)
	if _, err := s.CreateOffer(); err == nil || errors.Is(err, ErrSessionClosed) {
		t.Fatalf("CreateOffer = %v, want creation failure", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	conn := &fakeConn{}
	s, events := newTestSession(t, conn, nil)

	s.AttachLocal(stubTrack{id: "video", kind: webrtc.RTPCodecTypeVideo})
	s.AddCandidate(cand("c1"))
	conn.onTrack(nil)

	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if conn.closed != 1 {
		t.Fatalf("transport closed %d times, want 1", conn.closed)
	}
	if len(s.RemoteTracks()) != 0 || s.PendingCandidates() != 0 {
		t.Fatal("close left remote tracks or candidates behind")
	}

	// Callbacks after close are not forwarded.
	before := len(*events)
	conn.onCandidate(cand("late"))
	conn.onState(webrtc.PeerConnectionStateConnected)
	conn.onTrack(nil)
	if len(*events) != before {
		t.Fatalf("events forwarded after close: %v", (*events)[before:])
	}

	if _, err := s.CreateAnswer(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("CreateAnswer after close = %v, want ErrSessionClosed", err)
	}
	if err := s.ApplyRemoteDescription(webrtc.SessionDescription{}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("apply after close = %v, want ErrSessionClosed", err)
	}
	if err := s.AddCandidate(cand("c2")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("AddCandidate after close = %v, want ErrSessionClosed", err)
	}
}

// TestCloseDuringRemoteDescription closes while SetRemoteDescription is
// pending; Close must not wait for it.
func TestCloseDuringRemoteDescription(t *testing.T) {
	conn := &fakeConn{gate: make(chan struct{})}
	s, _ := newTestSession(t, conn, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.ApplyRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})
	}()

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on pending operation")
	}
	close(conn.gate)
	<-done
}

func TestEventsCarrySessionID(t *testing.T) {
	conn := &fakeConn{}
	_, events := newTestSession(t, conn, nil)

	conn.onCandidate(cand("local"))
	conn.onState(webrtc.PeerConnectionStateConnected)

	if len(*events) != 2 {
		t.Fatalf("events = %d, want 2", len(*events))
	}
	for _, ev := range *events {
		if ev.SessionID != "42" {
			t.Fatalf("event %+v without session id", ev)
		}
	}
	if (*events)[0].Kind != LocalCandidate || (*events)[1].Kind != ConnectionStateChanged {
		t.Fatalf("unexpected event kinds: %+v", *events)
	}
}

func TestCandidateBufferDrainOnce(t *testing.T) {
	var b CandidateBuffer
	b.Offer(cand("a"), nil)
	b.Offer(cand("b"), nil)

	var applied []string
	apply := func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	}

	if n, err := b.Drain(apply); n != 2 || err != nil {
		t.Fatalf("Drain = %d, %v", n, err)
	}
	if n, _ := b.Drain(apply); n != 0 {
		t.Fatalf("second Drain applied %d", n)
	}
	if ok, _ := b.Offer(cand("c"), apply); !ok {
		t.Fatal("Offer after drain should apply")
	}
	if fmt.Sprint(applied) != "[a b c]" {
		t.Fatalf("applied = %v", applied)
	}
}
