// Package session implements the per-pair peer session: one transport
// connection, its local and remote tracks, and the buffer of early remote
// ICE candidates.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vibetalk/internal/media"
	"github.com/1ureka/vibetalk/internal/util"
)

// Role is the side of the offer/answer exchange a session plays.
type Role int

const (
	Offerer Role = iota + 1
	Answerer
)

func (r Role) String() string {
	switch r {
	case Offerer:
		return "offerer"
	case Answerer:
		return "answerer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Conn is the transport connection a session drives. transport.Transport is
// the pion-backed implementation.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sd webrtc.SessionDescription) error
	SetRemoteDescription(sd webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(media.RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	Close() error
}

// ConnFactory allocates a fresh transport connection.
type ConnFactory func() (Conn, error)

// EventKind identifies a transport callback surfaced by a session.
type EventKind int

const (
	LocalCandidate EventKind = iota + 1
	RemoteTrackAdded
	ConnectionStateChanged
)

// Event is a transport callback translated into a value. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind      EventKind
	SessionID string
	Candidate webrtc.ICECandidateInit
	Track     media.RemoteTrack
	State     webrtc.PeerConnectionState
}

type remoteState int

const (
	remoteNone remoteState = iota
	remotePending
	remoteSet
)

// PeerSession owns one transport connection for one matched pair.
//
// Negotiation operations are serialized; Close is not, so it never waits for
// an operation in flight. Events are delivered through emit until Close.
type PeerSession struct {
	id   string
	role Role
	conn Conn
	buf  *CandidateBuffer
	emit func(Event)

	opMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	remote       remoteState
	senders      map[string]*webrtc.RTPSender
	localOrder   []string
	remoteTracks []media.RemoteTrack
}

// New allocates the transport connection and registers its callbacks. buf
// carries candidates received before the session existed; nil starts empty.
// A factory failure is reported as ErrTransportUnavailable.
func New(id string, role Role, factory ConnFactory, buf *CandidateBuffer, emit func(Event)) (*PeerSession, error) {
	conn, err := factory()
	if err != nil {
		return nil, newError("create", id, fmt.Errorf("%w: %v", ErrTransportUnavailable, err))
	}
	if buf == nil {
		buf = NewCandidateBuffer()
	}
	if emit == nil {
		emit = func(Event) {}
	}

	s := &PeerSession{
		id:      id,
		role:    role,
		conn:    conn,
		buf:     buf,
		emit:    emit,
		senders: make(map[string]*webrtc.RTPSender),
	}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.forward(Event{Kind: LocalCandidate, Candidate: c})
	})
	conn.OnTrack(func(track media.RemoteTrack) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.remoteTracks = append(s.remoteTracks, track)
		s.mu.Unlock()
		s.forward(Event{Kind: RemoteTrackAdded, Track: track})
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.forward(Event{Kind: ConnectionStateChanged, State: state})
	})

	util.LogSession(id, "peer session created as %s", role)
	return s, nil
}

// forward emits ev unless the session is closed.
func (s *PeerSession) forward(ev Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	ev.SessionID = s.id
	s.emit(ev)
}

// ID returns the session id issued by the matching server.
func (s *PeerSession) ID() string { return s.id }

// Role returns the role fixed at construction.
func (s *PeerSession) Role() Role { return s.role }

// AttachLocal adds local tracks to the connection. Tracks whose ID is
// already attached are skipped.
func (s *PeerSession) AttachLocal(tracks ...webrtc.TrackLocal) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	for _, track := range tracks {
		s.mu.Lock()
		closed := s.closed
		_, dup := s.senders[track.ID()]
		s.mu.Unlock()

		if closed {
			return newError("attach local", s.id, ErrSessionClosed)
		}
		if dup {
			continue
		}

		sender, err := s.conn.AddTrack(track)
		if err != nil {
			return newError("attach local", s.id, err)
		}

		s.mu.Lock()
		s.senders[track.ID()] = sender
		s.localOrder = append(s.localOrder, track.ID())
		s.mu.Unlock()
	}
	return nil
}

// LocalTrackIDs returns the attached local track ids in attach order.
func (s *PeerSession) LocalTrackIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.localOrder...)
}

// RemoteTracks returns the tracks received so far. Empty after Close.
func (s *PeerSession) RemoteTracks() []media.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.RemoteTrack(nil), s.remoteTracks...)
}

// HasRemoteDescription reports whether the remote description was applied.
func (s *PeerSession) HasRemoteDescription() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote == remoteSet
}

// PendingCandidates returns the number of buffered remote candidates.
func (s *PeerSession) PendingCandidates() int {
	return s.buf.Len()
}

// ApplyRemoteDescription sets the remote description and drains buffered
// candidates in arrival order. It succeeds at most once per session; any
// later call (or a call while one is in flight) returns
// ErrRemoteDescriptionSet.
func (s *PeerSession) ApplyRemoteDescription(sd webrtc.SessionDescription) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return newError("apply remote description", s.id, ErrSessionClosed)
	case s.remote != remoteNone:
		s.mu.Unlock()
		return newError("apply remote description", s.id, ErrRemoteDescriptionSet)
	}
	s.remote = remotePending
	s.mu.Unlock()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.conn.SetRemoteDescription(sd); err != nil {
		s.mu.Lock()
		s.remote = remoteNone
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return newError("apply remote description", s.id, ErrSessionClosed)
		}
		return newError("apply remote description", s.id, err)
	}

	s.mu.Lock()
	s.remote = remoteSet
	s.mu.Unlock()

	n, err := s.buf.Drain(s.conn.AddICECandidate)
	if n > 0 {
		util.LogSession(s.id, "flushed %d buffered candidates", n)
	}
	if err != nil {
		util.LogWarning("session %s: some buffered candidates failed: %v", s.id, err)
	}
	return nil
}

// AddCandidate applies a remote candidate, or buffers it until the remote
// description is set.
func (s *PeerSession) AddCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return newError("add candidate", s.id, ErrSessionClosed)
	}

	applied, err := s.buf.Offer(c, s.conn.AddICECandidate)
	if err != nil {
		return newError("add candidate", s.id, err)
	}
	if !applied {
		util.LogSession(s.id, "buffered candidate (%d pending)", s.buf.Len())
	}
	return nil
}

// CreateOffer creates an offer and sets it as the local description.
func (s *PeerSession) CreateOffer() (webrtc.SessionDescription, error) {
	return s.createLocal("create offer", s.conn.CreateOffer)
}

// CreateAnswer creates an answer and sets it as the local description.
func (s *PeerSession) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.createLocal("create answer", s.conn.CreateAnswer)
}

func (s *PeerSession) createLocal(op string, create func() (webrtc.SessionDescription, error)) (webrtc.SessionDescription, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return webrtc.SessionDescription{}, newError(op, s.id, ErrSessionClosed)
	}

	sd, err := create()
	if err == nil {
		err = s.conn.SetLocalDescription(sd)
	}
	if err != nil {
		if s.isClosed() {
			err = ErrSessionClosed
		}
		return webrtc.SessionDescription{}, newError(op, s.id, err)
	}
	return sd, nil
}

func (s *PeerSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close detaches local tracks and closes the transport. Remote tracks and
// buffered candidates are discarded; callbacks stop being forwarded. Safe to
// call multiple times and while a negotiation operation is in flight.
func (s *PeerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	senders := make([]*webrtc.RTPSender, 0, len(s.localOrder))
	for _, id := range s.localOrder {
		senders = append(senders, s.senders[id])
	}
	s.senders = make(map[string]*webrtc.RTPSender)
	s.localOrder = nil
	s.remoteTracks = nil
	s.mu.Unlock()

	s.buf.Reset()

	var errs []error
	for _, sender := range senders {
		if err := s.conn.RemoveTrack(sender); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.conn.Close())

	util.LogSession(s.id, "peer session closed")
	if err := errors.Join(errs...); err != nil {
		return newError("close", s.id, err)
	}
	return nil
}
