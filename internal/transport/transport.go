// Package transport wraps a pion PeerConnection into the connection a peer
// session drives.
package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vibetalk/internal/media"
	"github.com/1ureka/vibetalk/internal/session"
	"github.com/1ureka/vibetalk/internal/util"
)

// Compile-time interface check.
var _ session.Conn = (*Transport)(nil)

// Transport wraps a single PeerConnection carrying the audio/video tracks of
// one session. Signaling is left to the caller: descriptions and candidates
// go in and out through the methods below.
type Transport struct {
	pc *webrtc.PeerConnection

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu       sync.RWMutex
	pcState  webrtc.PeerConnectionState
	onChange func(webrtc.PeerConnectionState)
}

// New creates a Transport backed by a new PeerConnection.
func (f *Factory) New() (*Transport, error) {
	pc, err := f.newPeerConnection()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		pc:      pc,
		done:    make(chan struct{}),
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		fn := t.onChange
		t.mu.Unlock()

		if fn != nil {
			fn(state)
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the Transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close shuts down the PeerConnection. Safe to call multiple times; later
// calls return the first result.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// OnConnectionStateChange registers a callback for PeerConnection state
// changes. The state is also recorded for ConnectionState.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked for every gathered local ICE
// candidate. The end-of-gathering nil candidate is not forwarded.
func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track. Incoming RTCP for it is read and
// discarded so the interceptors keep running.
func (t *Transport) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)
	return sender, nil
}

// RemoveTrack stops sending the track behind sender.
func (t *Transport) RemoveTrack(sender *webrtc.RTPSender) error {
	return t.pc.RemoveTrack(sender)
}

// OnTrack registers a callback invoked for every remote track.
func (t *Transport) OnTrack(fn func(media.RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("remote %s track: %s", track.Kind(), track.ID())
		fn(track)
	})
}

// drainRTCP reads from sender until it is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
