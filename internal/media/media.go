// Package media defines the capture and rendering collaborators consumed by
// the negotiation core. Local tracks are owned by a Source; remote tracks are
// handed to a Sink. The core only attaches and detaches them.
package media

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is a track received from the peer. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

var _ RemoteTrack = (*webrtc.TrackRemote)(nil)

// Source provides the locally captured tracks.
type Source interface {
	Tracks() []webrtc.TrackLocal
}

// Sink accepts remote tracks for rendering. Attach is called once per track,
// from a transport callback goroutine; it must not block.
type Sink interface {
	Attach(track RemoteTrack)
}

// HasAudioVideo reports whether tracks contain at least one audio and one
// video track.
func HasAudioVideo(tracks []webrtc.TrackLocal) bool {
	var audio, video bool
	for _, t := range tracks {
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			audio = true
		case webrtc.RTPCodecTypeVideo:
			video = true
		}
	}
	return audio && video
}
