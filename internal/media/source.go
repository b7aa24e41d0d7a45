package media

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = time.Second / 30
)

// opusSilence is a single Opus frame carrying 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource provides one VP8 video and one Opus audio track fed with
// placeholder samples. It stands in for camera and microphone capture.
type SyntheticSource struct {
	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample
}

// NewSyntheticSource creates the two tracks under streamID.
func NewSyntheticSource(streamID string) (*SyntheticSource, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	return &SyntheticSource{video: video, audio: audio}, nil
}

// Tracks returns the video and audio tracks, in that order.
func (s *SyntheticSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.video, s.audio}
}

// Pump writes silence and blank video frames until ctx is done. Writes to
// unbound tracks are no-ops, so it may run across sessions.
func (s *SyntheticSource) Pump(ctx context.Context) {
	audio := time.NewTicker(audioFrame)
	defer audio.Stop()
	video := time.NewTicker(videoFrame)
	defer video.Stop()

	blank := make([]byte, 16)
	for {
		select {
		case <-ctx.Done():
			return
		case <-audio.C:
			_ = s.audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: audioFrame})
		case <-video.C:
			_ = s.video.WriteSample(pionmedia.Sample{Data: blank, Duration: videoFrame})
		}
	}
}
