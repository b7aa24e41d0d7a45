package media

import (
	"io"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// fakeRemote yields n packets of size bytes each, then io.EOF.
type fakeRemote struct {
	id   string
	n    int
	size int
}

func (f *fakeRemote) ID() string                { return f.id }
func (f *fakeRemote) StreamID() string          { return "stream" }
func (f *fakeRemote) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

func (f *fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if f.n == 0 {
		return nil, nil, io.EOF
	}
	f.n--
	return &rtp.Packet{Payload: make([]byte, f.size)}, nil, nil
}

func TestSyntheticSourceHasAudioVideo(t *testing.T) {
	src, err := NewSyntheticSource("local")
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}

	tracks := src.Tracks()
	if !HasAudioVideo(tracks) {
		t.Fatal("synthetic source should carry audio and video")
	}
	if HasAudioVideo(tracks[:1]) {
		t.Fatal("video-only must not pass the audio+video gate")
	}
	if HasAudioVideo(nil) {
		t.Fatal("no tracks must not pass the audio+video gate")
	}
}

func TestDrainSinkCountsPackets(t *testing.T) {
	sink := NewDrainSink()
	sink.Attach(&fakeRemote{id: "v", n: 5, size: 100})
	sink.Attach(&fakeRemote{id: "a", n: 2, size: 10})
	sink.Wait()

	if got := sink.Packets("v"); got != 5 {
		t.Errorf("video packets = %d, want 5", got)
	}
	if got := sink.Packets("a"); got != 2 {
		t.Errorf("audio packets = %d, want 2", got)
	}
}
