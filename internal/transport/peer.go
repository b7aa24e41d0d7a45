package transport

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/vibetalk/internal/config"
	"github.com/1ureka/vibetalk/internal/session"
	"github.com/1ureka/vibetalk/internal/util"
)

// Options configures the peer connections built by a Factory.
type Options struct {
	// STUN lists the reflection servers used for candidate gathering.
	// Empty means config.DefaultSTUNServers. No TURN.
	STUN []string

	// LocalOnly skips the STUN servers and gathers host candidates only,
	// loopback included (in-process tests).
	LocalOnly bool
}

// Factory builds PeerConnections sharing one pion API: default codecs,
// default interceptors, and pion logs routed through the pterm logger.
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

// NewFactory prepares the media engine, interceptor registry and setting
// engine once; every Transport reuses them.
func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: util.NewPionLoggerFactory()}
	if opts.LocalOnly {
		s.SetIncludeLoopbackCandidate(true)
		s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	stun := opts.STUN
	if len(stun) == 0 {
		stun = config.DefaultSTUNServers
	}
	conf := webrtc.Configuration{}
	if !opts.LocalOnly {
		conf.ICEServers = []webrtc.ICEServer{{URLs: stun}}
	}

	return &Factory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: conf,
	}, nil
}

// newPeerConnection allocates a PeerConnection with the factory settings.
func (f *Factory) newPeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(f.conf)
}

// ConnFactory adapts the factory to what a PeerSession allocates from.
func (f *Factory) ConnFactory() session.ConnFactory {
	return func() (session.Conn, error) {
		return f.New()
	}
}
