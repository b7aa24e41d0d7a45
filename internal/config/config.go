// Package config holds the client configuration and its loader.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

// EnvPrefix is the prefix of environment variables read by Load,
// e.g. VIBETALK_SERVER or VIBETALK_SIGNALING_CODEC.
const EnvPrefix = "VIBETALK"

// FileName is the configuration file looked up by Load.
const FileName = "vibetalk.yaml"

// DefaultSTUNServers is the fixed list of public reflection servers used for
// ICE candidate gathering. No TURN: relay fallback is not part of this client.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores all client parameters.
type Config struct {
	// Server is the matching server WebSocket URL.
	Server string `fig:"server" default:"ws://localhost:8080/ws"`

	// Name is the display name sent to the matching server.
	Name string `fig:"name"`

	Debug bool `fig:"debug"`

	Signaling Signaling `fig:"signaling"`
	ICE       ICE       `fig:"ice"`

	// StatsInterval is the period of the stats reporter; zero disables it.
	StatsInterval time.Duration `fig:"statsInterval" default:"30s"`
}

// Signaling configures the WebSocket channel to the matching server.
type Signaling struct {
	Codec     string        `fig:"codec" default:"json"` // json | msgpack
	KeepAlive time.Duration `fig:"keepAlive" default:"25s"`
	WriteWait time.Duration `fig:"writeWait" default:"10s"`

	// RedialTimeout bounds the reconnect attempts after an unexpected drop.
	RedialTimeout time.Duration `fig:"redialTimeout" default:"1m"`
}

// ICE configures network traversal.
type ICE struct {
	STUN []string `fig:"stun"`
}

// Options carries CLI flag overrides. Empty fields leave the loaded value.
type Options struct {
	Path   string
	Server string
	Name   string
	Codec  string
	Debug  bool
}

// Load reads configuration with the following priority:
//  1. CLI flags (passed via Options) - highest priority
//  2. Environment variables (VIBETALK_*)
//  3. vibetalk.yaml from opts.Path, ".", "configs" or ~/.vibetalk
//  4. Struct defaults - lowest priority
func Load(opts Options) (*Config, error) {
	var cfg Config

	dirs := []string{".", "configs"}
	if opts.Path != "" {
		dirs = []string{opts.Path}
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home+"/.vibetalk")
	}

	err := fig.Load(&cfg, fig.File(FileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		if opts.Path != "" {
			return nil, fmt.Errorf("config file not found in %s: %w", opts.Path, err)
		}
		err = fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.apply(opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) apply(opts Options) {
	if opts.Server != "" {
		c.Server = opts.Server
	}
	if opts.Name != "" {
		c.Name = opts.Name
	}
	if opts.Codec != "" {
		c.Signaling.Codec = opts.Codec
	}
	if opts.Debug {
		c.Debug = true
	}
	if len(c.ICE.STUN) == 0 {
		c.ICE.STUN = append([]string(nil), DefaultSTUNServers...)
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Signaling.Codec = strings.ToLower(strings.TrimSpace(c.Signaling.Codec))
}

// Validate checks the fields that cannot be repaired with a default.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server URL: %q", c.Server)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server URL must use ws or wss: %q", c.Server)
	}

	switch c.Signaling.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported signaling codec: %q", c.Signaling.Codec)
	}

	for _, s := range c.ICE.STUN {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("invalid STUN server: %q", s)
		}
	}
	return nil
}
