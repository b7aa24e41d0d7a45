// Package app wires the client together: configuration, transport factory,
// local media, the coordinator, and the terminal chat surface.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/vibetalk/internal/chat"
	"github.com/1ureka/vibetalk/internal/config"
	"github.com/1ureka/vibetalk/internal/coordinator"
	"github.com/1ureka/vibetalk/internal/media"
	"github.com/1ureka/vibetalk/internal/signaling"
	"github.com/1ureka/vibetalk/internal/transport"
	"github.com/1ureka/vibetalk/internal/util"
)

// Command is one line of terminal input.
type Command int

const (
	CmdChat Command = iota
	CmdStart
	CmdNext
	CmdLeave
	CmdHelp
	CmdEmpty
)

// ParseLine classifies a line of input. Lines starting with "/" are
// commands; anything else is chat text.
func ParseLine(line string) (Command, string) {
	trimmed := strings.TrimSpace(line)
	switch strings.ToLower(trimmed) {
	case "":
		return CmdEmpty, ""
	case "/start":
		return CmdStart, ""
	case "/next", "/skip":
		return CmdNext, ""
	case "/leave", "/quit", "/exit":
		return CmdLeave, ""
	case "/help", "/?":
		return CmdHelp, ""
	}
	return CmdChat, line
}

const helpText = "Commands: /next (skip partner), /start (search again when idle), /leave (quit), /help. Anything else is sent as chat."

// Run orchestrates the client lifecycle:
//  1. Build the transport factory and local media
//  2. Start the coordinator and connect to the matching server
//  3. Relay terminal input as chat or commands until /leave or ctx ends
func Run(ctx context.Context, cfg *config.Config, in io.Reader) error {
	// ── 1. Transport and media ─────────────────────────────────────────
	factory, err := transport.NewFactory(transport.Options{STUN: cfg.ICE.STUN})
	if err != nil {
		return fmt.Errorf("failed to prepare transport: %w", err)
	}

	source, err := media.NewSyntheticSource("vibetalk")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go source.Pump(ctx)

	codec, err := signaling.CodecByName(cfg.Signaling.Codec)
	if err != nil {
		return err
	}

	// ── 2. Coordinator ─────────────────────────────────────────────────
	c := coordinator.New(coordinator.Options{
		Dial: coordinator.ChannelDialer(cfg.Server, signaling.Identity{Name: cfg.Name},
			signaling.WithCodec(codec),
			signaling.WithKeepAlive(cfg.Signaling.KeepAlive),
			signaling.WithWriteWait(cfg.Signaling.WriteWait)),
		Conns:         factory.ConnFactory(),
		Source:        source,
		Sink:          media.NewDrainSink(),
		RedialTimeout: cfg.Signaling.RedialTimeout,
	})

	c.OnStatus(printStatus)
	c.Chat().OnMessage(printMessage)

	loopErr := make(chan error, 1)
	go func() { loopErr <- c.Run(ctx) }()

	if err := c.Start(); err != nil {
		return err
	}
	util.StartStatsReporter(ctx, cfg.StatsInterval)
	pterm.Info.Println(helpText)

	// ── 3. Terminal input ──────────────────────────────────────────────
	lines := make(chan string)
	go readLines(ctx, in, lines)

	for {
		select {
		case <-ctx.Done():
			cancel()
			if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case line, ok := <-lines:
			if !ok {
				c.Leave()
				return nil
			}
			if quit := handleLine(c, line); quit {
				return nil
			}
		}
	}
}

// handleLine applies one input line. It reports true when the user leaves.
func handleLine(c *coordinator.Coordinator, line string) bool {
	cmd, text := ParseLine(line)
	switch cmd {
	case CmdStart:
		if err := c.Start(); err != nil {
			util.LogWarning("cannot start: %v", err)
		}
	case CmdNext:
		if !c.Skip() {
			util.LogWarning("no partner to skip")
		}
	case CmdLeave:
		c.Leave()
		util.LogInfo("left the chat")
		return true
	case CmdHelp:
		pterm.Info.Println(helpText)
	case CmdChat:
		if c.SendChat(text) {
			break
		}
		switch {
		case c.State() == coordinator.Idle:
			util.LogWarning("message not sent: not connected, type /start to search again")
		case c.Chat().SessionID() == "":
			util.LogWarning("message not sent: no partner yet")
		default:
			util.LogWarning("message not sent")
		}
	}
	return false
}

// readLines forwards lines from r until EOF or ctx ends, then closes out.
func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func printStatus(s coordinator.Status) {
	switch s {
	case coordinator.StatusSearching:
		pterm.Info.Println("Searching for a partner...")
	case coordinator.StatusConnecting:
		pterm.Info.Println("Partner found, connecting...")
	case coordinator.StatusConnected:
		pterm.Success.Println("Connected. Say hi!")
	case coordinator.StatusIdle:
		pterm.Info.Println("Idle. Type /start to search again or /leave to quit.")
	}
}

func printMessage(m chat.Message) {
	prefix := pterm.FgCyan.Sprint("stranger")
	if m.Origin == chat.Local {
		prefix = pterm.FgGreen.Sprint("you")
	}
	pterm.Printfln("%s %s: %s", m.At.Format("15:04"), prefix, m.Text)
}
