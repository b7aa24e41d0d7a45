// VibeTalk CLI entry point.
//
// This tool joins a matching server, pairs with a random stranger, and opens
// a WebRTC audio/video session with text chat relayed through the server.
// Type /next to skip the current partner and /leave to quit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/vibetalk/internal/app"
	"github.com/1ureka/vibetalk/internal/config"
	"github.com/1ureka/vibetalk/internal/util"
)

var version = "dev"

var opts config.Options

var rootCmd = &cobra.Command{
	Use:           "vibetalk",
	Short:         "Anonymous 1:1 video and text chat",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&opts.Path, "config", "c", "", "Directory containing vibetalk.yaml")
	rootCmd.Flags().StringVarP(&opts.Server, "server", "s", "", "Matching server WebSocket URL")
	rootCmd.Flags().StringVarP(&opts.Name, "name", "n", "", "Display name")
	rootCmd.Flags().StringVar(&opts.Codec, "codec", "", "Signaling codec: json or msgpack")
	rootCmd.Flags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("VibeTalk v%s", version))
	pterm.Println()

	if cfg.Name == "" {
		cfg.Name = askName()
	}

	if err := app.Run(cmd.Context(), cfg, os.Stdin); err != nil {
		return err
	}

	util.LogInfo("goodbye")
	return nil
}

// askName prompts the user for a display name until a non-blank one is entered.
func askName() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Display name").
			Show()

		if name := strings.TrimSpace(raw); name != "" {
			pterm.Println()
			return name
		}

		pterm.Println()
		util.LogWarning("invalid input: name cannot be blank")
	}
}
