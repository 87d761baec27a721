package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/roomcall/internal/ui"
	"github.com/BioHazard786/roomcall/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "roomcall",
	Short:   "Two-party audio/video calls in a named room, over WebRTC",
	Long:    `roomcall joins a named room on a signaling relay and sets up a direct WebRTC audio/video call with whoever else is in it. Participants can chat through the same relay while the call runs. The relay server ships in the same binary.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
