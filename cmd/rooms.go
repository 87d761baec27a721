package cmd

import (
	"fmt"

	"github.com/BioHazard786/roomcall/internal/config"
	"github.com/BioHazard786/roomcall/internal/ui"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List live rooms on a relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{Domain: flagDomain})
		if err != nil {
			return err
		}

		var rooms map[string][]string
		if err := getJSON(cmd.Context(), cfg, "/debug/rooms", &rooms); err != nil {
			return err
		}
		fmt.Println(ui.RoomsView(rooms))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Relay domain (host[:port])")
}
