package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BioHazard786/roomcall/internal/call"
	"github.com/BioHazard786/roomcall/internal/chat"
	"github.com/BioHazard786/roomcall/internal/config"
	"github.com/BioHazard786/roomcall/internal/media"
	"github.com/BioHazard786/roomcall/internal/peer"
	"github.com/BioHazard786/roomcall/internal/signaling"
	"github.com/BioHazard786/roomcall/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagDomain   string
	flagRelayURL string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagCodec    string
	flagName     string
	flagVideo    string
	flagAudio    string
	flagRecord   string
	flagNoVideo  bool
	flagNoAudio  bool
	flagPlain    bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room|link]",
	Aliases: []string{"j"},
	Short:   "Join a room and start a call",
	Long: `Join a named room on the relay and call whoever else is in it.
Without a room name the relay picks a fresh one for you to share.

Examples:
  roomcall join
  roomcall join brave-otter-lamp
  roomcall join https://call.example.com/r/brave-otter-lamp
  roomcall join lobby --video cam.ivf --audio mic.ogg --record ./calls
  roomcall join lobby --plain --codec msgpack`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{
			Domain:      flagDomain,
			RelayURL:    flagRelayURL,
			STUNServer:  flagSTUN,
			TURNServer:  flagTURN,
			TURNUser:    flagTURNUser,
			TURNPass:    flagTURNPass,
			ForceRelay:  flagRelay,
			Codec:       flagCodec,
			DisplayName: flagName,
			VideoFile:   flagVideo,
			AudioFile:   flagAudio,
			RecordDir:   flagRecord,
		})
		if err != nil {
			return err
		}

		constraints := media.Constraints{Video: !flagNoVideo, Audio: !flagNoAudio}
		source, err := mediaSource(cfg, constraints)
		if err != nil {
			return err
		}

		var room string
		if len(args) == 1 {
			if room, err = parseRoomInput(args[0]); err != nil {
				return err
			}
		} else {
			if room, err = requestRoomName(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Println(ui.RoomInfoView(room, roomLink(cfg, room)))
			fmt.Println()
		}

		return joinRoom(cmd.Context(), cfg, room, source, constraints)
	},
}

func joinRoom(ctx context.Context, cfg *config.Config, room string, source media.Source, constraints media.Constraints) error {
	sink, err := mediaSink(cfg, room)
	if err != nil {
		return err
	}

	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	api, err := peer.NewAPI()
	if err != nil {
		return err
	}

	client := signaling.NewClient(cfg.RelayURL, codec)
	chatRelay := chat.NewRelay(client, room, cfg.DisplayName)

	deps := call.Deps{
		Relay: client,
		Media: source,
		NewPeer: func() (call.PeerConnection, error) {
			pc, err := peer.NewAdapter(api, cfg)
			if err != nil {
				return nil, err
			}
			return pc, nil
		},
		Sink: sink,
		Chat: chatRelay,
	}
	opts := call.Options{Room: room, Constraints: constraints}

	var orch *call.Orchestrator
	if flagPlain {
		orch, err = runPlain(ctx, opts, deps, chatRelay)
	} else {
		orch, err = runInteractive(ctx, opts, deps, chatRelay, cfg.DisplayName)
	}

	fmt.Println()
	ui.RenderSummary(orch.Stats())
	if disk, ok := sink.(*media.DiskSink); ok {
		for _, f := range disk.Files() {
			ui.PrintSuccess("Recorded " + f)
		}
	}
	return err
}

func runInteractive(ctx context.Context, opts call.Options, deps call.Deps, chatRelay *chat.Relay, name string) (*call.Orchestrator, error) {
	var orch *call.Orchestrator
	view := ui.NewCallUI(opts.Room, name, ui.CallHooks{
		Send:  chatRelay.Send,
		Leave: func() { orch.Leave() },
		Stats: func() call.Stats { return orch.Stats() },
		Lines: chatRelay.Log().Lines,
	})
	deps.Listener = view
	orch = call.New(opts, deps)

	result := make(chan error, 1)
	go func() {
		err := orch.Run(ctx)
		view.Ended(err)
		result <- err
	}()

	if err := view.Run(); err != nil {
		orch.Leave()
		<-result
		return orch, fmt.Errorf("call view: %w", err)
	}
	// The view only closes once the call has ended.
	return orch, <-result
}

func runPlain(ctx context.Context, opts call.Options, deps call.Deps, chatRelay *chat.Relay) (*call.Orchestrator, error) {
	deps.Listener = ui.NewPlainListener(os.Stdout)
	orch := call.New(opts, deps)

	ui.PrintInfof("Joining %s. Type a message and press enter to chat, /leave to hang up.", opts.Room)
	go readChat(os.Stdin, orch, chatRelay)

	return orch, orch.Run(ctx)
}

// readChat forwards stdin lines to the room until EOF or /leave.
func readChat(r io.Reader, orch *call.Orchestrator, chatRelay *chat.Relay) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "/leave" {
			orch.Leave()
			return
		}
		if err := chatRelay.Send(line); err != nil && !errors.Is(err, call.ErrEmptyMessage) {
			ui.PrintWarning(err.Error())
		}
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Relay domain (host[:port])")
	joinCmd.Flags().StringVar(&flagRelayURL, "relay-url", "", "Full relay WebSocket URL, overrides --domain")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagCodec, "codec", "", "Relay wire codec: json or msgpack")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown in chat")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "VP8 IVF file to send as the camera")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Opus Ogg file to send as the microphone")
	joinCmd.Flags().StringVar(&flagRecord, "record", "", "Directory to record the remote tracks into")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Do not send video")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Do not send audio")
	joinCmd.Flags().BoolVar(&flagPlain, "plain", false, "Line-oriented output instead of the interactive view")
}
