package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BioHazard786/roomcall/internal/config"
	"github.com/BioHazard786/roomcall/internal/relay"
	"github.com/BioHazard786/roomcall/internal/version"
	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	flagListen      string
	flagRedisAddr   string
	flagRedisPrefix string
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the room-scoped signaling relay. Clients connect to /ws, ask
/new-room for a fresh room name, and /debug/rooms lists live rooms.

Room membership is mirrored into Redis when --redis is set, so it can be
inspected from outside the process.

Examples:
  roomcall serve
  roomcall serve --listen :9000 --redis localhost:6379`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(config.Options{
			ListenAddr:  flagListen,
			RedisAddr:   flagRedisAddr,
			RedisPrefix: flagRedisPrefix,
		})
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	pterm.DefaultHeader.WithFullWidth().Println("roomcall relay " + version.Version)

	presence, closePresence, err := presenceStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePresence()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := relay.NewHub(presence)
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           relay.Routes(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	pterm.Info.Printfln("Listening on %s", cfg.ListenAddr)
	pterm.Info.Printfln("WebSocket endpoint: ws://<host>%s/ws", cfg.ListenAddr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	pterm.Warning.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("relay shutdown", "err", err)
	}
	stopHub()
	pterm.Success.Println("Relay stopped")
	return nil
}

// presenceStore picks Redis when configured and in-memory otherwise.
func presenceStore(ctx context.Context, cfg *config.Config) (relay.PresenceStore, func(), error) {
	if cfg.RedisAddr == "" {
		pterm.Info.Println("Room presence kept in memory")
		return relay.NewMemoryPresence(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	pterm.Info.Printfln("Room presence mirrored to redis at %s (prefix %q)", cfg.RedisAddr, cfg.RedisPrefix)
	return relay.NewRedisPresence(rdb, cfg.RedisPrefix), func() { rdb.Close() }, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Address to listen on (default "+config.DefaultListenAddr+")")
	serveCmd.Flags().StringVar(&flagRedisAddr, "redis", "", "Redis address for room presence")
	serveCmd.Flags().StringVar(&flagRedisPrefix, "redis-prefix", "", "Key prefix for room presence in Redis")
}
