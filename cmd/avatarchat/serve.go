package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/avatarchat/internal/archive"
	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/config"
	"github.com/normanking/avatarchat/internal/engine"
	"github.com/normanking/avatarchat/internal/metrics"
	"github.com/normanking/avatarchat/internal/playlist"
	"github.com/normanking/avatarchat/internal/relay"
	"github.com/normanking/avatarchat/internal/server"
	"github.com/normanking/avatarchat/internal/session"
)

func serveCmd() *cobra.Command {
	var addr string
	var mode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Run the HTTP and WebSocket server that owns the avatar session.

In simulator mode the engine runs in-process. In bridge mode the engine page
connects to /bridge and receives commands over that socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if mode != "" {
				cfg.Engine.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&mode, "engine", "", "engine mode: simulator or bridge (overrides engine.mode)")
	return cmd
}

// closers runs cleanup in reverse registration order.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := log.Zerolog()
	var cleanup closers
	defer cleanup.run()

	eventBus := bus.NewEventBus()
	metrics.Attach(eventBus)

	eng, bridge := buildEngine(cfg, zl)
	cleanup.add(func() { closeEngine(eng) })

	entries, err := initialPlaylist(cfg.Echo)
	if err != nil {
		return err
	}

	ctl := session.NewController(eng, eventBus, zl, session.Options{
		Init:             initOption(cfg.Engine),
		Playlist:         entries,
		MaxTranscript:    cfg.Transcript.MaxEntries,
		RetainTranscript: cfg.Transcript.RetainOnDisconnect,
	})
	cleanup.add(func() {
		if err := ctl.Disconnect(); err != nil && !errors.Is(err, session.ErrNotConnected) {
			zl.Warn().Err(err).Msg("Disconnect on shutdown failed")
		}
	})

	if cfg.Echo.PlaylistFile != "" && cfg.Echo.Watch {
		w, err := playlist.Watch(cfg.Echo.PlaylistFile, ctl.SetPlaylist, zl)
		if err != nil {
			zl.Warn().Err(err).Str("path", cfg.Echo.PlaylistFile).Msg("Playlist watch disabled")
		} else {
			cleanup.add(func() { w.Close() })
		}
	}

	var srvOpts []server.Option
	srvOpts = append(srvOpts, server.WithLogHistory(log))
	if bridge != nil {
		srvOpts = append(srvOpts, server.WithBridge(bridge))
	}

	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		cleanup.add(func() { store.Close() })
		archive.NewRecorder(store, zl).Attach(eventBus)
		srvOpts = append(srvOpts, server.WithArchive(store))

		if cfg.Archive.Retention > 0 {
			pruner, err := archive.NewPruner(store, cfg.Archive.Retention, cfg.Archive.PruneSchedule, zl)
			if err != nil {
				return err
			}
			pruner.RunOnce()
			pruner.Start()
			cleanup.add(pruner.Stop)
		}
	}

	if cfg.Redis.Enabled {
		r, err := relay.NewRedisRelay(relayConfig(cfg.Redis), zl)
		if err != nil {
			zl.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis relay disabled")
		} else {
			cleanup.add(func() { r.Close() })
			r.Attach(eventBus)
		}
	}

	srv := server.New(server.Options{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, ctl, eventBus, zl, srvOpts...)

	zl.Info().
		Str("mode", cfg.Engine.Mode).
		Str("avatar", cfg.Engine.AvatarID).
		Int("playlist", len(entries)).
		Bool("archive", cfg.Archive.Enabled).
		Bool("redis", cfg.Redis.Enabled).
		Msg("Starting avatarchat")

	err = srv.ListenAndServe(ctx)
	zl.Info().Msg("Server stopped")
	return err
}

// buildEngine returns the configured engine and, in bridge mode, the handler
// the engine page connects to.
func buildEngine(c *config.Config, zl zerolog.Logger) (engine.Engine, http.Handler) {
	if c.Engine.Mode == config.ModeBridge {
		b := engine.NewBridge(zl,
			engine.WithAckTimeout(c.Engine.AckTimeout),
			engine.WithCheckOrigin(server.CheckOrigin(c.Server.AllowedOrigins)),
		)
		return b, b
	}
	return engine.NewSimulator(simulatorConfig(c.Simulator), zl), nil
}

func closeEngine(eng engine.Engine) {
	if c, ok := eng.(interface{ Close() error }); ok {
		c.Close()
	}
}

func initOption(c config.EngineConfig) engine.InitOption {
	return engine.InitOption{
		SDKKey:              c.SDKKey,
		AvatarID:            c.AvatarID,
		VoiceCode:           c.VoiceCode,
		SubtitleCode:        c.SubtitleCode,
		VoiceTTSSpeechSpeed: c.VoiceTTSSpeechSpeed,
		EnableMicrophone:    c.EnableMicrophone,
		LogLevel:            c.LogLevel,
		CustomID:            c.CustomID,
		UserKey:             c.UserKey,
	}
}

func simulatorConfig(c config.SimulatorConfig) engine.SimulatorConfig {
	return engine.SimulatorConfig{
		StatusDelay:   c.StatusDelay,
		ResponseDelay: c.ResponseDelay,
		SentenceDelay: c.SentenceDelay,
		SttTranscript: c.SttTranscript,
	}
}

func relayConfig(c config.RedisConfig) relay.Config {
	return relay.Config{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		Stream:   c.Stream,
		MaxLen:   c.MaxLen,
	}
}

// initialPlaylist prefers the playlist file over the inline entries.
func initialPlaylist(c config.EchoConfig) ([]string, error) {
	if c.PlaylistFile == "" {
		return c.Playlist, nil
	}
	entries, err := playlist.Load(c.PlaylistFile)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
