package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/engine"
	"github.com/normanking/avatarchat/internal/session"
)

func simulateCmd() *cobra.Command {
	var echo bool
	var fast bool

	cmd := &cobra.Command{
		Use:   "simulate [message...]",
		Short: "Run a scripted conversation against the simulated engine",
		Long: `Connect to the in-process engine, send each message in turn and print the
session events as they arrive. Without messages the echo playlist is played
once through.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			simCfg := simulatorConfig(cfg.Simulator)
			if fast {
				simCfg = engine.SimulatorConfig{SttTranscript: simCfg.SttTranscript}
			}
			return runSimulate(cmd.Context(), simCfg, args, echo)
		},
	}

	cmd.Flags().BoolVar(&echo, "echo", false, "echo the messages instead of sending them as chat")
	cmd.Flags().BoolVar(&fast, "fast", false, "deliver events without simulated delays")
	return cmd
}

func runSimulate(ctx context.Context, simCfg engine.SimulatorConfig, messages []string, echo bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	zl := log.Zerolog()

	sim := engine.NewSimulator(simCfg, zl)
	defer sim.Close()

	entries, err := initialPlaylist(cfg.Echo)
	if err != nil {
		return err
	}

	eventBus := bus.NewEventBus()
	eventBus.SubscribeMultiple(bus.AllEventTypes, printEvent)

	opt := initOption(cfg.Engine)
	if opt.SDKKey == "" {
		opt.SDKKey = "simulator"
	}
	ctl := session.NewController(sim, eventBus, zl, session.Options{
		Init:             opt,
		Playlist:         entries,
		RetainTranscript: true,
	})

	if err := ctl.Connect(ctx); err != nil {
		return err
	}

	turns := len(messages)
	if turns == 0 {
		turns = len(entries)
	}
	for i := 0; i < turns; i++ {
		if err := waitIdle(ctx, ctl); err != nil {
			return err
		}
		switch {
		case len(messages) == 0:
			_, err = ctl.PlayNextEcho()
		case echo:
			err = ctl.Echo(messages[i])
		default:
			err = ctl.SendText(messages[i])
		}
		if err != nil {
			return err
		}
		if err := sim.Drain(ctx); err != nil {
			return err
		}
	}

	if err := ctl.Disconnect(); err != nil {
		return err
	}
	if err := sim.Drain(ctx); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Session finished with %d transcript events", len(ctl.Transcript()))))
	return nil
}

// waitIdle blocks until the avatar accepts input again.
func waitIdle(ctx context.Context, ctl *session.Controller) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !ctl.Snapshot().CanSend {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func printEvent(e bus.Event) {
	ts := dimStyle.Render(e.Timestamp.Format("15:04:05.000"))
	switch e.Type {
	case bus.EventSessionStarted, bus.EventSessionEnded:
		fmt.Printf("%s %s %s\n", ts, titleStyle.Render(string(e.Type)), dimStyle.Render(e.SessionID))
	case bus.EventEngineStatus:
		fmt.Printf("%s status   %s\n", ts, e.String("phase"))
	case bus.EventEngineChat:
		line := fmt.Sprintf("%s chat     %-20s", ts, e.String("chat_type"))
		if msg := e.String("message"); msg != "" {
			line += " " + msg
		}
		fmt.Println(strings.TrimRight(line, " "))
	case bus.EventGuidance:
		fmt.Printf("%s guidance %s\n", ts, dimStyle.Render(e.String("guidance")))
	case bus.EventInterruptRejected:
		fmt.Printf("%s %s\n", ts, errorStyle.Render("interrupt rejected: "+e.String("reason")))
	case bus.EventCommand:
		if errText := e.String("error"); errText != "" {
			fmt.Printf("%s command  %s %s\n", ts, e.String("command"), errorStyle.Render(errText))
		}
	}
}
