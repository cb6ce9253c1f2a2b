package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/avatarchat/internal/archive"
	"github.com/normanking/avatarchat/internal/config"
	"github.com/normanking/avatarchat/internal/relay"
)

func openArchive() (*archive.Store, error) {
	if _, err := os.Stat(cfg.Archive.Path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no archive at %s (enable archive.enabled and run 'avatarchat serve')", cfg.Archive.Path)
	}
	return archive.Open(cfg.Archive.Path)
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse archived sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Println(dimStyle.Render("No sessions archived yet."))
				return nil
			}

			fmt.Println(titleStyle.Render(fmt.Sprintf("Sessions (%d)", len(sessions))))
			fmt.Println()
			for _, s := range sessions {
				ended := dimStyle.Render("live")
				if s.EndedAt != nil {
					ended = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
				}
				fmt.Printf("  %s  %s  %-12s %4d events  %s\n",
					s.ID,
					s.StartedAt.Local().Format("2006-01-02 15:04"),
					s.AvatarID,
					s.EventCount,
					ended)
			}
			return nil
		},
	}
	listCmd.Flags().Int("limit", 20, "maximum number of sessions")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [session-id]",
		Short: "Print the transcript of an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.GetSession(args[0])
			if err != nil {
				return err
			}
			entries, err := store.LoadTranscript(rec.ID)
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Session " + rec.ID))
			fmt.Printf("  Avatar:  %s\n", rec.AvatarID)
			fmt.Printf("  Started: %s\n", rec.StartedAt.Local().Format(time.RFC1123))
			if rec.EndedAt != nil {
				fmt.Printf("  Ended:   %s\n", rec.EndedAt.Local().Format(time.RFC1123))
			}
			fmt.Println()
			for _, e := range entries {
				line := fmt.Sprintf("  %s %-20s", dimStyle.Render(e.ReceivedAt.Local().Format("15:04:05")), e.Event.ChatType)
				if e.Event.Message != "" {
					line += " " + e.Event.Message
				}
				fmt.Println(line)
			}
			return nil
		},
	})

	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the Redis event relay",
	}

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent relayed events",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt64("count")

			r, err := relay.NewRedisRelay(relayConfig(cfg.Redis), log.Zerolog())
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			entries, err := r.Tail(ctx, n)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(dimStyle.Render("Stream " + cfg.Redis.Stream + " is empty."))
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %s  %-24s %s\n",
					dimStyle.Render(e.ID),
					e.Event.Timestamp.Local().Format("15:04:05.000"),
					e.Event.Type,
					e.Event.SessionID)
			}
			return nil
		},
	}
	tailCmd.Flags().Int64P("count", "n", 20, "number of events")
	cmd.AddCommand(tailCmd)

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := cfg.Redacted().YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				fmt.Println(cfgPath)
				return nil
			}
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			// initialize has already validated by the time this runs.
			fmt.Println(successStyle.Render("✓ Configuration is valid"))
			return nil
		},
	})

	return cmd
}
