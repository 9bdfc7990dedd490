package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/session"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the shield host until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup()
			if err != nil {
				return err
			}

			log.Info(map[string]any{
				"version":         version,
				"env":             app.config.Env,
				"log_level":       app.config.LogLevel,
				"cache":           app.config.CachePath(),
				"sources":         len(app.sources),
				"update_interval": app.config.UpdateInterval.String(),
			}, "Starting rr-shield")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.Run(ctx); err != nil {
				return err
			}
			log.Info(nil, "rr-shield stopped gracefully")
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	var page string
	cmd := &cobra.Command{
		Use:   "check URL...",
		Short: "Report whether requests would be blocked",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = app.manager.Close() }()

			s := session.NewMemory("check")
			if err := app.manager.Enable(cmd.Context(), s); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, raw := range args {
				req, err := domain.NewRequest(raw, page)
				if err != nil {
					return err
				}
				d := s.Check(req)
				switch {
				case d.Blocked:
					fmt.Fprintf(out, "BLOCK %s (%s %s from %s)\n", raw, d.Kind, d.MatchedRule, d.Source)
				case d.Exception:
					fmt.Fprintf(out, "ALLOW %s (exception %s from %s)\n", raw, d.MatchedRule, d.Source)
				default:
					fmt.Fprintf(out, "ALLOW %s\n", raw)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "page", "", "URL of the page issuing the requests, for third-party rules")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download and compile the rule lists now and write the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = app.manager.Close() }()

			e, err := app.codec.Compile(cmd.Context(), app.sources)
			if err != nil {
				return err
			}
			app.cache.Save(e)

			st := e.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "compiled engine %s: %d rules (%d exceptions) from %d sources\n",
				st.ID, st.Rules, st.Exceptions, st.Sources)
			return nil
		},
	}
}

func newCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "Show the cached engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = app.manager.Close() }()

			out := cmd.OutOrStdout()
			st, ok := app.cache.Stats()
			if !ok {
				fmt.Fprintf(out, "no cached engine at %s\n", st.Path)
				return nil
			}
			updated := time.Unix(st.UpdatedUnix, 0)
			fmt.Fprintf(out, "path:    %s\n", st.Path)
			fmt.Fprintf(out, "engine:  %s\n", st.EngineID)
			fmt.Fprintf(out, "size:    %s\n", humanize.Bytes(uint64(st.Bytes)))
			fmt.Fprintf(out, "updated: %s (%s)\n", updated.UTC().Format(time.RFC3339), humanize.Time(updated))
			return nil
		},
	}
}
