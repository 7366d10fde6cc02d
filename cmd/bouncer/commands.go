package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bouncer/cmd/internal/app"
	"bouncer/cmd/internal/export"
	"bouncer/cmd/security/admintoken"
)

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "bouncer",
		Short:         "Telegram bot that trades media uploads for one-time group invites",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(app.LoadConfig())
		},
	}

	root.AddCommand(
		newServeCmd(),
		newExportCmd(),
		newCleanDBCmd(),
		newHashTokenCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll Telegram and serve the admin HTTP surface (default)",
		Long: `Run the bot until SIGINT or SIGTERM.

Configuration comes from BOUNCER_* environment variables; BOUNCER_BOT_TOKEN is required.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.Run(app.LoadConfig())
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one users CSV per chat into a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg := app.LoadConfig()
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			st, err := app.OpenStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			paths, err := export.Archive(ctx, st, dir, time.Now().UTC())
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}
	cmd.Flags().String("dir", app.EnvString("BOUNCER_EXPORT_DIR", "exports"), "output directory")
	return cmd
}

func newCleanDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleandb",
		Short: "Probe every registered chat and archive and purge the unreachable ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			removed, err := a.CleanDB(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d chat(s)\n", removed)
			return err
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-admin-token [token]",
		Short: "Print the argon2id hash for BOUNCER_ADMIN_TOKEN_HASH",
		Long: `Hash an admin token for the HTTP admin routes.

Without an argument a random token is generated and printed on the first line,
followed by its hash.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := admintoken.FromEnv()
			if err != nil {
				return err
			}

			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				token, err = admintoken.Generate(32)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
			}

			hash, err := cfg.Hash(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
