package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/onetimechat/internal/app"
	"github.com/vovakirdan/onetimechat/internal/auth"
	"github.com/vovakirdan/onetimechat/internal/config"
	"github.com/vovakirdan/onetimechat/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "onetimechat",
		Short:        "Ephemeral group chats that vanish after a day",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(flags), newBackendCmd(flags), newKeygenCmd(flags))
	return root
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var withBackend bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat web router",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, app.Options{Web: true, Backend: withBackend})
		},
	}
	cmd.Flags().BoolVar(&withBackend, "with-backend", false, "also run the backend service in this process")
	return cmd
}

func newBackendCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Run the database backend with its realtime feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), flags, app.Options{Backend: true})
		},
	}
}

func newKeygenCmd(flags *rootFlags) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print an API key signed with the backend secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New(flags.logLevel)
			cfg, _, err := config.Load(logger, flags.configPath)
			if err != nil {
				return err
			}
			switch role {
			case auth.RoleAnon, auth.RoleService:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			key, err := auth.GenerateKey(app.KeyConfig(cfg.Backend), role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleAnon, "key role (anon or service_role)")
	return cmd
}

func run(parent context.Context, flags *rootFlags, opts app.Options) error {
	bootLogger := log.New(flags.logLevel)
	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger := log.New(level)
	logger.Info().Str("config", path).Str("variant", cfg.Store.Variant).Msg("configuration loaded")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, opts, logger)
	if err != nil {
		return err
	}
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
