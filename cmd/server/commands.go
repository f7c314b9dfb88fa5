package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/agora-server/internal/app"
	"github.com/vovakirdan/agora-server/internal/auth"
	"github.com/vovakirdan/agora-server/internal/config"
	"github.com/vovakirdan/agora-server/internal/core"
	applog "github.com/vovakirdan/agora-server/internal/log"
	"github.com/vovakirdan/agora-server/internal/service/channels"
	"github.com/vovakirdan/agora-server/internal/store"
	"github.com/vovakirdan/agora-server/internal/store/sqlite"
)

type rootOptions struct {
	configPath string
	addr       string
	logLevel   string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "agora-server",
		Short:        "Realtime messaging server for community chat",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default ./config.yaml or $AGORA_CONFIG_DEFAULT_PATH/config.yaml)")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.AddCommand(serve, newTokenCmd(opts), newSeedCmd(opts))
	return root
}

// loadConfig resolves configuration and applies command-line overrides.
func loadConfig(opts *rootOptions) (config.Config, *zerolog.Logger, error) {
	bootLogger := applog.New("info", "console")

	cfg, path, err := config.Load(bootLogger, opts.configPath)
	if err != nil {
		return cfg, bootLogger, err
	}
	cfg.UpdateFrom(config.Config{
		Addr:         opts.addr,
		LogLevel:     opts.logLevel,
		DatabasePath: opts.dbPath,
	})

	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config_path", path).Msg("configuration loaded")
	return cfg, logger, nil
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting agora server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token for an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			token, err := auth.NewService(st, app.NewJWTConfig(&cfg)).IssueToken(cmd.Context(), store.UserID(userID))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user to issue the token for")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var (
		users     []string
		community string
		public    []string
		private   []string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create demo users, a community and its channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			return seed(cmd, st, app.NewJWTConfig(&cfg), logger, seedPlan{
				users:     users,
				community: community,
				public:    public,
				private:   private,
			})
		},
	}
	cmd.Flags().StringSliceVar(&users, "users", []string{"alice", "bob", "carol"}, "usernames to create")
	cmd.Flags().StringVar(&community, "community", "gophers", "community name")
	cmd.Flags().StringSliceVar(&public, "channels", []string{"general", "random"}, "public channels to create")
	cmd.Flags().StringSliceVar(&private, "private", []string{"staff"}, "private channels; the first user is allowed in")
	return cmd
}

type seedPlan struct {
	users     []string
	community string
	public    []string
	private   []string
}

func seed(cmd *cobra.Command, st store.Store, jwtConfig *auth.JWTConfig, logger *zerolog.Logger, plan seedPlan) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	svc := channels.New(st, core.NewAccessGuard(st))
	authService := auth.NewService(st, jwtConfig)

	comm, err := svc.CreateCommunity(ctx, plan.community)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "community %d %s\n", comm.ID, comm.Name)

	var ids []store.UserID
	for _, name := range plan.users {
		user, err := st.CreateUser(ctx, strings.TrimSpace(name))
		if err != nil {
			return fmt.Errorf("create user %s: %w", name, err)
		}
		if err := svc.SetMembership(ctx, comm.ID, user.ID, store.MembershipAccepted); err != nil {
			return err
		}
		token, err := authService.IssueToken(ctx, user.ID)
		if err != nil {
			return err
		}
		ids = append(ids, user.ID)
		fmt.Fprintf(out, "user %d %s token=%s\n", user.ID, user.Username, token)
	}

	for _, name := range plan.public {
		ch, err := svc.CreateChannel(ctx, comm.ID, name, "", false)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "channel %d %s\n", ch.ID, ch.Name)
	}
	for _, name := range plan.private {
		ch, err := svc.CreateChannel(ctx, comm.ID, name, "", true)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := svc.AllowPrivateMember(ctx, ch.ID, ids[0]); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "channel %d %s (private)\n", ch.ID, ch.Name)
	}

	logger.Info().Int("users", len(ids)).Int("channels", len(plan.public)+len(plan.private)).Msg("seed complete")
	return nil
}
