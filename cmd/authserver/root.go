package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/authserver"
	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/internal/config"
	"github.com/giantswarm/authserver/security"
	"github.com/giantswarm/authserver/server"
	"github.com/giantswarm/authserver/storage/mysql"
)

// app carries the state shared by every subcommand once the persistent
// pre-run has loaded the configuration.
type app struct {
	v          *viper.Viper
	env        *config.EnvironmentHolder
	configPath string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{
		v:   config.NewViper(),
		env: &config.EnvironmentHolder{},
	}

	cmd := &cobra.Command{
		Use:     "authserver",
		Short:   fmt.Sprintf("OAuth2 authorization server (version: %s)", version),
		Version: version,
		Long: `authserver issues signed access and refresh tokens for registered clients
using the authorization code, password, client credentials and refresh token grants.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Configuration file (default is ./authserver.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("env", "local", "Deployment environment (local, dev, staging, prod)")
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	_ = a.v.BindPFlag(config.KeyEnvironment, flags.Lookup("env"))

	cmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newClientCmd(a),
		newUserCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	path, err := config.ReadFile(a.v, a.configPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := a.env.Set(cfg.Environment); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	if path != "" {
		logger.Debug("Using config file", "path", path)
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (*mysql.Store, error) {
	db, err := mysql.Open(ctx, mysql.Options{
		DSN:             a.cfg.Database.DSN(),
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	store := mysql.New(db)
	store.SetLogger(a.logger)
	return store, nil
}

// newServer builds the authorization server. Secrets are re-read from the
// environment on every access outside production.
func (a *app) newServer(store *mysql.Store, inst *instrumentation.Instrumentation) (*oauth.Server, error) {
	env := a.env.Get()
	secrets := security.NewEnvSecrets(!env.IsProduction())

	return oauth.NewServer(store, secrets, &oauth.Config{
		Server: server.Config{
			Issuer:              a.cfg.Issuer,
			AccessTokenTTL:      a.cfg.AccessTokenTTL,
			TrustProxy:          a.cfg.TrustProxy,
			TrustedProxyCount:   a.cfg.TrustedProxyCount,
			SweepInterval:       a.cfg.SweepInterval,
			AllowInsecureIssuer: a.cfg.AllowInsecureIssuer(),
		},
		RateLimit: oauth.RateLimitConfig{
			Rate:  a.cfg.RateLimitRate,
			Burst: a.cfg.RateLimitBurst,
		},
		Security: oauth.SecurityConfig{
			EnableAuditLogging: a.cfg.AuditLog,
		},
		Instrumentation: inst,
		Logger:          a.logger,
	})
}
