package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/brcwallet/internal/access"
	"github.com/mrz1836/brcwallet/internal/config"
	"github.com/mrz1836/brcwallet/internal/output"
	"github.com/mrz1836/brcwallet/internal/server"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	serveListen string
	serveTTL    time.Duration
)

// serveCmd runs the HTTP wallet substrate.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the wallet interface over HTTP",
	Long: `Unlock the wallet and answer BRC-100 requests over HTTP until interrupted.

Every operation is a POST to /<operationName> with JSON arguments; the
calling application names itself in the Originator header. With
server.require_token set, requests must carry a bearer token issued by
'brcwallet token issue'.

Set BRCWALLET_PASSWORD to unlock without a prompt.`,
	Example: `  brcwallet serve
  brcwallet serve --listen 127.0.0.1:3321 --unlock-ttl 8h`,
	RunE: runServe,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from config)")
	serveCmd.Flags().DurationVar(&serveTTL, "unlock-ttl", 0, "lock the wallet after this long (0 keeps it unlocked)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := signal.NotifyContext(base, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := unlockedWallet(ctx, serveTTL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			logger.Error("closing wallet: %v", cerr)
		}
	}()

	srv := server.New(env.wallet, serverConfig(env))
	listen := serveListen
	if listen == "" {
		listen = cfg.Server.Listen
	}
	output.Infof(cmd.ErrOrStderr(), "Serving %s wallet on http://%s", env.wallet.Network(), listen)
	return srv.ListenAndServe(ctx)
}

// serverConfig maps configuration onto the HTTP server.
func serverConfig(env *walletEnv) *server.Config {
	sc := &server.Config{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		Logger:       logger,
	}
	if serveListen != "" {
		sc.Listen = serveListen
	}
	if cfg.Metrics.Enabled {
		sc.Gatherer = env.registry
		sc.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Server.RequireToken {
		sc.Tokens = access.NewFileStore(config.TokensPath(home()))
	}
	return sc
}
