// Command relme-auth runs the sign-in service.
//
//	relme-auth serve --config relme-auth.yaml
//	relme-auth migrate --config relme-auth.yaml
//	relme-auth discover https://example.com/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"hawx.me/code/relme-auth/config"
	"hawx.me/code/relme-auth/logger"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "relme-auth",
		Short:        "Sign in with your domain, using rel=\"me\" links to known providers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}

		log, err := logger.New(cfg.Log.Env, cfg.Log.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("building logger: %w", err)
		}

		return cfg, log, nil
	}

	root.AddCommand(serveCmd(load), migrateCmd(load), discoverCmd())
	return root
}

type loader func() (*config.Config, *zap.Logger, error)
