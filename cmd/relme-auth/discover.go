package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	relmeauth "hawx.me/code/relme-auth"
	"hawx.me/code/relme-auth/logger"
	"hawx.me/code/relme-auth/relme"
	"hawx.me/code/relme-auth/strategy"
)

func discoverCmd() *cobra.Command {
	var (
		timeout time.Duration
		level   string
	)

	cmd := &cobra.Command{
		Use:   "discover <me>",
		Short: "List the rel=\"me\" links for a URL and whether each links back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New("dev", level)
			if err != nil {
				return err
			}
			defer log.Sync()

			client := relme.New(&http.Client{Timeout: timeout})
			client.Logger = log

			return discover(cmd.Context(), cmd.OutOrStdout(), client, strategy.Default, args[0], log)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout for each page fetched")
	cmd.Flags().StringVar(&level, "log-level", "warn", "log level")
	return cmd
}

func discover(ctx context.Context, out io.Writer, client relmeauth.LinkFinder, registry strategy.Registry, me string, log *zap.Logger) error {
	me, err := relmeauth.Normalize(me)
	if err != nil {
		return err
	}

	links, err := client.Links(ctx, me)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", me, err)
	}
	log.Debug("found links", zap.Strings("links", links))

	fmt.Fprintln(out, me)
	if len(links) == 0 {
		fmt.Fprintln(out, `  no rel="me" links`)
		return nil
	}

	for _, link := range links {
		provider, ok := registry.ForURL(link)
		if !ok {
			fmt.Fprintf(out, "  %s (unsupported)\n", link)
			continue
		}

		status := "does not link back"
		if client.Verify(ctx, me, link) {
			status = "verified"
		}

		fmt.Fprintf(out, "  %s (%s as %s, %s)\n", link, provider.Code(), provider.UsernameForURL(link), status)
	}

	return nil
}
