// File: cmd/browse.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/retumi/internal/browser"
	"github.com/xkilldash9x/retumi/internal/browser/network"
	"github.com/xkilldash9x/retumi/internal/config"
	"github.com/xkilldash9x/retumi/internal/observability"
)

const closeTimeout = 5 * time.Second

// newBrowseCmd creates and configures the `browse` command.
func newBrowseCmd() *cobra.Command {
	browseCmd := &cobra.Command{
		Use:   "browse <url|path>...",
		Short: "Loads pages, runs their scripts and prints them as text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFromContext(ctx)
			if err := applyBrowseFlagOverrides(cmd, cfg); err != nil {
				return err
			}
			dumpConsole, _ := cmd.Flags().GetBool("dump-console")

			out := cmd.OutOrStdout()
			if cfg.Render.Width == 0 {
				cfg.Render.Width = TerminalWidth(out)
			}
			return runBrowse(ctx, cfg, args, out, cmd.ErrOrStderr(), dumpConsole, observability.GetLogger())
		},
	}

	browseCmd.Flags().Int("width", 0, "Wrap column; 0 uses the terminal width (overrides render.width)")
	browseCmd.Flags().Bool("no-scripts", false, "Do not run page scripts")
	browseCmd.Flags().Duration("timeout", 0, "Bound on each script body, e.g. 5s (overrides script.timeout)")
	browseCmd.Flags().String("color", "", "Styling: auto, always or never (overrides render.color)")
	browseCmd.Flags().Bool("dump-console", false, "Print script console output after each page instead of as it happens")
	return browseCmd
}

// applyBrowseFlagOverrides copies explicitly set flags onto cfg.
func applyBrowseFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("width") {
		cfg.Render.Width, _ = flags.GetInt("width")
	}
	if flags.Changed("no-scripts") {
		noScripts, _ := flags.GetBool("no-scripts")
		cfg.Script.Enabled = !noScripts
	}
	if flags.Changed("timeout") {
		cfg.Script.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("color") {
		cfg.Render.Color, _ = flags.GetString("color")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// runBrowse fetches every target concurrently, then opens and prints the
// pages one at a time in argument order.
func runBrowse(ctx context.Context, cfg *config.Config, targets []string, out, errOut io.Writer, dumpConsole bool, logger *zap.Logger) (err error) {
	var opts []browser.Option
	if !dumpConsole {
		opts = append(opts, browser.WithConsoleWriter(errOut))
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		_, stop, err := startMetricsServer(cfg.Metrics, reg, logger)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if serr := stop(sctx); serr != nil {
				logger.Warn("Metrics server did not stop cleanly", zap.Error(serr))
			}
		}()
		opts = append(opts, browser.WithMetrics(observability.NewMetrics(reg)))
	}

	b, err := browser.New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := b.Close(cctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fetched, err := prefetch(ctx, b, targets, cfg.Network.Concurrency)
	if err != nil {
		return err
	}

	var failures int
	for i, f := range fetched {
		if f.err != nil {
			failures++
			fmt.Fprintf(errOut, "retumi: %v\n", f.err)
			continue
		}
		page, err := b.Open(ctx, f.res)
		if err != nil {
			failures++
			fmt.Fprintf(errOut, "retumi: %v\n", err)
			continue
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := WritePage(out, page, dumpConsole); err != nil {
			return err
		}
		for _, sr := range page.Scripts {
			if sr.Err != nil {
				fmt.Fprintf(errOut, "retumi: script %d at %s: %v\n", sr.Index, sr.XPath, sr.Err)
			}
		}
		if page.Err != nil {
			if errors.Is(page.Err, context.Canceled) {
				return page.Err
			}
			failures++
			fmt.Fprintf(errOut, "retumi: %s: %v\n", page.URL, page.Err)
			logger.Error("Scripts stopped early", zap.String("url", page.URL), zap.Error(page.Err))
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d targets failed", failures, len(targets))
	}
	return nil
}

type fetchResult struct {
	res *network.Resource
	err error
}

// prefetch loads targets with at most limit requests in flight. Per-target
// failures are kept in the results; only cancellation aborts the batch.
func prefetch(ctx context.Context, b *browser.Browser, targets []string, limit int) ([]fetchResult, error) {
	results := make([]fetchResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, target := range targets {
		g.Go(func() error {
			res, err := b.Fetch(gctx, target)
			results[i] = fetchResult{res: res, err: err}
			if err != nil && errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
