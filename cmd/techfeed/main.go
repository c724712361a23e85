package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/techfeed/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:           "techfeed",
	Short:         "Feed harvester and article generator",
	Long:          "techfeed harvests technology feeds, groups related stories and turns each group into a long-form article.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, harvestCmd, drainCmd, serveCmd, statsCmd, versionCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler together with the HTTP server",
	RunE: withApp(func(ctx context.Context, a *app) error {
		sched, err := a.scheduler(ctx)
		if err != nil {
			return err
		}

		go a.seen.Run(ctx, a.cfg.SeenCacheTTL/2)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.server().Run(ctx, a.cfg.HTTPAddr) })
		g.Go(func() error {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		return g.Wait()
	}),
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run one harvest pass and exit",
	RunE: withApp(func(ctx context.Context, a *app) error {
		h, err := a.harvester()
		if err != nil {
			return err
		}
		res, err := h.Harvest(ctx)
		fmt.Printf("items=%d clusters=%d queued=%d duplicates=%d failed=%d\n",
			res.Items, res.Clusters, res.Queued, res.Duplicates, res.Failed)
		return err
	}),
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process the oldest queued candidate and exit",
	RunE: withApp(func(ctx context.Context, a *app) error {
		d, err := a.drainer(ctx)
		if err != nil {
			return err
		}
		res, err := d.Drain(ctx)
		fmt.Printf("outcome=%s article_id=%d\n", res.Outcome, res.ArticleID)
		return err
	}),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API only",
	RunE: withApp(func(ctx context.Context, a *app) error {
		return a.server().Run(ctx, a.cfg.HTTPAddr)
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show article counts per status",
	RunE: withApp(func(ctx context.Context, a *app) error {
		stats, err := a.store.Stats(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("techfeed %s (commit: %s)\n", version, commit)
	},
}

// withApp loads configuration, builds the shared collaborators and cancels
// the context on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, a)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
