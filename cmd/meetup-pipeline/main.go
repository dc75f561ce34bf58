package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/galois26/meetup-city-events/internal/config"
	"github.com/galois26/meetup-city-events/internal/metrics"
	"github.com/galois26/meetup-city-events/internal/util"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

const pushJob = "meetup-pipeline"

var (
	cfgPath     string
	rootDir     string
	metricsAddr string

	cfg      *config.Config
	met      *metrics.Metrics
	metricsS *metrics.Server
)

var rootCmd = &cobra.Command{
	Use:           "meetup-pipeline <command>",
	Short:         "Fetch Meetup groups and events for a list of cities and count them",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgPath, rootDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if _, err := util.InitLogger(c.Log.Environment, c.Log.Level, c.Log.Format); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		cfg = c
		met = metrics.New()
		util.L().Info("meetup-pipeline starting", zap.String("version", Version),
			zap.String("command", cmd.Name()), zap.String("root", c.Root))

		if metricsAddr != "" {
			c.Metrics.Listen = metricsAddr
		}
		if c.Metrics.Listen != "" {
			s, err := met.Listen(c.Metrics.Listen)
			if err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			metricsS = s
			go func() {
				if err := s.Serve(); err != nil {
					util.L().Warn("metrics server stopped", zap.Error(err))
				}
			}()
			util.L().Info("serving metrics", zap.String("addr", s.Addr()))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yml", "path to YAML config (optional)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "project root holding the data/ directory")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address while running")

	rootCmd.AddCommand(geocodeCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(summarizeCmd)
}

// reportMetrics pushes and dumps the registry. Failures are logged only.
func reportMetrics() {
	if cfg == nil || met == nil {
		return
	}
	log := util.L()
	if metricsS != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsS.Shutdown(ctx)
		cancel()
		metricsS = nil
	}
	if url := strings.TrimSpace(cfg.Metrics.PushgatewayURL); url != "" {
		if err := met.Push(url, pushJob); err != nil {
			log.Warn("metrics push failed", zap.Error(err))
		}
	}
	if cfg.Metrics.Dump {
		if snap := met.Dump(); snap != "" {
			log.Info("metrics snapshot\n" + snap)
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	reportMetrics()
	if err != nil {
		if cfg != nil {
			util.L().Error("stage failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		util.Sync()
		os.Exit(1)
	}
	util.Sync()
}
