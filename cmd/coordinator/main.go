// Package main implements the tasknet coordinator, which owns the task queue
// and the peer registry and hands tasks to workers one at a time.
//
// The coordinator is the single authority in a tasknet deployment:
//   - Answers discovery probes so workers can find it without configuration
//   - Registers workers and records their heartbeats
//   - Hands each pending task to at most one worker
//   - Stores the result archives workers send back
//
// Architecture:
//
//	┌───────────────────────────────────────────┐
//	│               Coordinator                 │
//	├───────────────────────────────────────────┤
//	│  UDP :50001  discovery.Responder          │
//	│  TCP :50000  coordinator.Server           │
//	├───────────────────────────────────────────┤
//	│  coordinator.Coordinator                  │
//	│    registry + hand-off (one mutex)        │
//	│  taskstore.DirStore                       │
//	│    tasks/ → processing/ → results/        │
//	│  coordinator.LivenessMonitor              │
//	│  taskstore.Watcher (new task arrivals)    │
//	└───────────────────────────────────────────┘
//
// Commands:
//   - coordinator [run]            serve until SIGINT/SIGTERM
//   - coordinator enqueue FILE...  copy task archives into the pending area
//   - coordinator status           print queue counts and names as YAML
//
// Configuration comes from tasknet.yaml (or --config) with TASKNET_*
// environment overrides; see internal/config.
//
// Example usage:
//
//	coordinator enqueue job1.zip job2.zip
//	TASKNET_LOG_LEVEL=debug coordinator run
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/tasknet/internal/config"
	"github.com/dreamware/tasknet/internal/coordinator"
	"github.com/dreamware/tasknet/internal/discovery"
	"github.com/dreamware/tasknet/internal/observability"
	"github.com/dreamware/tasknet/internal/taskstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds state shared by the subcommands.
type cli struct {
	cfg     *config.Config
	cfgPath string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Run the tasknet coordinator",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(c.cfgPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		RunE: c.runE,
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "path to tasknet.yaml")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Serve discovery and coordination until interrupted",
			Args:  cobra.NoArgs,
			RunE:  c.runE,
		},
		&cobra.Command{
			Use:   "enqueue ARCHIVE...",
			Short: "Add task archives to the pending area",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openStore(c.cfg.Coordinator)
				if err != nil {
					return err
				}
				return enqueue(store, args, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print task queue status as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(c.cfg.Coordinator)
				if err != nil {
					return err
				}
				return writeStatus(store, cmd.OutOrStdout())
			},
		},
	)
	return root
}

func (c *cli) runE(cmd *cobra.Command, _ []string) error {
	logger, err := observability.SetupLogger(c.cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, c.cfg.Coordinator, logger)
}

// run binds the coordination and discovery sockets and serves until ctx is
// done.
func run(ctx context.Context, cfg config.CoordinatorConfig, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	pc, err := net.ListenPacket("udp4", cfg.DiscoveryAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("discovery listen %s: %w", cfg.DiscoveryAddr, err)
	}
	return serve(ctx, cfg, ln, pc, logger)
}

// serve runs every coordinator component on the given sockets until ctx is
// done or one of them fails. It takes ownership of ln and pc.
func serve(ctx context.Context, cfg config.CoordinatorConfig, ln net.Listener, pc net.PacketConn, logger *zap.Logger) error {
	store, err := openStore(cfg)
	if err != nil {
		ln.Close()
		pc.Close()
		return err
	}
	if stats, err := store.Stats(); err == nil {
		logger.Info("task store ready",
			zap.String("tasks_dir", cfg.TasksDir),
			zap.Int("pending", stats.Pending),
			zap.Int("in_flight", stats.InFlight),
			zap.Int("results", stats.Results))
		if stats.InFlight > 0 {
			logger.Warn("tasks left in flight by a previous run are not reassigned",
				zap.Int("in_flight", stats.InFlight))
		}
	}

	coord := coordinator.New(store, logger)
	srv := coordinator.NewServer(coord, cfg.MaxSessions, logger)
	srv.SetReadTimeout(cfg.RequestReadTimeout)
	responder := discovery.NewResponder(cfg.AdvertiseIP, cfg.AdvertisePort, logger)
	monitor := coordinator.NewLivenessMonitor(cfg.LivenessInterval, cfg.StaleAfter, logger)
	monitor.SetOnStale(func(peerID string) {
		logger.Warn("peer went stale", zap.String("peer_id", peerID))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error { return responder.Serve(gctx, pc) })
	g.Go(func() error {
		monitor.Start(gctx, coord.Peers)
		return nil
	})
	if cfg.WatchTasks {
		w, err := taskstore.NewWatcher(cfg.TasksDir, logger)
		if err != nil {
			logger.Warn("task watcher disabled", zap.Error(err))
		} else {
			g.Go(func() error {
				return w.Run(gctx, func(name string) {
					logger.Info("task queued", zap.String("task", name))
				})
			})
		}
	}

	err = g.Wait()
	logger.Info("coordinator stopped",
		zap.Any("sessions", srv.Stats().Snapshot()),
		zap.Any("liveness", monitor.Snapshot()))
	return err
}

func openStore(cfg config.CoordinatorConfig) (*taskstore.DirStore, error) {
	return taskstore.NewDirStore(taskstore.Layout{
		Pending:  cfg.TasksDir,
		InFlight: cfg.ProcessingDir,
		Results:  cfg.ResultsDir,
	})
}

// enqueue copies each archive into the pending area under its base name.
func enqueue(store taskstore.Store, paths []string, out io.Writer) error {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		name := filepath.Base(p)
		if err := store.Add(name, data); err != nil {
			return fmt.Errorf("enqueue %s: %w", p, err)
		}
		fmt.Fprintf(out, "queued %s\n", name)
	}
	return nil
}

// statusReport is the YAML document printed by the status command.
type statusReport struct {
	Counts  taskstore.Stats `yaml:"counts"`
	Pending []string        `yaml:"pending"`
	Results []string        `yaml:"results"`
}

func writeStatus(store taskstore.Store, out io.Writer) error {
	var (
		rep statusReport
		err error
	)
	if rep.Counts, err = store.Stats(); err != nil {
		return err
	}
	if rep.Pending, err = store.Pending(); err != nil {
		return err
	}
	if rep.Results, err = store.Results(); err != nil {
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}
