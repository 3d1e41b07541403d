// Package main implements the tasknet worker, which finds the coordinator,
// registers, and then runs tasks one at a time for as long as it lives.
//
// Lifecycle:
//
//	discover ──► register ──► ┌─ heartbeat every heartbeat_interval ─┐
//	                          └─ request ► execute ► submit (loop)  ─┘
//
// Discovery and registration failures are fatal: the process exits non-zero.
// After that nothing is fatal. A failed request is treated as "no task" and
// the worker backs off for idle_backoff; a failed task is logged and the loop
// moves on.
//
// Commands:
//   - worker [run]          run the worker until SIGINT/SIGTERM
//   - worker peers          list the other registered peers
//   - worker peer-info ID   show contact details for one peer
//
// Setting worker.coordinator_addr skips discovery, which helps on networks
// that drop broadcast traffic.
//
// Example usage:
//
//	TASKNET_WORKER_P2P_PORT=7000 worker
//	worker --config ./configs/tasknet.yaml peers
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/tasknet/internal/config"
	"github.com/dreamware/tasknet/internal/discovery"
	"github.com/dreamware/tasknet/internal/executor"
	"github.com/dreamware/tasknet/internal/observability"
	"github.com/dreamware/tasknet/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfg     *config.Config
	cfgPath string
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "worker",
		Short:        "Run a tasknet worker",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(c.cfgPath)
			if err != nil {
				return err
			}
			logger, err := observability.SetupLogger(cfg.Log)
			if err != nil {
				return err
			}
			c.cfg, c.log = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
		RunE: c.runE,
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "path to tasknet.yaml")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Discover the coordinator and process tasks until interrupted",
			Args:  cobra.NoArgs,
			RunE:  c.runE,
		},
		&cobra.Command{
			Use:   "peers",
			Short: "List the other peers registered with the coordinator",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := c.client(cmd.Context())
				if err != nil {
					return err
				}
				return listPeers(cmd.Context(), client, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "peer-info PEER_ID",
			Short: "Show contact details for a registered peer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := c.client(cmd.Context())
				if err != nil {
					return err
				}
				return showPeer(cmd.Context(), client, args[0], cmd.OutOrStdout())
			},
		},
	)
	return root
}

func (c *cli) runE(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, c.cfg, c.log)
}

// client locates the coordinator and returns a client for this process.
func (c *cli) client(ctx context.Context) (*worker.Client, error) {
	addr, err := locate(ctx, c.cfg.Worker, c.log)
	if err != nil {
		return nil, err
	}
	return worker.NewClient(addr, peerIdentity(c.cfg.Worker.PeerID), c.cfg.Worker.RequestTimeout), nil
}

// run drives the full worker lifecycle. It returns an error only when the
// coordinator cannot be found or registration fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	peerID := peerIdentity(cfg.Worker.PeerID)
	logger.Info("worker starting", zap.String("peer_id", peerID))

	addr, err := locate(ctx, cfg.Worker, logger)
	if err != nil {
		logger.Error("coordinator discovery failed", zap.Error(err))
		return err
	}

	client := worker.NewClient(addr, peerID, cfg.Worker.RequestTimeout)
	runner := executor.New(executor.Config{
		WorkDir:    cfg.Executor.WorkDir,
		Command:    cfg.Executor.Command,
		EntryPoint: cfg.Executor.EntryPoint,
	}, logger)
	agent := worker.NewAgent(client, runner, worker.Options{
		P2PPort:           cfg.Worker.P2PPort,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		IdleBackoff:       cfg.Worker.IdleBackoff,
	}, logger)

	if err := agent.Run(ctx); err != nil {
		logger.Error("registration failed", zap.String("coordinator", addr), zap.Error(err))
		return fmt.Errorf("register with %s: %w", addr, err)
	}
	logger.Info("worker stopped", zap.Any("counts", agent.Counts()))
	return nil
}

// locate returns the configured coordinator address or discovers one.
func locate(ctx context.Context, cfg config.WorkerConfig, logger *zap.Logger) (string, error) {
	if cfg.CoordinatorAddr != "" {
		return cfg.CoordinatorAddr, nil
	}
	found, err := discovery.Discover(ctx, cfg.DiscoveryAddr, cfg.DiscoveryTimeout, logger)
	if err != nil {
		return "", err
	}
	return found.Addr(), nil
}

// peerIdentity returns the configured id or a fresh random one.
func peerIdentity(configured string) string {
	if configured != "" {
		return configured
	}
	return uuid.NewString()
}

func listPeers(ctx context.Context, client *worker.Client, out io.Writer) error {
	peers, err := client.ListPeers(ctx)
	if err != nil {
		return err
	}
	for _, id := range peers {
		fmt.Fprintln(out, id)
	}
	return nil
}

// peerView is the YAML shape printed by peer-info.
type peerView struct {
	PeerID string `yaml:"peer_id"`
	IP     string `yaml:"ip"`
	Port   int    `yaml:"port"`
}

func showPeer(ctx context.Context, client *worker.Client, target string, out io.Writer) error {
	info, err := client.PeerInfo(ctx, target)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(peerView{PeerID: info.PeerID, IP: info.PeerIP, Port: info.Port()})
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
