package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/tasknet/internal/executor"
)

// Default timings of the worker lifecycle.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleBackoff       = 15 * time.Second
)

// TaskRunner executes one task. *executor.Executor satisfies it.
type TaskRunner interface {
	Execute(ctx context.Context, name, encoded string) executor.Result
}

// Options tunes an Agent. Zero durations take the defaults.
type Options struct {
	P2PPort           int
	HeartbeatInterval time.Duration
	IdleBackoff       time.Duration
}

// Counts is a point-in-time copy of an Agent's counters.
type Counts struct {
	Requests   uint64 `json:"requests"`
	Idle       uint64 `json:"idle"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Heartbeats uint64 `json:"heartbeats"`
}

// Agent drives one worker: register once, heartbeat in the background, and
// process tasks one at a time until its context is cancelled.
type Agent struct {
	client *Client
	runner TaskRunner
	log    *zap.Logger
	opts   Options

	requests   atomic.Uint64
	idle       atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
	heartbeats atomic.Uint64
}

// NewAgent wires a client and a task runner into an Agent.
func NewAgent(client *Client, runner TaskRunner, opts Options, logger *zap.Logger) *Agent {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = DefaultIdleBackoff
	}
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.With(zap.String("peer_id", client.PeerID()))
	return &Agent{client: client, runner: runner, opts: opts, log: logger}
}

// Run registers with the coordinator and then loops until ctx is cancelled.
// A registration failure is returned immediately; once registered, Run only
// returns when ctx is done, and then returns nil.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.client.Register(ctx, a.opts.P2PPort); err != nil {
		return err
	}
	a.log.Info("registered with coordinator",
		zap.String("coordinator", a.client.Addr()),
		zap.Int("p2p_port", a.opts.P2PPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.heartbeatLoop(gctx)
		return nil
	})
	g.Go(func() error {
		a.taskLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.client.Heartbeat(ctx); err != nil {
				if ctx.Err() == nil {
					a.log.Warn("heartbeat failed", zap.Error(err))
				}
				continue
			}
			a.heartbeats.Add(1)
		}
	}
}

func (a *Agent) taskLoop(ctx context.Context) {
	for ctx.Err() == nil {
		if a.Step(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(a.opts.IdleBackoff):
		}
	}
}

// Step performs one request-execute-submit cycle. It reports whether a task
// was received, which tells the loop whether to back off before the next
// request. A failed request counts as no task. Failures are logged, never
// returned.
func (a *Agent) Step(ctx context.Context) bool {
	a.requests.Add(1)
	pkg, err := a.client.RequestTask(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Warn("task request failed", zap.Error(err))
		}
		a.idle.Add(1)
		return false
	}
	if pkg.Empty() {
		a.log.Debug("no task available", zap.Duration("backoff", a.opts.IdleBackoff))
		a.idle.Add(1)
		return false
	}

	name := *pkg.TaskName
	var encoded string
	if pkg.TaskData != nil {
		encoded = *pkg.TaskData
	}
	log := a.log.With(zap.String("task", name))
	log.Info("task received")

	res := a.runner.Execute(ctx, name, encoded)
	if !res.OK() {
		a.failed.Add(1)
		log.Error("task execution failed", zap.Error(res.Err))
		return true
	}
	if err := a.client.SubmitResult(ctx, name, res.Archive); err != nil {
		a.failed.Add(1)
		log.Error("result submission failed", zap.Error(err))
		return true
	}
	a.completed.Add(1)
	log.Info("task completed",
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
		zap.Int("result_bytes", len(res.Archive)))
	return true
}

// Counts returns the agent's counters.
func (a *Agent) Counts() Counts {
	return Counts{
		Requests:   a.requests.Load(),
		Idle:       a.idle.Load(),
		Completed:  a.completed.Load(),
		Failed:     a.failed.Load(),
		Heartbeats: a.heartbeats.Load(),
	}
}
