package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tasknet/internal/protocol"
)

// DefaultTimeout is how long Discover waits for an announcement.
const DefaultTimeout = 5 * time.Second

// ErrNoCoordinator is returned when no valid announcement arrives in time.
var ErrNoCoordinator = errors.New("no coordinator found")

// Result is a discovered coordinator.
type Result struct {
	IP   string
	Port int
}

// Addr returns the coordinator's host:port.
func (r Result) Addr() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// Discover sends one probe to target (normally the broadcast address on the
// discovery port) and returns the first valid announcement received within
// timeout. Invalid replies are skipped. There is no retry.
func Discover(ctx context.Context, target string, timeout time.Duration, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.L()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	raddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", target, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return Result{}, fmt.Errorf("discovery socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Result{}, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	probe, err := json.Marshal(protocol.Probe{Action: protocol.ActionDiscover})
	if err != nil {
		return Result{}, err
	}
	logger.Info("searching for coordinator", zap.String("target", target))
	if _, err := conn.WriteToUDP(probe, raddr); err != nil {
		return Result{}, fmt.Errorf("send probe: %w", err)
	}

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return Result{}, fmt.Errorf("%w within %s", ErrNoCoordinator, timeout)
			}
			return Result{}, fmt.Errorf("receive announcement: %w", err)
		}

		var ann protocol.Announcement
		if err := json.Unmarshal(buf[:n], &ann); err != nil || !ann.Valid() {
			logger.Debug("ignoring invalid announcement", zap.Stringer("remote", from))
			continue
		}
		logger.Info("coordinator found", zap.String("ip", ann.IP), zap.Int("port", ann.Port))
		return Result{IP: ann.IP, Port: ann.Port}, nil
	}
}
