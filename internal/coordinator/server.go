package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/tasknet/internal/protocol"
)

var (
	// ErrUnknownAction is returned for requests whose action is not recognized.
	ErrUnknownAction = errors.New("unknown action")

	// ErrMissingPeerID is returned for registrations without a peer id.
	ErrMissingPeerID = errors.New("missing peer_id")
)

// DefaultMaxSessions caps concurrently handled connections when no limit is given.
const DefaultMaxSessions = 64

// DefaultReadTimeout bounds the wait for a request after a connection is accepted.
const DefaultReadTimeout = 10 * time.Second

// Server accepts coordination connections and runs one session per
// connection: read one request, apply it to the Coordinator, write one reply.
//
// A failed session is logged and its connection closed without a reply; the
// accept loop is never affected. At most maxSessions sessions run at once and
// Accept waits while the limit is reached. A client that sends nothing within
// the read timeout loses its slot.
type Server struct {
	coord       *Coordinator
	log         *zap.Logger
	sem         *semaphore.Weighted
	stats       SessionStats
	wg          sync.WaitGroup
	readTimeout time.Duration
}

// NewServer creates a session server for coord.
func NewServer(coord *Coordinator, maxSessions int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Server{
		coord:       coord,
		log:         logger,
		sem:         semaphore.NewWeighted(int64(maxSessions)),
		readTimeout: DefaultReadTimeout,
	}
}

// SetReadTimeout changes how long a session waits for its request. Zero
// disables the deadline. Call it before Serve.
func (s *Server) SetReadTimeout(d time.Duration) {
	s.readTimeout = d
}

// Stats returns the server's session counters.
func (s *Server) Stats() *SessionStats {
	return &s.stats
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then waits for running
// sessions to finish. It closes ln on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()
	defer s.wg.Wait()

	s.log.Info("coordinator listening", zap.String("addr", ln.Addr().String()))

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	req, err := protocol.ReadRequest(conn)
	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Time{})
	}
	if err != nil {
		s.stats.failed.Add(1)
		s.log.Warn("invalid request", zap.String("remote", remote), zap.Error(err))
		return
	}

	resp, err := s.dispatch(req, hostOf(remote))
	if err != nil {
		s.stats.failed.Add(1)
		s.log.Error("request failed",
			zap.String("remote", remote),
			zap.String("action", req.Action),
			zap.String("peer_id", req.PeerID),
			zap.Error(err))
		return
	}

	if err := protocol.WriteMessage(conn, resp); err != nil {
		s.log.Warn("write reply failed",
			zap.String("remote", remote),
			zap.String("action", req.Action),
			zap.Error(err))
	}
}

// dispatch applies one request and builds its reply. ip is the observed
// source address of the connection.
func (s *Server) dispatch(req protocol.Request, ip string) (any, error) {
	switch req.Action {
	case protocol.ActionRegister:
		if req.PeerID == "" {
			return nil, ErrMissingPeerID
		}
		s.coord.Register(req.PeerID, ip, req.P2PPort)
		s.stats.registers.Add(1)
		s.log.Info("peer registered",
			zap.String("peer_id", req.PeerID),
			zap.String("addr", ip),
			zap.Int("p2p_port", req.P2PPort))
		return protocol.StatusResponse{Status: protocol.StatusRegistered}, nil

	case protocol.ActionHeartbeat:
		known := s.coord.Touch(req.PeerID)
		s.stats.heartbeats.Add(1)
		s.log.Debug("heartbeat", zap.String("peer_id", req.PeerID), zap.Bool("known", known))
		return protocol.StatusResponse{Status: protocol.StatusAlive}, nil

	case protocol.ActionRequestTask:
		s.stats.taskRequests.Add(1)
		name, data, err := s.coord.ClaimTask()
		if errors.Is(err, ErrNoTaskAvailable) {
			s.log.Debug("no task available", zap.String("peer_id", req.PeerID))
			return protocol.NoTaskPackage(), nil
		}
		if err != nil {
			return nil, err
		}
		s.stats.tasksAssigned.Add(1)
		s.log.Info("task assigned", zap.String("task", name), zap.String("peer_id", req.PeerID))
		return protocol.NewTaskPackage(name, protocol.EncodePayload(data)), nil

	case protocol.ActionSubmitResult:
		data, err := protocol.DecodePayload(req.ResultData)
		if err != nil {
			return nil, err
		}
		if err := s.coord.SubmitResult(req.ResultName, data); err != nil {
			return nil, err
		}
		s.stats.results.Add(1)
		s.log.Info("result received",
			zap.String("task", req.ResultName),
			zap.String("peer_id", req.PeerID),
			zap.Int("bytes", len(data)))
		return protocol.StatusResponse{Status: protocol.StatusOK}, nil

	case protocol.ActionListPeers:
		s.stats.peerQueries.Add(1)
		return protocol.PeerList{Peers: s.coord.ListPeerIDs(req.PeerID)}, nil

	case protocol.ActionGetPeerInfo:
		s.stats.peerQueries.Add(1)
		rec, ok := s.coord.LookupPeer(req.TargetPeerID)
		if !ok {
			return protocol.PeerInfo{Status: protocol.StatusError, Message: "peer not found"}, nil
		}
		port := rec.AnnouncedPort
		return protocol.PeerInfo{
			Status:   protocol.StatusPeerFound,
			PeerID:   rec.ID,
			PeerIP:   rec.Addr,
			PeerPort: &port,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
