// Package worker implements the worker side of tasknet: a thin client for the
// coordination protocol and the Agent that drives registration, heartbeats and
// the request-execute-submit loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamware/tasknet/internal/protocol"
)

var (
	// ErrUnexpectedResponse is returned when the coordinator replies with a
	// status the client does not recognize for the request it sent.
	ErrUnexpectedResponse = errors.New("unexpected coordinator response")
	// ErrPeerNotFound is returned by PeerInfo when the target is not registered.
	ErrPeerNotFound = errors.New("peer not found")
)

// Client sends coordination requests on behalf of one peer identity. Each
// call opens its own connection.
type Client struct {
	addr    string
	peerID  string
	timeout time.Duration
}

// NewClient returns a client for the coordinator at addr. A positive timeout
// bounds every exchange; zero leaves exchanges bounded only by the caller's
// context.
func NewClient(addr, peerID string, timeout time.Duration) *Client {
	return &Client{addr: addr, peerID: peerID, timeout: timeout}
}

// Addr returns the coordinator address.
func (c *Client) Addr() string { return c.addr }

// PeerID returns the identity this client speaks for.
func (c *Client) PeerID() string { return c.peerID }

func (c *Client) call(ctx context.Context, req protocol.Request, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req.PeerID = c.peerID
	return protocol.Exchange(ctx, c.addr, req, out)
}

func (c *Client) expectStatus(ctx context.Context, req protocol.Request, want string) error {
	var resp protocol.StatusResponse
	if err := c.call(ctx, req, &resp); err != nil {
		return err
	}
	if resp.Status != want {
		return fmt.Errorf("%w: %s got status %q", ErrUnexpectedResponse, req.Action, resp.Status)
	}
	return nil
}

// Register announces this peer and its optional peer-to-peer port.
func (c *Client) Register(ctx context.Context, p2pPort int) error {
	return c.expectStatus(ctx, protocol.Request{Action: protocol.ActionRegister, P2PPort: p2pPort}, protocol.StatusRegistered)
}

// Heartbeat refreshes this peer's last-seen time.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.expectStatus(ctx, protocol.Request{Action: protocol.ActionHeartbeat}, protocol.StatusAlive)
}

// RequestTask asks for the next pending task. The returned package is Empty
// when nothing is available.
func (c *Client) RequestTask(ctx context.Context) (protocol.TaskPackage, error) {
	var pkg protocol.TaskPackage
	if err := c.call(ctx, protocol.Request{Action: protocol.ActionRequestTask}, &pkg); err != nil {
		return protocol.TaskPackage{}, err
	}
	if pkg.Action != protocol.ActionTaskPackage {
		return protocol.TaskPackage{}, fmt.Errorf("%w: action %q", ErrUnexpectedResponse, pkg.Action)
	}
	return pkg, nil
}

// SubmitResult uploads the result archive for the named task.
func (c *Client) SubmitResult(ctx context.Context, taskName string, archive []byte) error {
	req := protocol.Request{
		Action:     protocol.ActionSubmitResult,
		ResultName: taskName,
		ResultData: protocol.EncodePayload(archive),
	}
	return c.expectStatus(ctx, req, protocol.StatusOK)
}

// ListPeers returns the ids of every other registered peer.
func (c *Client) ListPeers(ctx context.Context) ([]string, error) {
	var list protocol.PeerList
	if err := c.call(ctx, protocol.Request{Action: protocol.ActionListPeers}, &list); err != nil {
		return nil, err
	}
	if list.Peers == nil {
		return []string{}, nil
	}
	return list.Peers, nil
}

// PeerInfo looks up contact details for target.
func (c *Client) PeerInfo(ctx context.Context, target string) (protocol.PeerInfo, error) {
	var info protocol.PeerInfo
	if err := c.call(ctx, protocol.Request{Action: protocol.ActionGetPeerInfo, TargetPeerID: target}, &info); err != nil {
		return protocol.PeerInfo{}, err
	}
	switch info.Status {
	case protocol.StatusPeerFound:
		return info, nil
	case protocol.StatusError:
		return protocol.PeerInfo{}, fmt.Errorf("%w: %s", ErrPeerNotFound, target)
	default:
		return protocol.PeerInfo{}, fmt.Errorf("%w: status %q", ErrUnexpectedResponse, info.Status)
	}
}
