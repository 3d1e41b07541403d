package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

var dialer = &net.Dialer{Timeout: 5 * time.Second}

// Exchange performs one request/reply round trip with the coordinator at addr.
// It opens a new connection, writes req as JSON, half-closes, and decodes the
// single reply into out. A nil out discards the reply.
//
// The exchange honors ctx: a deadline on ctx becomes the connection deadline,
// and cancelling ctx closes the connection.
func Exchange(ctx context.Context, addr string, req any, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return fmt.Errorf("close write %s: %w", addr, err)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(conn, MaxMessageSize)).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read reply from %s: %w", addr, err)
	}
	return nil
}

// ReadRequest decodes a single coordination request from r.
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r, MaxMessageSize)).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// WriteMessage encodes v as one JSON object on w.
func WriteMessage(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
