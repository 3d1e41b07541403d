// Package discovery lets workers find the coordinator on the local network.
// The coordinator runs a Responder on the discovery port; a worker calls
// Discover, which broadcasts one probe and waits for the first announcement.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/dreamware/tasknet/internal/protocol"
)

const maxDatagram = 2048

// Responder answers discovery probes with the coordinator's address.
type Responder struct {
	advertiseIP string
	port        int
	log         *zap.Logger
}

// NewResponder announces port as the coordination port. When advertiseIP is
// empty the responder reports the local address that routes to each prober.
func NewResponder(advertiseIP string, port int, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.L()
	}
	return &Responder{advertiseIP: advertiseIP, port: port, log: logger}
}

// ListenAndServe binds addr (for example ":50001") and serves until ctx is done.
func (r *Responder) ListenAndServe(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return fmt.Errorf("discovery listen %s: %w", addr, err)
	}
	return r.Serve(ctx, conn)
}

// Serve answers probes on conn until ctx is done. Malformed datagrams are
// logged and dropped; nothing short of cancellation or a closed socket stops
// the loop. Serve closes conn on return.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	r.log.Info("discovery responder listening", zap.String("addr", conn.LocalAddr().String()))

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			r.log.Warn("discovery read failed", zap.Error(err))
			continue
		}
		r.handle(conn, buf[:n], from)
	}
}

func (r *Responder) handle(conn net.PacketConn, data []byte, from net.Addr) {
	var probe protocol.Probe
	if err := json.Unmarshal(data, &probe); err != nil {
		r.log.Warn("malformed discovery probe", zap.String("remote", from.String()), zap.Error(err))
		return
	}
	if probe.Action != protocol.ActionDiscover {
		r.log.Debug("ignoring discovery message", zap.String("remote", from.String()), zap.String("action", probe.Action))
		return
	}

	ann := protocol.Announcement{
		Action: protocol.ActionAnnouncement,
		IP:     r.ipFor(from),
		Port:   r.port,
	}
	reply, err := json.Marshal(ann)
	if err != nil {
		r.log.Error("encode announcement", zap.Error(err))
		return
	}
	if _, err := conn.WriteTo(reply, from); err != nil {
		r.log.Warn("send announcement failed", zap.String("remote", from.String()), zap.Error(err))
		return
	}
	r.log.Info("answered discovery probe", zap.String("remote", from.String()), zap.String("ip", ann.IP))
}

// ipFor picks the address to announce to a prober.
func (r *Responder) ipFor(from net.Addr) string {
	if r.advertiseIP != "" {
		return r.advertiseIP
	}
	if ua, ok := from.(*net.UDPAddr); ok {
		if ip := routeIP(ua); ip != "" {
			return ip
		}
	}
	return hostIP()
}

// routeIP returns the local address the kernel would use to reach remote.
// Connecting a UDP socket sends nothing.
func routeIP(remote *net.UDPAddr) string {
	c, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return ""
	}
	defer c.Close()
	if la, ok := c.LocalAddr().(*net.UDPAddr); ok && !la.IP.IsUnspecified() {
		return la.IP.String()
	}
	return ""
}

// hostIP resolves the machine's host name to its first IPv4 address.
func hostIP() string {
	name, err := os.Hostname()
	if err == nil {
		if ips, err := net.LookupIP(name); err == nil {
			for _, ip := range ips {
				if v4 := ip.To4(); v4 != nil {
					return v4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}
