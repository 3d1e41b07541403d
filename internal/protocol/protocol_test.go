package protocol

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts a single connection, decodes the request, and replies with
// whatever reply returns.
func serveOnce(t *testing.T, reply func(Request) any) (string, <-chan Request) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan Request, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := ReadRequest(conn)
		if err != nil {
			return
		}
		got <- req
		if r := reply(req); r != nil {
			_ = WriteMessage(conn, r)
		}
	}()
	return ln.Addr().String(), got
}

func TestExchangeRoundTrip(t *testing.T) {
	addr, got := serveOnce(t, func(Request) any {
		return StatusResponse{Status: StatusRegistered}
	})

	var resp StatusResponse
	err := Exchange(context.Background(), addr, Request{Action: ActionRegister, PeerID: "peer-1", P2PPort: 9000}, &resp)
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, resp.Status)

	req := <-got
	assert.Equal(t, ActionRegister, req.Action)
	assert.Equal(t, "peer-1", req.PeerID)
	assert.Equal(t, 9000, req.P2PPort)
}

func TestExchangeConnectionDroppedWithoutReply(t *testing.T) {
	addr, _ := serveOnce(t, func(Request) any { return nil })

	var resp StatusResponse
	err := Exchange(context.Background(), addr, Request{Action: "BOGUS"}, &resp)
	assert.Error(t, err)
}

func TestExchangeDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = Exchange(context.Background(), addr, Request{Action: ActionHeartbeat}, nil)
	assert.Error(t, err)
}

func TestExchangeHonorsContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept but never answer.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		time.Sleep(2 * time.Second)
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	var resp StatusResponse
	err = Exchange(ctx, ln.Addr().String(), Request{Action: ActionHeartbeat}, &resp)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegisterAlwaysCarriesP2PPort(t *testing.T) {
	tests := []struct {
		name string
		port int
		want string
	}{
		{name: "zero port", port: 0, want: `{"action":"REGISTER","peer_id":"w1","p2p_port":0}`},
		{name: "announced port", port: 7000, want: `{"action":"REGISTER","peer_id":"w1","p2p_port":7000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(Request{Action: ActionRegister, PeerID: "w1", P2PPort: tt.port})
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestTaskPackageEncoding(t *testing.T) {
	t.Run("empty package encodes nulls", func(t *testing.T) {
		data, err := json.Marshal(NoTaskPackage())
		require.NoError(t, err)
		assert.JSONEq(t, `{"action":"TASK_PACKAGE","task_name":null,"task_data":null}`, string(data))

		var decoded TaskPackage
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.True(t, decoded.Empty())
	})

	t.Run("package with task", func(t *testing.T) {
		data, err := json.Marshal(NewTaskPackage("job1.zip", "UEsDBA=="))
		require.NoError(t, err)
		assert.JSONEq(t, `{"action":"TASK_PACKAGE","task_name":"job1.zip","task_data":"UEsDBA=="}`, string(data))

		var decoded TaskPackage
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.False(t, decoded.Empty())
		assert.Equal(t, "job1.zip", *decoded.TaskName)
	})
}

func TestPeerInfoEncoding(t *testing.T) {
	port := 0
	data, err := json.Marshal(PeerInfo{Status: StatusPeerFound, PeerID: "b", PeerIP: "10.0.0.2", PeerPort: &port})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","peer_id":"b","peer_ip":"10.0.0.2","peer_port":0}`, string(data))

	data, err = json.Marshal(PeerInfo{Status: StatusError, Message: "peer not found"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"peer not found"}`, string(data))
}

func TestAnnouncementValid(t *testing.T) {
	tests := []struct {
		name string
		ann  Announcement
		want bool
	}{
		{"valid", Announcement{Action: ActionAnnouncement, IP: "192.168.1.10", Port: 50000}, true},
		{"wrong action", Announcement{Action: ActionDiscover, IP: "192.168.1.10", Port: 50000}, false},
		{"missing ip", Announcement{Action: ActionAnnouncement, Port: 50000}, false},
		{"zero port", Announcement{Action: ActionAnnouncement, IP: "192.168.1.10"}, false},
		{"port out of range", Announcement{Action: ActionAnnouncement, IP: "192.168.1.10", Port: 70000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ann.Valid())
		})
	}
}

func TestPayloadCodec(t *testing.T) {
	raw := []byte{0x50, 0x4b, 0x03, 0x04, 0x00, 0xff}
	decoded, err := DecodePayload(EncodePayload(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = DecodePayload("not base64!")
	assert.Error(t, err)
}
