package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerAcceptsAndServesConnections(t *testing.T) {
	engine := newTestEngine(t)
	auth := NewCredentialsTable()
	require.NoError(t, auth.SetPassword("alice", "s3cret"))

	srv := NewServer(engine, auth, "test-server")
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe("127.0.0.1:0") }()

	// Give the accept loop a moment to bind before connecting.
	var addr net.Addr
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		if srv.listener == nil {
			return false
		}
		addr = srv.listener.Addr()
		return true
	}, time.Second, 5*time.Millisecond)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, &Frame{Version: ProtocolVersion, Type: TypeHello, Payload: EncodeHello(&Hello{ClientVersion: ProtocolVersion, ClientID: "c"})}))
	info, err := ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, TypeServerInfo, info.Type)

	require.NoError(t, srv.Stop())
}
