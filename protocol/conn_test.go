package protocol

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	siltdb "github.com/oarkflow/siltdb"
)

// fixedAuthenticator accepts exactly one username/password pair, for
// driving the handshake in tests without a real CredentialsTable.
type fixedAuthenticator struct {
	username, password string
}

func (a *fixedAuthenticator) Authenticate(username, password string) (bool, error) {
	return username == a.username && password == a.password, nil
}

func TestConnFullHandshakeAndCommand(t *testing.T) {
	engine := newTestEngine(t)
	auth := &fixedAuthenticator{username: "alice", password: "s3cret"}

	client, server := net.Pipe()
	defer client.Close()

	conn := NewConn(server, engine, auth, "test-server", 0, 0)
	done := make(chan error, 1)
	go func() { done <- conn.Serve() }()

	require.NoError(t, WriteFrame(client, &Frame{Version: ProtocolVersion, Type: TypeHello, Payload: EncodeHello(&Hello{ClientVersion: ProtocolVersion, ClientID: "test-client"})}))
	info, err := ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, TypeServerInfo, info.Type)

	require.NoError(t, WriteFrame(client, &Frame{Version: ProtocolVersion, Type: TypeAuthReq, Payload: EncodeAuthReq(&AuthReq{Username: "alice", Password: "s3cret"})}))
	authResp, err := ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, TypeAuthResp, authResp.Type)
	decoded, err := DecodeAuthResp(authResp.Payload)
	require.NoError(t, err)
	require.True(t, decoded.Success)
	require.NotEmpty(t, decoded.Token)

	cmd := EncodeCommand(&Command{Op: OpPut, Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, WriteFrame(client, &Frame{Version: ProtocolVersion, Type: TypeCommand, Payload: cmd}))
	resp, err := ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, TypeResponse, resp.Type)

	client.Close()
	<-done
}

func TestConnRejectsInvalidCredentials(t *testing.T) {
	engine := newTestEngine(t)
	auth := &fixedAuthenticator{username: "alice", password: "s3cret"}

	client, server := net.Pipe()
	defer client.Close()

	conn := NewConn(server, engine, auth, "test-server", 0, 0)
	done := make(chan error, 1)
	go func() { done <- conn.Serve() }()

	require.NoError(t, WriteFrame(client, &Frame{Version: ProtocolVersion, Type: TypeHello, Payload: EncodeHello(&Hello{ClientVersion: ProtocolVersion, ClientID: "c"})}))
	_, err := ReadFrame(client)
	require.NoError(t, err)

	require.NoError(t, WriteFrame(client, &Frame{Version: ProtocolVersion, Type: TypeAuthReq, Payload: EncodeAuthReq(&AuthReq{Username: "alice", Password: "wrong"})}))
	authResp, err := ReadFrame(client)
	require.NoError(t, err)
	decoded, err := DecodeAuthResp(authResp.Payload)
	require.NoError(t, err)
	require.False(t, decoded.Success)

	err = <-done
	require.Error(t, err) // invalid credentials ends the connection
}

func TestConnRejectsFrameBeforeHello(t *testing.T) {
	engine := newTestEngine(t)
	auth := &fixedAuthenticator{username: "alice", password: "s3cret"}

	client, server := net.Pipe()
	defer client.Close()

	conn := NewConn(server, engine, auth, "test-server", 0, 0)
	done := make(chan error, 1)
	go func() { done <- conn.Serve() }()

	require.NoError(t, WriteFrame(client, &Frame{Version: ProtocolVersion, Type: TypePing}))
	errFrame, err := ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, TypeError, errFrame.Type)

	err = <-done
	require.Error(t, err)
	var protoErr *siltdb.ProtocolError
	require.ErrorAs(t, err, &protoErr)
}
