package protocol

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	siltdb "github.com/oarkflow/siltdb"
)

// ConnState is a position in the per-connection state machine (spec
// §4.2). Grounded on the teacher's web/tcp_server.go tcpConnection
// (authenticated bool, lastActivity), generalized into the spec's
// explicit four-state machine.
type ConnState int

const (
	AwaitingHello ConnState = iota
	AwaitingAuth
	Ready
	Closed
)

// RequestTimeout is the write deadline for each reply frame (spec §4.2,
// §5). Command execution itself is not time-limited.
const RequestTimeout = 30 * time.Second

// IdleTimeout closes a connection that sends nothing for this long
// (spec §4.2, §5).
const IdleTimeout = 300 * time.Second

// Authenticator verifies credentials against the credentials table
// (spec §4.2, §6). Grounded on the teacher's user_storage.go
// UserStorage interface.
type Authenticator interface {
	Authenticate(username, password string) (bool, error)
}

// Conn drives one client's state machine over a net.Conn.
type Conn struct {
	id           string
	nc           net.Conn
	state        ConnState
	username     string
	lastActivity time.Time
	engine       *siltdb.Engine
	auth         Authenticator
	limiter      *TokenBucket
	serverID     string
}

// NewConn wraps an accepted socket, assigning it a unique connection ID
// for logging and rate-limit/session bookkeeping. The caller must call
// Serve to run its state machine to completion. rateLimitOpsPerSec and
// rateLimitBurst are the connection's R_conn/B_conn (spec §4.2); pass
// 0 for either to take the package default.
func NewConn(nc net.Conn, engine *siltdb.Engine, auth Authenticator, serverID string, rateLimitOpsPerSec, rateLimitBurst int) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		nc:           nc,
		state:        AwaitingHello,
		engine:       engine,
		auth:         auth,
		limiter:      NewTokenBucketWithRate(rateLimitBurst, rateLimitOpsPerSec),
		lastActivity: time.Now(),
		serverID:     serverID,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// Serve runs the connection until it closes, a protocol violation
// occurs, or the idle timeout elapses. Every violation or closure
// closes the underlying socket before returning.
func (c *Conn) Serve() error {
	defer c.nc.Close()

	for c.state != Closed {
		c.nc.SetReadDeadline(time.Now().Add(IdleTimeout))
		frame, err := ReadFrame(c.nc)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil // idle timeout: a quiet, expected close
			}
			return err
		}
		c.lastActivity = time.Now()

		if err := c.handleFrame(frame); err != nil {
			var protoErr *siltdb.ProtocolError
			if errors.As(err, &protoErr) {
				c.writeError(ErrCodeProtocol, protoErr.Error())
				return err
			}
			return err
		}
	}
	return nil
}

func (c *Conn) handleFrame(frame *Frame) error {
	switch c.state {
	case AwaitingHello:
		if frame.Type != TypeHello {
			return &siltdb.ProtocolError{Reason: "expected HELLO"}
		}
		hello, err := DecodeHello(frame.Payload)
		if err != nil {
			return &siltdb.ProtocolError{Reason: err.Error()}
		}
		if hello.ClientVersion != ProtocolVersion {
			return &siltdb.ProtocolError{Reason: "unsupported client version"}
		}
		if err := c.writeFrame(TypeServerInfo, EncodeServerInfo(&ServerInfo{ServerVersion: ProtocolVersion, ServerID: c.serverID})); err != nil {
			return err
		}
		c.state = AwaitingAuth
		return nil

	case AwaitingAuth:
		if frame.Type != TypeAuthReq {
			return &siltdb.ProtocolError{Reason: "expected AUTH_REQ"}
		}
		req, err := DecodeAuthReq(frame.Payload)
		if err != nil {
			return &siltdb.ProtocolError{Reason: err.Error()}
		}
		ok, err := c.auth.Authenticate(req.Username, req.Password)
		if err != nil || !ok {
			c.writeFrame(TypeAuthResp, EncodeAuthResp(&AuthResp{Success: false, Reason: "invalid credentials"}))
			return &siltdb.AuthError{Reason: "invalid credentials"}
		}
		c.username = req.Username
		token := IssueSessionToken(req.Username)
		if err := c.writeFrame(TypeAuthResp, EncodeAuthResp(&AuthResp{Success: true, Token: token})); err != nil {
			return err
		}
		c.state = Ready
		return nil

	case Ready:
		if !c.limiter.Allow() {
			return c.writeError(ErrCodeRateLimited, "rate limited")
		}
		switch frame.Type {
		case TypePing:
			return c.writeFrame(TypePong, nil)
		case TypeCommand:
			return c.handleCommand(frame.Payload)
		default:
			return &siltdb.ProtocolError{Reason: "unexpected frame type in Ready state"}
		}

	default:
		return &siltdb.ProtocolError{Reason: "frame received after close"}
	}
}

func (c *Conn) handleCommand(payload []byte) error {
	cmd, err := DecodeCommand(payload)
	if err != nil {
		return c.writeError(ClassifyError(err), err.Error())
	}

	resp, err := Execute(c.engine, cmd)
	if err != nil {
		return c.writeError(ClassifyError(err), err.Error())
	}
	return c.writeFrame(TypeResponse, EncodeResponse(cmd.Op, resp))
}

func (c *Conn) writeError(code ErrorCode, message string) error {
	return c.writeFrame(TypeError, EncodeError(code, message))
}

func (c *Conn) writeFrame(t MessageType, payload []byte) error {
	c.nc.SetWriteDeadline(time.Now().Add(RequestTimeout))
	return WriteFrame(c.nc, &Frame{Version: ProtocolVersion, Type: t, Payload: payload})
}
