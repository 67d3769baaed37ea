package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Hello is the client's opening message: its protocol version and a
// human-readable client identifier (spec §4.2 state AwaitingHello).
type Hello struct {
	ClientVersion uint8
	ClientID      string
}

func EncodeHello(h *Hello) []byte {
	buf := make([]byte, 1+4+len(h.ClientID))
	buf[0] = h.ClientVersion
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(h.ClientID)))
	copy(buf[5:], h.ClientID)
	return buf
}

func DecodeHello(payload []byte) (*Hello, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("siltdb/protocol: truncated HELLO")
	}
	n := binary.LittleEndian.Uint32(payload[1:5])
	if uint32(len(payload)-5) < n {
		return nil, fmt.Errorf("siltdb/protocol: truncated HELLO client id")
	}
	return &Hello{ClientVersion: payload[0], ClientID: string(payload[5 : 5+n])}, nil
}

// ServerInfo answers HELLO with the negotiated version and server
// identity (spec §4.2, §6).
type ServerInfo struct {
	ServerVersion uint8
	ServerID      string
}

func EncodeServerInfo(s *ServerInfo) []byte {
	buf := make([]byte, 1+4+len(s.ServerID))
	buf[0] = s.ServerVersion
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(s.ServerID)))
	copy(buf[5:], s.ServerID)
	return buf
}

func DecodeServerInfo(payload []byte) (*ServerInfo, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("siltdb/protocol: truncated SERVER_INFO")
	}
	n := binary.LittleEndian.Uint32(payload[1:5])
	if uint32(len(payload)-5) < n {
		return nil, fmt.Errorf("siltdb/protocol: truncated SERVER_INFO id")
	}
	return &ServerInfo{ServerVersion: payload[0], ServerID: string(payload[5 : 5+n])}, nil
}

// AuthReq carries a username and password for Argon2id verification
// against the credentials table (spec §4.2, §6).
type AuthReq struct {
	Username string
	Password string
}

func EncodeAuthReq(a *AuthReq) []byte {
	buf := make([]byte, 4+len(a.Username)+4+len(a.Password))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(a.Username)))
	off += 4
	copy(buf[off:], a.Username)
	off += len(a.Username)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(a.Password)))
	off += 4
	copy(buf[off:], a.Password)
	return buf
}

func DecodeAuthReq(payload []byte) (*AuthReq, error) {
	r := &fieldReader{data: payload}
	username, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("siltdb/protocol: truncated AUTH_REQ username: %w", err)
	}
	password, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("siltdb/protocol: truncated AUTH_REQ password: %w", err)
	}
	return &AuthReq{Username: username, Password: password}, nil
}

// AuthResp reports whether authentication succeeded and, on success, a
// session token from IssueSessionToken (spec §4.2).
type AuthResp struct {
	Success bool
	Token   string
	Reason  string
}

func EncodeAuthResp(a *AuthResp) []byte {
	var ok byte
	if a.Success {
		ok = 1
	}
	field := a.Token
	if !a.Success {
		field = a.Reason
	}
	buf := make([]byte, 1+4+len(field))
	buf[0] = ok
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(field)))
	copy(buf[5:], field)
	return buf
}

func DecodeAuthResp(payload []byte) (*AuthResp, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("siltdb/protocol: truncated AUTH_RESP")
	}
	n := binary.LittleEndian.Uint32(payload[1:5])
	if uint32(len(payload)-5) < n {
		return nil, fmt.Errorf("siltdb/protocol: truncated AUTH_RESP field")
	}
	field := string(payload[5 : 5+n])
	resp := &AuthResp{Success: payload[0] == 1}
	if resp.Success {
		resp.Token = field
	} else {
		resp.Reason = field
	}
	return resp, nil
}

// fieldReader walks a byte slice decoding length-prefixed strings and
// byte fields in sequence.
type fieldReader struct {
	data []byte
	off  int
}

func (r *fieldReader) readString() (string, error) {
	b, err := r.readBytes()
	return string(b), err
}

func (r *fieldReader) readBytes() ([]byte, error) {
	if len(r.data)-r.off < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	if uint32(len(r.data)-r.off) < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *fieldReader) readUint64() (uint64, error) {
	if len(r.data)-r.off < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}
