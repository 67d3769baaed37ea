package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	siltdb "github.com/oarkflow/siltdb"
)

// CommandOp enumerates the command grammar's verbs (spec §4.3).
type CommandOp uint8

const (
	OpGet CommandOp = iota + 1
	OpPut
	OpDelete
	OpScanPrefix
	OpScanRange
	OpStats
	OpPing
)

// Command is a decoded request (spec §4.3, §6).
type Command struct {
	Op         CommandOp
	Key        []byte
	Value      []byte
	TTLSeconds uint64 // 0 means no expiry
	RangeEnd   []byte
	Limit      uint32
}

// EncodeCommand serializes cmd for the wire (used by the client half and
// by tests driving the dispatcher directly).
func EncodeCommand(cmd *Command) []byte {
	buf := []byte{byte(cmd.Op)}
	put := func(b []byte) {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, b...)
	}
	switch cmd.Op {
	case OpGet, OpDelete:
		put(cmd.Key)
	case OpPut:
		put(cmd.Key)
		put(cmd.Value)
		var ttlBuf [8]byte
		binary.LittleEndian.PutUint64(ttlBuf[:], cmd.TTLSeconds)
		buf = append(buf, ttlBuf[:]...)
	case OpScanPrefix:
		put(cmd.Key)
		var limBuf [4]byte
		binary.LittleEndian.PutUint32(limBuf[:], cmd.Limit)
		buf = append(buf, limBuf[:]...)
	case OpScanRange:
		put(cmd.Key)
		put(cmd.RangeEnd)
		var limBuf [4]byte
		binary.LittleEndian.PutUint32(limBuf[:], cmd.Limit)
		buf = append(buf, limBuf[:]...)
	case OpStats, OpPing:
		// no body
	}
	return buf
}

// DecodeCommand parses a COMMAND frame payload.
func DecodeCommand(payload []byte) (*Command, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("siltdb/protocol: empty command payload")
	}
	op := CommandOp(payload[0])
	r := &fieldReader{data: payload[1:]}
	cmd := &Command{Op: op}

	switch op {
	case OpGet, OpDelete:
		key, err := r.readBytes()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated key"}
		}
		cmd.Key = key
	case OpPut:
		key, err := r.readBytes()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated key"}
		}
		value, err := r.readBytes()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated value"}
		}
		ttl, err := r.readUint64()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated ttl"}
		}
		cmd.Key, cmd.Value, cmd.TTLSeconds = key, value, ttl
	case OpScanPrefix:
		prefix, err := r.readBytes()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated prefix"}
		}
		limit, err := r.readUint32()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated limit"}
		}
		cmd.Key, cmd.Limit = prefix, limit
	case OpScanRange:
		start, err := r.readBytes()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated range start"}
		}
		end, err := r.readBytes()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated range end"}
		}
		limit, err := r.readUint32()
		if err != nil {
			return nil, &siltdb.InvalidCommandError{Reason: "truncated limit"}
		}
		cmd.Key, cmd.RangeEnd, cmd.Limit = start, end, limit
	case OpStats, OpPing:
		// no body
	default:
		return nil, &siltdb.InvalidCommandError{Reason: "unknown op"}
	}

	if cmd.Limit > siltdb.MaxScanLimit {
		return nil, &siltdb.InvalidCommandError{Reason: "scan limit exceeds maximum"}
	}
	return cmd, nil
}

func (r *fieldReader) readUint32() (uint32, error) {
	if len(r.data)-r.off < 4 {
		return 0, fmt.Errorf("truncated uint32")
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

// ErrorCode classifies a failed command for the wire (spec §6, §7).
type ErrorCode uint8

const (
	ErrCodeNotFound ErrorCode = iota + 1
	ErrCodeInvalidCommand
	ErrCodeRateLimited
	ErrCodeDurability
	ErrCodeCorruption
	ErrCodeOverloaded
	ErrCodeProtocol
	ErrCodeAuth
	ErrCodeInternal
)

// ClassifyError maps a Go error from the engine to a wire ErrorCode,
// per spec §7's typed-error-to-code contract (never string-matching).
func ClassifyError(err error) ErrorCode {
	switch {
	case errors.Is(err, siltdb.ErrKeyNotFound):
		return ErrCodeNotFound
	}
	var invalid *siltdb.InvalidCommandError
	var rateLimited *siltdb.RateLimitedError
	var durability *siltdb.DurabilityError
	var corruption *siltdb.CorruptionError
	var overloaded *siltdb.OverloadedError
	var protoErr *siltdb.ProtocolError
	var authErr *siltdb.AuthError
	switch {
	case errors.As(err, &invalid):
		return ErrCodeInvalidCommand
	case errors.As(err, &rateLimited):
		return ErrCodeRateLimited
	case errors.As(err, &durability):
		return ErrCodeDurability
	case errors.As(err, &corruption):
		return ErrCodeCorruption
	case errors.As(err, &overloaded):
		return ErrCodeOverloaded
	case errors.As(err, &protoErr):
		return ErrCodeProtocol
	case errors.As(err, &authErr):
		return ErrCodeAuth
	default:
		return ErrCodeInternal
	}
}

// Response is the decoded result of a successful command (spec §6).
type Response struct {
	Value []byte
	Pairs [][2][]byte // key/value pairs for SCAN_* results
	Stats siltdb.Stats
}

// EncodeResponse serializes a Response for the given originating op.
func EncodeResponse(op CommandOp, resp *Response) []byte {
	switch op {
	case OpGet:
		buf := make([]byte, 4+len(resp.Value))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(resp.Value)))
		copy(buf[4:], resp.Value)
		return buf
	case OpScanPrefix, OpScanRange:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(len(resp.Pairs)))
		for _, kv := range resp.Pairs {
			var lb [4]byte
			binary.LittleEndian.PutUint32(lb[:], uint32(len(kv[0])))
			buf = append(buf, lb[:]...)
			buf = append(buf, kv[0]...)
			binary.LittleEndian.PutUint32(lb[:], uint32(len(kv[1])))
			buf = append(buf, lb[:]...)
			buf = append(buf, kv[1]...)
		}
		return buf
	case OpStats:
		return encodeStats(resp.Stats)
	default:
		return nil
	}
}

func encodeStats(s siltdb.Stats) []byte {
	buf := make([]byte, 0, 64)
	var b8 [8]byte
	appendU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(b8[:], v)
		buf = append(buf, b8[:]...)
	}
	appendU64(uint64(s.MemtableEntries))
	appendU64(uint64(s.GetCount))
	appendU64(uint64(s.PutCount))
	appendU64(uint64(s.DeleteCount))
	appendU64(uint64(s.FlushCount))
	appendU64(uint64(s.CompactionCount))
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], uint32(s.CacheEntries))
	buf = append(buf, b4[:]...)
	return buf
}

// EncodeError serializes a failure for an ERROR frame.
func EncodeError(code ErrorCode, message string) []byte {
	buf := make([]byte, 1+4+len(message))
	buf[0] = byte(code)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(message)))
	copy(buf[5:], message)
	return buf
}
