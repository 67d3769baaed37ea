// Package protocol implements the authenticated binary request/response
// wire protocol (spec §4.1, §4.2, §6). Grounded on the teacher's
// web/tcp_server.go connection-lifecycle shape (accept loop,
// per-connection struct, idle cleanup), generalized from its ad hoc
// line protocol to the spec's length-prefixed binary framing.
package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	siltdb "github.com/oarkflow/siltdb"
)

// FrameMagic identifies a siltdb wire frame.
const FrameMagic uint32 = 0x56454C4F

// ProtocolVersion is the single version this server speaks.
const ProtocolVersion uint8 = 1

// MaxFrameSize bounds a frame's payload before any allocation happens,
// so a corrupt or hostile length field cannot force an unbounded read
// (spec §4.1).
const MaxFrameSize = 32 * 1024 * 1024

// MessageType tags a frame's payload shape.
type MessageType uint8

const (
	TypeHello MessageType = iota + 1
	TypeServerInfo
	TypeAuthReq
	TypeAuthResp
	TypeCommand
	TypeResponse
	TypeError
	TypePing
	TypePong
)

// Frame is one decoded wire message: MAGIC|VERSION|TYPE|LEN|PAYLOAD|CRC32.
type Frame struct {
	Version uint8
	Type    MessageType
	Payload []byte
}

// WriteFrame encodes and writes f to w, computing the trailing CRC32
// over the magic, version, type, length, and payload bytes.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return fmt.Errorf("siltdb/protocol: payload exceeds max frame size")
	}

	header := make([]byte, 4+1+1+4)
	binary.LittleEndian.PutUint32(header[0:4], FrameMagic)
	header[4] = f.Version
	header[5] = byte(f.Type)
	binary.LittleEndian.PutUint32(header[6:10], uint32(len(f.Payload)))

	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(f.Payload)

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc.Sum32())
	_, err := w.Write(crcBuf[:])
	return err
}

// ReadFrame decodes one frame from r, validating magic, version, length
// bound, and checksum. Any violation is a *ProtocolError (spec §7): the
// connection is no longer trustworthy and must be closed by the caller.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, 4+1+1+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != FrameMagic {
		return nil, &siltdb.ProtocolError{Reason: "bad frame magic"}
	}
	version := header[4]
	if version != ProtocolVersion {
		return nil, &siltdb.ProtocolError{Reason: "unsupported protocol version"}
	}
	msgType := MessageType(header[5])
	payloadLen := binary.LittleEndian.Uint32(header[6:10])
	if payloadLen > MaxFrameSize {
		return nil, &siltdb.ProtocolError{Reason: "frame exceeds max size"}
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, err
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(payload)
	if crc.Sum32() != wantCRC {
		return nil, &siltdb.ProtocolError{Reason: "frame checksum mismatch"}
	}

	return &Frame{Version: version, Type: msgType, Payload: payload}, nil
}
