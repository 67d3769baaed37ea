package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{Version: ProtocolVersion, Type: TypeCommand, Payload: []byte("hello world")}

	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, f.Version, got.Version)
	require.Equal(t, f.Type, got.Type)
	require.Equal(t, f.Payload, got.Payload)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{Version: ProtocolVersion, Type: TypePing}
	require.NoError(t, WriteFrame(&buf, f))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got.Payload)
}

func TestFrameRejectsCorruptedChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Version: ProtocolVersion, Type: TypePing, Payload: []byte("x")}))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip a bit in the trailing CRC32

	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Version: ProtocolVersion, Type: TypePing}))

	raw := buf.Bytes()
	raw[0] ^= 0xFF

	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, &Frame{Version: ProtocolVersion, Type: TypeCommand, Payload: make([]byte, MaxFrameSize+1)})
	require.Error(t, err)
}
