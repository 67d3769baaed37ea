package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	siltdb "github.com/oarkflow/siltdb"
)

func TestCommandPutRoundTrip(t *testing.T) {
	cmd := &Command{Op: OpPut, Key: []byte("k"), Value: []byte("v"), TTLSeconds: 60}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	require.Equal(t, cmd.Op, got.Op)
	require.Equal(t, cmd.Key, got.Key)
	require.Equal(t, cmd.Value, got.Value)
	require.Equal(t, cmd.TTLSeconds, got.TTLSeconds)
}

func TestCommandScanRangeRoundTrip(t *testing.T) {
	cmd := &Command{Op: OpScanRange, Key: []byte("a"), RangeEnd: []byte("z"), Limit: 100}
	got, err := DecodeCommand(EncodeCommand(cmd))
	require.NoError(t, err)
	require.Equal(t, cmd.Key, got.Key)
	require.Equal(t, cmd.RangeEnd, got.RangeEnd)
	require.Equal(t, cmd.Limit, got.Limit)
}

func TestCommandRejectsOversizeLimit(t *testing.T) {
	cmd := &Command{Op: OpScanPrefix, Key: []byte("p"), Limit: siltdb.MaxScanLimit + 1}
	_, err := DecodeCommand(EncodeCommand(cmd))
	require.Error(t, err)
	var invalid *siltdb.InvalidCommandError
	require.ErrorAs(t, err, &invalid)
}

func TestDecodeCommandRejectsEmptyPayload(t *testing.T) {
	_, err := DecodeCommand(nil)
	require.Error(t, err)
}

func TestDecodeCommandRejectsUnknownOp(t *testing.T) {
	_, err := DecodeCommand([]byte{0xFF})
	require.Error(t, err)
	var invalid *siltdb.InvalidCommandError
	require.ErrorAs(t, err, &invalid)
}

func TestClassifyErrorMapsKnownTypes(t *testing.T) {
	require.Equal(t, ErrCodeNotFound, ClassifyError(siltdb.ErrKeyNotFound))
	require.Equal(t, ErrCodeInvalidCommand, ClassifyError(&siltdb.InvalidCommandError{Reason: "x"}))
	require.Equal(t, ErrCodeRateLimited, ClassifyError(&siltdb.RateLimitedError{}))
	require.Equal(t, ErrCodeAuth, ClassifyError(&siltdb.AuthError{Reason: "x"}))
	require.Equal(t, ErrCodeProtocol, ClassifyError(&siltdb.ProtocolError{Reason: "x"}))
	require.Equal(t, ErrCodeInternal, ClassifyError(nil))
}

func TestEncodeResponseGetCarriesValue(t *testing.T) {
	payload := EncodeResponse(OpGet, &Response{Value: []byte("hello")})
	require.Equal(t, []byte("hello"), payload[4:])
}

func TestEncodeResponseScanPairs(t *testing.T) {
	resp := &Response{Pairs: [][2][]byte{
		{[]byte("a"), []byte("1")},
		{[]byte("b"), []byte("2")},
	}}
	payload := EncodeResponse(OpScanPrefix, resp)
	require.NotEmpty(t, payload)
}

func TestEncodeErrorIncludesMessage(t *testing.T) {
	payload := EncodeError(ErrCodeNotFound, "nope")
	require.Equal(t, byte(ErrCodeNotFound), payload[0])
	require.Equal(t, "nope", string(payload[5:]))
}
