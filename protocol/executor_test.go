package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	siltdb "github.com/oarkflow/siltdb"
)

func newTestEngine(t *testing.T) *siltdb.Engine {
	t.Helper()
	cfg := siltdb.DefaultConfig(t.TempDir())
	e, err := siltdb.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecutePutThenGet(t *testing.T) {
	e := newTestEngine(t)

	_, err := Execute(e, &Command{Op: OpPut, Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)

	resp, err := Execute(e, &Command{Op: OpGet, Key: []byte("k")})
	require.NoError(t, err)
	require.Equal(t, "v", string(resp.Value))
}

func TestExecuteGetMissingKeyReturnsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := Execute(e, &Command{Op: OpGet, Key: []byte("missing")})
	require.ErrorIs(t, err, siltdb.ErrKeyNotFound)
	require.Equal(t, ErrCodeNotFound, ClassifyError(err))
}

func TestExecuteScanPrefixReturnsWirePairs(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Put([]byte("a:1"), []byte("x")))
	require.NoError(t, e.Put([]byte("a:2"), []byte("y")))

	resp, err := Execute(e, &Command{Op: OpScanPrefix, Key: []byte("a:"), Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Pairs, 2)
}

func TestExecuteStatsReflectsActivity(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))

	resp, err := Execute(e, &Command{Op: OpStats})
	require.NoError(t, err)
	require.GreaterOrEqual(t, resp.Stats.PutCount, int64(1))
}

func TestExecutePingIsNoop(t *testing.T) {
	e := newTestEngine(t)
	resp, err := Execute(e, &Command{Op: OpPing})
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestExecuteUnknownOpIsInvalidCommand(t *testing.T) {
	e := newTestEngine(t)
	_, err := Execute(e, &Command{Op: CommandOp(99)})
	require.Error(t, err)
	var invalid *siltdb.InvalidCommandError
	require.ErrorAs(t, err, &invalid)
}
