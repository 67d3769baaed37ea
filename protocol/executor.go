package protocol

import (
	"time"

	siltdb "github.com/oarkflow/siltdb"
)

// Execute runs cmd against engine and returns its result, or an error
// suitable for ClassifyError/EncodeError.
func Execute(engine *siltdb.Engine, cmd *Command) (*Response, error) {
	switch cmd.Op {
	case OpGet:
		value, err := engine.Get(cmd.Key)
		if err != nil {
			return nil, err
		}
		return &Response{Value: value}, nil

	case OpPut:
		if cmd.TTLSeconds > 0 {
			if err := engine.PutWithTTL(cmd.Key, cmd.Value, time.Duration(cmd.TTLSeconds)*time.Second); err != nil {
				return nil, err
			}
		} else if err := engine.Put(cmd.Key, cmd.Value); err != nil {
			return nil, err
		}
		return &Response{}, nil

	case OpDelete:
		if err := engine.Delete(cmd.Key); err != nil {
			return nil, err
		}
		return &Response{}, nil

	case OpScanPrefix:
		pairs, err := engine.ScanPrefix(cmd.Key, int(cmd.Limit))
		if err != nil {
			return nil, err
		}
		return &Response{Pairs: toWirePairs(pairs)}, nil

	case OpScanRange:
		pairs, err := engine.ScanRange(cmd.Key, cmd.RangeEnd, int(cmd.Limit))
		if err != nil {
			return nil, err
		}
		return &Response{Pairs: toWirePairs(pairs)}, nil

	case OpStats:
		return &Response{Stats: engine.Stats()}, nil

	case OpPing:
		return &Response{}, nil

	default:
		return nil, &siltdb.InvalidCommandError{Reason: "unknown op"}
	}
}

func toWirePairs(pairs []siltdb.KVPair) [][2][]byte {
	out := make([][2][]byte, len(pairs))
	for i, p := range pairs {
		out[i] = [2][]byte{p.Key, p.Value}
	}
	return out
}
