package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	siltdb "github.com/oarkflow/siltdb"
	"github.com/oarkflow/siltdb/protocol"
)

// dial performs the HELLO/AUTH_REQ handshake against addr and returns the
// authenticated connection, mirroring the handshake protocol/conn.go
// drives server-side (spec §4.2). The returned ServerInfo lets callers
// report what they connected to.
func dial(addr, clientID, user, password string) (net.Conn, *protocol.ServerInfo, error) {
	nc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	hello := protocol.EncodeHello(&protocol.Hello{ClientVersion: protocol.ProtocolVersion, ClientID: clientID})
	if err := protocol.WriteFrame(nc, &protocol.Frame{Version: protocol.ProtocolVersion, Type: protocol.TypeHello, Payload: hello}); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("send HELLO: %w", err)
	}
	infoFrame, err := protocol.ReadFrame(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("read SERVER_INFO: %w", err)
	}
	if infoFrame.Type != protocol.TypeServerInfo {
		nc.Close()
		return nil, nil, fmt.Errorf("expected SERVER_INFO, got frame type %d", infoFrame.Type)
	}
	info, err := protocol.DecodeServerInfo(infoFrame.Payload)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("decode SERVER_INFO: %w", err)
	}

	authReq := protocol.EncodeAuthReq(&protocol.AuthReq{Username: user, Password: password})
	if err := protocol.WriteFrame(nc, &protocol.Frame{Version: protocol.ProtocolVersion, Type: protocol.TypeAuthReq, Payload: authReq}); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("send AUTH_REQ: %w", err)
	}
	authFrame, err := protocol.ReadFrame(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("read AUTH_RESP: %w", err)
	}
	resp, err := protocol.DecodeAuthResp(authFrame.Payload)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("decode AUTH_RESP: %w", err)
	}
	if !resp.Success {
		nc.Close()
		return nil, nil, fmt.Errorf("authentication rejected: %s", resp.Reason)
	}
	return nc, info, nil
}

// sendCommand writes cmd as a COMMAND frame and returns the decoded
// Response, or an error describing an ERROR frame reply.
func sendCommand(nc net.Conn, cmd *protocol.Command) (*protocol.Response, error) {
	if err := protocol.WriteFrame(nc, &protocol.Frame{Version: protocol.ProtocolVersion, Type: protocol.TypeCommand, Payload: protocol.EncodeCommand(cmd)}); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	frame, err := protocol.ReadFrame(nc)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch frame.Type {
	case protocol.TypeError:
		return nil, fmt.Errorf("%s", decodeErrorMessage(frame.Payload))
	case protocol.TypeResponse:
		return decodeResponse(cmd.Op, frame.Payload)
	default:
		return nil, fmt.Errorf("unexpected reply frame type %d", frame.Type)
	}
}

// decodeResponse parses EncodeResponse's wire layout for the op that
// produced it (protocol/dispatch.go EncodeResponse is its mirror).
func decodeResponse(op protocol.CommandOp, payload []byte) (*protocol.Response, error) {
	switch op {
	case protocol.OpGet:
		if len(payload) < 4 {
			return nil, fmt.Errorf("truncated GET response")
		}
		n := binary.LittleEndian.Uint32(payload[0:4])
		if uint32(len(payload)-4) < n {
			return nil, fmt.Errorf("truncated GET value")
		}
		return &protocol.Response{Value: payload[4 : 4+n]}, nil

	case protocol.OpScanPrefix, protocol.OpScanRange:
		if len(payload) < 4 {
			return nil, fmt.Errorf("truncated SCAN response")
		}
		count := binary.LittleEndian.Uint32(payload[0:4])
		off := 4
		pairs := make([][2][]byte, 0, count)
		for i := uint32(0); i < count; i++ {
			k, next, err := readLengthPrefixed(payload, off)
			if err != nil {
				return nil, err
			}
			off = next
			v, next, err := readLengthPrefixed(payload, off)
			if err != nil {
				return nil, err
			}
			off = next
			pairs = append(pairs, [2][]byte{k, v})
		}
		return &protocol.Response{Pairs: pairs}, nil

	case protocol.OpStats:
		if len(payload) < 6*8+4 {
			return nil, fmt.Errorf("truncated STATS response")
		}
		u64 := func(i int) uint64 { return binary.LittleEndian.Uint64(payload[i*8:]) }
		stats := siltdb.Stats{
			MemtableEntries: int64(u64(0)),
			GetCount:        int64(u64(1)),
			PutCount:        int64(u64(2)),
			DeleteCount:     int64(u64(3)),
			FlushCount:      int64(u64(4)),
			CompactionCount: int64(u64(5)),
			CacheEntries:    int(binary.LittleEndian.Uint32(payload[6*8:])),
		}
		return &protocol.Response{Stats: stats}, nil

	case protocol.OpPing:
		return &protocol.Response{}, nil

	default:
		return &protocol.Response{}, nil
	}
}

func readLengthPrefixed(payload []byte, off int) ([]byte, int, error) {
	if len(payload)-off < 4 {
		return nil, 0, fmt.Errorf("truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	if uint32(len(payload)-off) < n {
		return nil, 0, fmt.Errorf("truncated field")
	}
	return payload[off : off+int(n)], off + int(n), nil
}

func decodeErrorMessage(payload []byte) string {
	if len(payload) < 5 {
		return "malformed error frame"
	}
	n := binary.LittleEndian.Uint32(payload[1:5])
	if uint32(len(payload)-5) < n {
		return "malformed error frame"
	}
	return string(payload[5 : 5+n])
}

func main() {
	app := &cli.Command{
		Name:    "silt-cli",
		Usage:   "siltdb network client",
		Version: "1.0.0",

		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "server address", Value: "127.0.0.1:7777"},
			&cli.StringFlag{Name: "user", Usage: "username", Value: "admin"},
			&cli.StringFlag{Name: "password", Usage: "password", Value: "admin"},
		},

		Commands: []*cli.Command{
			getCommand(),
			putCommand(),
			delCommand(),
			scanCommand(),
			statsCommand(),
			pingCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connectFromFlags(c *cli.Command) (net.Conn, error) {
	nc, _, err := dial(c.String("addr"), "silt-cli", c.String("user"), c.String("password"))
	return nc, err
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "fetch a key's value",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("usage: silt-cli get <key>")
			}
			nc, err := connectFromFlags(c)
			if err != nil {
				return err
			}
			defer nc.Close()
			resp, err := sendCommand(nc, &protocol.Command{Op: protocol.OpGet, Key: []byte(c.Args().First())})
			if err != nil {
				return err
			}
			fmt.Println(string(resp.Value))
			return nil
		},
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "store a key/value pair",
		ArgsUsage: "<key> <value>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "ttl", Usage: "expiry in seconds (0 = no expiry)", Value: 0},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("usage: silt-cli put <key> <value>")
			}
			nc, err := connectFromFlags(c)
			if err != nil {
				return err
			}
			defer nc.Close()
			_, err = sendCommand(nc, &protocol.Command{
				Op:         protocol.OpPut,
				Key:        []byte(c.Args().Get(0)),
				Value:      []byte(c.Args().Get(1)),
				TTLSeconds: uint64(c.Int("ttl")),
			})
			if err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func delCommand() *cli.Command {
	return &cli.Command{
		Name:      "del",
		Usage:     "delete a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("usage: silt-cli del <key>")
			}
			nc, err := connectFromFlags(c)
			if err != nil {
				return err
			}
			defer nc.Close()
			_, err = sendCommand(nc, &protocol.Command{Op: protocol.OpDelete, Key: []byte(c.Args().First())})
			if err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "scan keys by prefix",
		ArgsUsage: "<prefix>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "maximum pairs returned", Value: 100},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("usage: silt-cli scan <prefix>")
			}
			nc, err := connectFromFlags(c)
			if err != nil {
				return err
			}
			defer nc.Close()
			resp, err := sendCommand(nc, &protocol.Command{
				Op:    protocol.OpScanPrefix,
				Key:   []byte(c.Args().First()),
				Limit: uint32(c.Int("limit")),
			})
			if err != nil {
				return err
			}
			for _, kv := range resp.Pairs {
				fmt.Printf("%s = %s\n", kv[0], kv[1])
			}
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print engine statistics",
		Action: func(ctx context.Context, c *cli.Command) error {
			nc, err := connectFromFlags(c)
			if err != nil {
				return err
			}
			defer nc.Close()
			resp, err := sendCommand(nc, &protocol.Command{Op: protocol.OpStats})
			if err != nil {
				return err
			}
			s := resp.Stats
			fmt.Printf("memtable_entries=%d get=%d put=%d delete=%d flush=%d compaction=%d cache_entries=%d\n",
				s.MemtableEntries, s.GetCount, s.PutCount, s.DeleteCount, s.FlushCount, s.CompactionCount, s.CacheEntries)
			return nil
		},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "check connectivity and print server identity",
		Action: func(ctx context.Context, c *cli.Command) error {
			nc, info, err := dial(c.String("addr"), "silt-cli", c.String("user"), c.String("password"))
			if err != nil {
				return err
			}
			defer nc.Close()
			if err := protocol.WriteFrame(nc, &protocol.Frame{Version: protocol.ProtocolVersion, Type: protocol.TypePing}); err != nil {
				return err
			}
			frame, err := protocol.ReadFrame(nc)
			if err != nil {
				return err
			}
			if frame.Type != protocol.TypePong {
				return fmt.Errorf("expected PONG, got frame type %d", frame.Type)
			}
			fmt.Printf("PONG from %s (protocol v%d)\n", info.ServerID, info.ServerVersion)
			return nil
		},
	}
}
