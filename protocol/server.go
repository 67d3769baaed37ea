package protocol

import (
	"log"
	"net"
	"sync"

	siltdb "github.com/oarkflow/siltdb"
)

// Server accepts TCP connections and drives each through Conn.Serve in
// its own goroutine. Grounded on the teacher's web/tcp_server.go
// TCPServer (accept loop, wg-tracked connections, Stop), generalized
// from its bufio line protocol to framed binary messages.
type Server struct {
	engine             *siltdb.Engine
	auth               Authenticator
	serverID           string
	rateLimitOpsPerSec int
	rateLimitBurst     int

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	stopped  bool
}

// NewServer builds a Server using the package's default per-connection
// rate limit (burst 64, refill 16/s). Use NewServerWithRateLimit to
// configure R_conn/B_conn explicitly (spec §4.2, §4.9).
func NewServer(engine *siltdb.Engine, auth Authenticator, serverID string) *Server {
	return NewServerWithRateLimit(engine, auth, serverID, defaultRefillAmount, defaultTokenCapacity)
}

func NewServerWithRateLimit(engine *siltdb.Engine, auth Authenticator, serverID string, rateLimitOpsPerSec, rateLimitBurst int) *Server {
	return &Server{engine: engine, auth: auth, serverID: serverID, rateLimitOpsPerSec: rateLimitOpsPerSec, rateLimitBurst: rateLimitBurst}
}

// ListenAndServe binds addr and accepts connections until Stop is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			conn := NewConn(nc, s.engine, s.auth, s.serverID, s.rateLimitOpsPerSec, s.rateLimitBurst)
			log.Printf("siltdb: connection %s accepted from %s", conn.ID(), nc.RemoteAddr())
			if err := conn.Serve(); err != nil {
				log.Printf("siltdb: connection %s ended: %v", conn.ID(), err)
			}
		}()
	}
}

// Stop closes the listener and waits for in-flight connections to drain.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}
