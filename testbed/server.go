// Package testbed runs a deterministic single-purpose KevaDB node for
// tests. The server speaks just enough of the protocol to exercise the
// client (SET/GET/DEL/PING/QUIT), counts observable events, and can be
// armed to answer the first command matching a trigger with a
// redirection reply pointing at its own bound endpoint. It deliberately
// models nothing about real cluster topology: its job is to prove the
// client's same-endpoint detection and reconnect behavior.
package testbed

import (
	"bufio"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kevadb/kevalink/keva"
	"github.com/kevadb/kevalink/wire"
)

// Server is a single KevaDB test node. Configure the exported fields
// before Start; they must not change while the server runs. Trigger
// state and counters live until the next Start, mimicking a process
// restart.
type Server struct {
	// Addr to listen on. Default is "127.0.0.1:0" (free loopback port).
	Addr string
	// TriggerCmd and TriggerKey arm the one-shot self-redirect: the first
	// command with this name and key draws a redirection reply pointing
	// at the server's own bound endpoint. TriggerCmd defaults to "SET"
	// when TriggerKey is set.
	TriggerCmd string
	TriggerKey string
	// AlwaysRedirect keeps the trigger armed forever, for exercising the
	// client's retry bound.
	AlwaysRedirect bool
	// RedirectTarget overrides where the trigger redirect points at.
	// Zero value means the server's own bound endpoint.
	RedirectTarget keva.Endpoint
	// Logger for server-side events. Default discards everything.
	Logger *zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	bound    keva.Endpoint
	data     map[string]string
	fired    bool
	counters *Counters
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// Start binds the server and begins accepting connections. Starting an
// already running server is a no-op; starting a stopped one begins a
// fresh lifetime with zeroed counters and store.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	addr := s.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	bound, err := keva.ParseEndpoint(l.Addr().String())
	if err != nil {
		l.Close()
		return err
	}
	if s.Logger == nil {
		nop := zerolog.Nop()
		s.Logger = &nop
	}
	if s.TriggerCmd == "" {
		s.TriggerCmd = "SET"
	}
	s.listener = l
	s.bound = bound
	s.data = make(map[string]string)
	s.fired = false
	s.counters = newCounters()
	s.conns = make(map[net.Conn]struct{})

	s.wg.Add(1)
	go s.accept(l, s.counters)

	s.Logger.Info().Stringer("endpoint", bound).Msg("testbed server started")
	return nil
}

// Stop closes the listener and every live connection and waits for the
// handlers to drain. Counters stay readable after Stop.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return
	}
	s.listener.Close()
	s.listener = nil
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.Logger.Info().Stringer("endpoint", s.bound).Msg("testbed server stopped")
}

// Endpoint is the bound endpoint, valid after Start.
func (s *Server) Endpoint() keva.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// ListenAddr is the bound "host:port", valid after Start.
func (s *Server) ListenAddr() string {
	return s.Endpoint().Addr()
}

// Counters returns the accessor for the current server lifetime.
func (s *Server) Counters() *Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Server) accept(l net.Listener, counters *Counters) {
	defer s.wg.Done()
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		counters.addConnection()
		s.mu.Lock()
		if s.listener == nil {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		s.Logger.Debug().Str("remote", c.RemoteAddr().String()).Msg("connection accepted")
		go s.serve(c, counters)
	}
}

func (s *Server) serve(c net.Conn, counters *Counters) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()

	r := bufio.NewReader(c)
	var buf []byte
	for {
		req, rerr := wire.ReadCommand(r)
		if rerr != nil {
			return
		}
		counters.addCommand(req.Cmd)
		buf = s.respond(buf[:0], req, counters)
		if _, err := c.Write(buf); err != nil {
			return
		}
		if req.Cmd == "QUIT" {
			return
		}
	}
}

func (s *Server) respond(buf []byte, req keva.Request, counters *Counters) []byte {
	if s.redirectNow(req) {
		counters.addRedirect()
		target := s.RedirectTarget
		if target.Equal(keva.Endpoint{}) {
			target = s.bound
		}
		s.Logger.Debug().Str("cmd", req.Cmd).Stringer("target", target).
			Msg("answering with redirect")
		return wire.AppendRedirect(buf, target)
	}

	switch req.Cmd {
	case "SET":
		if len(req.Args) != 2 {
			return wire.AppendError(buf, "ERR wrong number of arguments for 'SET'")
		}
		s.mu.Lock()
		s.data[req.Args[0]] = req.Args[1]
		s.mu.Unlock()
		return wire.AppendStatus(buf, "OK")
	case "GET":
		if len(req.Args) != 1 {
			return wire.AppendError(buf, "ERR wrong number of arguments for 'GET'")
		}
		s.mu.Lock()
		v, ok := s.data[req.Args[0]]
		s.mu.Unlock()
		if !ok {
			return wire.AppendNil(buf)
		}
		return wire.AppendBulk(buf, []byte(v))
	case "DEL":
		if len(req.Args) != 1 {
			return wire.AppendError(buf, "ERR wrong number of arguments for 'DEL'")
		}
		s.mu.Lock()
		_, ok := s.data[req.Args[0]]
		delete(s.data, req.Args[0])
		s.mu.Unlock()
		if ok {
			return wire.AppendInt(buf, 1)
		}
		return wire.AppendInt(buf, 0)
	case "PING":
		return wire.AppendStatus(buf, "PONG")
	case "QUIT":
		return wire.AppendStatus(buf, "OK")
	default:
		return wire.AppendError(buf, "ERR unknown command '"+strings.ToLower(req.Cmd)+"'")
	}
}

// redirectNow consumes the one-shot trigger if the request matches it.
func (s *Server) redirectNow(req keva.Request) bool {
	if s.TriggerKey == "" || req.Cmd != s.TriggerCmd {
		return false
	}
	key, ok := req.Key()
	if !ok || key != s.TriggerKey {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired && !s.AlwaysRedirect {
		return false
	}
	s.fired = true
	return true
}
