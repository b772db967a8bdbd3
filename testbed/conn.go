package testbed

import (
	"bufio"
	"net"
	"time"

	"github.com/kevadb/kevalink/keva"
	"github.com/kevadb/kevalink/wire"
)

// Do sends one command to addr over a throwaway connection and returns
// the raw reply. It bypasses the client entirely, so the harness can
// observe the server without touching the code under test. Note that it
// opens (and counts as) one connection.
func Do(addr string, cmd string, args ...string) interface{} {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return keva.ErrConnUnavailable.Wrap(err, "could not connect to %s", addr)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(1 * time.Second))
	buf, rerr := wire.AppendRequest(nil, keva.Req(cmd, args...))
	if rerr != nil {
		return rerr
	}
	if _, err = conn.Write(buf); err != nil {
		return keva.WrapIO(err, "request write failed")
	}
	return wire.Read(bufio.NewReader(conn))
}

// Do runs one command against this server, see the package-level Do.
func (s *Server) Do(cmd string, args ...string) interface{} {
	return Do(s.ListenAddr(), cmd, args...)
}
