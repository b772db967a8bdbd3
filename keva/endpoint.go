package keva

import (
	"net"
	"strconv"
	"strings"
)

// Endpoint is a canonical network identity of a cluster node: lowercased
// host plus port. It is a pure value: comparing endpoints never performs
// name resolution, it compares what the server said against what the
// client dialed.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint canonicalizes "host:port" (optionally prefixed with
// "tcp://") into an Endpoint.
func ParseEndpoint(addr string) (Endpoint, error) {
	raw := addr
	if strings.HasPrefix(raw, "tcp://") {
		raw = raw[len("tcp://"):]
	}
	host, portstr, err := net.SplitHostPort(raw)
	if err != nil {
		return Endpoint{}, ErrInvalidEndpoint.Wrap(err, "malformed address %q", addr)
	}
	if host == "" {
		return Endpoint{}, ErrInvalidEndpoint.New("empty host in address %q", addr)
	}
	port, err := strconv.Atoi(portstr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, ErrInvalidEndpoint.New("bad port in address %q", addr)
	}
	return Endpoint{Host: strings.ToLower(host), Port: port}, nil
}

// Addr returns the dialable "host:port" form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Addr()
}

// Equal reports structural equality of canonicalized endpoints.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.Host == o.Host && e.Port == o.Port
}
