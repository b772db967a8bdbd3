package kevaretry_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kevadb/kevalink/keva"
	"github.com/kevadb/kevalink/kevaconn"
	. "github.com/kevadb/kevalink/kevaretry"
	"github.com/kevadb/kevalink/testbed"
)

type Suite struct {
	suite.Suite
	s testbed.Server

	ctx       context.Context
	ctxcancel func()
}

func (s *Suite) SetupTest() {
	s.s = testbed.Server{TriggerKey: "testkey"}
	s.Require().NoError(s.s.Start())
	s.ctx, s.ctxcancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (s *Suite) TearDownTest() {
	s.ctxcancel()
	s.s.Stop()
}

func (s *Suite) r() *require.Assertions {
	return s.Require()
}

var defopts = Opts{
	Conn: kevaconn.Opts{
		DialTimeout: 200 * time.Millisecond,
		IOTimeout:   200 * time.Millisecond,
		Logger:      kevaconn.ZerologLogger{L: zerolog.Nop()},
	},
}

func (s *Suite) connect() *Client {
	client, err := Connect(s.ctx, s.s.ListenAddr(), defopts)
	s.r().NoError(err)
	return client
}

func TestClient(t *testing.T) {
	suite.Run(t, new(Suite))
}

// The scenario this library exists for: the first SET of the trigger key
// draws a redirect pointing at the server's own endpoint. The client must
// answer with one forced reconnect and one retry, and the second attempt
// must succeed.
func (s *Suite) TestSameEndpointRedirect() {
	client := s.connect()
	defer client.Close()

	// a round-trip settles the accept-side connection counter
	s.r().NoError(client.Ping(s.ctx))
	counters := s.s.Counters()
	s.Equal(1, counters.Connections())

	before, err := client.Link().Acquire(s.ctx)
	s.r().NoError(err)

	s.r().NoError(client.Set(s.ctx, "testkey", "testvalue"))

	v, ok, err := client.Get(s.ctx, "testkey")
	s.r().NoError(err)
	s.True(ok)
	s.Equal("testvalue", v)

	s.Equal(2, counters.Command("SET"))
	s.Equal(1, counters.Command("GET"))
	s.Equal(1, counters.Redirects())
	s.Equal(2, counters.Connections())

	// the retry ran on a new physical connection to the same endpoint
	after, err := client.Link().Acquire(s.ctx)
	s.r().NoError(err)
	s.NotEqual(before.ID(), after.ID())
	s.True(before.Endpoint().Equal(after.Endpoint()))
}

func (s *Suite) TestIdempotentSuccess() {
	client := s.connect()
	defer client.Close()

	s.r().NoError(client.Set(s.ctx, "other", "v1"))
	s.r().NoError(client.Set(s.ctx, "other", "v2"))

	v, ok, err := client.Get(s.ctx, "other")
	s.r().NoError(err)
	s.True(ok)
	s.Equal("v2", v)

	counters := s.s.Counters()
	s.Equal(2, counters.Command("SET"))
	s.Equal(0, counters.Redirects())
	s.Equal(1, counters.Connections())
}

func (s *Suite) TestGetMissing() {
	client := s.connect()
	defer client.Close()

	_, ok, err := client.Get(s.ctx, "nosuchkey")
	s.r().NoError(err)
	s.False(ok)
}

func (s *Suite) TestPing() {
	client := s.connect()
	defer client.Close()
	s.r().NoError(client.Ping(s.ctx))
}

// A node that keeps redirecting to itself even over a fresh connection
// must produce a terminal error, not an endless reconnect loop.
func (s *Suite) TestPersistentSelfRedirect() {
	s.s.Stop()
	s.s = testbed.Server{TriggerKey: "testkey", AlwaysRedirect: true}
	s.r().NoError(s.s.Start())

	client := s.connect()
	defer client.Close()

	err := client.Set(s.ctx, "testkey", "testvalue")
	s.r().Error(err)
	s.True(errorx.IsOfType(err, keva.ErrTooManyRedirects))

	counters := s.s.Counters()
	// one forced reconnect, then the second self-redirect is terminal
	s.Equal(2, counters.Command("SET"))
	s.Equal(2, counters.Redirects())
	s.Equal(2, counters.Connections())
}

// Two nodes bouncing the key between each other exhaust the global
// redirect budget. Fixed ports so the servers can reference each other.
func (s *Suite) TestRedirectPingPong() {
	a := testbed.Server{
		Addr:           "127.0.0.1:45611",
		TriggerKey:     "testkey",
		AlwaysRedirect: true,
		RedirectTarget: keva.Endpoint{Host: "127.0.0.1", Port: 45612},
	}
	b := testbed.Server{
		Addr:           "127.0.0.1:45612",
		TriggerKey:     "testkey",
		AlwaysRedirect: true,
		RedirectTarget: keva.Endpoint{Host: "127.0.0.1", Port: 45611},
	}
	s.r().NoError(a.Start())
	defer a.Stop()
	s.r().NoError(b.Start())
	defer b.Stop()

	client, err := Connect(s.ctx, a.ListenAddr(), defopts)
	s.r().NoError(err)
	defer client.Close()

	err = client.Set(s.ctx, "testkey", "testvalue")
	s.r().Error(err)
	s.True(errorx.IsOfType(err, keva.ErrTooManyRedirects))
}

func (s *Suite) TestOrdinaryRedirect() {
	other := testbed.Server{}
	s.r().NoError(other.Start())
	defer other.Stop()

	s.s.Stop()
	s.s = testbed.Server{TriggerKey: "testkey", RedirectTarget: other.Endpoint()}
	s.r().NoError(s.s.Start())

	client := s.connect()
	defer client.Close()

	s.r().NoError(client.Set(s.ctx, "testkey", "testvalue"))
	s.True(other.Endpoint().Equal(client.Link().Endpoint()))

	// the value landed on the node the redirect pointed at
	v, ok, err := client.Get(s.ctx, "testkey")
	s.r().NoError(err)
	s.True(ok)
	s.Equal("testvalue", v)

	s.Equal(1, s.s.Counters().Command("SET"))
	s.Equal(1, s.s.Counters().Redirects())
	s.Equal(1, other.Counters().Command("SET"))
	s.Equal(1, other.Counters().Command("GET"))
}

// Non-redirect failures pass through without any retry.
func (s *Suite) TestOtherErrorsSurface() {
	client := s.connect()
	defer client.Close()

	res := client.Do(s.ctx, keva.Req("BOGUS"))
	rerr := keva.AsErrorx(res)
	s.r().NotNil(rerr)
	s.True(rerr.IsOfType(keva.ErrResult))
	s.False(rerr.IsOfType(keva.ErrRedirect))

	s.Equal(1, s.s.Counters().Command("BOGUS"))
	s.Equal(1, s.s.Counters().Connections())
}

// Commands racing with a same-endpoint redirect all end up on the single
// post-replacement connection; the replacement happens exactly once no
// matter how many commands observe the stale one.
func (s *Suite) TestConcurrentCommands() {
	client := s.connect()
	defer client.Close()

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n + 1)
	go func() {
		defer wg.Done()
		s.NoError(client.Set(s.ctx, "testkey", "testvalue"))
	}()
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			// a command in flight during the forced replacement may fail
			// with an io error on the discarded connection; that class is
			// deliberately surfaced, so the harness plays the out-of-scope
			// retry policy and sends it again
			for {
				err := client.Set(s.ctx, key, "v")
				if err == nil {
					return
				}
				if !errorx.IsOfType(err, keva.ErrIO) {
					s.NoError(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		v, ok, err := client.Get(s.ctx, fmt.Sprintf("key-%d", i))
		s.r().NoError(err)
		s.True(ok)
		s.Equal("v", v)
	}

	counters := s.s.Counters()
	s.Equal(1, counters.Redirects())
	s.Equal(2, counters.Connections())
}
