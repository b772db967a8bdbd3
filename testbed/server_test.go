package testbed_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevadb/kevalink/keva"
	. "github.com/kevadb/kevalink/testbed"
)

func TestServerBasics(t *testing.T) {
	s := Server{}
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, "OK", s.Do("SET", "k", "v"))
	assert.Equal(t, []byte("v"), s.Do("GET", "k"))
	assert.Nil(t, s.Do("GET", "missing"))
	assert.Equal(t, int64(1), s.Do("DEL", "k"))
	assert.Equal(t, int64(0), s.Do("DEL", "k"))
	assert.Equal(t, "PONG", s.Do("PING"))

	rerr := keva.AsErrorx(s.Do("NOPE"))
	require.NotNil(t, rerr)
	assert.True(t, rerr.IsOfType(keva.ErrResult))

	c := s.Counters()
	assert.Equal(t, 1, c.Command("SET"))
	assert.Equal(t, 2, c.Command("GET"))
	assert.Equal(t, 2, c.Command("DEL"))
	assert.Equal(t, 0, c.Redirects())
	// every Do above was its own connection
	assert.Equal(t, 7, c.Connections())
}

func TestConnectionCountSettlesOnRoundTrip(t *testing.T) {
	s := Server{}
	require.NoError(t, s.Start())
	defer s.Stop()

	// the accept loop counts a connection asynchronously, so a bare dial
	// does not happen-before the increment
	c, err := net.Dial("tcp", s.ListenAddr())
	require.NoError(t, err)
	defer c.Close()
	assert.Eventually(t, func() bool { return s.Counters().Connections() == 1 },
		time.Second, 10*time.Millisecond)

	// a completed round-trip does: the reply is written by the same
	// goroutine that incremented the counter
	require.NoError(t, c.SetDeadline(time.Now().Add(time.Second)))
	_, err = c.Write([]byte("PING\r\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(c).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "+PONG\r\n", line)
	assert.Equal(t, 1, s.Counters().Connections())
}

func TestServerTriggerFiresOnce(t *testing.T) {
	s := Server{TriggerKey: "testkey"}
	require.NoError(t, s.Start())
	defer s.Stop()

	// an unrelated key never trips the trigger
	assert.Equal(t, "OK", s.Do("SET", "other", "v"))

	res := s.Do("SET", "testkey", "testvalue")
	target, ok := keva.RedirectTarget(res)
	require.True(t, ok)
	assert.True(t, s.Endpoint().Equal(target))

	// the redirected SET was not applied
	assert.Nil(t, s.Do("GET", "testkey"))

	// second time around the command is answered normally
	assert.Equal(t, "OK", s.Do("SET", "testkey", "testvalue"))
	assert.Equal(t, []byte("testvalue"), s.Do("GET", "testkey"))

	c := s.Counters()
	assert.Equal(t, 3, c.Command("SET"))
	assert.Equal(t, 1, c.Redirects())
}

func TestServerRestartResetsState(t *testing.T) {
	s := Server{TriggerKey: "testkey", Addr: "127.0.0.1:45621"}
	require.NoError(t, s.Start())

	_, redirected := keva.RedirectTarget(s.Do("SET", "testkey", "v"))
	assert.True(t, redirected)
	s.Stop()

	// restart rebinds the same address and rearms the trigger
	require.NoError(t, s.Start())
	defer s.Stop()

	_, redirected = keva.RedirectTarget(s.Do("SET", "testkey", "v"))
	assert.True(t, redirected)
	assert.Equal(t, 1, s.Counters().Redirects())
	assert.Equal(t, 1, s.Counters().Connections())
}
