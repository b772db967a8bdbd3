// Package kevaretry implements the redirect-aware client for a KevaDB
// cluster member.
//
// The interesting part is the handling of a redirect reply that points at
// the very endpoint the client is already connected to. That happens when
// the route to the node is stale (stale DNS, a balancer that has not
// rerouted yet): retrying on the same connection would reproduce the
// identical redirect forever. Instead the client forces a brand-new
// physical connection to the unchanged address and retries once, bounded
// by a retry budget so a persistently misbehaving node yields a terminal
// error rather than a loop.
package kevaretry

import (
	"context"

	"github.com/kevadb/kevalink/keva"
	"github.com/kevadb/kevalink/kevaconn"
)

const defaultRedirectRetries = 2

// Opts are options for Client.
type Opts struct {
	// Conn - options for the underlying link.
	Conn kevaconn.Opts
	// RedirectRetries is the number of extra attempts a single command may
	// spend following redirects, of either kind, before failing with
	// ErrTooManyRedirects. If RedirectRetries == 0, then default is used (2).
	// At most one of those attempts may be a forced reconnect.
	RedirectRetries int
}

// Client issues commands over a single logical link and decides, per
// failed command, whether to return the failure, follow a redirect to a
// different node, or force-reconnect and retry.
type Client struct {
	link *kevaconn.Link
	opts Opts
}

// Connect creates a Client and establishes its initial connection.
func Connect(ctx context.Context, addr string, opts Opts) (*Client, error) {
	if opts.RedirectRetries <= 0 {
		opts.RedirectRetries = defaultRedirectRetries
	}
	link, err := kevaconn.Connect(ctx, addr, opts.Conn)
	if err != nil {
		return nil, err
	}
	return &Client{link: link, opts: opts}, nil
}

// Link exposes the underlying link, mostly for introspection in tests
// and diagnostics.
func (c *Client) Link() *kevaconn.Link {
	return c.link
}

// Close shuts the client down.
func (c *Client) Close() {
	c.link.Close()
}

// Do executes one request. On success, or on any non-redirect failure,
// the result is returned as is. A redirect reply whose target differs
// from the current connection's endpoint repoints the link there; a
// redirect whose target equals it forces a fresh physical connection to
// the same address. Either way the command is retried, within the
// redirect budget, on a connection created at or after the moment the
// redirect was processed.
//
// The result follows the wire.Read convention: errors are returned as
// *errorx.Error values.
func (c *Client) Do(ctx context.Context, req keva.Request) interface{} {
	attempt := 1
	forced := false
	for {
		conn, err := c.link.Acquire(ctx)
		if err != nil {
			return errValue(err)
		}
		res := conn.Do(ctx, req)
		target, ok := keva.RedirectTarget(res)
		if !ok {
			return res
		}

		if attempt > c.opts.RedirectRetries {
			return keva.ErrTooManyRedirects.New("command gave up after %d attempts", attempt).
				WithProperty(keva.EKTargetEndpoint, target).
				WithProperty(keva.EKRequest, req)
		}

		if target.Equal(conn.Endpoint()) {
			// One forced reconnect per command lifetime. A second
			// same-endpoint redirect after a fresh socket means the node
			// itself keeps redirecting, and reconnecting again cannot help.
			if forced {
				return keva.ErrTooManyRedirects.New("same-endpoint redirect persists after reconnect").
					WithProperty(keva.EKTargetEndpoint, target).
					WithProperty(keva.EKRequest, req)
			}
			forced = true
			if _, err := c.link.ForceReplace(ctx, conn, "same-endpoint redirect"); err != nil {
				return errValue(err)
			}
		} else {
			if _, err := c.link.RedirectTo(ctx, target); err != nil {
				return errValue(err)
			}
		}
		attempt++
	}
}

// Set stores value under key.
func (c *Client) Set(ctx context.Context, key, value string) error {
	res := c.Do(ctx, keva.Req("SET", key, value))
	if err := keva.Error(res); err != nil {
		return err
	}
	if str, ok := res.(string); !ok || str != "OK" {
		return keva.ErrResponse.New("unexpected SET reply %v", res)
	}
	return nil
}

// Get fetches the value under key. The second result is false if the key
// is absent.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	res := c.Do(ctx, keva.Req("GET", key))
	if err := keva.Error(res); err != nil {
		return "", false, err
	}
	if res == nil {
		return "", false, nil
	}
	b, ok := res.([]byte)
	if !ok {
		return "", false, keva.ErrResponse.New("unexpected GET reply %v", res)
	}
	return string(b), true, nil
}

// Ping checks the link end to end.
func (c *Client) Ping(ctx context.Context) error {
	res := c.Do(ctx, keva.Req("PING"))
	if err := keva.Error(res); err != nil {
		return err
	}
	if str, ok := res.(string); !ok || str != "PONG" {
		return keva.ErrResponse.New("ping reply mismatch: %v", res)
	}
	return nil
}

func errValue(err error) interface{} {
	if e := keva.AsErrorx(err); e != nil {
		return e
	}
	return err
}
