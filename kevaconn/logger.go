package kevaconn

import (
	"log"

	"github.com/rs/zerolog"
)

// LogKind is a kind of event reported to the Logger hook.
type LogKind int

const (
	// LogConnecting - dial attempt started.
	LogConnecting LogKind = iota
	// LogConnected - connection established. v: conn id, local addr, remote addr.
	LogConnected
	// LogConnectFailed - dial failed. v: error.
	LogConnectFailed
	// LogDisconnected - established connection is closed. v: conn id.
	LogDisconnected
	// LogForcedReconnect - current connection discarded on purpose before
	// reconnecting to the same endpoint. v: conn id, reason.
	LogForcedReconnect
	// LogContextClosed - link shut down for good.
	LogContextClosed
	// LogMAX is a boundary for custom events.
	LogMAX
)

// Logger is a hook for logging and event reporting.
type Logger interface {
	Report(event LogKind, link *Link, v ...interface{})
}

type defaultLogger struct{}

func (d defaultLogger) Report(event LogKind, link *Link, v ...interface{}) {
	switch event {
	case LogConnecting:
		log.Printf("keva: connecting to %s", link.Endpoint())
	case LogConnected:
		log.Printf("keva: connected to %s (conn %d, local addr %s, remote addr %s)",
			link.Endpoint(), v[0].(uint64), v[1].(string), v[2].(string))
	case LogConnectFailed:
		log.Printf("keva: connection to %s failed: %s", link.Endpoint(), v[0].(error))
	case LogDisconnected:
		log.Printf("keva: connection %d to %s closed", v[0].(uint64), link.Endpoint())
	case LogForcedReconnect:
		log.Printf("keva: discarding connection %d to %s: %s",
			v[0].(uint64), link.Endpoint(), v[1].(string))
	case LogContextClosed:
		log.Printf("keva: link to %s explicitly closed", link.Endpoint())
	default:
		args := []interface{}{"keva: unexpected event:", event, link}
		args = append(args, v...)
		log.Print(args...)
	}
}

// ZerologLogger reports link events through a zerolog logger.
type ZerologLogger struct {
	L zerolog.Logger
}

// Report implements Logger.
func (z ZerologLogger) Report(event LogKind, link *Link, v ...interface{}) {
	switch event {
	case LogConnecting:
		z.L.Debug().Stringer("endpoint", link.Endpoint()).Msg("connecting")
	case LogConnected:
		z.L.Info().Stringer("endpoint", link.Endpoint()).
			Uint64("conn", v[0].(uint64)).
			Str("local", v[1].(string)).Str("remote", v[2].(string)).
			Msg("connected")
	case LogConnectFailed:
		z.L.Warn().Stringer("endpoint", link.Endpoint()).
			Err(v[0].(error)).Msg("connect failed")
	case LogDisconnected:
		z.L.Info().Stringer("endpoint", link.Endpoint()).
			Uint64("conn", v[0].(uint64)).Msg("disconnected")
	case LogForcedReconnect:
		z.L.Info().Stringer("endpoint", link.Endpoint()).
			Uint64("conn", v[0].(uint64)).
			Str("reason", v[1].(string)).Msg("forced reconnect")
	case LogContextClosed:
		z.L.Info().Stringer("endpoint", link.Endpoint()).Msg("link closed")
	default:
		z.L.Warn().Int("event", int(event)).Msg("unexpected event")
	}
}
