package wire

import (
	"strconv"
	"strings"

	"github.com/joomcode/errorx"

	"github.com/kevadb/kevalink/keva"
)

// Requests travel as a single inline line: command name and arguments
// separated by single spaces, terminated with CRLF. Arguments therefore
// may not contain whitespace or line breaks.

// AppendRequest appends an encoded request to buf.
func AppendRequest(buf []byte, req keva.Request) ([]byte, *errorx.Error) {
	if req.Cmd == "" {
		return nil, keva.ErrRequest.New("empty command name").
			WithProperty(keva.EKRequest, req)
	}
	if !validToken(req.Cmd) {
		return nil, keva.ErrRequest.New("command name %q contains whitespace", req.Cmd).
			WithProperty(keva.EKRequest, req)
	}
	buf = append(buf, req.Cmd...)
	for _, arg := range req.Args {
		if !validToken(arg) {
			return nil, keva.ErrRequest.New("argument %q contains whitespace", arg).
				WithProperty(keva.EKRequest, req)
		}
		buf = append(buf, ' ')
		buf = append(buf, arg...)
	}
	return append(buf, '\r', '\n'), nil
}

func validToken(s string) bool {
	return s != "" && strings.IndexAny(s, " \t\r\n") < 0
}

// Server-side reply encoding. Replies use a one-byte type prefix:
// '+' status, '-' error, ':' integer, '$' bulk string, '*' array.

// AppendStatus appends a status reply ("+OK").
func AppendStatus(buf []byte, status string) []byte {
	buf = append(buf, '+')
	buf = append(buf, status...)
	return append(buf, '\r', '\n')
}

// AppendError appends an error reply ("-ERR ...").
func AppendError(buf []byte, text string) []byte {
	buf = append(buf, '-')
	buf = append(buf, text...)
	return append(buf, '\r', '\n')
}

// AppendRedirect appends a redirection reply pointing at target.
func AppendRedirect(buf []byte, target keva.Endpoint) []byte {
	buf = append(buf, "-REDIRECT "...)
	buf = append(buf, target.Addr()...)
	return append(buf, '\r', '\n')
}

// AppendInt appends an integer reply.
func AppendInt(buf []byte, v int64) []byte {
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, v, 10)
	return append(buf, '\r', '\n')
}

// AppendBulk appends a bulk string reply.
func AppendBulk(buf []byte, v []byte) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(v)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, v...)
	return append(buf, '\r', '\n')
}

// AppendNil appends the absent-value reply ("$-1").
func AppendNil(buf []byte) []byte {
	return append(buf, '$', '-', '1', '\r', '\n')
}
