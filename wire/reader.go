package wire

import (
	"bufio"
	"io"
	"strings"

	"github.com/joomcode/errorx"

	"github.com/kevadb/kevalink/keva"
)

const redirectPrefix = "REDIRECT "

// Length limits applied before allocating for a reply. A peer that
// states a larger size is answering with garbage, not a real value.
const (
	maxBulkLen  = 512 << 20
	maxArrayLen = 1 << 20
)

// Read parses one reply from b. The result is either a plain value
// (string for status, int64, []byte for bulk, nil for absent,
// []interface{} for array) or an *errorx.Error. Server-reported errors
// come back as keva.ErrResult; redirection replies as keva.ErrRedirect
// with the target endpoint attached.
func Read(b *bufio.Reader) interface{} {
	line, isPrefix, err := b.ReadLine()
	if err != nil {
		return keva.WrapIO(err, "reply header read failed")
	}
	if isPrefix {
		return keva.ErrResponse.New("reply header line too large")
	}
	if len(line) == 0 {
		return keva.ErrResponse.New("reply header line is empty")
	}

	var v int64
	switch line[0] {
	case '+':
		return string(line[1:])
	case '-':
		text := string(line[1:])
		if strings.HasPrefix(text, redirectPrefix) {
			addr := strings.TrimSpace(text[len(redirectPrefix):])
			target, err := keva.ParseEndpoint(addr)
			if err != nil {
				return keva.ErrResponse.New("malformed redirect reply %q", text)
			}
			return keva.ErrRedirect.New(text).
				WithProperty(keva.EKTargetEndpoint, target)
		}
		return keva.ErrResult.New(text)
	case ':':
		var perr *errorx.Error
		if v, perr = parseInt(line[1:]); perr != nil {
			return perr
		}
		return v
	case '$':
		var perr *errorx.Error
		if v, perr = parseInt(line[1:]); perr != nil {
			return perr
		}
		if v < 0 {
			return nil
		}
		if v > maxBulkLen {
			return keva.ErrResponse.New("bulk length %d exceeds limit", v)
		}
		buf := make([]byte, v+2)
		if _, err = io.ReadFull(b, buf); err != nil {
			return keva.WrapIO(err, "bulk body read failed")
		}
		if buf[v] != '\r' || buf[v+1] != '\n' {
			return keva.ErrResponse.New("bulk body is not terminated with CRLF")
		}
		return buf[:v:v]
	case '*':
		var perr *errorx.Error
		if v, perr = parseInt(line[1:]); perr != nil {
			return perr
		}
		if v < 0 {
			return nil
		}
		if v > maxArrayLen {
			return keva.ErrResponse.New("array length %d exceeds limit", v)
		}
		result := make([]interface{}, v)
		for i := int64(0); i < v; i++ {
			result[i] = Read(b)
			if e := keva.AsErrorx(result[i]); e != nil && e.IsOfType(keva.ErrIO) {
				return e
			}
		}
		return result
	default:
		return keva.ErrResponse.New("unknown reply type %q", line[0])
	}
}

// ReadCommand parses one inline command line, the server-side peer of
// AppendRequest. Blank lines are skipped.
func ReadCommand(b *bufio.Reader) (keva.Request, *errorx.Error) {
	for {
		line, isPrefix, err := b.ReadLine()
		if err != nil {
			return keva.Request{}, keva.WrapIO(err, "command read failed")
		}
		if isPrefix {
			return keva.Request{}, keva.ErrRequest.New("command line too large")
		}
		fields := strings.Fields(string(line))
		if len(fields) == 0 {
			continue
		}
		var args []string
		if len(fields) > 1 {
			args = fields[1:]
		}
		return keva.Request{Cmd: strings.ToUpper(fields[0]), Args: args}, nil
	}
}

func parseInt(buf []byte) (int64, *errorx.Error) {
	if len(buf) == 0 {
		return 0, keva.ErrResponse.New("integer is empty")
	}
	neg := buf[0] == '-'
	if neg {
		buf = buf[1:]
	}
	if len(buf) == 0 {
		return 0, keva.ErrResponse.New("integer is malformed")
	}
	// 18 digits always fit an int64; a 19th could silently wrap
	if len(buf) > 18 {
		return 0, keva.ErrResponse.New("integer is too large")
	}
	v := int64(0)
	for _, c := range buf {
		if c < '0' || c > '9' {
			return 0, keva.ErrResponse.New("integer is malformed")
		}
		v *= 10
		v += int64(c - '0')
	}
	if neg {
		v = -v
	}
	return v, nil
}
