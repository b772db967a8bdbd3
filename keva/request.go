package keva

// Req is a convenient constructor for Request.
func Req(cmd string, args ...string) Request {
	return Request{cmd, args}
}

// Request represents a single command to a KevaDB node.
// Commands are a name plus zero or more string arguments; the first
// argument is the key for key-addressed commands.
type Request struct {
	Cmd  string
	Args []string
}

// Key returns the key the request is addressed to.
func (req Request) Key() (string, bool) {
	if len(req.Args) == 0 {
		return "", false
	}
	return req.Args[0], true
}
