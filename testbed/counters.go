package testbed

import "sync"

// Counters are the observable, monotonic event counts of one server
// lifetime. They are read in-process by the harness; nothing is exposed
// over the wire.
type Counters struct {
	mu          sync.Mutex
	connections int
	redirects   int
	commands    map[string]int
}

func newCounters() *Counters {
	return &Counters{commands: make(map[string]int)}
}

// Connections is the number of accepted connections.
func (c *Counters) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// Redirects is the number of redirection replies issued.
func (c *Counters) Redirects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redirects
}

// Command is the number of commands received with the given name
// (uppercase), redirected ones included.
func (c *Counters) Command(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands[name]
}

func (c *Counters) addConnection() {
	c.mu.Lock()
	c.connections++
	c.mu.Unlock()
}

func (c *Counters) addRedirect() {
	c.mu.Lock()
	c.redirects++
	c.mu.Unlock()
}

func (c *Counters) addCommand(name string) {
	c.mu.Lock()
	c.commands[name]++
	c.mu.Unlock()
}
