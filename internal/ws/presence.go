package ws

import "sync"

// Presence owns the binding of live connections to member ids. Many
// connections may carry the same member (tabs, devices); the online
// count is over distinct members. Entries leave the map only on
// transport close or error, never on a timer.
type Presence struct {
	mu    sync.Mutex
	conns map[any]string
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[any]string)}
}

// Bind ties a connection handle to a member for the connection lifetime.
// A repeated register from the same connection rebinds it.
func (p *Presence) Bind(conn any, memberID string) {
	if memberID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[conn] = memberID
}

// Drop removes a connection's binding. Unknown handles are a no-op.
func (p *Presence) Drop(conn any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, conn)
}

// OnlineCount returns the number of distinct members currently bound.
func (p *Presence) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	distinct := make(map[string]struct{}, len(p.conns))
	for _, id := range p.conns {
		distinct[id] = struct{}{}
	}
	return len(distinct)
}
