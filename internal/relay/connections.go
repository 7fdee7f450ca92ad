package relay

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// Connection describes one relayed viewer connection.
type Connection struct {
	ID        string        `json:"id"`
	Subject   string        `json:"subject"`
	Key       string        `json:"key,omitempty"`
	Target    target.Target `json:"target"`
	ViewOnly  bool          `json:"viewOnly,omitempty"`
	Remote    string        `json:"remote"`
	StartedAt time.Time     `json:"startedAt"`
	BytesIn   int64         `json:"bytesIn"`
	BytesOut  int64         `json:"bytesOut"`
}

type liveConn struct {
	info     Connection
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	close    func()
}

func (c *liveConn) snapshot() Connection {
	info := c.info
	info.BytesIn = c.bytesIn.Load()
	info.BytesOut = c.bytesOut.Load()
	return info
}

// connTable tracks open connections.
type connTable struct {
	mu    sync.RWMutex
	conns map[string]*liveConn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[string]*liveConn)}
}

func (t *connTable) add(info Connection, closeFn func()) *liveConn {
	c := &liveConn{info: info, close: closeFn}
	t.mu.Lock()
	t.conns[info.ID] = c
	t.mu.Unlock()
	return c
}

func (t *connTable) remove(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *connTable) list() []Connection {
	t.mu.RLock()
	out := make([]Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c.snapshot())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// closeAll closes every open connection.
func (t *connTable) closeAll() int {
	t.mu.RLock()
	open := make([]*liveConn, 0, len(t.conns))
	for _, c := range t.conns {
		open = append(open, c)
	}
	t.mu.RUnlock()
	for _, c := range open {
		if c.close != nil {
			c.close()
		}
	}
	return len(open)
}

func (t *connTable) countFor(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.conns {
		if c.info.Key == key {
			n++
		}
	}
	return n
}
