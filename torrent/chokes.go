package torrent

import (
	"sync"

	"github.com/anacrolix/torrent"
	pp "github.com/anacrolix/torrent/peer_protocol"
)

// chokes follows the choke messages of every peer connection of a client.
// A connection chokes us until it sends an unchoke.
type chokes struct {
	mu       sync.Mutex
	unchoked map[*torrent.PeerConn]struct{}
}

func newChokes() *chokes {
	return &chokes{unchoked: make(map[*torrent.PeerConn]struct{})}
}

// install hooks the tracker into cb. Callbacks already set keep running.
func (c *chokes) install(cb *torrent.Callbacks) {
	read := cb.ReadMessage
	cb.ReadMessage = func(pc *torrent.PeerConn, msg *pp.Message) {
		c.read(pc, msg)
		if read != nil {
			read(pc, msg)
		}
	}

	closed := cb.PeerConnClosed
	cb.PeerConnClosed = func(pc *torrent.PeerConn) {
		c.closed(pc)
		if closed != nil {
			closed(pc)
		}
	}
}

func (c *chokes) read(pc *torrent.PeerConn, msg *pp.Message) {
	// keepalives decode with the zero type, which is Choke
	if msg == nil || msg.Keepalive {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case pp.Choke:
		delete(c.unchoked, pc)
	case pp.Unchoke:
		c.unchoked[pc] = struct{}{}
	}
}

func (c *chokes) closed(pc *torrent.PeerConn) {
	c.mu.Lock()
	delete(c.unchoked, pc)
	c.mu.Unlock()
}

// choking reports whether pc chokes us.
func (c *chokes) choking(pc *torrent.PeerConn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.unchoked[pc]
	return !ok
}

func (c *chokes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unchoked)
}
