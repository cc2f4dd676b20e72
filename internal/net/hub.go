package net

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/worldsync/internal/protocol"
)

// Peer is one client connection on any transport.
type Peer interface {
	ID() string
	// TrySend queues data without blocking; false if the peer's queue is
	// full or the peer is closed.
	TrySend(data []byte) bool
	// Drain stops accepting sends, flushes what is queued and closes.
	Drain(ctx context.Context) error
	Close()
}

// Hub tracks live peers across transports and collects connection events
// for the game loop. Network goroutines call Add, Remove and Inbound; the
// game loop calls Drain and TrySend.
type Hub struct {
	mu      sync.RWMutex
	peers   map[string]Peer
	max     int
	joined  []string
	left    []string
	resyncs []string
	log     *zap.Logger
}

// NewHub creates a hub accepting up to max peers; zero means unlimited.
func NewHub(max int, log *zap.Logger) *Hub {
	return &Hub{peers: make(map[string]Peer), max: max, log: log}
}

// Add registers a peer. It returns false when the hub is full.
func (h *Hub) Add(p Peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.max > 0 && len(h.peers) >= h.max {
		return false
	}
	h.peers[p.ID()] = p
	h.joined = append(h.joined, p.ID())
	return true
}

// Remove forgets a peer. Safe to call more than once.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; !ok {
		return
	}
	delete(h.peers, id)
	h.left = append(h.left, id)
}

// Inbound handles one message received from a peer. The only client to
// server message is a resync request; anything else is logged and dropped.
func (h *Hub) Inbound(id string, data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil || typ != protocol.MsgResync {
		h.log.Debug("unexpected client message", zap.String("observer", id), zap.Int("len", len(data)))
		return
	}
	h.mu.Lock()
	h.resyncs = append(h.resyncs, id)
	h.mu.Unlock()
}

// Drain returns and clears the connection events since the last call, in
// arrival order per kind.
func (h *Hub) Drain() (joined, left, resyncs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, left, resyncs = h.joined, h.left, h.resyncs
	h.joined, h.left, h.resyncs = nil, nil, nil
	return joined, left, resyncs
}

// TrySend implements replication.Transport.
func (h *Hub) TrySend(id string, data []byte) bool {
	h.mu.RLock()
	p, ok := h.peers[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return p.TrySend(data)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// DrainAll drains every peer concurrently and waits for all of them. Peers
// still flushing when ctx expires are closed; the error is then ctx's.
func (h *Hub) DrainAll(ctx context.Context) error {
	var g errgroup.Group
	for _, p := range h.snapshot() {
		p := p
		g.Go(func() error { return p.Drain(ctx) })
	}
	return g.Wait()
}

func (h *Hub) snapshot() []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	return peers
}

// CloseAll closes every peer. Their read loops report the removals.
func (h *Hub) CloseAll() {
	for _, p := range h.snapshot() {
		p.Close()
	}
}
