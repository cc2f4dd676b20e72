// Package ws carries replication messages over websockets, one binary
// message per protocol message.
package ws

import (
	"context"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/l1jgo/worldsync/internal/net"
)

// Options holds the per-connection limits.
type Options struct {
	OutQueueSize int
	MaxFrameSize int
	WriteTimeout time.Duration
}

// Handler upgrades HTTP requests and registers each connection in the hub.
type Handler struct {
	hub      *net.Hub
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewHandler(hub *net.Hub, opts Options, log *zap.Logger) *Handler {
	return &Handler{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		log: log,
	}
}

func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(int64(h.opts.MaxFrameSize))

	p := &peer{
		id:      ksuid.New().String(),
		conn:    conn,
		out:     make(chan []byte, h.opts.OutQueueSize),
		closeCh: make(chan struct{}),
		drainCh: make(chan struct{}),
		done:    make(chan struct{}),
		timeout: h.opts.WriteTimeout,
	}
	p.log = h.log.With(zap.String("observer", p.id))
	if !h.hub.Add(p) {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server full")
		conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}
	p.log.Info("websocket client connected", zap.String("ip", r.RemoteAddr))

	go p.writeLoop()
	p.readLoop(h.hub)
}

type peer struct {
	id      string
	conn    *websocket.Conn
	out     chan []byte
	timeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	drainCh   chan struct{}
	drainOnce sync.Once
	draining  atomic.Bool
	done      chan struct{}

	log *zap.Logger
}

func (p *peer) ID() string { return p.id }

func (p *peer) TrySend(data []byte) bool {
	if p.closed.Load() || p.draining.Load() {
		return false
	}
	select {
	case p.out <- data:
		return true
	default:
		return false
	}
}

func (p *peer) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.closeCh)
		p.conn.Close()
	})
}

// Drain flushes the queued messages, sends a normal close frame and closes
// the connection, or closes at once when ctx expires first.
func (p *peer) Drain(ctx context.Context) error {
	p.drainOnce.Do(func() {
		p.draining.Store(true)
		close(p.drainCh)
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	}
}

func (p *peer) readLoop(hub *net.Hub) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("read loop panic recovered", zap.Any("panic", rec))
		}
		p.Close()
		hub.Remove(p.id)
		p.log.Info("websocket client disconnected")
	}()
	for {
		typ, payload, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		hub.Inbound(p.id, payload)
	}
}

func (p *peer) writeLoop() {
	defer close(p.done)
	defer p.Close()
	for {
		select {
		case data := <-p.out:
			if !p.write(data) {
				return
			}
		case <-p.drainCh:
			for {
				select {
				case data := <-p.out:
					if !p.write(data) {
						return
					}
				default:
					p.sendClose()
					return
				}
			}
		case <-p.closeCh:
			p.sendClose()
			return
		}
	}
}

func (p *peer) write(data []byte) bool {
	if p.timeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if !p.closed.Load() {
			p.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}

func (p *peer) sendClose() {
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
