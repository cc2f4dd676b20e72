package net

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Session is one TCP client. Network I/O runs in dedicated goroutines; the
// game loop only calls TrySend.
type Session struct {
	id   string
	conn net.Conn
	hub  *Hub

	OutQueue chan []byte // writer goroutine reads from here
	IP       string

	maxFrame     int
	readTimeout  time.Duration
	writeTimeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	drainCh    chan struct{}
	drainOnce  sync.Once
	draining   atomic.Bool
	writerDone chan struct{}

	log *zap.Logger
}

// SessionOptions carries the per-connection limits.
type SessionOptions struct {
	OutQueueSize int
	MaxFrameSize int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewSession(conn net.Conn, id string, hub *Hub, opts SessionOptions, log *zap.Logger) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		hub:          hub,
		OutQueue:     make(chan []byte, opts.OutQueueSize),
		IP:           conn.RemoteAddr().String(),
		maxFrame:     opts.MaxFrameSize,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		closeCh:      make(chan struct{}),
		drainCh:      make(chan struct{}),
		writerDone:   make(chan struct{}),
		log:          log.With(zap.String("observer", id)),
	}
}

func (s *Session) ID() string { return s.id }

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// TrySend queues a message for the writer. Non-blocking: a full queue means
// the client is not keeping up and the message is refused.
func (s *Session) TrySend(data []byte) bool {
	if s.closed.Load() || s.draining.Load() {
		return false
	}
	select {
	case s.OutQueue <- data:
		return true
	default:
		return false
	}
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

// Drain refuses further sends, lets the writer flush every queued frame and
// then closes the connection. If ctx expires first the connection is closed
// at once and ctx's error returned. Sends racing with Drain may be lost, so
// call it from the goroutine that calls TrySend.
func (s *Session) Drain(ctx context.Context) error {
	s.drainOnce.Do(func() {
		s.draining.Store(true)
		close(s.drainCh)
	})
	select {
	case <-s.writerDone:
		return nil
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads frames and hands them to the hub until the connection
// fails, then reports the session gone.
func (s *Session) readLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("read loop panic recovered", zap.Any("panic", rec))
		}
		s.Close()
		s.hub.Remove(s.id)
		s.log.Info("client disconnected", zap.String("ip", s.IP))
	}()

	for {
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		payload, err := ReadFrame(s.conn, s.maxFrame)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		s.hub.Inbound(s.id, payload)
	}
}

// writeLoop writes queued messages as frames. On drain it empties the
// queue and half-closes the connection before closing it.
func (s *Session) writeLoop() {
	defer close(s.writerDone)
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.write(data) {
				return
			}
		case <-s.drainCh:
			for {
				select {
				case data := <-s.OutQueue:
					if !s.write(data) {
						return
					}
				default:
					if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
						cw.CloseWrite()
					}
					return
				}
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) write(data []byte) bool {
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
