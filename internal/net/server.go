package net

import (
	"net"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Server accepts TCP connections and registers a Session per client in the
// hub, under a fresh KSUID observer id.
type Server struct {
	listener net.Listener
	hub      *Hub
	opts     SessionOptions
	log      *zap.Logger
	closeCh  chan struct{}
}

func NewServer(bindAddr string, hub *Hub, opts SessionOptions, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: ln,
		hub:      hub,
		opts:     opts,
		log:      log,
		closeCh:  make(chan struct{}),
	}, nil
}

// AcceptLoop runs in its own goroutine until Shutdown.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		id := ksuid.New().String()
		sess := NewSession(conn, id, s.hub, s.opts, s.log)
		if !s.hub.Add(sess) {
			s.log.Warn("server full, rejecting connection", zap.String("ip", sess.IP))
			sess.Close()
			continue
		}
		s.log.Info("client connected", zap.String("observer", id), zap.String("ip", sess.IP))
		sess.Start()
	}
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() error {
	close(s.closeCh)
	return s.listener.Close()
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
