package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPort is the listen port used when ServerConfig.Address is empty.
const DefaultPort = 9000

// ServerConfig configures the equipment-protocol server.
type ServerConfig struct {
	// Address to listen on (e.g., ":9000" or "127.0.0.1:9000").
	Address string

	// MaxMessageSize is the maximum frame body size (default: 64KiB).
	MaxMessageSize uint32

	// Logger is the base logger; per-connection loggers are derived from
	// it with a conn_id field attached.
	Logger zerolog.Logger

	// OnConnect is called when a new connection is established, before
	// the read loop starts.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called after a connection's read loop returns, once
	// the connection has been removed from the server's registry.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every frame body received. Framing and
	// max-size enforcement happen before this is invoked; parsing the
	// pipe-delimited body is the handler's job.
	OnMessage func(conn *ServerConn, body []byte)

	// OnError is called when a non-fatal per-connection error occurs
	// (a malformed frame, a reset connection, and so on). conn is nil for
	// accept-loop level errors.
	OnError func(conn *ServerConn, err error)
}

// Server is the plain-TCP server that accepts equipment and operator
// connections and dispatches their frames to ServerConfig.OnMessage.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new server from config, filling in defaults for a
// zero-valued Address or MaxMessageSize.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start opens the listener and begins accepting connections. It returns
// once the listener is bound; connections are handled in background
// goroutines until Stop is called or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("transport: server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, closes every active connection, and waits for
// their handler goroutines to return.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	connLog := s.config.Logger.With().Str("conn_id", connID).Logger()

	sconn := &ServerConn{
		conn:       conn,
		framer:     NewFramerWithMaxSize(conn, s.config.MaxMessageSize, connLog),
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		connID:     connID,
	}
	defer sconn.Close()

	connLog.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("connection accepted")

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	connLog.Debug().Msg("connection closed")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// ServerConn is one accepted client connection, either an equipment
// simulator or an operator client; the dispatch layer distinguishes them
// by the identity bound through their first successful equipment_online
// or login message.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	connID     string

	writeMu sync.Mutex
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// ConnID returns the connection's unique identifier, used as the registry
// key before an equipment or operator identity is bound to it.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Send writes a frame to the client. Safe to call concurrently with itself
// and with the connection's own read loop.
func (c *ServerConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteFrame(data)
}

// Close closes the underlying connection. Safe to call more than once.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConn) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case <-c.server.ctx.Done():
			return
		default:
		}

		body, err := c.framer.ReadFrame()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if c.server.config.OnError != nil {
					c.server.config.OnError(c, err)
				}
			}
			return
		}

		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, body)
		}
	}
}
