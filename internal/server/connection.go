// Package server implements the TCP game server: the client connection
// registry, the reader goroutines, and the single dispatch loop that
// owns all session and matchmaking state.
package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nhatientri/Buckshot/internal/protocol"
)

// ConnID identifies one client connection for its lifetime.
type ConnID uint64

// Conn wraps a client's TCP connection. Each client keeps one persistent
// connection over which every command travels as a length-prefixed frame.
type Conn struct {
	mu     sync.Mutex
	id     ConnID
	conn   net.Conn
	logger zerolog.Logger

	username string // set once after a successful login

	connectedAt  time.Time
	lastActivity time.Time

	closed bool
}

// NewConn wraps an accepted net.Conn.
func NewConn(id ConnID, conn net.Conn) *Conn {
	now := time.Now()
	return &Conn{
		id:           id,
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "connection").
			Uint64("conn_id", uint64(id)).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() ConnID { return c.id }

// SetUsername binds a logged-in username to this connection.
func (c *Conn) SetUsername(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
	c.logger = log.With().
		Str("component", "connection").
		Uint64("conn_id", uint64(c.id)).
		Str("user", name).
		Logger()
}

// Username returns the bound username, empty before login.
func (c *Conn) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// ReadFrame reads one frame from the connection. Only the connection's
// reader goroutine calls this.
func (c *Conn) ReadFrame() (byte, []byte, error) {
	cmd, payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return 0, nil, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	return cmd, payload, nil
}

// Send writes one frame to the connection. Safe for concurrent use.
func (c *Conn) Send(cmd byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := protocol.WriteFrame(c.conn, cmd, payload); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ConnectedAt returns the time the connection was established.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Registry tracks active client connections and the username index.
// Reads come from the API server as well as the dispatch loop, so it
// carries its own lock.
type Registry struct {
	mu     sync.RWMutex
	conns  map[ConnID]*Conn
	byUser map[string]ConnID
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[ConnID]*Conn),
		byUser: make(map[string]ConnID),
	}
}

// Register adds a connection to the registry.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	log.Debug().Uint64("conn_id", uint64(conn.ID())).Msg("connection registered")
}

// Unregister closes and removes a connection, dropping its username
// binding if it had one.
func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return
	}
	if name := conn.Username(); name != "" {
		delete(r.byUser, name)
	}
	conn.Close()
	delete(r.conns, id)
	log.Debug().Uint64("conn_id", uint64(id)).Msg("connection unregistered")
}

// Bind associates a username with a connection after login. Fails when
// the user is already logged in on another live connection.
func (r *Registry) Bind(id ConnID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byUser[username]; ok && existing != id {
		return fmt.Errorf("user %s is already logged in", username)
	}
	conn, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("unknown connection %d", id)
	}
	conn.SetUsername(username)
	r.byUser[username] = id
	return nil
}

// Get returns the connection with the given ID.
func (r *Registry) Get(id ConnID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// ByUser returns the connection of a logged-in user.
func (r *Registry) ByUser(username string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[username]
	if !ok {
		return nil, false
	}
	conn, ok := r.conns[id]
	return conn, ok
}

// Usernames returns all logged-in usernames.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for name := range r.byUser {
		out = append(out, name)
	}
	return out
}

// Count returns the number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every connection in the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
	r.byUser = make(map[string]ConnID)
	log.Info().Msg("all connections closed")
}
