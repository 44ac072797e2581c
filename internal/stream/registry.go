// Package stream delivers push events to connected clients.
package stream

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"fundwatch/internal/logging"
)

// HeartbeatFrame is the SSE comment frame that keeps idle connections open.
var HeartbeatFrame = []byte(": heartbeat\n\n")

// RegistryConfig holds configuration for the Registry.
type RegistryConfig struct {
	// BufferSize is the size of each connection's frame buffer.
	BufferSize int
	// KeepAlive is the interval between heartbeat frames.
	KeepAlive time.Duration
}

// DefaultRegistryConfig returns the default registry configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		BufferSize: 32,
		KeepAlive:  30 * time.Second,
	}
}

// Connection is one open push stream. The writer side drains Frames until
// Done is closed.
type Connection struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Frames returns the connection's encoded frames.
func (c *Connection) Frames() <-chan []byte {
	return c.frames
}

// Done is closed when the registry has dropped the connection.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue never blocks; false means the buffer is full.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

// Registry holds the open connections of every user and fans events out to
// them. Sends snapshot the connection set under a read lock and enqueue
// without blocking, so a slow connection never holds up another. A
// connection whose buffer is full is dropped.
type Registry struct {
	config RegistryConfig
	logger zerolog.Logger

	mu     sync.RWMutex
	users  map[string]map[*Connection]struct{}
	closed bool

	// Metrics
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewRegistry creates a Registry.
func NewRegistry(config RegistryConfig, logger zerolog.Logger) *Registry {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultRegistryConfig().BufferSize
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = DefaultRegistryConfig().KeepAlive
	}
	return &Registry{
		config: config,
		logger: logging.WithComponent(logger, "push"),
		users:  make(map[string]map[*Connection]struct{}),
	}
}

// Register adds a connection for userID. A user may hold any number of
// connections. After Close the returned connection is already done.
func (r *Registry) Register(userID string) *Connection {
	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now(),
		frames:      make(chan []byte, r.config.BufferSize),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.close()
		return conn
	}
	bucket, ok := r.users[userID]
	if !ok {
		bucket = make(map[*Connection]struct{})
		r.users[userID] = bucket
	}
	bucket[conn] = struct{}{}
	total := len(bucket)
	r.mu.Unlock()

	log := logging.WithUser(r.logger, userID)
	log.Info().
		Str("conn_id", conn.ID).
		Int("user_connections", total).
		Msg("Push connection opened")
	return conn
}

// Unregister removes conn. It is safe to call more than once.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	bucket, ok := r.users[conn.UserID]
	_, present := bucket[conn]
	if ok && present {
		delete(bucket, conn)
		if len(bucket) == 0 {
			delete(r.users, conn.UserID)
		}
	}
	r.mu.Unlock()

	conn.close()

	if present {
		log := logging.WithUser(r.logger, conn.UserID)
		log.Info().
			Str("conn_id", conn.ID).
			Dur("open_for", time.Since(conn.ConnectedAt)).
			Msg("Push connection closed")
	}
}

// SendToUser delivers event to every connection of userID and returns the
// number of connections it was enqueued on.
func (r *Registry) SendToUser(userID string, event any) int {
	frame, err := EncodeEvent(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode push event")
		return 0
	}

	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.users[userID]))
	for c := range r.users[userID] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	return r.deliver(conns, frame)
}

// Broadcast delivers event to every connection of every user.
func (r *Registry) Broadcast(event any) int {
	frame, err := EncodeEvent(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode push event")
		return 0
	}
	return r.deliver(r.snapshot(), frame)
}

// SendFrame enqueues an already encoded frame on every connection.
func (r *Registry) SendFrame(frame []byte) int {
	return r.deliver(r.snapshot(), frame)
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, bucket := range r.users {
		for c := range bucket {
			conns = append(conns, c)
		}
	}
	return conns
}

func (r *Registry) deliver(conns []*Connection, frame []byte) int {
	delivered := 0
	var slow []*Connection
	for _, c := range conns {
		if c.enqueue(frame) {
			delivered++
			continue
		}
		slow = append(slow, c)
	}

	r.delivered.Add(uint64(delivered))
	for _, c := range slow {
		r.dropped.Inc()
		log := logging.WithUser(r.logger, c.UserID)
		log.Warn().
			Str("conn_id", c.ID).
			Msg("Push buffer full, dropping connection")
		r.Unregister(c)
	}
	return delivered
}

// KeepAlive sends a heartbeat frame to every connection each interval
// until ctx is done. A zero interval uses the configured one.
func (r *Registry) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.config.KeepAlive
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SendFrame(HeartbeatFrame)
		}
	}
}

// Close drops every connection and rejects new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	users := r.users
	r.users = make(map[string]map[*Connection]struct{})
	r.mu.Unlock()

	for _, bucket := range users {
		for c := range bucket {
			c.close()
		}
	}
}

// ConnectionCount returns the number of open connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, bucket := range r.users {
		count += len(bucket)
	}
	return count
}

// UserConnectionCount returns the number of connections userID holds.
func (r *Registry) UserConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Metrics returns registry metrics.
func (r *Registry) Metrics() RegistryMetrics {
	r.mu.RLock()
	users := len(r.users)
	r.mu.RUnlock()

	return RegistryMetrics{
		Connections: r.ConnectionCount(),
		Users:       users,
		Delivered:   r.delivered.Load(),
		Dropped:     r.dropped.Load(),
	}
}

// RegistryMetrics contains registry metrics.
type RegistryMetrics struct {
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// EncodeEvent renders event as an SSE data frame.
func EncodeEvent(event any) ([]byte, error) {
	var buf bytes.Buffer
	if err := sse.Encode(&buf, sse.Event{Data: event}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
