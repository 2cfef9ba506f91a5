package hostconn

import (
	"sync"

	"golang.org/x/exp/slog"
)

// Connection owns the single process-wide channel to the host renderer.
// Host calls must happen inside a Session, which serializes access for
// the duration of one operation.
type Connection struct {
	logger  *slog.Logger
	encoder Encoder

	mu       sync.Mutex
	features *FeatureInfo
}

// New builds a connection over an already-established encoder. Pass a nil
// logger to use slog.Default.
func New(logger *slog.Logger, encoder Encoder) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		logger:  logger,
		encoder: encoder,
	}
}

// Dial connects to the host renderer over the pipe transport.
func Dial(logger *slog.Logger) (*Connection, error) {
	encoder, err := dialPipeEncoder()
	if err != nil {
		return nil, err
	}
	return New(logger, encoder), nil
}

// Session acquires the exclusive host-channel scope. The caller must
// Close it before returning and must not span calls that could re-enter
// the allocator or mapper.
func (c *Connection) Session() *Session {
	c.mu.Lock()
	return &Session{conn: c}
}

// Features returns the host capability set, cached after the first query.
func (c *Connection) Features() *FeatureInfo {
	session := c.Session()
	defer session.Close()

	return session.Features()
}

type Session struct {
	conn *Connection
}

func (s *Session) Encoder() Encoder {
	return s.conn.encoder
}

func (s *Session) Features() *FeatureInfo {
	if s.conn.features == nil {
		s.conn.features = s.conn.encoder.FeatureInfo()
	}
	return s.conn.features
}

func (s *Session) Close() {
	s.conn.mu.Unlock()
}
