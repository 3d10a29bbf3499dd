package ws

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

// Session is one connected peer. Writes are serialised because gorilla
// connections support a single concurrent writer.
type Session struct {
	id           string
	remoteAddr   string
	conn         *websocket.Conn
	writeTimeout time.Duration
	connectedAt  time.Time

	mu        sync.Mutex
	sentBytes atomic.Uint64
	recvBytes atomic.Uint64
}

func newSession(id string, conn *websocket.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		remoteAddr:   conn.RemoteAddr().String(),
		conn:         conn,
		writeTimeout: writeTimeout,
		connectedAt:  time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) RemoteAddr() string { return s.remoteAddr }

// WriteMessage writes one frame, honouring the configured write timeout.
func (s *Session) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	s.sentBytes.Add(uint64(len(data)))
	return nil
}

// Close sends a close frame with code and reason and drops the connection.
func (s *Session) Close(code int, reason string) {
	s.mu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	s.mu.Unlock()
	_ = s.conn.Close()
}

// SessionInfo is the diagnostics view of a session.
type SessionInfo struct {
	ID          string `json:"id"`
	RemoteAddr  string `json:"remoteAddr"`
	ConnectedAt int64  `json:"connectedAt"`
	SentBytes   uint64 `json:"sentBytes"`
	RecvBytes   uint64 `json:"recvBytes"`
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		RemoteAddr:  s.remoteAddr,
		ConnectedAt: s.connectedAt.UnixMilli(),
		SentBytes:   s.sentBytes.Load(),
		RecvBytes:   s.recvBytes.Load(),
	}
}

// Peers is the registry of connected sessions, safe for concurrent use.
type Peers struct {
	sessions *xsync.MapOf[string, *Session]
}

func NewPeers() *Peers {
	return &Peers{sessions: xsync.NewMapOf[string, *Session]()}
}

// Add registers s unless its id is already connected.
func (p *Peers) Add(s *Session) bool {
	_, loaded := p.sessions.LoadOrStore(s.id, s)
	return !loaded
}

// Remove drops the session registered under id, if it is still s.
func (p *Peers) Remove(s *Session) {
	p.sessions.Compute(s.id, func(current *Session, loaded bool) (*Session, bool) {
		return current, !loaded || current == s
	})
}

func (p *Peers) Get(id string) (*Session, bool) {
	return p.sessions.Load(id)
}

func (p *Peers) Len() int {
	return p.sessions.Size()
}

// Range calls f for every session until it returns false.
func (p *Peers) Range(f func(*Session) bool) {
	p.sessions.Range(func(_ string, s *Session) bool {
		return f(s)
	})
}

// Snapshot lists connected sessions ordered by id.
func (p *Peers) Snapshot() []SessionInfo {
	infos := make([]SessionInfo, 0, p.sessions.Size())
	p.Range(func(s *Session) bool {
		infos = append(infos, s.info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
