package ws

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bchoi12/birdtown-sub001/internal/netcode"
	"github.com/bchoi12/birdtown-sub001/logging"
	"github.com/bchoi12/birdtown-sub001/logging/network"
)

// ErrUnknownPeer is returned by SendTo for ids with no open connection.
var ErrUnknownPeer = errors.New("ws: unknown peer")

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultReadLimit    = 1 << 20
)

// Receiver consumes peer traffic. *loop.Loop satisfies it.
type Receiver interface {
	Deliver(peer string, data []byte) error
	RequestFullSync(peer string)
	Forget(peer string)
	Seq() uint64
}

type HandlerConfig struct {
	Logger       *log.Logger
	Publisher    logging.Publisher
	WriteTimeout time.Duration
	ReadLimit    int64
}

// Handler accepts websocket peers and implements the loop's Sender. Every
// channel shares the one ordered connection per peer.
type Handler struct {
	receiver     Receiver
	peers        *Peers
	logger       *log.Logger
	publisher    logging.Publisher
	writeTimeout time.Duration
	readLimit    int64
	upgrader     websocket.Upgrader
}

func NewHandler(receiver Receiver, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		receiver:     receiver,
		peers:        NewPeers(),
		logger:       logger,
		publisher:    publisher,
		writeTimeout: writeTimeout,
		readLimit:    readLimit,
		upgrader:     upgrader,
	}
}

// SetReceiver swaps the receiver. It must be called before serving traffic.
func (h *Handler) SetReceiver(receiver Receiver) {
	h.receiver = receiver
}

func (h *Handler) Peers() *Peers {
	return h.peers
}

// Handle upgrades the request and serves the peer until it disconnects. The
// optional id query parameter names the peer; otherwise a uuid is assigned.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	peerID := r.URL.Query().Get("id")
	if peerID == "" {
		peerID = uuid.NewString()
	}
	if _, exists := h.peers.Get(peerID); exists {
		nethttp.Error(w, "peer already connected", nethttp.StatusConflict)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", peerID, err)
		return
	}

	session := newSession(peerID, conn, h.writeTimeout)
	if !h.peers.Add(session) {
		session.Close(websocket.ClosePolicyViolation, "peer already connected")
		return
	}

	network.PeerJoined(context.Background(), h.publisher, h.seq(), network.PeerRef(peerID), network.PeerJoinedPayload{
		RemoteAddr: session.RemoteAddr(),
		Peers:      h.peers.Len(),
	}, nil)
	if h.receiver != nil {
		h.receiver.RequestFullSync(peerID)
	}

	reason := h.readLoop(session)

	h.peers.Remove(session)
	if h.receiver != nil {
		h.receiver.Forget(peerID)
	}
	_ = conn.Close()
	network.PeerLeft(context.Background(), h.publisher, h.seq(), network.PeerRef(peerID), network.PeerLeftPayload{
		Reason: reason,
		Peers:  h.peers.Len(),
	}, nil)
}

func (h *Handler) readLoop(session *Session) string {
	session.conn.SetReadLimit(h.readLimit)
	for {
		messageType, payload, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "closed"
			}
			return err.Error()
		}
		if messageType != websocket.BinaryMessage {
			h.logger.Printf("discarding non-binary frame from %s", session.ID())
			continue
		}
		session.recvBytes.Add(uint64(len(payload)))
		if h.receiver == nil {
			continue
		}
		if err := h.receiver.Deliver(session.ID(), payload); err != nil {
			h.logger.Printf("dropping frame from %s: %v", session.ID(), err)
		}
	}
}

// Broadcast writes data to every connected peer. Peers whose write fails are
// disconnected.
func (h *Handler) Broadcast(ch netcode.Channel, data []byte) {
	h.peers.Range(func(s *Session) bool {
		if err := s.WriteMessage(websocket.BinaryMessage, data); err != nil {
			h.dropAfterWriteFailure(s, ch, len(data), err)
		}
		return true
	})
}

// SendTo writes data to one peer.
func (h *Handler) SendTo(peer string, ch netcode.Channel, data []byte) error {
	s, ok := h.peers.Get(peer)
	if !ok {
		return ErrUnknownPeer
	}
	if err := s.WriteMessage(websocket.BinaryMessage, data); err != nil {
		h.dropAfterWriteFailure(s, ch, len(data), err)
		return err
	}
	return nil
}

func (h *Handler) dropAfterWriteFailure(s *Session, ch netcode.Channel, size int, err error) {
	network.SendFailed(context.Background(), h.publisher, h.seq(), network.PeerRef(s.ID()), network.FramePayload{
		Bytes: size,
		Error: err.Error(),
	}, map[string]any{"channel": ch.String()})
	s.Close(websocket.CloseInternalServerErr, "write failed")
}

func (h *Handler) seq() uint64 {
	if h.receiver == nil {
		return 0
	}
	return h.receiver.Seq()
}
