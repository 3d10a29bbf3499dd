package network

import (
	"context"

	"github.com/bchoi12/birdtown-sub001/logging"
)

const (
	// EventPeerJoined is emitted when a peer connection is accepted.
	EventPeerJoined logging.EventType = "network.peer_joined"
	// EventPeerLeft is emitted when a peer connection closes.
	EventPeerLeft logging.EventType = "network.peer_left"
	// EventDecodeFailed is emitted when an inbound frame cannot be decoded.
	EventDecodeFailed logging.EventType = "network.decode_failed"
	// EventSendFailed is emitted when an outbound frame cannot be written.
	EventSendFailed logging.EventType = "network.send_failed"
	// EventSeqRejected is emitted when a state envelope carries an implausible sequence number.
	EventSeqRejected logging.EventType = "network.seq_rejected"
)

// PeerJoinedPayload captures connection metadata for a new peer.
type PeerJoinedPayload struct {
	RemoteAddr string `json:"remoteAddr,omitempty"`
	Peers      int    `json:"peers"`
}

// PeerLeftPayload captures the reason a peer left.
type PeerLeftPayload struct {
	Reason string `json:"reason"`
	Peers  int    `json:"peers"`
}

// FramePayload describes a frame that failed to decode or send.
type FramePayload struct {
	Bytes int    `json:"bytes"`
	Error string `json:"error"`
}

// SeqRejectedPayload describes a state envelope dropped for its sequence number.
type SeqRejectedPayload struct {
	Seq     uint64 `json:"seq"`
	Last    uint64 `json:"last,omitempty"`
	Allowed uint64 `json:"allowed"`
	Reason  string `json:"reason"`
}

// PeerRef builds the actor reference for a peer id.
func PeerRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindPeer}
}

// PeerJoined publishes a peer join event.
func PeerJoined(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload PeerJoinedPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerJoined, logging.SeverityInfo, seq, actor, payload, extra)
}

// PeerLeft publishes a peer disconnect event.
func PeerLeft(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload PeerLeftPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerLeft, logging.SeverityInfo, seq, actor, payload, extra)
}

// DecodeFailed publishes a warning for a malformed inbound frame.
func DecodeFailed(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload FramePayload, extra map[string]any) {
	publish(ctx, pub, EventDecodeFailed, logging.SeverityWarn, seq, actor, payload, extra)
}

// SendFailed publishes a warning for an outbound frame that could not be written.
func SendFailed(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload FramePayload, extra map[string]any) {
	publish(ctx, pub, EventSendFailed, logging.SeverityWarn, seq, actor, payload, extra)
}

// SeqRejected publishes a warning for a state envelope whose sequence number
// jumped further ahead than the peer could have advanced.
func SeqRejected(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload SeqRejectedPayload, extra map[string]any) {
	publish(ctx, pub, EventSeqRejected, logging.SeverityWarn, seq, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, seq uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Seq:      seq,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
