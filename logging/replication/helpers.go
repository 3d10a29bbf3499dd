// Package replication builds the diagnostic events emitted while merging and
// publishing replicated fields.
package replication

import (
	"context"

	"github.com/bchoi12/birdtown-sub001/logging"
)

const (
	// EventStaleRejected is emitted when a set arrives with a sequence number older than the field's.
	EventStaleRejected logging.EventType = "replication.stale_rejected"
	// EventUnknownKey is emitted when an incoming tree names a key nobody registered.
	EventUnknownKey logging.EventType = "replication.unknown_key"
	// EventTypeMismatch is emitted when an incoming value does not fit the registered kind.
	EventTypeMismatch logging.EventType = "replication.type_mismatch"
	// EventMissingValue is emitted when a field is read before it holds a value.
	EventMissingValue logging.EventType = "replication.missing_value"
	// EventResyncRequested is emitted when a full sync is requested from a peer.
	EventResyncRequested logging.EventType = "replication.resync_requested"
)

// FieldRef builds the actor reference for a field path such as "4/1/2".
func FieldRef(path string) logging.EntityRef {
	return logging.EntityRef{ID: path, Kind: logging.EntityKindField}
}

// StalePayload captures the sequence numbers of a rejected set.
type StalePayload struct {
	Incoming uint64 `json:"incoming"`
	Current  uint64 `json:"current"`
}

// UnknownKeyPayload captures where an unregistered key was seen.
type UnknownKeyPayload struct {
	Key uint32 `json:"key"`
}

// TypeMismatchPayload captures the registered and received kinds.
type TypeMismatchPayload struct {
	Registered string `json:"registered"`
	Received   string `json:"received"`
}

// ResyncPayload summarises why a full sync was requested.
type ResyncPayload struct {
	Peer        string `json:"peer"`
	UnknownIDs  uint64 `json:"unknownIds"`
	TotalRouted uint64 `json:"totalRouted"`
	Summary     string `json:"summary,omitempty"`
}

// StaleRejected publishes a debug event for a set rejected as out of order.
func StaleRejected(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload StalePayload, extra map[string]any) {
	publish(ctx, pub, EventStaleRejected, logging.SeverityDebug, seq, actor, payload, extra)
}

// UnknownKey publishes a debug event for an ignored incoming key.
func UnknownKey(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload UnknownKeyPayload, extra map[string]any) {
	publish(ctx, pub, EventUnknownKey, logging.SeverityDebug, seq, actor, payload, extra)
}

// TypeMismatch publishes an error: both peers must share the key to kind mapping,
// so a mismatch means the protocol definitions diverged.
func TypeMismatch(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload TypeMismatchPayload, extra map[string]any) {
	publish(ctx, pub, EventTypeMismatch, logging.SeverityError, seq, actor, payload, extra)
}

// MissingValue publishes a warning for a read of an empty field.
func MissingValue(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventMissingValue, logging.SeverityWarn, seq, actor, nil, extra)
}

// ResyncRequested publishes an info event when a full sync is requested.
func ResyncRequested(ctx context.Context, pub logging.Publisher, seq uint64, payload ResyncPayload, extra map[string]any) {
	publish(ctx, pub, EventResyncRequested, logging.SeverityInfo, seq, logging.EntityRef{ID: payload.Peer, Kind: logging.EntityKindPeer}, payload, extra)
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
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	})
}
