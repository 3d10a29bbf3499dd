package netcode

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bchoi12/birdtown-sub001/internal/netcode/wire"
	"github.com/bchoi12/birdtown-sub001/internal/telemetry"
	"github.com/bchoi12/birdtown-sub001/logging"
	"github.com/bchoi12/birdtown-sub001/logging/replication"
)

const (
	metricFieldChanges      = "netcode_field_changes"
	metricFieldPublishes    = "netcode_field_publishes_"
	metricStaleRejections   = "netcode_stale_rejections"
	metricTypeMismatches    = "netcode_type_mismatches"
	metricUnknownKeys       = "netcode_unknown_keys"
	metricMissingValues     = "netcode_missing_values"
	unknownKeyReportHistory = 256
)

// Deps carries the shared infrastructure used by fields, field sets and
// aggregators. Call WithDefaults once and hand the result to every container
// so they share one diagnostic rate limiter.
type Deps struct {
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
	// Epsilon is the float tolerance used by default equality.
	Epsilon float64

	diag *diagnostics
}

// WithDefaults fills unset dependencies with no-op or system implementations.
func (d Deps) WithDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = logging.NopPublisher()
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.Nop()
	}
	if d.Clock == nil {
		d.Clock = logging.ClockFunc(time.Now)
	}
	if d.Epsilon <= 0 {
		d.Epsilon = wire.DefaultEpsilon
	}
	if d.diag == nil {
		d.diag = newDiagnostics(d.Publisher, d.Metrics)
	}
	return d
}

// diagnostics reports conditions that never fail a tick but explain a field
// that silently stopped replicating.
type diagnostics struct {
	pub     logging.Publisher
	metrics telemetry.Metrics
	// Unknown keys repeat every message while peers disagree on the schema;
	// only the first sighting of each path is logged.
	reported *lru.Cache[uint64, struct{}]
}

func newDiagnostics(pub logging.Publisher, metrics telemetry.Metrics) *diagnostics {
	reported, err := lru.New[uint64, struct{}](unknownKeyReportHistory)
	if err != nil {
		reported = nil
	}
	return &diagnostics{pub: pub, metrics: metrics, reported: reported}
}

func (d *diagnostics) changed() {
	d.metrics.Add(metricFieldChanges, 1)
}

func (d *diagnostics) published(ch Channel) {
	d.metrics.Add(metricFieldPublishes+ch.String(), 1)
}

func (d *diagnostics) stale(seq uint64, path []wire.Key, current uint64) {
	d.metrics.Add(metricStaleRejections, 1)
	replication.StaleRejected(context.Background(), d.pub, seq, replication.FieldRef(formatPath(path)), replication.StalePayload{
		Incoming: seq,
		Current:  current,
	}, nil)
}

func (d *diagnostics) unknownKey(seq uint64, parent []wire.Key, key wire.Key) {
	d.metrics.Add(metricUnknownKeys, 1)
	path := formatPath(append(append([]wire.Key(nil), parent...), key))
	if d.reported != nil {
		if seen, _ := d.reported.ContainsOrAdd(xxhash.Sum64String(path), struct{}{}); seen {
			return
		}
	}
	replication.UnknownKey(context.Background(), d.pub, seq, replication.FieldRef(path), replication.UnknownKeyPayload{Key: uint32(key)}, nil)
}

func (d *diagnostics) typeMismatch(seq uint64, path []wire.Key, registered, received wire.Kind) {
	d.metrics.Add(metricTypeMismatches, 1)
	replication.TypeMismatch(context.Background(), d.pub, seq, replication.FieldRef(formatPath(path)), replication.TypeMismatchPayload{
		Registered: registered.String(),
		Received:   received.String(),
	}, nil)
}

func (d *diagnostics) missingValue(seq uint64, path []wire.Key) {
	d.metrics.Add(metricMissingValues, 1)
	replication.MissingValue(context.Background(), d.pub, seq, replication.FieldRef(formatPath(path)), nil)
}

func formatPath(path []wire.Key) string {
	if len(path) == 0 {
		return "/"
	}
	var b strings.Builder
	for i, key := range path {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(strconv.FormatUint(uint64(key), 10))
	}
	return b.String()
}

func childPath(parent []wire.Key, key wire.Key) []wire.Key {
	path := make([]wire.Key, len(parent)+1)
	copy(path, parent)
	path[len(parent)] = key
	return path
}
