package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bchoi12/birdtown-sub001/logging"
)

func sampleEvent() logging.Event {
	return logging.Event{
		Type:     "replication.stale_rejected",
		Seq:      9,
		Time:     time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Actor:    logging.EntityRef{ID: "4/1", Kind: logging.EntityKindField},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryReplication,
		Payload:  map[string]uint64{"incoming": 9, "current": 10},
	}
}

func TestJSONWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	if err := sink.Write(sampleEvent()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("failed to decode line: %v", err)
	}
	if decoded["type"] != "replication.stale_rejected" || decoded["severity"] != "debug" {
		t.Fatalf("unexpected encoded event %v", decoded)
	}
	if decoded["seq"] != float64(9) {
		t.Fatalf("expected seq 9, got %v", decoded["seq"])
	}
}

func TestConsoleFormatsActorAndPayload(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	event := sampleEvent()
	event.Extra = map[string]any{"channel": "reliable"}
	if err := sink.Write(event); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"[replication.stale_rejected]", "seq=9", "actor=field:4/1", `payload={"current":10,"incoming":9}`, "channel=reliable"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestMemoryFiltersByType(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(sampleEvent())
	sink.Write(logging.Event{Type: "network.peer_joined"})

	if got := len(sink.EventsOfType("network.peer_joined")); got != 1 {
		t.Fatalf("expected one peer_joined event, got %d", got)
	}
	sink.Reset()
	if got := len(sink.Events()); got != 0 {
		t.Fatalf("expected reset to clear events, got %d", got)
	}
}
