package events

import (
	"testing"

	"github.com/nikarhub/kubedoor/pkg/wire"
)

func TestParseTimestamp_ConvertsToBeijing(t *testing.T) {
	got, err := ParseTimestamp("2025-08-28T11:16:47Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Hour() != 19 || got.Minute() != 16 {
		t.Errorf("expected 19:16 Beijing time, got %s", got.Format("15:04"))
	}
}

func TestParseTimestamp_RejectsMalformed(t *testing.T) {
	if _, err := ParseTimestamp("not-a-timestamp"); err == nil {
		t.Error("expected an error for malformed timestamp, got nil")
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Error("expected an error for empty timestamp, got nil")
	}
}

func TestToRecord_RejectsOutOfOrderTimestamps(t *testing.T) {
	e := wire.K8SEvent{
		EventUID: "uid-1", EventStatus: "ADDED", Level: "Warning", Count: 1,
		Kind: "Pod", Namespace: "default", Name: "foo",
		FirstTimestamp: "2025-08-28T11:16:47Z",
		LastTimestamp:  "2025-08-28T10:00:00Z",
	}
	if _, err := ToRecord(e); err == nil {
		t.Error("expected an error when lastTimestamp precedes firstTimestamp")
	}
}

func TestToRecord_RejectsInvalidStatus(t *testing.T) {
	e := wire.K8SEvent{
		EventUID: "uid-1", EventStatus: "BOGUS", Level: "Warning", Count: 1,
		Kind: "Pod", Namespace: "default", Name: "foo",
		FirstTimestamp: "2025-08-28T11:16:47Z",
		LastTimestamp:  "2025-08-28T11:16:47Z",
	}
	if _, err := ToRecord(e); err == nil {
		t.Error("expected an error for invalid eventStatus")
	}
}
