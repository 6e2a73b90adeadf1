// Package events implements C5: event ingestion, the alert rule engine, and
// dedup/notification dispatch. Grounded on
// original_source/src/kubedoor-master/k8s_event/event_processor.py,
// alert_rule_matcher.py, and event_alert_processor.py.
package events

import (
	"fmt"
	"time"

	"github.com/nikarhub/kubedoor/pkg/store"
	"github.com/nikarhub/kubedoor/pkg/wire"
)

var beijing = time.FixedZone("Asia/Shanghai", 8*60*60)

// ParseTimestamp parses an RFC3339 timestamp (a "Z" suffix or an explicit
// UTC offset, e.g. "2025-08-28T11:16:47Z" or "2025-08-28T19:16:47+08:00")
// and converts it to Asia/Shanghai, matching _parse_timestamp. Unlike the
// original, a malformed timestamp is a hard error here
// rather than silently reinterpreted as "now" — the stricter behavior
// SPEC_FULL.md §9 resolves the Open Question to.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.In(beijing), nil
}

// Validate mirrors _validate_processed_data's field checks.
func Validate(e wire.K8SEvent) error {
	switch e.EventStatus {
	case "ADDED", "MODIFIED", "DELETED":
	default:
		return fmt.Errorf("invalid eventStatus %q", e.EventStatus)
	}
	switch e.Level {
	case "Normal", "Warning":
	default:
		return fmt.Errorf("invalid level %q", e.Level)
	}
	if e.Count < 0 {
		return fmt.Errorf("invalid count %d", e.Count)
	}
	if e.EventUID == "" || e.Kind == "" || e.Namespace == "" || e.Name == "" {
		return fmt.Errorf("missing required identity field")
	}
	return nil
}

// ToRecord converts a wire frame into the store's EventRecord, parsing and
// validating timestamps along the way. Returns an error if either timestamp
// fails to parse or lastTimestamp precedes firstTimestamp.
func ToRecord(e wire.K8SEvent) (store.EventRecord, error) {
	if err := Validate(e); err != nil {
		return store.EventRecord{}, err
	}
	first, err := ParseTimestamp(e.FirstTimestamp)
	if err != nil {
		return store.EventRecord{}, fmt.Errorf("firstTimestamp: %w", err)
	}
	last, err := ParseTimestamp(e.LastTimestamp)
	if err != nil {
		return store.EventRecord{}, fmt.Errorf("lastTimestamp: %w", err)
	}
	if last.Before(first) {
		return store.EventRecord{}, fmt.Errorf("lastTimestamp %s precedes firstTimestamp %s", last, first)
	}
	return store.EventRecord{
		EventUID:           e.EventUID,
		EventStatus:        e.EventStatus,
		Level:              e.Level,
		Count:              int32(e.Count),
		Kind:                e.Kind,
		K8s:                e.K8s,
		Namespace:          e.Namespace,
		Name:               e.Name,
		Reason:             e.Reason,
		Message:            e.Message,
		FirstTimestamp:     first,
		LastTimestamp:      last,
		ReportingComponent: e.ReportingComponent,
		ReportingInstance:  e.ReportingInstance,
	}, nil
}
