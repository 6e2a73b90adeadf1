package store

import (
	"context"
	"fmt"
)

// UpsertEvent inserts one event row, grounded on
// k8s_event/clickhouse_client.py's upsert_event. ReplacingMergeTree on
// eventUid means a later MODIFIED row for the same UID collapses the
// earlier one away on the next merge.
func (s *Store) UpsertEvent(ctx context.Context, e EventRecord) error {
	return s.conn.Exec(ctx, `
		INSERT INTO k8s_events
		(eventUid, eventStatus, level, count, kind, k8s, namespace, name, reason,
		 message, firstTimestamp, lastTimestamp, reportingComponent, reportingInstance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventUID, e.EventStatus, e.Level, e.Count, e.Kind, e.K8s, e.Namespace, e.Name,
		e.Reason, e.Message, e.FirstTimestamp, e.LastTimestamp, e.ReportingComponent, e.ReportingInstance)
}

// MarkEventAlerted sets level='已告警' on the matching event row, grounded on
// EventAlertProcessor's ClickHouse update on a rule match.
func (s *Store) MarkEventAlerted(ctx context.Context, eventUID string) error {
	return s.conn.Exec(ctx, `ALTER TABLE k8s_events UPDATE level = '已告警' WHERE eventUid = ?`, eventUID)
}

// EventQuery mirrors clickhouse_client.py's query_events_advanced
// parametrized filter set for the /api/events/query REST handler.
type EventQuery struct {
	Namespace   string
	Kind        string
	Level       string
	EventStatus string
	Since       string // RFC3339; filters lastTimestamp >= Since
	Limit       int
}

func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]EventRecord, error) {
	clauses := "WHERE 1 = 1"
	args := []interface{}{}
	if q.Namespace != "" {
		clauses += " AND namespace = ?"
		args = append(args, q.Namespace)
	}
	if q.Kind != "" {
		clauses += " AND kind = ?"
		args = append(args, q.Kind)
	}
	if q.Level != "" {
		clauses += " AND level = ?"
		args = append(args, q.Level)
	}
	if q.EventStatus != "" {
		clauses += " AND eventStatus = ?"
		args = append(args, q.EventStatus)
	}
	if q.Since != "" {
		clauses += " AND lastTimestamp >= ?"
		args = append(args, q.Since)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	query := fmt.Sprintf(`
		SELECT eventUid, eventStatus, level, count, kind, k8s, namespace, name, reason,
		       message, firstTimestamp, lastTimestamp, reportingComponent, reportingInstance
		FROM k8s_events FINAL
		%s
		ORDER BY lastTimestamp DESC
		LIMIT %d`, clauses, limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.EventUID, &e.EventStatus, &e.Level, &e.Count, &e.Kind, &e.K8s,
			&e.Namespace, &e.Name, &e.Reason, &e.Message, &e.FirstTimestamp, &e.LastTimestamp,
			&e.ReportingComponent, &e.ReportingInstance); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
