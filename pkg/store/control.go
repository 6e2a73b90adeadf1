package store

import (
	"context"
	"fmt"
	"time"
)

// GetControlRecord fetches the single most recent row for (env, namespace,
// deployment) — callers rely on ReplacingMergeTree final-state semantics,
// so this queries with FINAL, matching spec.md's ReplacingMergeTree
// preference design note.
func (s *Store) GetControlRecord(ctx context.Context, env, namespace, deployment string) (ControlRecord, bool, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT updated_at, env, namespace, deployment, manual_pod, ai_pod,
		       observed_pod, request_cpu_m, request_mem_mb, limit_cpu_m,
		       limit_mem_mb
		FROM k8s_res_control FINAL
		WHERE env = ? AND namespace = ? AND deployment = ?
		LIMIT 1`, env, namespace, deployment)

	var c ControlRecord
	if err := row.Scan(&c.UpdatedAt, &c.Env, &c.Namespace, &c.Deployment, &c.ManualPod,
		&c.AIPod, &c.ObservedPod, &c.RequestCPUM, &c.RequestMemMB, &c.LimitCPUM,
		&c.LimitMemMB); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return ControlRecord{}, false, nil
		}
		return ControlRecord{}, false, fmt.Errorf("query control record: %w", err)
	}
	return c, true, nil
}

// UpsertControlRecord inserts a new version of a control row; ReplacingMergeTree
// collapses to the highest updated_at on the next merge/FINAL read.
func (s *Store) UpsertControlRecord(ctx context.Context, c ControlRecord) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	return s.conn.Exec(ctx, `
		INSERT INTO k8s_res_control
		(updated_at, env, namespace, deployment, manual_pod, ai_pod, observed_pod,
		 request_cpu_m, request_mem_mb, limit_cpu_m, limit_mem_mb)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UpdatedAt, c.Env, c.Namespace, c.Deployment, c.ManualPod, c.AIPod, c.ObservedPod,
		c.RequestCPUM, c.RequestMemMB, c.LimitCPUM, c.LimitMemMB)
}

// ListControlRecords returns every governed workload for an env, used by
// the harvest's init-vs-update branching to detect new workloads.
func (s *Store) ListControlRecords(ctx context.Context, env string) ([]ControlRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT updated_at, env, namespace, deployment, manual_pod, ai_pod,
		       observed_pod, request_cpu_m, request_mem_mb, limit_cpu_m,
		       limit_mem_mb
		FROM k8s_res_control FINAL
		WHERE env = ?`, env)
	if err != nil {
		return nil, fmt.Errorf("list control records: %w", err)
	}
	defer rows.Close()

	var out []ControlRecord
	for rows.Next() {
		var c ControlRecord
		if err := rows.Scan(&c.UpdatedAt, &c.Env, &c.Namespace, &c.Deployment, &c.ManualPod,
			&c.AIPod, &c.ObservedPod, &c.RequestCPUM, &c.RequestMemMB, &c.LimitCPUM,
			&c.LimitMemMB); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
