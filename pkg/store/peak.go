package store

import (
	"context"
	"fmt"
)

// DeletePeakSamplesForDay removes the day's rows before re-inserting, giving
// the harvest idempotent delete-then-insert semantics (spec.md §4.3 point 2).
func (s *Store) DeletePeakSamplesForDay(ctx context.Context, env string, day string) error {
	return s.conn.Exec(ctx, `ALTER TABLE k8s_resources DELETE WHERE env = ? AND toString(day) = ?`, env, day)
}

// InsertPeakSamples batches rows into k8s_resources in chunks of batchSize
// (default 10000 per spec.md §4.3 point 5).
func (s *Store) InsertPeakSamples(ctx context.Context, samples []PeakSample, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 10000
	}
	for start := 0; start < len(samples); start += batchSize {
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		batch, err := s.conn.PrepareBatch(ctx, `
			INSERT INTO k8s_resources
			(day, env, namespace, deployment, pod_count, p95_pod_cpu, p95_pod_mem,
			 p95_pod_load, max_pod_cpu, max_pod_mem, request_cpu, request_mem)`)
		if err != nil {
			return fmt.Errorf("prepare peak sample batch: %w", err)
		}
		for _, p := range samples[start:end] {
			if err := batch.Append(p.Day, p.Env, p.Namespace, p.ReplicaSetOwner, p.PodCount,
				p.P95PodCPU, p.P95PodMem, p.P95PodLoad, p.MaxPodCPU, p.MaxPodMem,
				p.RequestCPU, p.RequestMem); err != nil {
				return fmt.Errorf("append peak sample: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send peak sample batch: %w", err)
		}
	}
	return nil
}

// BestPeakDay picks the date within the lookback window maximizing
// Σ pod_count × p95_pod_load for a workload, grounded on utils.py's
// control-table derivation (the day chosen to seed manual/observed pod
// counts and resource requests).
func (s *Store) BestPeakDay(ctx context.Context, env, namespace, deployment string, lookbackDays int) (PeakSample, bool, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT day, env, namespace, deployment, pod_count, p95_pod_cpu, p95_pod_mem,
		       p95_pod_load, max_pod_cpu, max_pod_mem, request_cpu, request_mem
		FROM k8s_resources
		WHERE env = ? AND namespace = ? AND deployment = ?
		  AND day >= today() - ?
		ORDER BY pod_count * p95_pod_load DESC
		LIMIT 1`, env, namespace, deployment, lookbackDays)

	var p PeakSample
	if err := row.Scan(&p.Day, &p.Env, &p.Namespace, &p.ReplicaSetOwner, &p.PodCount,
		&p.P95PodCPU, &p.P95PodMem, &p.P95PodLoad, &p.MaxPodCPU, &p.MaxPodMem,
		&p.RequestCPU, &p.RequestMem); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return PeakSample{}, false, nil
		}
		return PeakSample{}, false, fmt.Errorf("query best peak day: %w", err)
	}
	return p, true, nil
}
