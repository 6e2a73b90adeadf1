package store

import (
	"context"
	"fmt"
	"time"
)

// InitAgentStatus ensures a row exists for env, matching kubedoor-master.py's
// ck_init_agent_status (insert-if-absent on first connect).
func (s *Store) InitAgentStatus(ctx context.Context, env, version string) error {
	_, found, err := s.getAgentStatus(ctx, env)
	if err != nil {
		return err
	}
	if found {
		return s.SetAgentOnline(ctx, env, version, true)
	}
	return s.conn.Exec(ctx, `
		INSERT INTO k8s_agent_status (env, online, version, updated_at)
		VALUES (?, true, ?, ?)`, env, version, time.Now())
}

func (s *Store) getAgentStatus(ctx context.Context, env string) (AgentStatus, bool, error) {
	row := s.conn.QueryRow(ctx, `SELECT env, online, version, updated_at FROM k8s_agent_status WHERE env = ? LIMIT 1`, env)
	var a AgentStatus
	if err := row.Scan(&a.Env, &a.Online, &a.Version, &a.UpdatedAt); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return AgentStatus{}, false, nil
		}
		return AgentStatus{}, false, fmt.Errorf("query agent status: %w", err)
	}
	return a, true, nil
}

// GetGovernanceStatus answers get_deploy_admis's first query: is namespace
// under this env's admission governance, and if so what are its scheduler /
// nms_not_confirm toggles. found is false when the env has no row matching
// admission=1 and an admission_namespace membership for namespace, which
// utils.py:380 treats as "非管控命名空间，直接放行" (plain admit, no mutation).
func (s *Store) GetGovernanceStatus(ctx context.Context, env, namespace string) (AgentStatus, bool, error) {
	likePattern := `%"` + namespace + `"%`
	row := s.conn.QueryRow(ctx, `
		SELECT scheduler, nms_not_confirm
		FROM k8s_agent_status
		WHERE env = ? AND admission = 1 AND admission_namespace LIKE ?
		LIMIT 1`, env, likePattern)
	var a AgentStatus
	if err := row.Scan(&a.Scheduler, &a.NmsNotConfirm); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return AgentStatus{}, false, nil
		}
		return AgentStatus{}, false, fmt.Errorf("query agent governance status: %w", err)
	}
	a.Env = env
	return a, true, nil
}

// ListCollectEnvs returns the envs with collect=1 and their per-env
// peak_hours window, grounded on utils.py:326's ck_agent_collect_info query
// that drives the harvest's daily sweep.
func (s *Store) ListCollectEnvs(ctx context.Context) ([]AgentStatus, error) {
	rows, err := s.conn.Query(ctx, `SELECT env, peak_hours FROM k8s_agent_status WHERE collect = 1`)
	if err != nil {
		return nil, fmt.Errorf("list collect envs: %w", err)
	}
	defer rows.Close()
	var out []AgentStatus
	for rows.Next() {
		var a AgentStatus
		if err := rows.Scan(&a.Env, &a.PeakHours); err != nil {
			return nil, err
		}
		a.Collect = true
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAgentOnline flips the online flag via ALTER ... UPDATE, matching the
// original's mutable lookup-table treatment of k8s_agent_status (unlike the
// append-only ReplacingMergeTree tables).
func (s *Store) SetAgentOnline(ctx context.Context, env, version string, online bool) error {
	return s.conn.Exec(ctx, `
		ALTER TABLE k8s_agent_status
		UPDATE online = ?, version = ?, updated_at = ?
		WHERE env = ?`, online, version, time.Now(), env)
}

// ListAgentStatuses powers the /api/agent/status surface, grounded on
// utils.py:356's full-column dump (env, collect, peak_hours, admission,
// admission_namespace, nms_not_confirm, scheduler) alongside the
// connection-bookkeeping columns.
func (s *Store) ListAgentStatuses(ctx context.Context) ([]AgentStatus, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT env, online, version, updated_at,
		       collect, peak_hours, admission, admission_namespace, nms_not_confirm, scheduler
		FROM k8s_agent_status`)
	if err != nil {
		return nil, fmt.Errorf("list agent statuses: %w", err)
	}
	defer rows.Close()
	var out []AgentStatus
	for rows.Next() {
		var a AgentStatus
		if err := rows.Scan(&a.Env, &a.Online, &a.Version, &a.UpdatedAt,
			&a.Collect, &a.PeakHours, &a.Admission, &a.AdmissionNamespace, &a.NmsNotConfirm, &a.Scheduler); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
