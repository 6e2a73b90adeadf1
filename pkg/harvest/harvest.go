// Package harvest implements C3: the per-env, per-day peak-window metric
// harvest and control-table lifecycle described in spec.md §4.3. Grounded on
// original_source/src/kubedoor-master/kubedoor-master.py's cron_peak_data/
// init_peak_data and utils.py's get_list_from_resources / is_init_or_update /
// parse_insert_data / init_control_data / update_control_data.
package harvest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/promsource"
	"github.com/nikarhub/kubedoor/pkg/store"
)

const missingMetric = -1

// WorkloadKey identifies a workload across the eight merged metric queries,
// matching utils.py's "{env}@{namespace}@{replicaSetOwner}" composite key.
type WorkloadKey struct {
	Env             string
	Namespace       string
	ReplicaSetOwner string
}

func (k WorkloadKey) String() string {
	return fmt.Sprintf("%s@%s@%s", k.Env, k.Namespace, k.ReplicaSetOwner)
}

type Harvester struct {
	prom  *promsource.Client
	store *store.Store
	log   *zap.Logger

	peakHourStart string
	peakHourEnd   string
	batchSize     int
}

func New(prom *promsource.Client, st *store.Store, log *zap.Logger, peakStart, peakEnd string, batchSize int) *Harvester {
	return &Harvester{prom: prom, store: st, log: log, peakHourStart: peakStart, peakHourEnd: peakEnd, batchSize: batchSize}
}

// RunForDay executes the full harvest procedure for one env/day using the
// coordinator's global default peak window.
func (h *Harvester) RunForDay(ctx context.Context, env string, day time.Time) error {
	return h.RunForDayWindow(ctx, env, day, h.peakHourStart, h.peakHourEnd)
}

// SplitPeakHours parses an agent_status.peak_hours value of shape
// "HH:MM:SS-HH:MM:SS" into its start/end components, grounded on
// calculate_peak_duration_and_end_time's own "start_str, end_str =
// peak_hours.split('-')" (utils.py:95).
func SplitPeakHours(peakHours string) (start, end string, ok bool) {
	parts := strings.SplitN(peakHours, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// RunForDayWindow executes the full harvest procedure for one env/day:
// query the eight metrics over the given peak window, merge by workload
// key, fill missing metrics with -1, delete-then-insert the day's
// PeakSample rows, then derive/upsert control records (init-vs-update
// branching per workload). Lets runHarvestSchedule pass each env's own
// agent_status.peak_hours instead of the global default.
func (h *Harvester) RunForDayWindow(ctx context.Context, env string, day time.Time, peakHourStart, peakHourEnd string) error {
	envMatch := fmt.Sprintf(`env="%s"`, env)
	startT, err := time.Parse("15:04:05", peakHourStart)
	if err != nil {
		return fmt.Errorf("parse peak start %q: %w", peakHourStart, err)
	}
	endT, err := time.Parse("15:04:05", peakHourEnd)
	if err != nil {
		return fmt.Errorf("parse peak end %q: %w", peakHourEnd, err)
	}
	// Range-vector length of the peak window, evaluated at its end on day.
	window := fmt.Sprintf("%ds", int(endT.Sub(startT).Seconds()))
	at := time.Date(day.Year(), day.Month(), day.Day(), endT.Hour(), endT.Minute(), endT.Second(), 0, day.Location())

	type metricResult struct {
		name  string
		query string
	}
	queries := []metricResult{
		{"pod_count", promsource.PodCountQuery(envMatch)},
		{"p95_pod_cpu", promsource.P95PodCPUQuery(envMatch, window)},
		{"p95_pod_mem", promsource.P95PodMemQuery(envMatch, window)},
		{"p95_pod_load", promsource.P95PodLoadQuery(envMatch, window)},
		{"max_pod_cpu", promsource.MaxPodCPUQuery(envMatch, window)},
		{"max_pod_mem", promsource.MaxPodMemQuery(envMatch, window)},
		{"request_cpu", promsource.RequestCPUQuery(envMatch)},
		{"request_mem", promsource.RequestMemQuery(envMatch)},
	}

	merged := map[WorkloadKey]*store.PeakSample{}
	var errs error
	for _, q := range queries {
		vec, err := h.prom.QueryInstant(ctx, q.query, at)
		if err != nil {
			// a failed metric query degrades to -1 for every workload already
			// seen and is recorded, not fatal to the whole harvest.
			h.log.Warn("metric query failed, filling -1", zap.String("metric", q.name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("query %s: %w", q.name, err))
			continue
		}
		for _, sample := range vec {
			key := WorkloadKey{
				Env:             env,
				Namespace:       string(sample.Metric["namespace"]),
				ReplicaSetOwner: string(sample.Metric["deployment"]),
			}
			ps, ok := merged[key]
			if !ok {
				ps = &store.PeakSample{
					Day: day, Env: env, Namespace: key.Namespace, ReplicaSetOwner: key.ReplicaSetOwner,
					PodCount: missingMetric, P95PodCPU: missingMetric, P95PodMem: missingMetric,
					P95PodLoad: missingMetric, MaxPodCPU: missingMetric, MaxPodMem: missingMetric,
					RequestCPU: missingMetric, RequestMem: missingMetric,
				}
				merged[key] = ps
			}
			v := float64(sample.Value)
			switch q.name {
			case "pod_count":
				ps.PodCount = v
			case "p95_pod_cpu":
				ps.P95PodCPU = v
			case "p95_pod_mem":
				ps.P95PodMem = v
			case "p95_pod_load":
				ps.P95PodLoad = v
			case "max_pod_cpu":
				ps.MaxPodCPU = v
			case "max_pod_mem":
				ps.MaxPodMem = v
			case "request_cpu":
				ps.RequestCPU = v
			case "request_mem":
				ps.RequestMem = v
			}
		}
	}

	samples := make([]store.PeakSample, 0, len(merged))
	for _, p := range merged {
		samples = append(samples, *p)
	}

	dayStr := day.Format("2006-01-02")
	if err := h.store.DeletePeakSamplesForDay(ctx, env, dayStr); err != nil {
		return multierr.Append(errs, fmt.Errorf("delete peak samples: %w", err))
	}
	if err := h.store.InsertPeakSamples(ctx, samples, h.batchSize); err != nil {
		return multierr.Append(errs, fmt.Errorf("insert peak samples: %w", err))
	}

	if err := h.deriveControlRecords(ctx, env, samples); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// deriveControlRecords implements is_init_or_update: a workload with no
// existing control row is newly observed (init, logged as a new-workload
// notification); one that already has a row gets its observed_pod/resource
// columns refreshed (update) without disturbing manual_pod/ai_pod.
func (h *Harvester) deriveControlRecords(ctx context.Context, env string, samples []store.PeakSample) error {
	existing, err := h.store.ListControlRecords(ctx, env)
	if err != nil {
		return fmt.Errorf("list control records for derivation: %w", err)
	}
	byKey := map[string]store.ControlRecord{}
	for _, c := range existing {
		byKey[c.Namespace+"@"+c.Deployment] = c
	}

	var errs error
	for _, s := range samples {
		key := s.Namespace + "@" + s.ReplicaSetOwner
		cur, found := byKey[key]
		if !found {
			h.log.Info("new workload discovered during harvest",
				zap.String("env", env), zap.String("namespace", s.Namespace), zap.String("deployment", s.ReplicaSetOwner))
			cur = store.ControlRecord{
				Env: env, Namespace: s.Namespace, Deployment: s.ReplicaSetOwner,
				ManualPod: -1, AIPod: -1,
			}
		}
		cur.ObservedPod = int32(s.PodCount)
		if s.RequestCPU >= 0 {
			cur.RequestCPUM = clampCPU(int32(s.RequestCPU * 1000))
		}
		if s.RequestMem >= 0 {
			cur.RequestMemMB = int32(s.RequestMem / (1024 * 1024))
		}
		if err := h.store.UpsertControlRecord(ctx, cur); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("upsert control record %s: %w", key, err))
		}
	}
	return errs
}

// clampCPU applies the admission engine's own request_cpu_m floor (values in
// [0,10) round up to 10); -1 (no data) bypasses the clamp entirely, per the
// Open Question resolution in SPEC_FULL.md §9.
func clampCPU(v int32) int32 {
	if v < 0 {
		return v
	}
	if v < 10 {
		return 10
	}
	return v
}
