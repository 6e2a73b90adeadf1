package store

import "time"

// PeakSample is one workload's peak-window resource observation for one day,
// grounded on utils.py's parse_insert_data / the k8s_resources table.
type PeakSample struct {
	Day             time.Time `ch:"day"`
	Env             string    `ch:"env"`
	Namespace       string    `ch:"namespace"`
	ReplicaSetOwner string    `ch:"deployment"` // "{namespace}@{replicaSetOwner}" key component
	PodCount        float64   `ch:"pod_count"`
	P95PodCPU       float64   `ch:"p95_pod_cpu"`
	P95PodMem       float64   `ch:"p95_pod_mem"`
	P95PodLoad      float64   `ch:"p95_pod_load"`
	MaxPodCPU       float64   `ch:"max_pod_cpu"`
	MaxPodMem       float64   `ch:"max_pod_mem"`
	RequestCPU      float64   `ch:"request_cpu"`
	RequestMem      float64   `ch:"request_mem"`
}

// ControlRecord is the governance row the admission engine answers against:
// one row per (env, namespace, deployment), ReplacingMergeTree-deduplicated
// on update, grounded on utils.py's init_control_data/update_control_data.
type ControlRecord struct {
	UpdatedAt    time.Time `ch:"updated_at"` // ReplacingMergeTree version column
	Env          string    `ch:"env"`
	Namespace    string    `ch:"namespace"`
	Deployment   string    `ch:"deployment"`
	ManualPod    int32     `ch:"manual_pod"`   // operator-pinned replica count, -1 if unset
	AIPod        int32     `ch:"ai_pod"`       // AI-suggested replica count, -1 if unset
	ObservedPod  int32     `ch:"observed_pod"` // last-observed replica count from the harvest
	RequestCPUM  int32     `ch:"request_cpu_m"`
	RequestMemMB int32     `ch:"request_mem_mb"`
	LimitCPUM    int32     `ch:"limit_cpu_m"`
	LimitMemMB   int32     `ch:"limit_mem_mb"`
}

// EffectivePodCount resolves the precedence manual > ai > observed from
// spec.md §4.2.
func (c ControlRecord) EffectivePodCount() int32 {
	if c.ManualPod >= 0 {
		return c.ManualPod
	}
	if c.AIPod >= 0 {
		return c.AIPod
	}
	return c.ObservedPod
}

// AgentStatus is the coordinator's durable view of each agent's last-known
// state and per-env governance toggles, grounded on kubedoor-master.py's
// k8s_agent_status lookup table (ck_agent_collect_info / get_deploy_admis /
// the /agent/status query at utils.py:356).
type AgentStatus struct {
	Env       string    `ch:"env"`
	Online    bool      `ch:"online"`
	Version   string    `ch:"version"`
	UpdatedAt time.Time `ch:"updated_at"`

	Collect            bool   `ch:"collect"`             // included in the harvest's peak-data sweep
	PeakHours          string `ch:"peak_hours"`           // "HH:MM:SS-HH:MM:SS", this env's peak window
	Admission          bool   `ch:"admission"`            // admission webhook governance enabled for this env
	AdmissionNamespace string `ch:"admission_namespace"`  // JSON array of governed namespaces, e.g. ["ns1","ns2"]
	NmsNotConfirm      bool   `ch:"nms_not_confirm"`       // new, unregistered services bypass governance instead of 404
	Scheduler          bool   `ch:"scheduler"`             // force-balance / node-affinity mode
}

// EventRecord is the k8s_events row, grounded on
// k8s_event/clickhouse_client.py's upsert_event column list.
type EventRecord struct {
	EventUID           string    `ch:"eventUid"`
	EventStatus        string    `ch:"eventStatus"`
	Level              string    `ch:"level"`
	Count              int32     `ch:"count"`
	Kind               string    `ch:"kind"`
	K8s                string    `ch:"k8s"`
	Namespace          string    `ch:"namespace"`
	Name               string    `ch:"name"`
	Reason             string    `ch:"reason"`
	Message            string    `ch:"message"`
	FirstTimestamp     time.Time `ch:"firstTimestamp"`
	LastTimestamp      time.Time `ch:"lastTimestamp"`
	ReportingComponent string    `ch:"reportingComponent"`
	ReportingInstance  string    `ch:"reportingInstance"`
}
