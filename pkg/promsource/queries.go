package promsource

import "fmt"

// The eight PromQL templates the harvest procedure runs per env, carried
// from original_source/src/kubedoor-master/promql.py. %s is the env's
// namespace-selector label matcher (e.g. `env="prod-a"`).

func PodCountQuery(envMatch string) string {
	return fmt.Sprintf(`count by (namespace, deployment) (kube_pod_owner{%s})`, envMatch)
}

func P95PodCPUQuery(envMatch, window string) string {
	return fmt.Sprintf(`quantile_over_time(0.95, sum by (namespace, deployment) (rate(container_cpu_usage_seconds_total{%s}[1m]))[%s:1m])`, envMatch, window)
}

func P95PodMemQuery(envMatch, window string) string {
	return fmt.Sprintf(`quantile_over_time(0.95, sum by (namespace, deployment) (container_memory_working_set_bytes{%s})[%s:1m])`, envMatch, window)
}

func P95PodLoadQuery(envMatch, window string) string {
	return fmt.Sprintf(`quantile_over_time(0.95, sum by (namespace, deployment) (rate(container_cpu_usage_seconds_total{%s}[1m]) / container_spec_cpu_quota{%s} * container_spec_cpu_period{%s})[%s:1m])`, envMatch, envMatch, envMatch, window)
}

func MaxPodCPUQuery(envMatch, window string) string {
	return fmt.Sprintf(`max_over_time(sum by (namespace, deployment) (rate(container_cpu_usage_seconds_total{%s}[1m]))[%s:1m])`, envMatch, window)
}

func MaxPodMemQuery(envMatch, window string) string {
	return fmt.Sprintf(`max_over_time(sum by (namespace, deployment) (container_memory_working_set_bytes{%s})[%s:1m])`, envMatch, window)
}

func RequestCPUQuery(envMatch string) string {
	return fmt.Sprintf(`sum by (namespace, deployment) (kube_pod_container_resource_requests{resource="cpu", %s})`, envMatch)
}

func RequestMemQuery(envMatch string) string {
	return fmt.Sprintf(`sum by (namespace, deployment) (kube_pod_container_resource_requests{resource="memory", %s})`, envMatch)
}

// NodeRankQuery ranks nodes by live CPU percent, used by the labeled-scale
// algorithm (spec.md §4.4) and the /api/scale add_label enrichment path.
func NodeRankQuery() string {
	return `100 * (1 - avg by (node) (rate(node_cpu_seconds_total{mode="idle"}[2m])))`
}

// namespaceExclude matches the original's namespace_str_exclude
// (utils.py:90): system/infra namespaces balance_node never moves.
const namespaceExclude = `loggie|kubedoor|kube-otel|cert-manager|kube-system|ops-monit`

// NodeDeploymentsQuery lists the ReplicaSet-owned pods currently scheduled
// onto node, used by /api/balance_node's source/target diff step, grounded
// on promql.py's "deployments_by_node" template.
func NodeDeploymentsQuery(envMatch, node string) string {
	return fmt.Sprintf(`kube_pod_info{%s, created_by_kind="ReplicaSet", namespace!~"%s", node="%s"}`, envMatch, namespaceExclude, node)
}
