// Package scale implements the coordinator-side half of C4: enriching
// operator-initiated /api/scale and /api/pod/modify_pod calls with a live
// node-CPU ranking, and /api/balance_node calls with a resource-ranked
// workload list, before forwarding them to the agent.
// Grounded on original_source/src/kubedoor-master/kubedoor-master.py's
// http_handler pre-processing for those three paths.
package scale

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nikarhub/kubedoor/pkg/promsource"
)

// NodeRanking is the enrichment payload forwarded alongside a scale/balance
// request: every schedulable node with its current CPU percent, already
// sorted ascending (least-loaded first) so the agent can pick greedily.
type NodeRanking struct {
	Node   string  `json:"node"`
	CPUPct float64 `json:"cpu_pct"`
}

// RankNodes queries live node CPU percent and returns it sorted ascending,
// used to enrich a request when add_label=true (spec.md §4.4 / SPEC_FULL §9
// Open Question resolution).
func RankNodes(ctx context.Context, prom *promsource.Client) ([]NodeRanking, error) {
	vec, err := prom.QueryInstant(ctx, promsource.NodeRankQuery(), time.Now())
	if err != nil {
		return nil, fmt.Errorf("query node rank: %w", err)
	}
	out := make([]NodeRanking, 0, len(vec))
	for _, sample := range vec {
		out = append(out, NodeRanking{
			Node:   string(sample.Metric["node"]),
			CPUPct: float64(sample.Value),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CPUPct < out[j].CPUPct })
	return out, nil
}

// DeploymentCandidate is one workload found running on a node by
// get_node_deployments, carrying the resource figures
// get_deployment_from_control_data looks up before ranking.
type DeploymentCandidate struct {
	Namespace    string
	Deployment   string
	RequestCPUM  int32
	RequestMemMB int32
}

// RankDeploymentsByResource sorts candidates descending by request_cpu_m or
// request_mem_mb (per resType) and returns at most limit "namespace/deployment"
// names, grounded on get_deployment_from_control_data's sort-then-slice
// (utils.py:653-714). A limit <= 0 returns every ranked candidate, matching
// the original's "if num > 0" guard.
func RankDeploymentsByResource(candidates []DeploymentCandidate, resType string, limit int) []string {
	ranked := append([]DeploymentCandidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if resType == "mem" {
			return ranked[i].RequestMemMB > ranked[j].RequestMemMB
		}
		return ranked[i].RequestCPUM > ranked[j].RequestCPUM
	})
	names := make([]string, 0, len(ranked))
	for _, c := range ranked {
		names = append(names, c.Namespace+"/"+c.Deployment)
	}
	if limit <= 0 {
		limit = len(names)
	}
	return DedupTopK(names, limit)
}

// DedupTopK applies balance_node's top-K dedup: given an ordered candidate
// list (RankDeploymentsByResource passes "namespace/deployment" names,
// highest request first) and a target count k, returns at most k distinct
// names, preserving order and dropping repeats — grounded on
// http_handler's "/api/balance_node" pre-processing which the original
// does with a seen-set + list comprehension.
func DedupTopK(candidates []string, k int) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, k)
	for _, c := range candidates {
		if len(out) >= k {
			break
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
