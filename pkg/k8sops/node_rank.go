package k8sops

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// NodeLoad pairs a node name with its live CPU percent, as returned by
// promsource.NodeRankQuery.
type NodeLoad struct {
	Node    string
	CPUPct  float64
}

// RankNodesAscending sorts by CPU percent ascending (least-loaded first),
// used for scale-up: get_node_res_rank's scale-up ordering.
func RankNodesAscending(loads []NodeLoad) []NodeLoad {
	out := append([]NodeLoad(nil), loads...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CPUPct < out[j].CPUPct })
	return out
}

// RankNodesDescending sorts by CPU percent descending (most-loaded first),
// used for scale-down/unlabel: nodes to drain first.
func RankNodesDescending(loads []NodeLoad) []NodeLoad {
	out := append([]NodeLoad(nil), loads...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CPUPct > out[j].CPUPct })
	return out
}

// LabelKey is the sentinel label kubedoor attaches to nodes for a governed
// workload: "{namespace}.{deployment}" = nodeLabelValue. Grounded on
// utils.NODE_LABLE_VALUE. The original's get_deployment_affinity_old checks
// the hardcoded literal 'kubedoor-scheduler' instead of the configured
// sentinel in one legacy code path; this port always uses the configured
// value consistently (see DESIGN.md Open Question).
func LabelKey(namespace, deployment string) string {
	return fmt.Sprintf("%s.%s", namespace, deployment)
}

// LabelNodes adds the sentinel label to the given nodes for a workload,
// used when growing a scheduler=true workload onto new nodes.
func (c *Client) LabelNodes(ctx context.Context, namespace, deployment, labelValue string, nodes []string) error {
	key := LabelKey(namespace, deployment)
	for _, node := range nodes {
		patch := []byte(fmt.Sprintf(`{"metadata":{"labels":{%q:%q}}}`, key, labelValue))
		if _, err := c.Clientset.CoreV1().Nodes().Patch(ctx, node, "application/merge-patch+json", patch, metav1.PatchOptions{}); err != nil {
			return fmt.Errorf("label node %s: %w", node, err)
		}
	}
	return nil
}

// UnlabelNodes removes the sentinel label, used when shrinking a
// scheduler=true workload off nodes it no longer needs.
func (c *Client) UnlabelNodes(ctx context.Context, namespace, deployment string, nodes []string) error {
	key := LabelKey(namespace, deployment)
	patch := []byte(fmt.Sprintf(`{"metadata":{"labels":{%q:null}}}`, key))
	for _, node := range nodes {
		if _, err := c.Clientset.CoreV1().Nodes().Patch(ctx, node, "application/merge-patch+json", patch, metav1.PatchOptions{}); err != nil {
			return fmt.Errorf("unlabel node %s: %w", node, err)
		}
	}
	return nil
}

// ListNodes returns ready, schedulable nodes, used before ranking.
func (c *Client) ListNodes(ctx context.Context) ([]corev1.Node, error) {
	list, err := c.Clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	out := make([]corev1.Node, 0, len(list.Items))
	for _, n := range list.Items {
		if n.Spec.Unschedulable {
			continue
		}
		ready := false
		for _, cond := range n.Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				ready = true
			}
		}
		if !ready {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
