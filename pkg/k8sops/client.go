// Package k8sops wraps the agent's client-go clientset for the operations
// spec.md §4.2/§4.4 require: mutating webhook lifecycle management, node
// labeling, and the scale-subresource patch with conflict retry. Grounded on
// original_source/src/kubedoor-agent/kubedoor-agent.py's
// get/create/delete_mutating_webhook, get_node_res_rank-driven labeling, and
// scale().
package k8sops

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type Client struct {
	Clientset *kubernetes.Clientset
}

// NewClient builds an in-cluster client, or loads kubeconfigPath if set
// (matching the agent's dual in-cluster/out-of-cluster startup path).
func NewClient(kubeconfigPath string) (*Client, error) {
	var cfg *rest.Config
	var err error
	if kubeconfigPath != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("build kube client config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build kube clientset: %w", err)
	}
	return &Client{Clientset: cs}, nil
}
