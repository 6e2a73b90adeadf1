package k8sops

import (
	"bufio"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// StreamPodLogs follows a container's log stream and calls emit for every
// line until ctx is cancelled or the stream ends, grounded on
// kubedoor-agent.py's start_pod_logs (a follow=True log read relayed line by
// line over the websocket).
func (c *Client) StreamPodLogs(ctx context.Context, namespace, pod, container string, emit func(line string) error) error {
	opts := &corev1.PodLogOptions{Follow: true}
	if container != "" {
		opts.Container = container
	}
	stream, err := c.Clientset.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return fmt.Errorf("open log stream for %s/%s: %w", namespace, pod, err)
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := emit(scanner.Text()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return scanner.Err()
}
