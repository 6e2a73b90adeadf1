package k8sops

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ScaleDeployment patches the /scale subresource to the target replica
// count, making up to 3 attempts on a version conflict, 1s apart, with a
// fresh read in each attempt; other errors are returned at once — matching kubedoor-agent.py's scale()'s hand-rolled
// `while retry_count < max_retries` loop, replaced with avast/retry-go (a
// teacher dependency).
func (c *Client) ScaleDeployment(ctx context.Context, namespace, name string, replicas int32) error {
	return retry.Do(
		func() error {
			scale, err := c.Clientset.AppsV1().Deployments(namespace).GetScale(ctx, name, metav1.GetOptions{})
			if err != nil {
				return fmt.Errorf("get scale for %s/%s: %w", namespace, name, err)
			}
			scale.Spec.Replicas = replicas
			_, err = c.Clientset.AppsV1().Deployments(namespace).UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
			if err != nil {
				return fmt.Errorf("update scale for %s/%s: %w", namespace, name, err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(apierrors.IsConflict),
		retry.LastErrorOnly(true),
	)
}

// RestartDeployment forces a rollout by patching the pod template's
// restartedAt annotation, matching kubedoor-agent.py's reboot().
func (c *Client) RestartDeployment(ctx context.Context, namespace, name, timestamp string) error {
	patch := []byte(fmt.Sprintf(
		`{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":%q}}}}}`, timestamp))
	_, err := c.Clientset.AppsV1().Deployments(namespace).Patch(ctx, name, "application/strategic-merge-patch+json", patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("restart deployment %s/%s: %w", namespace, name, err)
	}
	return nil
}
