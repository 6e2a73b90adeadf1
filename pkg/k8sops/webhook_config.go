package k8sops

import (
	"context"
	"fmt"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const webhookConfigName = "kubedoor-admission"

// WebhookConfigSpec describes the one MutatingWebhookConfiguration kubedoor
// installs, grounded on create_mutating_webhook's static shape (a single
// webhook entry targeting deployments and deployments/scale on
// CREATE/UPDATE, Fail policy so a
// coordinator outage denies mutation rather than silently skipping it).
type WebhookConfigSpec struct {
	ServiceName      string
	ServiceNamespace string
	ServicePath      string
	CABundle         []byte
}

// EnsureMutatingWebhook creates the MutatingWebhookConfiguration if it is
// absent; an existing configuration is left unchanged, matching
// admis_switch(true)'s idempotent create-if-absent behavior.
func (c *Client) EnsureMutatingWebhook(ctx context.Context, spec WebhookConfigSpec) error {
	client := c.Clientset.AdmissionregistrationV1().MutatingWebhookConfigurations()

	failurePolicy := admissionregistrationv1.Fail
	sideEffects := admissionregistrationv1.SideEffectClassNone
	scope := admissionregistrationv1.NamespacedScope

	cfg := &admissionregistrationv1.MutatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{Name: webhookConfigName},
		Webhooks: []admissionregistrationv1.MutatingWebhook{{
			Name: "admission.kubedoor.io",
			ClientConfig: admissionregistrationv1.WebhookClientConfig{
				Service: &admissionregistrationv1.ServiceReference{
					Name:      spec.ServiceName,
					Namespace: spec.ServiceNamespace,
					Path:      &spec.ServicePath,
				},
				CABundle: spec.CABundle,
			},
			Rules: []admissionregistrationv1.RuleWithOperations{{
				Operations: []admissionregistrationv1.OperationType{
					admissionregistrationv1.Create, admissionregistrationv1.Update,
				},
				Rule: admissionregistrationv1.Rule{
					APIGroups:   []string{"apps"},
					APIVersions: []string{"v1"},
					Resources:   []string{"deployments", "deployments/scale"},
					Scope:       &scope,
				},
			}},
			FailurePolicy:           &failurePolicy,
			SideEffects:             &sideEffects,
			AdmissionReviewVersions: []string{"v1"},
		}},
	}

	_, err := client.Get(ctx, webhookConfigName, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = client.Create(ctx, cfg, metav1.CreateOptions{})
		if err != nil {
			return fmt.Errorf("create mutating webhook config: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get mutating webhook config: %w", err)
	default:
		return nil
	}
}

// DeleteMutatingWebhook removes the webhook configuration, matching
// admis_switch(false) / delete_mutating_webhook. A not-found error is
// swallowed since the end state (no webhook registered) is already true.
func (c *Client) DeleteMutatingWebhook(ctx context.Context) error {
	err := c.Clientset.AdmissionregistrationV1().MutatingWebhookConfigurations().
		Delete(ctx, webhookConfigName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete mutating webhook config: %w", err)
	}
	return nil
}
