// Command agent is kubedoor-agent: one process per managed cluster, dialing
// the coordinator over a persistent session, running the mutating
// admission webhook, and executing scale/rebalance/restart operations
// forwarded from the coordinator. Grounded on
// original_source/src/kubedoor-agent/kubedoor-agent.py's main loop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/admission"
	"github.com/nikarhub/kubedoor/pkg/agentclient"
	"github.com/nikarhub/kubedoor/pkg/config"
	"github.com/nikarhub/kubedoor/pkg/k8sops"
	"github.com/nikarhub/kubedoor/pkg/logging"
	"github.com/nikarhub/kubedoor/pkg/wire"
)

const buildVersion = "0.1.0"

func main() {
	opts := config.LoadAgentOptions()
	if err := config.Validate(opts); err != nil {
		panic(err.Error())
	}

	log := logging.New("agent", false, "info")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	k8s, err := k8sops.NewClient(opts.KubeconfigPath)
	if err != nil {
		log.Fatal("failed to build kube client", zap.Error(err))
	}

	ask := func(ctx context.Context, namespace, deployment string) (admission.Decision, error) {
		return resolveFromCoordinator(ctx, opts, namespace, deployment)
	}
	webhookSrv := admission.NewServer(ask, log, opts.NodeLabelValue)

	go runWebhookServer(opts, webhookSrv, log)

	handler := func(ctx context.Context, req wire.Request) wire.Response {
		return dispatchOperatorRequest(ctx, k8s, req, log)
	}
	client := agentclient.New(opts.CoordinatorURL, opts.Env, buildVersion, handler, log, opts.DialTimeout, opts.HeartbeatInterval)
	client.SetLogStartFunc(func(ctx context.Context, start wire.LogStart, emit func(string) error) error {
		return k8s.StreamPodLogs(ctx, start.Namespace, start.Pod, start.Container, emit)
	})
	client.Run(ctx)
}

func runWebhookServer(opts config.AgentOptions, handler http.Handler, log *zap.Logger) {
	srv := &http.Server{Addr: opts.WebhookListenAddr, Handler: handler}
	log.Info("admission webhook listening", zap.String("addr", opts.WebhookListenAddr))
	err := srv.ListenAndServeTLS(opts.WebhookCertFile, opts.WebhookKeyFile)
	if err != nil && err != http.ErrServerClosed {
		log.Fatal("webhook server failed", zap.Error(err))
	}
}

// resolveFromCoordinator performs the direct synchronous admission query
// described in restapi.handleAdmissionResolve's doc comment: a plain HTTPS
// GET with the agent's own 10s deadline (spec.md §4.2), separate from the
// general session's 120s request/response channel.
func resolveFromCoordinator(ctx context.Context, opts config.AgentOptions, namespace, deployment string) (admission.Decision, error) {
	base, err := url.Parse(opts.CoordinatorURL)
	if err != nil {
		return admission.Decision{}, fmt.Errorf("parse coordinator url: %w", err)
	}
	scheme := "http"
	if base.Scheme == "wss" {
		scheme = "https"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     base.Host,
		Path:     "/api/admission/resolve",
		RawQuery: url.Values{"env": {opts.Env}, "namespace": {namespace}, "deployment": {deployment}}.Encode(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, opts.AdmissionTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return admission.Decision{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return admission.Decision{}, fmt.Errorf("ask coordinator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return admission.Decision{}, fmt.Errorf("%w: status %d", admission.ErrStoreUnavailable, resp.StatusCode)
	}
	var d admission.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return admission.Decision{}, fmt.Errorf("decode admission decision: %w", err)
	}
	return d, nil
}

// dispatchOperatorRequest handles a coordinator-forwarded operator call:
// /api/scale, /api/reboot and /api/admis_switch. Every other path, including
// /api/pod/modify_pod and /api/balance_node, gets a 404 response. Grounded on
// kubedoor-agent.py's process_request dispatch table.
func dispatchOperatorRequest(ctx context.Context, k8s *k8sops.Client, req wire.Request, log *zap.Logger) wire.Response {
	switch req.Path {
	case "/api/scale":
		return handleScale(ctx, k8s, req)
	case "/api/reboot":
		return handleReboot(ctx, k8s, req)
	case "/api/admis_switch":
		return handleAdmisSwitch(ctx, k8s, req)
	default:
		return wire.Response{Status: http.StatusNotFound, Error: "unknown operator path " + req.Path}
	}
}

func handleScale(ctx context.Context, k8s *k8sops.Client, req wire.Request) wire.Response {
	var body struct {
		Namespace  string `json:"namespace"`
		Deployment string `json:"deployment"`
		Replicas   int32  `json:"replicas"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return wire.Response{Status: http.StatusBadRequest, Error: err.Error()}
	}
	if err := k8s.ScaleDeployment(ctx, body.Namespace, body.Deployment, body.Replicas); err != nil {
		return wire.Response{Status: http.StatusInternalServerError, Error: err.Error()}
	}
	return wire.Response{Status: http.StatusOK}
}

func handleReboot(ctx context.Context, k8s *k8sops.Client, req wire.Request) wire.Response {
	var body struct {
		Namespace  string `json:"namespace"`
		Deployment string `json:"deployment"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return wire.Response{Status: http.StatusBadRequest, Error: err.Error()}
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	if err := k8s.RestartDeployment(ctx, body.Namespace, body.Deployment, timestamp); err != nil {
		return wire.Response{Status: http.StatusInternalServerError, Error: err.Error()}
	}
	return wire.Response{Status: http.StatusOK}
}

func handleAdmisSwitch(ctx context.Context, k8s *k8sops.Client, req wire.Request) wire.Response {
	var body struct {
		Enabled          bool   `json:"enabled"`
		ServiceName      string `json:"service_name"`
		ServiceNamespace string `json:"service_namespace"`
		ServicePath      string `json:"service_path"`
		CABundle         []byte `json:"ca_bundle"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return wire.Response{Status: http.StatusBadRequest, Error: err.Error()}
	}
	var err error
	if body.Enabled {
		err = k8s.EnsureMutatingWebhook(ctx, k8sops.WebhookConfigSpec{
			ServiceName: body.ServiceName, ServiceNamespace: body.ServiceNamespace,
			ServicePath: body.ServicePath, CABundle: body.CABundle,
		})
	} else {
		err = k8s.DeleteMutatingWebhook(ctx)
	}
	if err != nil {
		return wire.Response{Status: http.StatusInternalServerError, Error: err.Error()}
	}
	return wire.Response{Status: http.StatusOK}
}
