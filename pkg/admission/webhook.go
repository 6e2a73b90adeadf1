package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"

	"go.uber.org/zap"
)

// AskFunc resolves an admission decision for one (namespace, deployment)
// pair, implemented by a transport to the coordinator. The agent binary
// implements it as an HTTP GET to the coordinator's /api/admission/resolve
// endpoint bounded by its own 10s deadline; the query does not travel over
// the agent session.
type AskFunc func(ctx context.Context, namespace, deployment string) (Decision, error)

// Server is the agent-side mutating webhook HTTP handler. Grounded on
// original_source/src/kubedoor-agent/kubedoor-agent.py's admis_mutate and
// its admis_pass/admis_fail/scale_only response builders.
type Server struct {
	ask            AskFunc
	log            *zap.Logger
	nodeLabelValue string
	scheme         *runtime.Scheme
	codecs         serializer.CodecFactory
}

func NewServer(ask AskFunc, log *zap.Logger, nodeLabelValue string) *Server {
	scheme := runtime.NewScheme()
	return &Server{ask: ask, log: log, nodeLabelValue: nodeLabelValue, scheme: scheme, codecs: serializer.NewCodecFactory(scheme)}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var review admissionv1.AdmissionReview
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		http.Error(w, fmt.Sprintf("decode admission review: %v", err), http.StatusBadRequest)
		return
	}
	if review.Request == nil {
		http.Error(w, "admission review missing request", http.StatusBadRequest)
		return
	}

	resp := s.handle(r.Context(), review.Request)
	out := admissionv1.AdmissionReview{
		TypeMeta: review.TypeMeta,
		Response: resp,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// requestShape captures spec.md §4.2's (kind, operation, template-changed?,
// replicas-changed?) table: Deployments on CREATE/UPDATE and Scale on UPDATE
// are governed;
// a template change always gets the full resource/affinity patch rebuilt, a
// replicas-only change gets a scale-only patch, and anything else passes
// through unmodified.
type requestShape struct {
	kind             string
	operation        admissionv1.Operation
	templateChanged  bool
	replicasChanged  bool
}

func (s *Server) handle(ctx context.Context, req *admissionv1.AdmissionRequest) *admissionv1.AdmissionResponse {
	allowed := &admissionv1.AdmissionResponse{UID: req.UID, Allowed: true}

	switch req.Kind.Kind {
	case "Deployment":
		if req.Operation != admissionv1.Create && req.Operation != admissionv1.Update {
			return allowed
		}
		return s.handleDeployment(ctx, req, allowed)
	case "Scale":
		if req.Operation != admissionv1.Update {
			return allowed
		}
		return s.handleScale(ctx, req, allowed)
	default:
		return allowed
	}
}

// handleDeployment governs full Deployment CREATE/UPDATE requests: a
// template change gets the full resource/affinity rebuild, a replicas-only
// change gets a scale-only patch, matching admis_mutate's dispatch.
func (s *Server) handleDeployment(ctx context.Context, req *admissionv1.AdmissionRequest, allowed *admissionv1.AdmissionResponse) *admissionv1.AdmissionResponse {
	cr, err := classifyRequest(req)
	if err != nil {
		s.log.Warn("failed to classify admission request, passing through", zap.Error(err))
		return allowed
	}

	// Temporary-scale bypass: a scale.temp annotation within its window
	// skips the coordinator round-trip entirely, but only for a pure
	// replicas-only update (spec.md §4.2, kubedoor-agent.py:1442-1447).
	if inWindow, ok := temporaryScaleBypass(req, time.Now()); ok && inWindow && !cr.shape.templateChanged && cr.shape.replicasChanged {
		return allowed
	}

	decision, err := s.ask(ctx, cr.namespace, cr.name)
	if err != nil {
		return s.unavailableResponse(req, cr.namespace, cr.name, err)
	}
	if decision.Deny404 {
		return s.denyResponse(req)
	}
	if decision.NmsNotConfirm {
		return allowed
	}

	patch, err := buildPatch(cr, decision, s.nodeLabelValue)
	if err != nil {
		s.log.Error("failed to build admission patch", zap.Error(err))
		return allowed
	}
	return s.patchResponse(req, allowed, patch)
}

// handleScale governs the Scale subresource: it never touches the pod
// template, so the only possible mutation is a replicas-only patch,
// matching admis_mutate's "kind == 'Scale'" branch
// (kubedoor-agent.py:1499-1504).
func (s *Server) handleScale(ctx context.Context, req *admissionv1.AdmissionRequest, allowed *admissionv1.AdmissionResponse) *admissionv1.AdmissionResponse {
	namespace, name := classifyScaleRequest(req)

	if inWindow, ok := temporaryScaleBypass(req, time.Now()); ok && inWindow {
		return allowed
	}

	decision, err := s.ask(ctx, namespace, name)
	if err != nil {
		return s.unavailableResponse(req, namespace, name, err)
	}
	if decision.Deny404 {
		return s.denyResponse(req)
	}
	if decision.NmsNotConfirm {
		return allowed
	}

	effective := decision.Control.EffectivePodCount()
	if effective < 0 {
		return allowed
	}
	patch := []jsonPatchOp{{Op: "replace", Path: "/spec/replicas", Value: effective}}
	return s.patchResponse(req, allowed, patch)
}

func (s *Server) unavailableResponse(req *admissionv1.AdmissionRequest, namespace, name string, err error) *admissionv1.AdmissionResponse {
	s.log.Error("coordinator admission lookup failed", zap.Error(err), zap.String("namespace", namespace), zap.String("deployment", name))
	return &admissionv1.AdmissionResponse{
		UID:     req.UID,
		Allowed: false,
		Result:  &metav1.Status{Code: http.StatusServiceUnavailable, Message: "governance store unavailable"},
	}
}

func (s *Server) denyResponse(req *admissionv1.AdmissionRequest) *admissionv1.AdmissionResponse {
	return &admissionv1.AdmissionResponse{
		UID:     req.UID,
		Allowed: false,
		Result:  &metav1.Status{Code: http.StatusNotFound, Message: "workload is not governed by kubedoor"},
	}
}

func (s *Server) patchResponse(req *admissionv1.AdmissionRequest, allowed *admissionv1.AdmissionResponse, patch []jsonPatchOp) *admissionv1.AdmissionResponse {
	if len(patch) == 0 {
		return allowed
	}
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		s.log.Error("failed to marshal admission patch", zap.Error(err))
		return allowed
	}
	patchType := admissionv1.PatchTypeJSONPatch
	return &admissionv1.AdmissionResponse{
		UID:       req.UID,
		Allowed:   true,
		Patch:     patchBytes,
		PatchType: &patchType,
	}
}
