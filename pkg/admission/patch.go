package admission

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	admissionv1 "k8s.io/api/admission/v1"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// jsonPatchOp is one RFC 6902 operation, matching kubedoor-agent.py's
// update_all JSON-patch builder.
type jsonPatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// classifiedRequest carries everything buildPatch needs out of the decoded
// old/new Deployment objects, so patch composition never has to re-decode.
type classifiedRequest struct {
	shape     requestShape
	namespace string
	name      string
	newDep    appsv1.Deployment
	oldDep    appsv1.Deployment
}

// classifyRequest decodes the old/new Deployment objects and determines
// whether the pod template or the replica count changed, feeding spec.md
// §4.2's decision table.
func classifyRequest(req *admissionv1.AdmissionRequest) (classifiedRequest, error) {
	var newDep appsv1.Deployment
	if err := json.Unmarshal(req.Object.Raw, &newDep); err != nil {
		return classifiedRequest{}, fmt.Errorf("decode new deployment: %w", err)
	}

	cr := classifiedRequest{
		shape:     requestShape{kind: "Deployment", operation: req.Operation},
		namespace: req.Namespace,
		name:      req.Name,
		newDep:    newDep,
	}

	if req.Operation == admissionv1.Create {
		cr.shape.templateChanged = true
		cr.shape.replicasChanged = true
		return cr, nil
	}

	if len(req.OldObject.Raw) > 0 {
		if err := json.Unmarshal(req.OldObject.Raw, &cr.oldDep); err != nil {
			return classifiedRequest{}, fmt.Errorf("decode old deployment: %w", err)
		}
	}

	cr.shape.templateChanged = !templateEqual(cr.oldDep.Spec.Template, newDep.Spec.Template)
	oldReplicas := int32(1)
	if cr.oldDep.Spec.Replicas != nil {
		oldReplicas = *cr.oldDep.Spec.Replicas
	}
	newReplicas := int32(1)
	if newDep.Spec.Replicas != nil {
		newReplicas = *newDep.Spec.Replicas
	}
	cr.shape.replicasChanged = oldReplicas != newReplicas

	return cr, nil
}

// classifyScaleRequest identifies the target of a Scale-subresource admission
// request. Unlike Deployment requests, a Scale object's own namespace/name
// fields are unreliable across API server versions, so it reads the targets
// off the AdmissionRequest itself, matching admis_mutate's namespace/name
// extraction (kubedoor-agent.py:1424-1425 reads object.metadata, which the
// API server always sets to the target resource for Scale requests too).
func classifyScaleRequest(req *admissionv1.AdmissionRequest) (namespace, name string) {
	return req.Namespace, req.Name
}

func templateEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// scaleTempPattern matches the scale.temp annotation value shape:
// "YYYY-MM-DD HH:MM:SS@OLD-->NEW".
var scaleTempPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})@(\d+)-->(\d+)$`)

// temporaryScaleBypass inspects the scale.temp annotation on the incoming
// object. It returns (inWindow, true) if the annotation is present and
// parses; the caller passes the request through unmodified only when
// inWindow is true, matching spec.md §4.2's 5-minute bypass window.
func temporaryScaleBypass(req *admissionv1.AdmissionRequest, now time.Time) (bool, bool) {
	var obj struct {
		Metadata struct {
			Annotations map[string]string `json:"annotations"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(req.Object.Raw, &obj); err != nil {
		return false, false
	}
	raw, ok := obj.Metadata.Annotations["scale.temp"]
	if !ok {
		return false, false
	}
	m := scaleTempPattern.FindStringSubmatch(raw)
	if m == nil {
		return false, false
	}
	start, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], now.Location())
	if err != nil {
		return false, false
	}
	end := start.Add(5 * time.Minute)
	inWindow := !now.Before(start) && now.Before(end)
	return inWindow, true
}

// buildPatch composes the JSON patch for a governed Deployment per spec.md
// §4.2's decision table: template-changed gets the full resource/affinity
// rebuild (update_all), replicas-only changes get a scale-only patch
// replacing /spec/replicas with the effective pod count.
func buildPatch(cr classifiedRequest, d Decision, nodeLabelValue string) ([]jsonPatchOp, error) {
	var ops []jsonPatchOp

	effective := d.Control.EffectivePodCount()
	if effective >= 0 && (cr.shape.replicasChanged || cr.shape.templateChanged) {
		ops = append(ops, jsonPatchOp{Op: "replace", Path: "/spec/replicas", Value: effective})
	}

	if !cr.shape.templateChanged {
		return ops, nil
	}

	if d.Scheduler {
		appLabel := cr.newDep.Spec.Template.Labels["app"]
		ops = append(ops, nodeAffinityOps(cr.namespace, cr.name, appLabel, nodeLabelValue)...)
		if maxUnavail := rollingUpdateMaxUnavailable(cr.newDep); maxUnavail != nil {
			ops = append(ops, jsonPatchOp{
				Op:    "replace",
				Path:  "/spec/strategy/rollingUpdate/maxUnavailable",
				Value: clampMaxUnavailable(effective, maxUnavail),
			})
		}
	} else if affinityHasSentinel(cr.oldDep, nodeLabelValue) {
		// scheduler was switched off but the live spec still carries the
		// forced-placement affinity from a prior governed rollout; clear it.
		ops = append(ops, jsonPatchOp{Op: "replace", Path: "/spec/template/spec/affinity", Value: map[string]interface{}{}})
	}

	if cpu := clampCPU(d.Control.RequestCPUM); cpu > 0 {
		ops = append(ops, resourcePatchOps("requests", "cpu", milliCPU(cpu))...)
	}
	mem := d.Control.RequestMemMB
	if mem == 0 {
		mem = 1
	}
	if mem > 0 {
		ops = append(ops, resourcePatchOps("requests", "memory", mebibytes(mem))...)
	}
	if d.Control.LimitCPUM > 0 {
		ops = append(ops, resourcePatchOps("limits", "cpu", milliCPU(d.Control.LimitCPUM))...)
	}
	if d.Control.LimitMemMB > 0 {
		ops = append(ops, resourcePatchOps("limits", "memory", mebibytes(d.Control.LimitMemMB))...)
	}

	return ops, nil
}

// clampCPU mirrors admis_mutate's request_cpu_m floor (kubedoor-agent.py:1493):
// values in [0,10) round up to 10; -1 (no data recorded) bypasses the clamp
// and is filtered out by the caller's >0 check.
func clampCPU(v int32) int32 {
	if v < 0 {
		return v
	}
	if v < 10 {
		return 10
	}
	return v
}

func milliCPU(m int32) string   { return strconv.Itoa(int(m)) + "m" }
func mebibytes(mb int32) string { return strconv.Itoa(int(mb)) + "Mi" }

// resourcePatchOps patches container[0]'s resources.<class>.<name>, matching
// update_all's single-container assumption in the original (KubeDoor governs
// one-container-per-pod workloads).
func resourcePatchOps(class, name, value string) []jsonPatchOp {
	path := fmt.Sprintf("/spec/template/spec/containers/0/resources/%s/%s", class, name)
	return []jsonPatchOp{{Op: "replace", Path: path, Value: value}}
}

// nodeAffinityOps injects the nodeAffinity/podAntiAffinity pair that forces
// scheduler=true workloads onto nodes carrying the sentinel label
// "{namespace}.{deployment}"=nodeLabelValue, grounded on
// get_deployment_affinity (kubedoor-agent.py:1254-1280). Both clauses are
// "required": the pod anti-affinity keeps replicas of the same app spread
// across the labeled nodes instead of merely preferring it.
func nodeAffinityOps(namespace, deployment, appLabel, nodeLabelValue string) []jsonPatchOp {
	labelKey := fmt.Sprintf("%s.%s", namespace, deployment)
	if appLabel == "" {
		appLabel = deployment
	}
	affinity := map[string]interface{}{
		"nodeAffinity": map[string]interface{}{
			"requiredDuringSchedulingIgnoredDuringExecution": map[string]interface{}{
				"nodeSelectorTerms": []interface{}{
					map[string]interface{}{
						"matchExpressions": []interface{}{
							map[string]interface{}{
								"key": labelKey, "operator": "In", "values": []string{nodeLabelValue},
							},
						},
					},
				},
			},
		},
		"podAntiAffinity": map[string]interface{}{
			"requiredDuringSchedulingIgnoredDuringExecution": []interface{}{
				map[string]interface{}{
					"topologyKey": "kubernetes.io/hostname",
					"labelSelector": map[string]interface{}{
						"matchExpressions": []interface{}{
							map[string]interface{}{
								"key": "app", "operator": "In", "values": []string{appLabel},
							},
						},
					},
				},
			},
		},
	}
	return []jsonPatchOp{{Op: "replace", Path: "/spec/template/spec/affinity", Value: affinity}}
}

// affinityHasSentinel reports whether dep's current nodeAffinity already
// pins it to the kubedoor-managed node label, matching
// get_deployment_affinity_old's required-term scan.
func affinityHasSentinel(dep appsv1.Deployment, nodeLabelValue string) bool {
	affinity := dep.Spec.Template.Spec.Affinity
	if affinity == nil || affinity.NodeAffinity == nil {
		return false
	}
	required := affinity.NodeAffinity.RequiredDuringSchedulingIgnoredDuringExecution
	if required == nil {
		return false
	}
	for _, term := range required.NodeSelectorTerms {
		for _, expr := range term.MatchExpressions {
			for _, v := range expr.Values {
				if v == nodeLabelValue {
					return true
				}
			}
		}
	}
	return false
}

// rollingUpdateMaxUnavailable returns the live maxUnavailable setting, or nil
// when the Deployment uses a non-RollingUpdate strategy or leaves it unset.
func rollingUpdateMaxUnavailable(dep appsv1.Deployment) *intstr.IntOrString {
	ru := dep.Spec.Strategy.RollingUpdate
	if ru == nil {
		return nil
	}
	return ru.MaxUnavailable
}

// clampMaxUnavailable mirrors process_max_unavailable + update_all's
// replicas*maxUnavailable>=1 floor (kubedoor-agent.py:1323-1373): percentages
// and decimals are normalized to a ratio purely for the comparison; the
// patch value itself is either the untouched original setting or the
// literal integer 1 when the floor is hit.
func clampMaxUnavailable(replicas int32, raw *intstr.IntOrString) interface{} {
	var ratio float64
	switch raw.Type {
	case intstr.Int:
		ratio = float64(raw.IntValue())
	case intstr.String:
		s := raw.StrVal
		switch {
		case strings.HasSuffix(s, "%"):
			pct, _ := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
			ratio = pct / 100
		case strings.Contains(s, "."):
			ratio, _ = strconv.ParseFloat(s, 64)
		default:
			iv, _ := strconv.Atoi(s)
			ratio = float64(iv)
		}
	}
	if float64(replicas)*ratio < 1 {
		return 1
	}
	if raw.Type == intstr.String {
		return raw.StrVal
	}
	return raw.IntValue()
}
