package admission

import (
	"encoding/json"
	"testing"
	"time"

	admissionv1 "k8s.io/api/admission/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/nikarhub/kubedoor/pkg/store"
)

func rawObjectWithAnnotations(annotations map[string]string) runtime.RawExtension {
	obj := map[string]interface{}{
		"metadata": map[string]interface{}{"annotations": annotations},
	}
	b, err := json.Marshal(obj)
	if err != nil {
		panic(err)
	}
	return runtime.RawExtension{Raw: b}
}

func TestTemporaryScaleBypass(t *testing.T) {
	now, _ := time.ParseInLocation("2006-01-02 15:04:05", "2026-07-31 12:00:00", time.Local)
	req := &admissionv1.AdmissionRequest{
		Object: rawObjectWithAnnotations(map[string]string{
			"scale.temp": "2026-07-31 11:58:00@3-->10",
		}),
	}
	inWindow, ok := temporaryScaleBypass(req, now)
	if !ok {
		t.Fatal("expected annotation to parse")
	}
	if !inWindow {
		t.Error("expected now to fall within the 5-minute bypass window")
	}
}

func TestTemporaryScaleBypass_OutsideWindow(t *testing.T) {
	now, _ := time.ParseInLocation("2006-01-02 15:04:05", "2026-07-31 12:10:00", time.Local)
	req := &admissionv1.AdmissionRequest{
		Object: rawObjectWithAnnotations(map[string]string{
			"scale.temp": "2026-07-31 11:58:00@3-->10",
		}),
	}
	inWindow, ok := temporaryScaleBypass(req, now)
	if !ok {
		t.Fatal("expected annotation to parse")
	}
	if inWindow {
		t.Error("expected now to fall outside the 5-minute bypass window")
	}
}

func TestTemporaryScaleBypass_NoAnnotation(t *testing.T) {
	req := &admissionv1.AdmissionRequest{Object: rawObjectWithAnnotations(nil)}
	_, ok := temporaryScaleBypass(req, time.Now())
	if ok {
		t.Error("expected no bypass when the annotation is absent")
	}
}

func TestBuildPatch_ScaleOnlyWhenTemplateUnchanged(t *testing.T) {
	cr := classifiedRequest{shape: requestShape{kind: "Deployment", replicasChanged: true, templateChanged: false}}
	d := Decision{Allowed: true, Control: store.ControlRecord{ManualPod: 5, AIPod: -1, ObservedPod: 3}}

	ops, err := buildPatch(cr, d, "FIXED_VALUE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].Path != "/spec/replicas" {
		t.Fatalf("expected a single replicas patch op, got %+v", ops)
	}
	if ops[0].Value != int32(5) {
		t.Errorf("expected manual_pod (5) to win over observed_pod, got %v", ops[0].Value)
	}
}

func TestBuildPatch_FullRebuildWhenTemplateChanged(t *testing.T) {
	cr := classifiedRequest{
		shape:     requestShape{kind: "Deployment", replicasChanged: false, templateChanged: true},
		namespace: "default",
		name:      "web",
	}
	d := Decision{Allowed: true, Scheduler: true, Control: store.ControlRecord{
		ManualPod: -1, AIPod: -1, ObservedPod: 4,
		RequestCPUM: 200, RequestMemMB: 256,
		Namespace: "default", Deployment: "web",
	}}

	ops, err := buildPatch(cr, d, "FIXED_VALUE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) < 3 {
		t.Fatalf("expected replicas + resource + affinity ops, got %+v", ops)
	}
	foundAffinity := false
	for _, op := range ops {
		if op.Path == "/spec/template/spec/affinity" {
			foundAffinity = true
		}
	}
	if !foundAffinity {
		t.Error("expected an affinity patch op for scheduler=true workload")
	}
}

func TestBuildPatch_CPUClampAppliesToLowNonzeroValue(t *testing.T) {
	cr := classifiedRequest{shape: requestShape{kind: "Deployment", templateChanged: true}}
	d := Decision{Allowed: true, Control: store.ControlRecord{
		ManualPod: -1, AIPod: -1, ObservedPod: 2, RequestCPUM: 5,
	}}

	ops, err := buildPatch(cr, d, "FIXED_VALUE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var cpuOp *jsonPatchOp
	for i := range ops {
		if ops[i].Path == "/spec/template/spec/containers/0/resources/requests/cpu" {
			cpuOp = &ops[i]
		}
	}
	if cpuOp == nil {
		t.Fatalf("expected a cpu request patch op, got %+v", ops)
	}
	if cpuOp.Value != "10m" {
		t.Errorf("expected the [0,10) floor to round 5 up to 10m, got %v", cpuOp.Value)
	}
}

func TestBuildPatch_CPUClampBypassedWhenNoData(t *testing.T) {
	cr := classifiedRequest{shape: requestShape{kind: "Deployment", templateChanged: true}}
	d := Decision{Allowed: true, Control: store.ControlRecord{
		ManualPod: -1, AIPod: -1, ObservedPod: 2, RequestCPUM: -1,
	}}

	ops, err := buildPatch(cr, d, "FIXED_VALUE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, op := range ops {
		if op.Path == "/spec/template/spec/containers/0/resources/requests/cpu" {
			t.Fatalf("expected no cpu patch op when request_cpu_m is -1 (no data), got %+v", ops)
		}
	}
}
