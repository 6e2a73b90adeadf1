// Package admission implements C2. Resolver is the coordinator-side piece:
// given a workload identity, answer whether (and how) the agent's webhook
// should mutate the incoming object. Grounded on
// original_source/src/kubedoor-master/utils.py's get_deploy_admis:
// agent_status governance lookup -> control-record lookup ->
// nms_not_confirm fallback -> 404 deny -> 503 on DB error.
package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikarhub/kubedoor/pkg/store"
)

// Decision is the coordinator's answer to "should this workload be
// governed, and with what resource/replica/affinity values". The AdmisReply
// wire shape (Design Note §9) is a tagged union over these cases.
type Decision struct {
	Allowed       bool
	Deny404       bool // namespace is governed but the workload has no control row, and new services aren't waved through
	NmsNotConfirm bool // admit without mutation: namespace not governed, or governed with no control row while new services bypass governance

	Scheduler bool // force-balance / node-affinity mode, sourced from agent_status, not the control row
	Control   store.ControlRecord
}

var ErrStoreUnavailable = errors.New("admission: governance store unavailable")

// Resolver answers admission queries against the agent-status and
// control-record stores.
type Resolver struct {
	store *store.Store
}

func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve implements get_deploy_admis's branching exactly (utils.py:376-410):
//  1. no agent_status row for env with admission=1 and namespace in
//     admission_namespace -> 非管控命名空间, Allowed with NmsNotConfirm set,
//     so the webhook admits without mutation.
//  2. agent_status row found, control record found -> Allowed, governed with
//     the control row's values and the agent_status row's scheduler flag.
//  3. agent_status row found, no control record, nms_not_confirm=true ->
//     Allowed with NmsNotConfirm set (new, unregistered service bypasses
//     governance), no mutation.
//  4. agent_status row found, no control record, nms_not_confirm=false ->
//     Deny404.
//
// A ClickHouse error at any point returns ErrStoreUnavailable so the caller
// can answer 503, matching the original's explicit 503-on-DB-error branch.
func (r *Resolver) Resolve(ctx context.Context, env, namespace, deployment string) (Decision, error) {
	governance, governed, err := r.store.GetGovernanceStatus(ctx, env, namespace)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !governed {
		return Decision{Allowed: true, NmsNotConfirm: true}, nil
	}

	control, found, err := r.store.GetControlRecord(ctx, env, namespace, deployment)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if found {
		return Decision{Allowed: true, Scheduler: governance.Scheduler, Control: control}, nil
	}

	if governance.NmsNotConfirm {
		return Decision{Allowed: true, NmsNotConfirm: true}, nil
	}
	return Decision{Deny404: true}, nil
}
