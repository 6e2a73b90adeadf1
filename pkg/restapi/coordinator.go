// Package restapi builds the coordinator's chi-based HTTP router, grounded
// on kubedoor-master.py's aiohttp route table; the agent binary has no
// router from this package. chi + chi/cors are
// jordigilh-kubernaut dependencies, adopted per "enrich from the rest of
// the pack" since the teacher itself carries no REST router.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nikarhub/kubedoor/pkg/admission"
	"github.com/nikarhub/kubedoor/pkg/events"
	"github.com/nikarhub/kubedoor/pkg/harvest"
	"github.com/nikarhub/kubedoor/pkg/promsource"
	"github.com/nikarhub/kubedoor/pkg/scale"
	"github.com/nikarhub/kubedoor/pkg/session"
	"github.com/nikarhub/kubedoor/pkg/store"
	"github.com/nikarhub/kubedoor/pkg/wire"
)

// CoordinatorDeps bundles the collaborators the coordinator's REST handlers
// need.
type CoordinatorDeps struct {
	Registry       *session.Registry
	Store          *store.Store
	Processor      *events.Processor
	Resolver       *admission.Resolver
	Prom           *promsource.Client
	Harvester      *harvest.Harvester
	Log            *zap.Logger
	RequestTimeout time.Duration

	// UpdateImageConfig is the raw UPDATE_IMAGE JSON document gating
	// /api/update-image for non-"rw" callers.
	UpdateImageConfig string
}

// NewCoordinatorRouter wires every endpoint spec.md §6 names for the
// coordinator process.
func NewCoordinatorRouter(d CoordinatorDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"}}))

	wsDeps := WebsocketDeps{Registry: d.Registry, Store: d.Store, Processor: d.Processor, Log: d.Log}
	r.Get("/ws", wsDeps.HandleWebsocket)
	r.Get("/ws/pod-logs", wsDeps.HandlePodLogs)

	r.Get("/api/agent/names", d.handleAgentNames)
	r.Get("/api/agent/status", d.handleAgentStatus)
	r.Get("/api/admission/resolve", d.handleAdmissionResolve)
	r.Get("/api/events/query", d.handleEventsQuery)
	r.Post("/api/sql", d.handleSQLPassthrough)

	// http_handler's pre-processing paths: node-CPU enrichment for scale
	// calls, top-K dedup for balance_node, the update-image authorization
	// gate, and the on-demand peak-data harvest triggers.
	r.Post("/api/scale", d.handleScaleOrModifyPod("/api/scale"))
	r.Post("/api/pod/modify_pod", d.handleScaleOrModifyPod("/api/pod/modify_pod"))
	r.Post("/api/balance_node", d.handleBalanceNode)
	r.Post("/api/update-image", d.handleUpdateImage)
	r.Get("/api/init_peak_data", d.handleInitPeakData)
	r.Get("/api/cron_peak_data", d.handleCronPeakData)

	// Everything else under /api/agent/{env}/... is forwarded to the named
	// agent's session, matching http_handler's generic request-forwarder.
	r.HandleFunc("/api/agent/{env}/*", d.handleForward)

	return r
}

func (d CoordinatorDeps) handleAgentNames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Registry.Names())
}

func (d CoordinatorDeps) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := d.Store.ListAgentStatuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleAdmissionResolve answers the agent's direct synchronous admission
// query (spec.md §4.2: the agent's webhook calls the coordinator with its
// own 10s deadline, separate from the general request/response session
// channel since admission is latency-sensitive).
func (d CoordinatorDeps) handleAdmissionResolve(w http.ResponseWriter, r *http.Request) {
	if d.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, errResolverUnset)
		return
	}
	env := r.URL.Query().Get("env")
	namespace := r.URL.Query().Get("namespace")
	deployment := r.URL.Query().Get("deployment")

	decision, err := d.Resolver.Resolve(r.Context(), env, namespace, deployment)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (d CoordinatorDeps) handleEventsQuery(w http.ResponseWriter, r *http.Request) {
	q := store.EventQuery{
		Namespace:   r.URL.Query().Get("namespace"),
		Kind:        r.URL.Query().Get("kind"),
		Level:       r.URL.Query().Get("level"),
		EventStatus: r.URL.Query().Get("status"),
		Since:       r.URL.Query().Get("since"),
	}
	events, err := d.Store.QueryEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleSQLPassthrough implements the three-tier SQL permission scheme from
// http_handler's forward_request: X-User-Permission: read restricts to
// SELECT; otherwise SELECT/ALTER/INSERT are allowed. The __KUBEDOORDB__
// token is substituted for the configured database name before executing.
func (d CoordinatorDeps) handleSQLPassthrough(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SQL string `json:"sql"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	permission := r.Header.Get("X-User-Permission")
	if !sqlAllowedForPermission(body.SQL, permission) {
		writeError(w, http.StatusForbidden, errForbiddenSQL)
		return
	}
	sql := strings.ReplaceAll(body.SQL, "__KUBEDOORDB__", d.Store.Database())
	stmt := strings.ToUpper(strings.TrimSpace(sql))
	if strings.HasPrefix(stmt, "SELECT") {
		rows, err := d.Store.Conn().Query(r.Context(), sql)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		defer rows.Close()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := d.Store.Conn().Exec(r.Context(), sql); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// ALTER/INSERT against the ReplacingMergeTree tables leave tombstoned
	// rows until merged; collapse them immediately so the next read sees a
	// consistent view (spec.md §3: "An OPTIMIZE FINAL is issued after
	// operator-originated DML to collapse tombstones").
	if table := optimizeTargetTable(stmt); table != "" {
		if err := d.Store.Conn().Exec(r.Context(), "OPTIMIZE TABLE "+table+" FINAL"); err != nil {
			d.Log.Warn("OPTIMIZE FINAL after operator DML failed", zap.String("table", table), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleForward forwards an operator call to the named agent's session and
// returns whatever the agent replies, matching http_handler's generic
// path-forwarding behavior and the 120s coordinator-side deadline.
func (d CoordinatorDeps) handleForward(w http.ResponseWriter, r *http.Request) {
	env := chi.URLParam(r, "env")
	sess, ok := d.Registry.Get(env)
	if !ok {
		writeError(w, http.StatusNotFound, errAgentNotConnected)
		return
	}

	var bodyBytes json.RawMessage
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&bodyBytes)
	}
	d.forwardAndReply(w, r, sess, r.URL.Path, bodyBytes)
}

// forwardAndReply ships a Request frame to sess and writes back whatever the
// agent replies, reused by handleForward and the named pre-processing
// handlers below that rewrite path/body before forwarding.
func (d CoordinatorDeps) forwardAndReply(w http.ResponseWriter, r *http.Request, sess *session.Session, path string, body json.RawMessage) {
	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.RequestTimeout)
	defer cancel()

	resp, err := sess.Request(ctx, wire.Request{
		Method: r.Method,
		Path:   path,
		Query:  query,
		Body:   body,
	})
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// handleScaleOrModifyPod implements http_handler's "查询节点cpu使用率并传给agent"
// pre-processing (kubedoor-master.py:374-380): when add_label=true it ranks
// live node CPU percent and folds the ranking into the forwarded body before
// handing off to the named agent.
func (d CoordinatorDeps) handleScaleOrModifyPod(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := r.URL.Query().Get("env")
		if env == "" {
			writeError(w, http.StatusBadRequest, errMissingEnv)
			return
		}
		sess, ok := d.Registry.Get(env)
		if !ok {
			writeError(w, http.StatusNotFound, errAgentNotConnected)
			return
		}

		var body json.RawMessage
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		if r.URL.Query().Get("add_label") == "true" {
			ranking, err := scale.RankNodes(r.Context(), d.Prom)
			if err != nil {
				writeError(w, http.StatusBadGateway, fmt.Errorf("rank nodes: %w", err))
				return
			}
			enriched, err := enrichScaleBody(path, body, ranking)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			body = enriched
		}

		d.forwardAndReply(w, r, sess, path, body)
	}
}

// enrichScaleBody folds a node-CPU ranking into the request body the way
// http_handler does per-path: /api/scale gets node_cpu_list appended to its
// first body element, /api/pod/modify_pod has its body replaced outright
// (kubedoor-master.py:377-380).
func enrichScaleBody(path string, body json.RawMessage, ranking []scale.NodeRanking) (json.RawMessage, error) {
	switch path {
	case "/api/scale":
		var arr []map[string]interface{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &arr); err != nil {
				return nil, fmt.Errorf("decode /api/scale body: %w", err)
			}
		}
		if len(arr) == 0 {
			arr = []map[string]interface{}{{}}
		}
		arr[0]["node_cpu_list"] = ranking
		return json.Marshal(arr)
	default: // /api/pod/modify_pod
		return json.Marshal(ranking)
	}
}

// handleBalanceNode implements the fixed-node-balance tuning endpoint
// (kubedoor-master.py:383-405): diff the source node's deployments against
// the target's, then rank what's left by the requested resource so the
// agent can move the top-N.
func (d CoordinatorDeps) handleBalanceNode(w http.ResponseWriter, r *http.Request) {
	env := r.URL.Query().Get("env")
	if env == "" {
		writeError(w, http.StatusBadRequest, errMissingEnv)
		return
	}
	sess, ok := d.Registry.Get(env)
	if !ok {
		writeError(w, http.StatusNotFound, errAgentNotConnected)
		return
	}

	var body map[string]interface{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	source, _ := body["source"].(string)
	target, _ := body["target"].(string)
	resType, _ := body["type"].(string)
	num := 0
	if n, ok := body["num"].(float64); ok {
		num = int(n)
	}

	sourcePods, err := d.nodePods(r.Context(), env, source)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	targetPods, err := d.nodePods(r.Context(), env, target)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	targetSeen := make(map[string]struct{}, len(targetPods))
	for _, p := range targetPods {
		targetSeen[p.Namespace+"@"+p.createdByName] = struct{}{}
	}

	var candidates []scale.DeploymentCandidate
	for _, p := range sourcePods {
		if _, dup := targetSeen[p.Namespace+"@"+p.createdByName]; dup {
			continue
		}
		deployment := deploymentNameFromPod(p.Pod)
		if deployment == "" {
			continue
		}
		control, found, err := d.Store.GetControlRecord(r.Context(), env, p.Namespace, deployment)
		if err != nil || !found {
			continue
		}
		candidates = append(candidates, scale.DeploymentCandidate{
			Namespace: p.Namespace, Deployment: deployment,
			RequestCPUM: control.RequestCPUM, RequestMemMB: control.RequestMemMB,
		})
	}

	body["top_deployments"] = scale.RankDeploymentsByResource(candidates, resType, num)
	enriched, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	d.forwardAndReply(w, r, sess, "/api/balance_node", enriched)
}

type nodePod struct {
	Namespace     string
	Pod           string
	createdByName string
}

// nodePods queries the ReplicaSet-owned pods currently scheduled on node,
// grounded on get_node_deployments (utils.py:279-311).
func (d CoordinatorDeps) nodePods(ctx context.Context, env, node string) ([]nodePod, error) {
	if node == "" {
		return nil, nil
	}
	vec, err := d.Prom.QueryInstant(ctx, promsource.NodeDeploymentsQuery(fmt.Sprintf("env=%q", env), node), time.Now())
	if err != nil {
		return nil, fmt.Errorf("query node deployments for %s: %w", node, err)
	}
	out := make([]nodePod, 0, len(vec))
	for _, sample := range vec {
		out = append(out, nodePod{
			Namespace:     string(sample.Metric["namespace"]),
			Pod:           string(sample.Metric["pod"]),
			createdByName: string(sample.Metric["created_by_name"]),
		})
	}
	return out, nil
}

// deploymentNameFromPod strips a ReplicaSet pod's generated suffixes,
// matching get_deployment_from_control_data's
// "pod.rsplit('-', 2)[0]" (utils.py:666).
func deploymentNameFromPod(pod string) string {
	parts := strings.Split(pod, "-")
	if len(parts) <= 2 {
		return ""
	}
	return strings.Join(parts[:len(parts)-2], "-")
}

// updateImageWindow is one env's (or "default"'s) UPDATE_IMAGE authorization
// entry, matching the upimage_dict shape kubedoor-master.py reads at
// kubedoor-master.py:299-371.
type updateImageWindow struct {
	IsOperationAllowed     bool     `json:"isOperationAllowed"`
	AllowedOperationPeriod string   `json:"allowedOperationPeriod"`
	User                   []string `json:"user"`
}

// handleUpdateImage gates image-update calls behind the UPDATE_IMAGE
// authorization document: env/default allow-flag, an HH:MM-HH:MM window
// (handling midnight-crossing ranges), and a user allow-list.
// X-User-Permission: rw skips every check, matching the original exactly.
func (d CoordinatorDeps) handleUpdateImage(w http.ResponseWriter, r *http.Request) {
	env := r.URL.Query().Get("env")
	if env == "" {
		writeError(w, http.StatusBadRequest, errMissingEnv)
		return
	}
	sess, ok := d.Registry.Get(env)
	if !ok {
		writeError(w, http.StatusNotFound, errAgentNotConnected)
		return
	}

	var bodyBytes json.RawMessage
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&bodyBytes)
	}

	if r.Header.Get("X-User-Permission") != "rw" {
		if err := d.authorizeUpdateImage(env, strings.ToLower(r.Header.Get("X-User-Name"))); err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
	}

	d.forwardAndReply(w, r, sess, "/api/update-image", bodyBytes)
}

func (d CoordinatorDeps) authorizeUpdateImage(env, username string) error {
	if d.UpdateImageConfig == "" {
		return fmt.Errorf("拒绝操作：没有UPDATE_IMAGE权限配置")
	}
	var cfg map[string]updateImageWindow
	if err := json.Unmarshal([]byte(d.UpdateImageConfig), &cfg); err != nil {
		return fmt.Errorf("拒绝操作：UPDATE_IMAGE配置格式错误")
	}
	win, ok := cfg[env]
	if !ok {
		win, ok = cfg["default"]
		if !ok {
			return fmt.Errorf("拒绝操作：找不到default配置")
		}
	}
	if !win.IsOperationAllowed {
		return fmt.Errorf("拒绝操作：当前%s环境禁止操作", env)
	}
	if !withinOperationWindow(win.AllowedOperationPeriod, time.Now()) {
		return fmt.Errorf("拒绝操作：当前%s环境只允许在%s时段操作", env, win.AllowedOperationPeriod)
	}
	if !containsString(win.User, username) {
		return fmt.Errorf("拒绝操作：当前用户%s禁止操作", username)
	}
	return nil
}

// withinOperationWindow evaluates an "HH:MM-HH:MM" window against now,
// handling the midnight-crossing case (e.g. "19:00-08:00") the same way as
// kubedoor-master.py:349-361: the start boundary is inclusive, the end
// boundary is exclusive.
func withinOperationWindow(period string, now time.Time) bool {
	parts := strings.SplitN(period, "-", 2)
	if len(parts) != 2 {
		return false
	}
	startMin, ok1 := parseHHMM(parts[0])
	endMin, ok2 := parseHHMM(parts[1])
	if !ok1 || !ok2 {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if startMin > endMin {
		return cur >= startMin || cur < endMin
	}
	return cur >= startMin && cur < endMin
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return h*60 + m, true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// handleInitPeakData triggers a single env's peak-data harvest on demand,
// matching init_peak_data's query-param contract
// (kubedoor-master.py:542-587): env, days (default 2), peak_hours (default
// "10:00:00-11:30:00").
func (d CoordinatorDeps) handleInitPeakData(w http.ResponseWriter, r *http.Request) {
	env := r.URL.Query().Get("env")
	if env == "" {
		writeError(w, http.StatusBadRequest, errMissingEnv)
		return
	}
	days := 2
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	peakHours := r.URL.Query().Get("peak_hours")
	if peakHours == "" {
		peakHours = "10:00:00-11:30:00"
	}
	start, end, ok := harvest.SplitPeakHours(peakHours)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed peak_hours %q", peakHours))
		return
	}

	if err := d.runHarvestDays(r.Context(), env, start, end, days); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("%s: 写入管控表执行失败: %w", env, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": env + ": 执行完成"})
}

// handleCronPeakData triggers the daily harvest immediately for every
// collect=1 env, matching cron_peak_data's fan-out over
// ck_agent_collect_info (kubedoor-master.py:518-539), reporting one result
// per env instead of the original's streamed response.
func (d CoordinatorDeps) handleCronPeakData(w http.ResponseWriter, r *http.Request) {
	envs, err := d.Store.ListCollectEnvs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	results := make([]map[string]interface{}, 0, len(envs))
	for _, a := range envs {
		start, end, ok := harvest.SplitPeakHours(a.PeakHours)
		if !ok {
			results = append(results, map[string]interface{}{"env": a.Env, "success": false, "message": "malformed peak_hours"})
			continue
		}
		if err := d.runHarvestDays(r.Context(), a.Env, start, end, 2); err != nil {
			results = append(results, map[string]interface{}{"env": a.Env, "success": false, "message": err.Error()})
			continue
		}
		results = append(results, map[string]interface{}{"env": a.Env, "success": true, "message": a.Env + ": 执行完成"})
	}
	writeJSON(w, http.StatusOK, results)
}

func (d CoordinatorDeps) runHarvestDays(ctx context.Context, env, peakStart, peakEnd string, days int) error {
	now := time.Now()
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -i)
		if err := d.Harvester.RunForDayWindow(ctx, env, day, peakStart, peakEnd); err != nil {
			return err
		}
	}
	return nil
}
