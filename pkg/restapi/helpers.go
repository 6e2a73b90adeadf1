package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	errForbiddenSQL      = errors.New("statement not permitted for this permission level")
	errAgentNotConnected = errors.New("agent for this environment is not connected")
	errResolverUnset     = errors.New("admission resolver not configured")
	errMissingEnv        = errors.New("missing required env query parameter")
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// sqlAllowedForPermission implements forward_request's permission gate:
// "read" callers may only issue SELECT; everyone else may additionally
// issue ALTER/INSERT.
func sqlAllowedForPermission(sql, permission string) bool {
	stmt := strings.ToUpper(strings.TrimSpace(sql))
	if strings.HasPrefix(stmt, "SELECT") {
		return true
	}
	if permission == "read" {
		return false
	}
	return strings.HasPrefix(stmt, "ALTER") || strings.HasPrefix(stmt, "INSERT")
}

// optimizeTargetTable picks the ReplacingMergeTree table an operator DML
// statement touched, or "" if none of the known tables are named (e.g. a
// statement against k8s_resources, a plain MergeTree with no tombstones).
func optimizeTargetTable(upperStmt string) string {
	for _, table := range []string{"k8s_res_control", "k8s_events"} {
		if strings.Contains(upperStmt, strings.ToUpper(table)) {
			return table
		}
	}
	return ""
}
