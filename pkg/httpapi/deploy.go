package httpapi

import (
	"net/http"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/opstore"
)

// validEnvs is the closed set of deployment environments this control
// plane recognizes; anything else is INVALID_ENV.
var validEnvs = map[string]bool{"dev": true, "staging": true, "production": true}

// handleDeployStatus implements GET /api/deploy/status.
func (s *Server) handleDeployStatus(w http.ResponseWriter, r *http.Request) {
	env := r.URL.Query().Get("env")
	if !validEnvs[env] {
		WriteError(w, r, http.StatusBadRequest, afu9err.CodeInvalidEnv, "env must be one of dev, staging, production", nil)
		return
	}
	if s.Ops == nil {
		WriteError(w, r, http.StatusServiceUnavailable, afu9err.CodeUnavailable, "deploy status store disabled", nil)
		return
	}

	const ttl = 30 * time.Second
	if cached, ok, err := s.Ops.CachedSnapshot(r.Context(), env, ttl); err == nil && ok {
		writeSnapshot(w, cached)
		return
	}

	events, err := s.Ops.LatestDeploysForEnv(r.Context(), env, 20)
	if err != nil {
		WriteFromErr(w, r, err)
		return
	}
	snap := opstore.ComputeDeployStatus(env, events, time.Now().UTC())
	if err := s.Ops.StoreSnapshot(r.Context(), snap); err != nil {
		WriteFromErr(w, r, err)
		return
	}
	writeSnapshot(w, &snap)
}

func writeSnapshot(w http.ResponseWriter, snap *opstore.DeployStatusSnapshot) {
	writeJSON(w, http.StatusOK, map[string]any{
		"env":             snap.Env,
		"status":          snap.Status,
		"observedAt":      snap.ObservedAt,
		"reasons":         snap.Reasons,
		"signals":         snap.Signals,
		"stalenessSeconds": time.Since(snap.ObservedAt).Seconds(),
		"snapshotId":      snap.CorrelationID,
	})
}
