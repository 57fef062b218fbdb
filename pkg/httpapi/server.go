package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/automationpolicy"
	"github.com/afu9/control-center/pkg/config"
	"github.com/afu9/control-center/pkg/evidenceingest"
	"github.com/afu9/control-center/pkg/issuestore"
	"github.com/afu9/control-center/pkg/lawbook"
	"github.com/afu9/control-center/pkg/opstore"
	"github.com/afu9/control-center/pkg/postmortem"
	"github.com/afu9/control-center/pkg/repoaccess"
	"github.com/afu9/control-center/pkg/sideeffect"
	"github.com/afu9/control-center/pkg/sync"
	"github.com/afu9/control-center/pkg/timeline"
	"github.com/afu9/control-center/pkg/webhookintake"
)

// Server holds every subsystem the HTTP surface fronts. It is the
// single place that wires every component together — handlers never construct
// their own dependencies.
type Server struct {
	DB             *sql.DB
	Cfg            *config.Config
	Issues         issuestore.Store
	Lawbooks       *lawbook.Resolver
	Policies       *automationpolicy.Evaluator
	Access         *repoaccess.Policy
	Clients        *repoaccess.ClientFactory
	SyncEngine     *sync.Engine
	SyncRunner     *sync.Runner
	Timeline       timeline.Store
	Ops            *opstore.PostgresStore
	Ingestor       *evidenceingest.Ingestor
	Postmortems    *postmortem.Generator
	Webhooks       *webhookintake.Intake
	SideEffects    *sideeffect.Adapter
	ServiceToken   string
	ReadyCheck     func(ctx context.Context) error
}

// Routes assembles the ServeMux for the version-stable HTTP surface.
// Requests get an X-Request-Id and, below /api, pass a rate limiter;
// writes additionally require RequireServiceToken.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)

	mux.HandleFunc("GET /api/afu9/issues", s.handleListIssues)
	mux.HandleFunc("GET /api/afu9/issues/{id}", s.handleIssueDetail)
	mux.Handle("POST /api/afu9/s1s3/issues/pick", s.auth(http.HandlerFunc(s.handlePick)))
	mux.Handle("POST /api/afu9/s1s3/issues/{id}/spec", s.auth(http.HandlerFunc(s.handleSpec)))
	mux.Handle("POST /api/afu9/s1s3/issues/{id}/implement", s.auth(http.HandlerFunc(s.handleImplement)))

	mux.HandleFunc("GET /api/timeline/chain", s.handleTimelineChain)
	mux.HandleFunc("GET /api/deploy/status", s.handleDeployStatus)

	mux.Handle("POST /api/webhooks/forge", http.HandlerFunc(s.handleWebhook))

	mux.Handle("GET /api/admin/navigation/{role}", s.auth(http.HandlerFunc(s.handleNavigationGet)))
	mux.Handle("PUT /api/admin/navigation/{role}", s.auth(http.HandlerFunc(s.handleNavigationPut)))
	mux.Handle("POST /api/admin/policy/evaluate", s.auth(http.HandlerFunc(s.handlePolicyEvaluate)))
	mux.Handle("POST /api/admin/deploy/force", s.auth(http.HandlerFunc(s.handleForceDeploy)))
	mux.Handle("POST /api/admin/deploy/poll-stability", s.auth(http.HandlerFunc(s.handlePollStability)))

	rl := NewRateLimiter(50, 100)
	return WithRequestID(rl.Middleware(mux))
}

// auth wraps a write handler with the shared-secret/session-cookie
// check every write endpoint requires.
func (s *Server) auth(next http.Handler) http.Handler {
	return RequireServiceToken(s.ServiceToken, next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ReadyCheck == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ReadyCheck(ctx); err != nil {
		WriteError(w, r, http.StatusServiceUnavailable, afu9err.CodeUnavailable, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
