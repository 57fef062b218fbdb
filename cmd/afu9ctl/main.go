// Package main is the AFU-9 control plane's single entrypoint: the
// same binary serves the HTTP API (the default, mirroring the
// teacher's "no args -> runServer" dispatch) or runs one of a small
// set of operational subcommands against the same wiring.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/afu9/control-center/internal/db/postgres"
	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/automationpolicy"
	"github.com/afu9/control-center/pkg/config"
	"github.com/afu9/control-center/pkg/evidenceingest"
	"github.com/afu9/control-center/pkg/forge"
	"github.com/afu9/control-center/pkg/httpapi"
	"github.com/afu9/control-center/pkg/issuestore"
	"github.com/afu9/control-center/pkg/lawbook"
	"github.com/afu9/control-center/pkg/obslog"
	"github.com/afu9/control-center/pkg/opstore"
	"github.com/afu9/control-center/pkg/postmortem"
	"github.com/afu9/control-center/pkg/repoaccess"
	"github.com/afu9/control-center/pkg/sideeffect"
	"github.com/afu9/control-center/pkg/sync"
	"github.com/afu9/control-center/pkg/timeline"
	"github.com/afu9/control-center/pkg/verdict"
	"github.com/afu9/control-center/pkg/webhookintake"
	"go.opentelemetry.io/otel/attribute"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint: dispatch on args[1], defaulting to
// the HTTP server when no subcommand is given.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		runServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		runServer()
		return 0
	case "migrate":
		return runMigrate(stdout, stderr)
	case "sync":
		return runSync(args[2:], stdout, stderr)
	case "postmortem":
		return runPostmortem(args[2:], stdout, stderr)
	case "verdict":
		return runVerdict(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q (want server|migrate|sync|postmortem|verdict|doctor)\n", args[1])
		return 2
	}
}

// wiring holds every subsystem the server and the operational
// subcommands share, constructed once per process from cfg.
type wiring struct {
	cfg         *config.Config
	obs         *obslog.Provider
	db          *sql.DB
	issues      *issuestore.PostgresStore
	lawbooks    *lawbook.Resolver
	policies    *automationpolicy.Evaluator
	access      *repoaccess.Policy
	clients     *repoaccess.ClientFactory
	syncEngine  *sync.Engine
	syncRunner  *sync.Runner
	timeline    *timeline.PostgresStore
	ops         *opstore.PostgresStore
	ingestor    *evidenceingest.Ingestor
	postmortems *postmortem.Generator
	webhooks    *webhookintake.Intake
	sideEffects *sideeffect.Adapter
}

// build connects to the database (when enabled), runs migrations, and
// wires every subsystem together. When DatabaseEnabled is false every
// store-backed field is left nil and callers fall back to UNAVAILABLE,
// matching the 503 contract for a database-disabled deployment.
func build(ctx context.Context, cfg *config.Config) (*wiring, error) {
	obsCfg := obslog.DefaultConfig()
	obsCfg.ServiceName = "afu9-control-center"
	obsCfg.Environment = cfg.Environment
	obsCfg.Enabled = cfg.ObservabilityOn
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.LogLevel = cfg.LogLevel
	obs, err := obslog.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("afu9ctl: observability: %w", err)
	}
	slog.SetDefault(obs.Logger())

	w := &wiring{cfg: cfg, obs: obs}

	if !cfg.DatabaseEnabled {
		return w, nil
	}

	db, err := postgres.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("afu9ctl: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("afu9ctl: ping database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("afu9ctl: migrate: %w", err)
	}
	w.db = db

	w.issues = issuestore.NewPostgresStore(db)
	w.lawbooks = lawbook.New(lawbook.NewPostgresSource(db))
	w.policies = automationpolicy.NewEvaluator(
		automationpolicy.NewPostgresStore(db),
		automationpolicy.NewPostgresHistory(db),
		w.lawbooks,
		cfg.LawbookID,
	)

	access, err := repoaccess.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("afu9ctl: repo access policy: %w", err)
	}
	w.access = access

	if cfg.ForgeAppID != "" && cfg.ForgeAppPrivateKeyPEM != "" {
		minter, err := forge.NewAppTokenMinter(cfg.ForgeAppID, cfg.ForgeAppPrivateKeyPEM, "https://api.forge.internal")
		if err != nil {
			return nil, fmt.Errorf("afu9ctl: forge app auth: %w", err)
		}
		w.clients = repoaccess.NewClientFactory(minter, "https://api.forge.internal")
	}

	w.syncEngine = sync.New(w.issues, sync.NewPostgresStore(db), w.access, w.clients, nil)
	w.syncRunner = sync.NewRunner(w.syncEngine, w.issues)

	w.timeline = timeline.NewPostgresStore(db)
	w.ops = opstore.NewPostgresStore(db)
	w.ingestor = evidenceingest.New(opstore.NewEvidenceSource(w.ops), w.timeline)
	w.postmortems = postmortem.New(postmortem.NewPostgresSource(db), postmortem.NewPostgresStore(db))

	dispatcher := &syncDispatcher{runner: w.syncRunner, issues: w.issues, obs: obs}
	mappings := []webhookintake.WorkflowMapping{
		{EventType: "pull_request", EventAction: "closed", AutoTrigger: true, Workflow: "sync-forge-to-local"},
		{EventType: "pull_request", EventAction: "synchronize", AutoTrigger: true, Workflow: "sync-forge-to-local"},
		{EventType: "check_run", EventAction: "completed", AutoTrigger: true, Workflow: "sync-forge-to-local"},
		{EventType: "issues", AutoTrigger: true, Workflow: "sync-forge-to-local"},
	}
	w.webhooks = webhookintake.New([]byte(cfg.WebhookSecret), webhookintake.NewPostgresStore(db), mappings, dispatcher)

	gate := &sideeffect.PostgresPolicyGate{DB: db, Policies: automationpolicy.NewPostgresStore(db), Lawbooks: w.lawbooks, RulebookID: cfg.LawbookID}
	w.sideEffects = sideeffect.New(&noopOrchestrator{}, gate)

	return w, nil
}

func (w *wiring) close() {
	if w.db != nil {
		_ = w.db.Close()
	}
	if w.obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.obs.Shutdown(shutdownCtx)
	}
}

// syncDispatcher implements webhookintake.Dispatcher by re-sweeping
// whichever mirrored Issue the webhook's repo/number payload names —
// the control plane has no per-delivery push path, a webhook merely
// wakes up the same pull-based sweep a cron tick would otherwise run.
type syncDispatcher struct {
	runner *sync.Runner
	issues *issuestore.PostgresStore
	obs    *obslog.Provider
}

func (d *syncDispatcher) Dispatch(ctx context.Context, workflow, eventType, eventAction string, payload map[string]any) error {
	ctx, done := d.obs.TrackOperation(ctx, "webhook.dispatch",
		attribute.String("workflow", workflow), attribute.String("event_type", eventType))
	var dispatchErr error
	defer func() { done(dispatchErr) }()

	repo, _ := payload["repository"].(string)
	number, _ := payload["number"].(float64)
	if repo == "" || number == 0 {
		d.obs.Logger().InfoContext(ctx, "webhook dispatch: payload missing repo/number, nothing to sweep", "workflow", workflow)
		d.obs.RecordDecision(ctx, "webhook_dispatch", "skipped_no_target")
		return nil
	}

	owner, repoName, ok := strings.Cut(repo, "/")
	if !ok {
		d.obs.RecordDecision(ctx, "webhook_dispatch", "skipped_bad_repo")
		return nil
	}

	issues, err := d.issues.ListIssues(ctx, issuestore.Filter{ForgeRepo: repo, Limit: issuestore.MaxListLimit})
	if err != nil {
		dispatchErr = err
		return err
	}
	var targets []sync.SweepTarget
	for _, issue := range issues {
		if issue.ForgeIssueNumber == int(number) {
			targets = append(targets, sync.SweepTarget{
				IssueID: issue.ID, Owner: owner, Repo: repoName, ForgeIssueNumber: issue.ForgeIssueNumber,
			})
		}
	}
	if len(targets) == 0 {
		d.obs.RecordDecision(ctx, "webhook_dispatch", "skipped_no_match")
		return nil
	}
	result := d.runner.SweepOnce(ctx, targets)
	d.obs.RecordDecision(ctx, "webhook_dispatch", "swept")
	d.obs.Logger().InfoContext(ctx, "webhook dispatch swept", "workflow", workflow, "synced", result.SyncedIssues, "failed", result.FailedIssues)
	return nil
}

// noopOrchestrator is the in-memory orchestrator stand-in used until a
// real cluster credential is configured — every call fails closed
// rather than pretending to have deployed anything.
type noopOrchestrator struct{}

func (noopOrchestrator) DescribeService(ctx context.Context, cluster, service string) (*sideeffect.ServiceDescription, error) {
	return nil, afu9err.New(afu9err.CodeUnavailable, "no orchestrator configured")
}

func (noopOrchestrator) ForceNewDeployment(ctx context.Context, cluster, service string) error {
	return afu9err.New(afu9err.CodeUnavailable, "no orchestrator configured")
}

func runServer() {
	cfg := config.Load()
	slog.Info("afu9ctl starting", "port", cfg.Port, "databaseEnabled", cfg.DatabaseEnabled)

	ctx := context.Background()
	w, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("afu9ctl: %v", err)
	}
	defer w.close()

	srv := &httpapi.Server{
		DB:           w.db,
		Cfg:          cfg,
		ServiceToken: os.Getenv("AFU9_SERVICE_TOKEN"),
	}
	if w.db != nil {
		srv.Issues = w.issues
		srv.Lawbooks = w.lawbooks
		srv.Policies = w.policies
		srv.Access = w.access
		srv.Clients = w.clients
		srv.SyncEngine = w.syncEngine
		srv.SyncRunner = w.syncRunner
		srv.Timeline = w.timeline
		srv.Ops = w.ops
		srv.Ingestor = w.ingestor
		srv.Postmortems = w.postmortems
		srv.Webhooks = w.webhooks
		srv.SideEffects = w.sideEffects
		srv.ReadyCheck = func(ctx context.Context) error { return w.db.PingContext(ctx) }
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("afu9ctl listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("afu9ctl: serve: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	slog.Info("afu9ctl shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func runMigrate(stdout, stderr io.Writer) int {
	cfg := config.Load()
	if !cfg.DatabaseEnabled {
		fmt.Fprintln(stderr, "afu9ctl migrate: DATABASE_ENABLED is not true")
		return 1
	}
	ctx := context.Background()
	db, err := postgres.Open(cfg.DSN())
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl migrate: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	if err := postgres.Migrate(ctx, db); err != nil {
		fmt.Fprintf(stderr, "afu9ctl migrate: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "migrations applied")
	return 0
}

func runSync(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	w, err := build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl sync: %v\n", err)
		return 1
	}
	defer w.close()
	if w.syncRunner == nil {
		fmt.Fprintln(stderr, "afu9ctl sync: DATABASE_ENABLED is not true")
		return 1
	}

	filter := issuestore.Filter{Limit: issuestore.MaxListLimit}
	issues, err := w.issues.ListIssues(ctx, filter)
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl sync: list issues: %v\n", err)
		return 1
	}

	var targets []sync.SweepTarget
	for _, issue := range issues {
		if issue.ForgeIssueNumber == 0 {
			continue
		}
		owner, repo, ok := strings.Cut(issue.ForgeRepo, "/")
		if !ok {
			continue
		}
		targets = append(targets, sync.SweepTarget{
			IssueID:          issue.ID,
			Owner:            owner,
			Repo:             repo,
			ForgeIssueNumber: issue.ForgeIssueNumber,
		})
	}

	ctx, done := w.obs.TrackOperation(ctx, "cli.sync", attribute.Int("targets", len(targets)))
	result := w.syncRunner.SweepOnce(ctx, targets)
	done(nil)
	fmt.Fprintf(stdout, "synced=%d failed=%d conflicts=%d blocked=%d\n",
		result.SyncedIssues, result.FailedIssues, result.ConflictsDetected, result.TransitionsBlocked)
	return 0
}

func runPostmortem(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("postmortem", flag.ContinueOnError)
	incidentID := fs.String("incident", "", "incident ID to generate a postmortem for")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *incidentID == "" {
		fmt.Fprintln(stderr, "afu9ctl postmortem: -incident is required")
		return 2
	}
	ctx := context.Background()
	cfg := config.Load()
	w, err := build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl postmortem: %v\n", err)
		return 1
	}
	defer w.close()
	if w.postmortems == nil {
		fmt.Fprintln(stderr, "afu9ctl postmortem: DATABASE_ENABLED is not true")
		return 1
	}

	version, err := w.lawbooks.GetActive(ctx, cfg.LawbookID)
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl postmortem: resolve lawbook: %v\n", err)
		return 1
	}
	ctx, done := w.obs.TrackOperation(ctx, "cli.postmortem", attribute.String("incident_id", *incidentID))
	record, err := w.postmortems.GeneratePostmortem(ctx, *incidentID, version)
	done(err)
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl postmortem: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "outcomeKey=%s isNew=%t postmortemHash=%s\n", record.OutcomeKey, record.IsNew, record.PostmortemHash)
	return 0
}

// runVerdict applies a GREEN/HOLD/RED verdict to one Issue. The
// control plane has no HTTP endpoint for this — verdicts arrive from
// the same pipeline that writes them into the operational store, so
// applying one is an operational action, not a request-driven one.
func runVerdict(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verdict", flag.ContinueOnError)
	issueID := fs.String("issue", "", "issue ID to apply the verdict to")
	verdictValue := fs.String("verdict", "", "GREEN, HOLD, or RED")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *issueID == "" || *verdictValue == "" {
		fmt.Fprintln(stderr, "afu9ctl verdict: -issue and -verdict are required")
		return 2
	}
	v := verdict.Verdict(strings.ToUpper(*verdictValue))
	if v != verdict.Green && v != verdict.Hold && v != verdict.Red {
		fmt.Fprintf(stderr, "afu9ctl verdict: unknown verdict %q (want GREEN, HOLD, or RED)\n", *verdictValue)
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	w, err := build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl verdict: %v\n", err)
		return 1
	}
	defer w.close()
	if w.issues == nil {
		fmt.Fprintln(stderr, "afu9ctl verdict: DATABASE_ENABLED is not true")
		return 1
	}

	ctx, done := w.obs.TrackOperation(ctx, "cli.verdict", attribute.String("issue_id", *issueID), attribute.String("verdict", string(v)))
	result, err := verdict.ApplyVerdict(ctx, w.issues, *issueID, v)
	done(err)
	if err != nil {
		fmt.Fprintf(stderr, "afu9ctl verdict: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "newStatus=%s stateChanged=%t\n", result.NewStatus, result.StateChanged)
	return 0
}

func runDoctor(stdout, stderr io.Writer) int {
	cfg := config.Load()
	fmt.Fprintf(stdout, "databaseEnabled=%t lawbookId=%s forceNewDeployEnabled=%t\n",
		cfg.DatabaseEnabled, cfg.LawbookID, cfg.ForceNewDeployEnabled)

	if !cfg.DatabaseEnabled {
		fmt.Fprintln(stdout, "database: disabled, skipping connectivity check")
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.Open(cfg.DSN())
	if err != nil {
		fmt.Fprintf(stderr, "database: open failed: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(stderr, "database: ping failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "database: reachable")

	if _, err := repoaccess.New(cfg); err != nil {
		fmt.Fprintf(stderr, "repo access policy: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "repo access policy: loaded")
	return 0
}
