// Package postmortem builds the evidence-only Postmortem artifact for
// a resolved incident and upserts its OutcomeRecord. The
// hash-excluding-timestamp idiom (hash a derived struct without the
// mutable field, so regeneration with identical inputs is a no-op) is
// grounded on the escalation manager's createReceipt; the
// idempotent-outcome-by-key upsert is grounded on the release ledger's
// keyed record pattern.
package postmortem

import (
	"context"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
	"github.com/afu9/control-center/pkg/canonicalize"
)

// EvidenceItem is one piece of evidence attached to an incident.
type EvidenceItem struct {
	Kind        string
	Description string
	SourceHash  string
}

// IncidentEvent is one timeline event during the incident's lifecycle.
type IncidentEvent struct {
	Kind      string
	Message   string
	CreatedAt time.Time
}

// RemediationRun is one remediation attempt made during the incident.
type RemediationRun struct {
	ID        string
	Playbook  string
	Outcome   string // SUCCEEDED | FAILED | ABORTED
	AutoFixed bool
	StartedAt time.Time
	EndedAt   *time.Time
}

// Incident is the subject of a postmortem.
type Incident struct {
	ID         string
	Title      string
	Service    string
	StartedAt  time.Time
	ResolvedAt *time.Time
}

// Source is the read-only incident data postmortem generation pulls
// from. Nothing here is ever mutated by GeneratePostmortem.
type Source interface {
	GetIncident(ctx context.Context, incidentID string) (*Incident, error)
	GetEvidence(ctx context.Context, incidentID string) ([]EvidenceItem, error)
	GetEvents(ctx context.Context, incidentID string) ([]IncidentEvent, error)
	GetRemediationRuns(ctx context.Context, incidentID string) ([]RemediationRun, error)
	// GetVerificationResult returns the latest PASS/FAIL/UNKNOWN
	// verification outcome for the incident plus its report hash. An
	// empty result string means no verification has run yet.
	GetVerificationResult(ctx context.Context, incidentID string) (result, reportHash string, err error)
}

// Detection is the artifact's detection section.
type Detection struct {
	SignalKinds    []string `json:"signalKinds"`
	PrimaryEvidence string  `json:"primaryEvidence"`
}

// Impact is the artifact's impact section; Summary is built only from
// evidence-backed sentences, never invented.
type Impact struct {
	Summary         string `json:"summary"`
	DurationMinutes int    `json:"durationMinutes"`
}

// Remediation is the artifact's remediation section.
type Remediation struct {
	AttemptedPlaybooks []string `json:"attemptedPlaybooks"`
}

// Verification is the artifact's verification section.
type Verification struct {
	Result     string `json:"result"` // PASS | FAIL | UNKNOWN
	ReportHash string `json:"reportHash,omitempty"`
}

// Outcome is the artifact's outcome section.
type Outcome struct {
	Resolved     bool `json:"resolved"`
	MTTRMinutes  int  `json:"mttrMinutes"`
	AutoFixed    bool `json:"autoFixed"`
}

// Learnings is the artifact's learnings section. Every Facts entry
// must cite a specific evidence item; every missing datum goes to
// Unknowns instead of being invented.
type Learnings struct {
	Facts    []string `json:"facts"`
	Unknowns []string `json:"unknowns"`
}

// References is the artifact's references section.
type References struct {
	UsedSourceHashes []string `json:"usedSourcesHashes"`
	Pointers         []string `json:"pointers"`
}

// Artifact is the full generated postmortem document.
type Artifact struct {
	IncidentID   string       `json:"incidentId"`
	GeneratedAt  time.Time    `json:"generatedAt"`
	Detection    Detection    `json:"detection"`
	Impact       Impact       `json:"impact"`
	Remediation  Remediation  `json:"remediation"`
	Verification Verification `json:"verification"`
	Outcome      Outcome      `json:"outcome"`
	Learnings    Learnings    `json:"learnings"`
	References   References   `json:"references"`
}

// hashableArtifact mirrors Artifact minus GeneratedAt, so
// postmortemHash is stable across regenerations of identical inputs.
type hashableArtifact struct {
	IncidentID   string       `json:"incidentId"`
	Detection    Detection    `json:"detection"`
	Impact       Impact       `json:"impact"`
	Remediation  Remediation  `json:"remediation"`
	Verification Verification `json:"verification"`
	Outcome      Outcome      `json:"outcome"`
	Learnings    Learnings    `json:"learnings"`
	References   References   `json:"references"`
}

// OutcomeRecord is the idempotent, keyed result of generating a
// postmortem. Regenerating with identical inputs returns the existing
// record with IsNew = false.
type OutcomeRecord struct {
	OutcomeKey      string
	PostmortemHash  string
	PackHash        string
	IncidentID      string
	Artifact        Artifact
	IsNew           bool
	CreatedAt       time.Time
}

// Store persists OutcomeRecords keyed by outcomeKey.
type Store interface {
	// UpsertOutcomeRecord inserts record if outcomeKey is new; if a row
	// for outcomeKey already exists, that existing record is returned
	// unchanged with IsNew = false, and the call is a no-op. The stored
	// PostmortemHash is not compared against record.PostmortemHash.
	UpsertOutcomeRecord(ctx context.Context, record OutcomeRecord) (*OutcomeRecord, error)
}

// Generator builds Postmortem artifacts from a Source and persists
// their OutcomeRecord via a Store.
type Generator struct {
	source Source
	store  Store
	clock  func() time.Time
}

// New builds a Generator.
func New(source Source, store Store) *Generator {
	return &Generator{source: source, store: store, clock: time.Now}
}

// WithClock overrides the clock used to stamp Artifact.GeneratedAt.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	g.clock = clock
	return g
}

// GeneratePostmortem assembles a full postmortem record for one incident.
func (g *Generator) GeneratePostmortem(ctx context.Context, incidentID, lawbookVersion string) (*OutcomeRecord, error) {
	incident, err := g.source.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	evidence, err := g.source.GetEvidence(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	events, err := g.source.GetEvents(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	runs, err := g.source.GetRemediationRuns(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	verificationResult, reportHash, err := g.source.GetVerificationResult(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if verificationResult == "" {
		verificationResult = "UNKNOWN"
	}

	artifact := buildArtifact(incident, evidence, events, runs, verificationResult, reportHash, g.clock().UTC())

	postmortemHash, err := canonicalize.CanonicalHash(hashableArtifact{
		IncidentID: artifact.IncidentID, Detection: artifact.Detection, Impact: artifact.Impact,
		Remediation: artifact.Remediation, Verification: artifact.Verification,
		Outcome: artifact.Outcome, Learnings: artifact.Learnings, References: artifact.References,
	})
	if err != nil {
		return nil, afu9err.New(afu9err.CodeInvalidInput, "hash postmortem artifact: "+err.Error())
	}

	packHash, err := canonicalize.CanonicalHash(map[string]any{
		"incidentId": incidentID, "evidenceCount": len(evidence), "eventsCount": len(events), "remediationCount": len(runs),
	})
	if err != nil {
		return nil, afu9err.New(afu9err.CodeInvalidInput, "hash evidence pack: "+err.Error())
	}

	var primaryRemediationRunID string
	if len(runs) > 0 {
		primaryRemediationRunID = runs[0].ID
	}
	outcomeKey, err := canonicalize.CanonicalHash(map[string]any{
		"incidentId": incidentID, "primaryRemediationRunId": primaryRemediationRunID, "packHash": packHash,
	})
	if err != nil {
		return nil, afu9err.New(afu9err.CodeInvalidInput, "hash outcome key: "+err.Error())
	}

	record := OutcomeRecord{
		OutcomeKey: outcomeKey, PostmortemHash: postmortemHash, PackHash: packHash,
		IncidentID: incidentID, Artifact: artifact, IsNew: true,
	}
	return g.store.UpsertOutcomeRecord(ctx, record)
}

func buildArtifact(incident *Incident, evidence []EvidenceItem, events []IncidentEvent, runs []RemediationRun, verificationResult, reportHash string, generatedAt time.Time) Artifact {
	signalKinds := make([]string, 0, len(evidence))
	usedHashes := make([]string, 0, len(evidence))
	primaryEvidence := ""
	for i, e := range evidence {
		signalKinds = append(signalKinds, e.Kind)
		if e.SourceHash != "" {
			usedHashes = append(usedHashes, e.SourceHash)
		}
		if i == 0 {
			primaryEvidence = e.Description
		}
	}

	var facts, unknowns []string
	if len(evidence) > 0 {
		facts = append(facts, "Primary signal: "+primaryEvidence)
	} else {
		unknowns = append(unknowns, "Root cause: not classified")
	}

	resolved := incident.ResolvedAt != nil
	durationMinutes := 0
	mttrMinutes := 0
	if resolved {
		durationMinutes = int(incident.ResolvedAt.Sub(incident.StartedAt).Minutes())
		mttrMinutes = durationMinutes
	} else {
		unknowns = append(unknowns, "MTTR: incident not yet resolved")
	}

	summary := "no evidence-backed summary available"
	if len(evidence) > 0 {
		summary = primaryEvidence
	}

	playbooks := make([]string, 0, len(runs))
	autoFixed := false
	for _, r := range runs {
		playbooks = append(playbooks, r.Playbook)
		if r.AutoFixed && r.Outcome == "SUCCEEDED" {
			autoFixed = true
		}
		facts = append(facts, "Remediation "+r.Playbook+" outcome: "+r.Outcome)
	}
	if len(runs) == 0 {
		unknowns = append(unknowns, "Remediation: no remediation runs recorded")
	}

	pointers := make([]string, 0, len(events))
	for _, ev := range events {
		pointers = append(pointers, ev.Kind+": "+ev.Message)
	}

	return Artifact{
		IncidentID:  incident.ID,
		GeneratedAt: generatedAt,
		Detection:   Detection{SignalKinds: signalKinds, PrimaryEvidence: primaryEvidence},
		Impact:      Impact{Summary: summary, DurationMinutes: durationMinutes},
		Remediation: Remediation{AttemptedPlaybooks: playbooks},
		Verification: Verification{Result: verificationResult, ReportHash: reportHash},
		Outcome:     Outcome{Resolved: resolved, MTTRMinutes: mttrMinutes, AutoFixed: autoFixed},
		Learnings:   Learnings{Facts: facts, Unknowns: unknowns},
		References:  References{UsedSourceHashes: usedHashes, Pointers: pointers},
	}
}
