// Package webhookintake handles inbound Forge webhook deliveries:
// signature verification, delivery-id dedup, event persistence, and
// workflow-mapping dispatch. The signature check is a constant-time
// HMAC comparison; the dedup is an insert-with-conflict-ignore,
// generalized from "schedule once" to "record a delivery once".
package webhookintake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/afu9/control-center/pkg/afu9err"
)

// WorkflowMapping describes what to do when eventType[.eventAction]
// arrives.
type WorkflowMapping struct {
	EventType   string
	EventAction string // "" matches any action for EventType
	AutoTrigger bool
	Workflow    string
}

// Dispatcher runs the workflow a WorkflowMapping names. Implementations
// live outside this package (they reach into issuestore/sync/etc.).
type Dispatcher interface {
	Dispatch(ctx context.Context, workflow string, eventType, eventAction string, payload map[string]any) error
}

// Store persists deliveries and events.
type Store interface {
	// RecordDelivery is an insert-with-conflict-ignore on deliveryID.
	// inserted is false when the delivery was already recorded.
	RecordDelivery(ctx context.Context, deliveryID, eventType, repo string) (inserted bool, err error)
	// PersistEvent stores the full inbound event.
	PersistEvent(ctx context.Context, ev Event) error
}

// Event is one persisted inbound webhook delivery.
type Event struct {
	DeliveryID  string
	EventType   string
	EventAction string
	Repo        string
	Payload     map[string]any
	Signature   string
}

// Intake verifies, dedups, persists, and dispatches inbound webhooks.
type Intake struct {
	secret     []byte
	store      Store
	mappings   []WorkflowMapping
	dispatcher Dispatcher
}

// New builds an Intake. secret is the configured HMAC key.
func New(secret []byte, store Store, mappings []WorkflowMapping, dispatcher Dispatcher) *Intake {
	return &Intake{secret: secret, store: store, mappings: mappings, dispatcher: dispatcher}
}

// VerifySignature checks signatureHeader (expected form "sha256=<hex>")
// against body using HMAC-SHA256 with a constant-time comparison.
// Malformed or length-mismatched signatures are rejected before any
// comparison is attempted.
func (in *Intake) VerifySignature(body []byte, signatureHeader string) error {
	const prefix = "sha256="
	if len(signatureHeader) <= len(prefix) || signatureHeader[:len(prefix)] != prefix {
		return afu9err.New(afu9err.CodeSignatureInvalid, "malformed signature header")
	}
	given, err := hex.DecodeString(signatureHeader[len(prefix):])
	if err != nil {
		return afu9err.New(afu9err.CodeSignatureInvalid, "signature is not valid hex")
	}

	mac := hmac.New(sha256.New, in.secret)
	mac.Write(body)
	want := mac.Sum(nil)

	if len(given) != len(want) {
		return afu9err.New(afu9err.CodeSignatureInvalid, "signature length mismatch")
	}
	if !hmac.Equal(given, want) {
		return afu9err.New(afu9err.CodeSignatureInvalid, "signature does not match")
	}
	return nil
}

// Result is what HandleInboundWebhook reports back to the HTTP layer.
type Result struct {
	Duplicate bool
	Dispatched bool
	Workflow  string
}

// HandleInboundWebhook verifies, dedups, persists, and dispatches one inbound delivery.
func (in *Intake) HandleInboundWebhook(ctx context.Context, deliveryID, eventType, eventAction, repo string, body []byte, signatureHeader string, payload map[string]any) (*Result, error) {
	if err := in.VerifySignature(body, signatureHeader); err != nil {
		return nil, err
	}

	inserted, err := in.store.RecordDelivery(ctx, deliveryID, eventType, repo)
	if err != nil {
		return nil, afu9err.New(afu9err.CodeInternal, "record delivery: "+err.Error())
	}
	if !inserted {
		return &Result{Duplicate: true}, nil
	}

	if err := in.store.PersistEvent(ctx, Event{
		DeliveryID: deliveryID, EventType: eventType, EventAction: eventAction,
		Repo: repo, Payload: payload, Signature: signatureHeader,
	}); err != nil {
		return nil, afu9err.New(afu9err.CodeInternal, "persist event: "+err.Error())
	}

	mapping, ok := in.lookupMapping(eventType, eventAction)
	if !ok || !mapping.AutoTrigger {
		return &Result{}, nil
	}

	if err := in.dispatcher.Dispatch(ctx, mapping.Workflow, eventType, eventAction, payload); err != nil {
		return nil, afu9err.New(afu9err.CodeInternal, "dispatch workflow: "+err.Error())
	}
	return &Result{Dispatched: true, Workflow: mapping.Workflow}, nil
}

func (in *Intake) lookupMapping(eventType, eventAction string) (WorkflowMapping, bool) {
	var fallback WorkflowMapping
	haveFallback := false
	for _, m := range in.mappings {
		if m.EventType != eventType {
			continue
		}
		if m.EventAction == eventAction {
			return m, true
		}
		if m.EventAction == "" {
			fallback = m
			haveFallback = true
		}
	}
	return fallback, haveFallback
}
