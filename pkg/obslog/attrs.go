package obslog

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Domain semantic-convention attribute keys used across spans and logs.
var (
	AttrIssueID     = attribute.Key("afu9.issue.id")
	AttrIssueStatus = attribute.Key("afu9.issue.status")
	AttrRepo        = attribute.Key("afu9.repo")

	AttrPolicyDomain   = attribute.Key("afu9.policy.domain")
	AttrPolicyAction   = attribute.Key("afu9.policy.action")
	AttrPolicyDecision = attribute.Key("afu9.policy.decision")
	AttrLawbookID      = attribute.Key("afu9.lawbook.id")

	AttrVerdictID     = attribute.Key("afu9.verdict.id")
	AttrVerdictResult = attribute.Key("afu9.verdict.result")

	AttrWebhookEvent    = attribute.Key("afu9.webhook.event")
	AttrWebhookDelivery = attribute.Key("afu9.webhook.delivery_id")

	AttrSyncDirection = attribute.Key("afu9.sync.direction")
)

// IssueAttrs builds the standard span attributes for an issue-scoped operation.
func IssueAttrs(issueID, repo, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIssueID.String(issueID),
		AttrRepo.String(repo),
		AttrIssueStatus.String(status),
	}
}

// PolicyAttrs builds span attributes for a policy evaluation.
func PolicyAttrs(domain, action, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyDomain.String(domain),
		AttrPolicyAction.String(action),
		AttrPolicyDecision.String(decision),
	}
}

// VerdictAttrs builds span attributes for a verdict evaluation.
func VerdictAttrs(verdictID, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrVerdictID.String(verdictID),
		AttrVerdictResult.String(result),
	}
}

// WebhookAttrs builds span attributes for inbound webhook processing.
func WebhookAttrs(event, deliveryID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrWebhookEvent.String(event),
		AttrWebhookDelivery.String(deliveryID),
	}
}

// SpanFromContext extracts the active span, if any.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent appends a named event with attributes to the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordSpanError marks the active span as errored.
func RecordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}
