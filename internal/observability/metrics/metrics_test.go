package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("grant_type", "client_credentials"),
		attribute.String("client_id", "testclient"),
		attribute.String("reason", "scope"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "client_id" {
			t.Fatalf("expected client_id to be dropped")
		}
	}
}
