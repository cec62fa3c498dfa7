package tracing

import (
	"errors"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
)

var allowedSpanKeys = map[attribute.Key]struct{}{
	"request_id":              {},
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
}

// credentialPattern is conservative on purpose: bearer and basic values,
// secrets and opaque tokens must never reach an exporter.
var credentialPattern = regexp.MustCompile(`(?i)(bearer|basic)\s+\S+|(access_token|refresh_token|client_secret|code|password)=\S+`)

// SafeAttributes drops span attributes whose keys are not on the allow list.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	safe := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanKeys[attr.Key]; !ok {
			continue
		}
		safe = append(safe, attr)
	}
	return safe
}

// SafeError redacts credential material from an error before it is recorded
// on a span. Returns nil for a nil error.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !credentialPattern.MatchString(msg) {
		return err
	}
	return errors.New(credentialPattern.ReplaceAllString(msg, "[redacted]"))
}
