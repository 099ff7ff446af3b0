package forwarder

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaymesh/paf/internal/profile"
)

func family2attr(family profile.Family) attribute.KeyValue {
	return attribute.String("family", string(family))
}

func endpointAttr(name string) attribute.KeyValue {
	return attribute.String("endpoint", name)
}

func statusAttr(code int) attribute.KeyValue {
	return attribute.Int("status_code", code)
}
