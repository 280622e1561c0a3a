package resilienttelemetry

import (
	"github.com/opengovern/resilient-telemetry/eventcache"
	"github.com/opengovern/resilient-telemetry/transport"
)

// Aliases so callers of the root package rarely need to import transport or
// eventcache directly.
type (
	Request  = transport.Request
	Response = transport.Response
	Header   = transport.Header
	AuthKind = transport.AuthKind
	Event    = eventcache.Event
)

const (
	AuthNone   = transport.AuthNone
	AuthAPIKey = transport.AuthAPIKey
	AuthBasic  = transport.AuthBasic
	AuthBearer = transport.AuthBearer
)

// APIKeyHeader carries the raw project API key.
const APIKeyHeader = "X-Kogase-API-Key"

// NewRequest creates a request with default priority.
func NewRequest(method, url string) *Request {
	return transport.NewRequest(method, url)
}
