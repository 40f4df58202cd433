package switchboard

import (
	"context"
	"net/http"
)

// Transport bridges a chat provider's webhook protocol and the agent
// execution contract: it parses inbound provider payloads into normalized
// blocks, delivers outbound blocks through the provider's send API, and
// mounts its HTTP endpoints on the service mux.
type Transport interface {
	// Name identifies the transport ("telegram", "widget", ...).
	Name() string
	// ParseInbound extracts a normalized message block from a raw
	// provider payload. May call the provider (e.g. to resolve a media
	// file id into a URL), hence the context.
	ParseInbound(ctx context.Context, payload []byte) ParseResult
	// Send delivers output blocks via the provider's API. Blocks with no
	// provider mapping are logged and dropped, not fatal to the batch.
	Send(ctx context.Context, blocks []Block, meta Metadata) error
	// InstanceInit performs idempotent provisioning (webhook
	// registration and the like). Invoked at deployment/configuration
	// time, never on the request path; failures are logged and must not
	// block message handling.
	InstanceInit(ctx context.Context) error
	// Register mounts the transport's HTTP endpoints.
	Register(mux *http.ServeMux, svc *Service)
}

type parseKind int

const (
	parseOK parseKind = iota
	parseNoOp
	parseMalformed
)

// ParseResult is the outcome of parsing an inbound payload: a normalized
// message, a deliberate no-op (provider messages known to carry nothing
// actionable, e.g. group-join events), or a malformed rejection.
type ParseResult struct {
	kind   parseKind
	msg    Block
	reason string
}

// ParsedMessage wraps a successfully normalized message.
func ParsedMessage(msg Block) ParseResult {
	return ParseResult{kind: parseOK, msg: msg}
}

// ParseNoOp marks a payload that is intentionally ignored. The transport
// still acknowledges the request as a success.
func ParseNoOp() ParseResult {
	return ParseResult{kind: parseNoOp}
}

// ParseMalformed marks a payload missing required fields or carrying
// fields of the wrong type.
func ParseMalformed(reason string) ParseResult {
	return ParseResult{kind: parseMalformed, reason: reason}
}

// Message returns the normalized message and whether one was parsed.
func (r ParseResult) Message() (Block, bool) {
	return r.msg, r.kind == parseOK
}

// IsNoOp reports whether the payload was deliberately ignored.
func (r ParseResult) IsNoOp() bool { return r.kind == parseNoOp }

// Malformed returns the rejection reason and whether the payload was
// rejected.
func (r ParseResult) Malformed() (string, bool) {
	return r.reason, r.kind == parseMalformed
}
