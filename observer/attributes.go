package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for switchboard observability spans and metrics.
var (
	AttrAgentName   = attribute.Key("agent.name")
	AttrAgentStatus = attribute.Key("agent.status")

	AttrToolName   = attribute.Key("tool.name")
	AttrToolStatus = attribute.Key("tool.status")

	AttrCacheName    = attribute.Key("cache.name")
	AttrCacheOutcome = attribute.Key("cache.outcome")

	AttrTransportName = attribute.Key("transport.name")
	AttrParseOutcome  = attribute.Key("transport.parse_outcome")
	AttrBlockCount    = attribute.Key("transport.block_count")

	AttrConversationID = attribute.Key("conversation.id")
)
