// Package switchboard is an SDK for building conversational agent
// applications that speak to users over pluggable chat transports.
//
// It provides the per-conversation execution context an agent runtime needs:
// an append-only chat history, memoization caches for tool and LLM calls,
// a metadata bag, and emission callbacks that route agent output back to
// whichever channel the conversation arrived on.
//
// # Quick Start
//
// Wire a store, an agent, and one or more transports into a Service:
//
//	store := sqlite.New("switchboard.db")
//	svc := switchboard.NewService(store, agent,
//		switchboard.WithServiceActionCache(),
//		switchboard.WithServiceLLMCache(),
//	)
//	svc.RegisterTransport(telegram.New(store, telegram.Config{BotToken: token}))
//	svc.RegisterTransport(widget.New())
//
//	http.ListenAndServe(":8080", svc.Handler())
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Agent] — the unit of work run once per inbound message
//   - [Store] — persistence for chat logs, cache entries, and key-value config
//   - [Transport] — bridge between a provider's webhook protocol and the
//     agent execution contract
//   - [ActionCache], [LLMCache] — per-conversation result memoization
//   - [Tracer] — optional span-based instrumentation (see the observer package)
//
// # Included Implementations
//
// Storage: store/sqlite (local, pure Go), store/postgres (pgx pool).
// Transports: transport/telegram (webhook bot), transport/widget (embeddable
// web chat). See cmd/switchboard for a complete reference server.
package switchboard
