package switchboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Service composes a store, a default agent, and a set of transports into
// one agent application. It owns context resolution for inbound
// conversations, runs the agent with panic/error recovery, and mounts
// every transport's HTTP endpoints on a single handler.
type Service struct {
	store      Store
	agent      Agent
	transports []Transport
	logger     *slog.Logger
	tracer     Tracer

	useActionCache bool
	useLLMCache    bool
	apiToken       string
}

// ServiceOption configures NewService.
type ServiceOption func(*Service)

// WithServiceLogger sets the structured logger for service and transport
// lifecycle events. Silent by default.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithServiceTracer sets the span tracer for agent runs. The observer
// package provides an OTEL-backed implementation.
func WithServiceTracer(t Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// WithServiceActionCache enables tool-result memoization on every context
// the service builds.
func WithServiceActionCache() ServiceOption {
	return func(s *Service) { s.useActionCache = true }
}

// WithServiceLLMCache enables model-completion memoization on every
// context the service builds.
func WithServiceLLMCache() ServiceOption {
	return func(s *Service) { s.useLLMCache = true }
}

// WithAPIToken protects private endpoints with a bearer token. Public
// webhook endpoints stay open regardless (providers cannot pass tokens).
func WithAPIToken(token string) ServiceOption {
	return func(s *Service) { s.apiToken = token }
}

// NewService creates a Service around a store and a default agent.
func NewService(store Store, agent Agent, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		agent:  agent,
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the service's persistence collaborator.
func (s *Service) Store() Store { return s.store }

// Agent returns the default agent.
func (s *Service) Agent() Agent { return s.agent }

// Logger returns the service logger (never nil).
func (s *Service) Logger() *slog.Logger { return s.logger }

// RegisterTransport attaches a transport to the service. Transports are
// an explicit composition list: each contributes its endpoints to
// Handler and its provisioning step to InstanceInit, in registration
// order.
func (s *Service) RegisterTransport(t Transport) {
	s.transports = append(s.transports, t)
	s.logger.Info("transport registered", "transport", t.Name())
}

// BuildContext resolves the default AgentContext for a conversation id,
// honoring the service-level cache flags.
func (s *Service) BuildContext(ctx context.Context, conversationID string) (*AgentContext, error) {
	opts := []ContextOption{}
	if s.useActionCache {
		opts = append(opts, WithActionCache())
	}
	if s.useLLMCache {
		opts = append(opts, WithLLMCache())
	}
	return GetOrCreateContext(ctx, s.store, ConversationKeys(conversationID), opts...)
}

// RunAgent executes an agent against a context. Panics are recovered
// into errors; on success the result blocks are pushed through the
// context's emission callbacks before being returned.
func (s *Service) RunAgent(ctx context.Context, agent Agent, actx *AgentContext) (blocks []Block, err error) {
	start := time.Now()

	var span Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "agent.run",
			StringAttr("agent", agent.Name()),
			StringAttr("context_id", actx.ID()),
		)
		defer func() {
			if err != nil {
				span.Error(err)
			}
			span.End()
		}()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent panic: %v", p)
			s.logger.Error("agent run panicked", "agent", agent.Name(), "context_id", actx.ID(), "panic", p)
		}
	}()

	blocks, err = agent.Run(ctx, actx)
	if err != nil {
		s.logger.Error("agent run failed", "agent", agent.Name(), "context_id", actx.ID(), "error", err, "duration", time.Since(start))
		return nil, err
	}

	s.logger.Info("agent run completed", "agent", agent.Name(), "context_id", actx.ID(),
		"blocks", len(blocks), "steps", len(actx.CompletedSteps), "duration", time.Since(start))

	actx.Emit(blocks, actx.Metadata)
	return blocks, nil
}

// ErrorBlock converts an execution failure into the single user-visible
// block delivered in place of a normal response.
func (s *Service) ErrorBlock(err error, chatID string) Block {
	b := TextBlock(fmt.Sprintf("An error happened while creating a response: %v", err))
	b.ChatID = chatID
	return b
}

// InstanceInit runs every transport's provisioning step. Failures are
// logged and skipped: provisioning is idempotent and retried on the next
// deployment, and a failed webhook registration must not block message
// handling.
func (s *Service) InstanceInit(ctx context.Context) {
	for _, t := range s.transports {
		if err := t.InstanceInit(ctx); err != nil {
			s.logger.Error("transport init failed", "transport", t.Name(), "error", err)
		}
	}
}

// Handler returns the HTTP handler exposing every registered transport's
// endpoints plus the service-level info endpoint.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /info", s.Private(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, map[string]any{})
	}))
	for _, t := range s.transports {
		t.Register(mux, s)
	}
	return mux
}

// Private wraps a handler with the bearer-token check for non-public
// endpoints. A service without an API token leaves them open.
func (s *Service) Private(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + s.apiToken
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// WriteJSON writes v as a JSON response body.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
