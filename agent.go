package switchboard

import (
	"context"
	"fmt"
)

// Agent is the unit of work run once per inbound message. It reads the
// conversation state from the AgentContext (the latest user message is
// the tail of the chat history) and returns the blocks to deliver.
type Agent interface {
	// Name returns the agent's identifier, used in logs and traces.
	Name() string
	// Run executes the agent against the given context and returns the
	// final answer blocks.
	Run(ctx context.Context, actx *AgentContext) ([]Block, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc struct {
	AgentName string
	Fn        func(ctx context.Context, actx *AgentContext) ([]Block, error)
}

func (a AgentFunc) Name() string { return a.AgentName }

func (a AgentFunc) Run(ctx context.Context, actx *AgentContext) ([]Block, error) {
	return a.Fn(ctx, actx)
}

// Tool is a capability an agent may invoke during a run. Implementations
// must be deterministic with respect to their input blocks for action
// caching to be sound.
type Tool interface {
	// Name returns the tool's identifier, part of the cache fingerprint.
	Name() string
	// Run invokes the tool with the given input blocks.
	Run(ctx context.Context, actx *AgentContext, input []Block) ([]Block, error)
}

// LLM is a language-model backend an agent may call during a run.
// Model inference itself is outside this SDK; the interface exists so the
// caching layer has a uniform seam in front of any provider.
type LLM interface {
	// Model returns the model identifier, part of the cache fingerprint.
	Model() string
	// Complete produces a completion for the given messages.
	Complete(ctx context.Context, messages []Block, options map[string]any) ([]Block, error)
}

// InvokeTool runs a tool through the context's action cache: the cache is
// consulted first, the tool runs only on a miss, and the result is stored
// for later identical requests. Either way the completed action lands on
// the context's audit trail.
func InvokeTool(ctx context.Context, tool Tool, actx *AgentContext, input []Block) ([]Block, error) {
	action := &Action{Tool: tool.Name(), Input: input}

	if output, ok, err := actx.ActionCache.Lookup(ctx, action); err != nil {
		return nil, err
	} else if ok {
		action.Output = output
		actx.RecordStep(action)
		return output, nil
	}

	output, err := tool.Run(ctx, actx, input)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool.Name(), err)
	}
	action.Output = output
	actx.RecordStep(action)

	if err := actx.ActionCache.Update(ctx, action, output); err != nil {
		return nil, err
	}
	return output, nil
}

// Complete calls an LLM through the context's llm cache, under the same
// miss-then-store contract as InvokeTool.
func Complete(ctx context.Context, llm LLM, actx *AgentContext, messages []Block, options map[string]any) ([]Block, error) {
	req := CompletionRequest{Model: llm.Model(), Messages: messages, Options: options}

	if output, ok, err := actx.LLMCache.Lookup(ctx, req); err != nil {
		return nil, err
	} else if ok {
		return output, nil
	}

	output, err := llm.Complete(ctx, messages, options)
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", llm.Model(), err)
	}

	if err := actx.LLMCache.Update(ctx, req, output); err != nil {
		return nil, err
	}
	return output, nil
}
