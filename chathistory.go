package switchboard

import (
	"context"
	"fmt"
)

// ChatHistory is the append-only record of user/agent messages for one
// conversation. It records user-submitted prompts and the final
// agent-driven answers, not intermediate tool traffic. Mutated only via
// appends; ordering follows append sequence and is never rewritten.
type ChatHistory struct {
	store Store
	log   Log
}

// GetOrCreateChatHistory resolves the persistent conversation log for the
// given context keys, creating it on first use. Idempotent: the same keys
// always resolve to the same log.
func GetOrCreateChatHistory(ctx context.Context, store Store, keys ContextKeys, tags []Tag, searchable bool) (*ChatHistory, error) {
	log, err := store.GetOrCreateLog(ctx, keys.Key(), tags, searchable)
	if err != nil {
		return nil, fmt.Errorf("resolve chat history: %w", err)
	}
	return &ChatHistory{store: store, log: log}, nil
}

// ID returns the stable identifier of the underlying persistent log.
// It doubles as the identity of any AgentContext built on this history.
func (h *ChatHistory) ID() string { return h.log.ID }

// AppendUserMessage durably appends an entry attributed to the user.
func (h *ChatHistory) AppendUserMessage(ctx context.Context, text string, tags ...Tag) (LogMessage, error) {
	return h.append(ctx, RoleUser, text, tags)
}

// AppendAgentMessage durably appends an entry attributed to the agent.
func (h *ChatHistory) AppendAgentMessage(ctx context.Context, text string, tags ...Tag) (LogMessage, error) {
	return h.append(ctx, RoleAssistant, text, tags)
}

func (h *ChatHistory) append(ctx context.Context, role, text string, tags []Tag) (LogMessage, error) {
	msg := LogMessage{
		ID:        NewID(),
		LogID:     h.log.ID,
		Role:      role,
		Text:      text,
		Tags:      append([]Tag{RoleTag(role)}, tags...),
		CreatedAt: NowUnix(),
	}
	if err := h.store.AppendLogMessage(ctx, h.log.ID, msg); err != nil {
		return LogMessage{}, fmt.Errorf("append %s message: %w", role, err)
	}
	return msg, nil
}

// Messages returns up to limit entries in append order (oldest first).
// limit <= 0 returns all entries.
func (h *ChatHistory) Messages(ctx context.Context, limit int) ([]LogMessage, error) {
	return h.store.LogMessages(ctx, h.log.ID, limit)
}
