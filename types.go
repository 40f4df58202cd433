package switchboard

import (
	"sort"
	"strings"
)

// --- Conversation identity ---

// ContextKeys identifies one logical conversation. All per-conversation
// state (chat history, cache entries) is resolved through the canonical
// form of these keys.
type ContextKeys map[string]string

// Key returns the canonical string form of the context keys: entries
// joined as k=v pairs in sorted key order. Two semantically identical
// key sets always produce the same string.
func (k ContextKeys) Key() string {
	if len(k) == 0 {
		return ""
	}
	names := make([]string, 0, len(k))
	for name := range k {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(k[name])
	}
	return b.String()
}

// ConversationKeys builds the default ContextKeys for a chat id.
func ConversationKeys(chatID string) ContextKeys {
	return ContextKeys{"chat_id": chatID}
}

// --- Tags ---

// Standard tag kinds and names used by the SDK itself.
const (
	TagKindRole       = "role"
	TagKindTimestamp  = "timestamp"
	TagKindProvenance = "provenance"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tag is a piece of structured metadata attached to a block or log message.
type Tag struct {
	Kind  string         `json:"kind"`
	Name  string         `json:"name"`
	Value map[string]any `json:"value,omitempty"`
}

// RoleTag builds a role tag ("user" or "assistant").
func RoleTag(role string) Tag {
	return Tag{Kind: TagKindRole, Name: role}
}

// ProvenanceTag records where a message or block came from (e.g. "telegram").
func ProvenanceTag(source string) Tag {
	return Tag{Kind: TagKindProvenance, Name: source}
}

// --- Blocks ---

// MIME types the transports know how to deliver.
const (
	MimeTextPlain = "text/plain"
	MimePNG       = "image/png"
	MimeOGGAudio  = "audio/ogg"
	MimeMP4Video  = "video/mp4"
)

// Block is the unit of agent input and output: a piece of text or a
// reference to remote media, addressed to a chat.
type Block struct {
	// Text carries textual content. May be empty for pure media blocks.
	Text string `json:"text,omitempty"`
	// URL points at remote media content (voice notes, images, ...).
	URL string `json:"url,omitempty"`
	// MimeType describes the block content. Empty means text/plain.
	MimeType string `json:"mime_type,omitempty"`
	// ChatID addresses the conversation this block belongs to.
	ChatID string `json:"chat_id,omitempty"`
	// MessageID is the provider-assigned id of the originating message.
	MessageID string `json:"message_id,omitempty"`
	// Tags carries structured metadata (role, provenance, ...).
	Tags []Tag `json:"tags,omitempty"`
}

// TextBlock builds a plain-text block.
func TextBlock(text string) Block {
	return Block{Text: text, MimeType: MimeTextPlain}
}

// IsText reports whether the block is textual content.
func (b Block) IsText() bool {
	return b.MimeType == "" || strings.HasPrefix(b.MimeType, "text/")
}

// IsImage reports whether the block is image content.
func (b Block) IsImage() bool { return strings.HasPrefix(b.MimeType, "image/") }

// IsAudio reports whether the block is audio content.
func (b Block) IsAudio() bool { return strings.HasPrefix(b.MimeType, "audio/") }

// IsVideo reports whether the block is video content.
func (b Block) IsVideo() bool { return strings.HasPrefix(b.MimeType, "video/") }

// --- Persistence records ---

// Log is a persistent conversation log record. Its ID doubles as the
// AgentContext identity for the conversation.
type Log struct {
	ID         string `json:"id"`
	ContextKey string `json:"context_key"`
	Searchable bool   `json:"searchable"`
	CreatedAt  int64  `json:"created_at"`
}

// LogMessage is one entry of a conversation log. Entries are totally
// ordered by Seq within their log and are never edited or removed.
type LogMessage struct {
	ID        string `json:"id"`
	LogID     string `json:"log_id"`
	Role      string `json:"role"` // "user" or "assistant"
	Text      string `json:"text"`
	Tags      []Tag  `json:"tags,omitempty"`
	Seq       int64  `json:"seq"`
	CreatedAt int64  `json:"created_at"`
}

// Metadata is the free-form key-value bag carried by an AgentContext.
type Metadata map[string]any
