package telegram

import "encoding/json"

// Update is the envelope Telegram posts to the webhook.
type Update struct {
	UpdateID int64           `json:"update_id"`
	Message  json.RawMessage `json:"message,omitempty"`
}

// message mirrors the subset of Telegram's Message object the transport
// consumes. Identifier fields stay json.RawMessage so wrong-typed values
// surface as malformed payloads instead of silent zero values.
type message struct {
	MessageID json.RawMessage `json:"message_id"`
	Chat      *chat           `json:"chat"`
	Text      *string         `json:"text"`
	Voice     *mediaRef       `json:"voice"`
	VideoNote *mediaRef       `json:"video_note"`
}

type chat struct {
	ID json.RawMessage `json:"id"`
}

type mediaRef struct {
	FileID string `json:"file_id"`
}

// tgFile is the getFile result.
type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// apiEnvelope is the standard Telegram Bot API response wrapper.
type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}
