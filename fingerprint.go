package switchboard

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fingerprint derives the deterministic cache key for a capability
// invocation: SHA-256 over the capability identity plus a canonical
// serialization of the parameters. Two semantically identical requests
// (same capability, same parameters regardless of map ordering, same
// text up to Unicode normalization) yield the same fingerprint.
func Fingerprint(capability string, params any) (string, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", capability, err)
	}
	h := sha256.New()
	h.Write([]byte(norm.NFC.String(capability)))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON renders v as JSON with recursively sorted object keys and
// NFC-normalized strings. Numbers pass through json.Number so no float
// round-tripping occurs.
func canonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", err
	}

	var b strings.Builder
	if err := writeCanonical(&b, tree); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(t.String())
	case string:
		enc, err := json.Marshal(norm.NFC.String(t))
		if err != nil {
			return err
		}
		b.Write(enc)
	case []any:
		b.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, elem); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(norm.NFC.String(k))
			if err != nil {
				return err
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("canonical json: unexpected type %T", v)
	}
	return nil
}

// blockContent is the semantic payload of a block used for fingerprinting.
// Addressing fields (chat id, message id) and tags stay out of the key:
// they vary per delivery, not per request.
type blockContent struct {
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

func contentsOf(blocks []Block) []blockContent {
	out := make([]blockContent, len(blocks))
	for i, b := range blocks {
		out[i] = blockContent{Text: b.Text, URL: b.URL, MimeType: b.MimeType}
	}
	return out
}
