package forwarder

import "strings"

// thinkingBlockTypes holds the content-block "type" values (case-insensitive)
// that sanitiseAnthropicBody strips, per §4.5 step 4.
var thinkingBlockTypes = map[string]struct{}{
	"thinking":           {},
	"assistant_thinking": {},
	"reasoning":          {},
}

// sanitiseAnthropicBody walks the top-level "messages" array (and
// "previous_messages" if present) in decoded, and removes any content
// block whose "type" field matches thinkingBlockTypes. It reports how many
// blocks were removed so callers can decide whether re-serialisation is
// needed — the caller must forward the original bytes verbatim when
// removed is zero, to preserve byte-exact payloads for upstreams that hash
// the request body.
func sanitiseAnthropicBody(decoded map[string]any) (removed int) {
	removed += sanitiseMessageArray(decoded, "messages")
	removed += sanitiseMessageArray(decoded, "previous_messages")
	return removed
}

func sanitiseMessageArray(decoded map[string]any, key string) int {
	raw, ok := decoded[key]
	if !ok {
		return 0
	}
	messages, ok := raw.([]any)
	if !ok {
		return 0
	}

	removed := 0
	for i, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"]
		if !ok {
			continue
		}
		blocks, ok := content.([]any)
		if !ok {
			continue
		}

		kept := blocks[:0:0]
		for _, b := range blocks {
			if isThinkingBlock(b) {
				removed++
				continue
			}
			kept = append(kept, b)
		}
		msg["content"] = kept
		messages[i] = msg
	}
	decoded[key] = messages
	return removed
}

func isThinkingBlock(block any) bool {
	m, ok := block.(map[string]any)
	if !ok {
		return false
	}
	t, ok := m["type"].(string)
	if !ok {
		return false
	}
	_, match := thinkingBlockTypes[strings.ToLower(t)]
	return match
}
