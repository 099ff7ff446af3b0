package forwarder

import (
	"encoding/json"
	"testing"
)

func TestSanitiseAnthropicBody_RemovesThinkingBlocks(t *testing.T) {
	t.Parallel()

	raw := `{"model":"claude-3-haiku","messages":[{"role":"user","content":[{"type":"thinking","text":"scratch"},{"type":"text","text":"hi"}]}]}`
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	removed := sanitiseAnthropicBody(decoded)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	messages := decoded["messages"].([]any)
	msg := messages[0].(map[string]any)
	content := msg["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content length = %d, want 1", len(content))
	}
	block := content[0].(map[string]any)
	if block["type"] != "text" {
		t.Fatalf("remaining block type = %v, want text", block["type"])
	}
}

func TestSanitiseAnthropicBody_CaseInsensitiveAndPreviousMessages(t *testing.T) {
	t.Parallel()

	raw := `{"previous_messages":[{"role":"assistant","content":[{"type":"ASSISTANT_THINKING","text":"x"}]}],"messages":[{"role":"user","content":[{"type":"reasoning","text":"y"},{"type":"text","text":"z"}]}]}`
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	removed := sanitiseAnthropicBody(decoded)
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
}

func TestSanitiseAnthropicBody_Fixpoint(t *testing.T) {
	t.Parallel()

	raw := `{"messages":[{"role":"user","content":[{"type":"thinking","text":"x"},{"type":"text","text":"hi"}]}]}`

	var first map[string]any
	if err := json.Unmarshal([]byte(raw), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	sanitiseAnthropicBody(first)
	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var second map[string]any
	if err := json.Unmarshal(firstJSON, &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	removed := sanitiseAnthropicBody(second)
	if removed != 0 {
		t.Fatalf("second pass removed = %d, want 0 (fixpoint)", removed)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(firstJSON) != string(secondJSON) {
		t.Fatalf("sanitiser is not a fixpoint:\nfirst:  %s\nsecond: %s", firstJSON, secondJSON)
	}
}

func TestSanitiseAnthropicBody_NonArrayContentUntouched(t *testing.T) {
	t.Parallel()

	raw := `{"messages":[{"role":"user","content":"plain string"}]}`
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if removed := sanitiseAnthropicBody(decoded); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestSanitiseAnthropicBody_MissingMessagesIsNoop(t *testing.T) {
	t.Parallel()

	decoded := map[string]any{"model": "claude-3-haiku"}
	if removed := sanitiseAnthropicBody(decoded); removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}
