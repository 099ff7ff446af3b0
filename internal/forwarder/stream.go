package forwarder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

// sseScannerBufferSize mirrors modules/provider/openai/sse.go's
// scannerBufferSize: SSE data lines (tool call arguments, long content)
// regularly exceed bufio.Scanner's 64 KiB default.
const sseScannerBufferSize = 1 * 1024 * 1024

// usage is the token accounting extracted from a completed SSE stream, for
// the request-log record (§4.5 step 10, streaming branch).
type usage struct {
	InputTokens  int
	OutputTokens int
}

// parseSSEUsage scans a complete, buffered SSE byte stream (already
// forwarded to the client verbatim) for the terminal usage event of either
// upstream family: Anthropic's message_stop with a nested usage object, or
// OpenAI's trailing chunk carrying a top-level usage object. Malformed or
// absent usage data simply yields a zero usage — this is best-effort
// logging enrichment, never a forwarding concern.
func parseSSEUsage(body []byte) usage {
	var out usage
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, sseScannerBufferSize), sseScannerBufferSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event struct {
			Type  string `json:"type"`
			Usage *struct {
				InputTokens      int `json:"input_tokens"`
				OutputTokens     int `json:"output_tokens"`
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if event.Usage == nil {
			continue
		}

		if event.Usage.InputTokens > 0 {
			out.InputTokens = event.Usage.InputTokens
		}
		if event.Usage.OutputTokens > 0 {
			out.OutputTokens = event.Usage.OutputTokens
		}
		if event.Usage.PromptTokens > 0 {
			out.InputTokens = event.Usage.PromptTokens
		}
		if event.Usage.CompletionTokens > 0 {
			out.OutputTokens = event.Usage.CompletionTokens
		}
	}
	return out
}
