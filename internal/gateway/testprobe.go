package gateway

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/paf/internal/profile"
	"github.com/relaymesh/paf/internal/security"
)

// testProbeDTO is the JSON response of POST /api/configs/{name}/test and the
// cached value surfaced via GET /api/configs/separated's last_results.
type testProbeDTO struct {
	Success         bool      `json:"success"`
	StatusCode      int       `json:"status_code,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
	Message         string    `json:"message"`
	ResponsePreview string    `json:"response_preview,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
	Source          string    `json:"source"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
}

// testProber exercises a single endpoint profile end to end and reports
// whether it answers. The Anthropic family is probed via the external
// claude CLI (matching how operators actually validate an Anthropic-
// compatible endpoint); the OpenAI family is probed with a direct HTTP
// call, since no equivalent CLI ships in this corpus.
type testProber interface {
	Probe(ctx context.Context, family profile.Family, endpoint profile.Endpoint) testProbeDTO
}

// handleTestConfig backs POST /api/configs/{name}/test?service=<family>.
func (g *Gateway) handleTestConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		family, ok := familyFromQuery(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown service")
			return
		}
		name := chi.URLParam(r, "name")

		if g.rateLimiter != nil {
			if err := g.rateLimiter.Allow("probe"); err != nil {
				writeError(w, http.StatusTooManyRequests, "too many test requests, slow down")
				return
			}
		}

		state, err := g.store.Snapshot(family)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		endpoint, exists := state.Find(name)
		if !exists {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		result := g.prober.Probe(ctx, family, endpoint)
		g.storeTestResult(family, result)
		writeJSON(w, http.StatusOK, result)
	}
}

func (g *Gateway) storeTestResult(family profile.Family, result testProbeDTO) {
	g.testResultsMu.Lock()
	defer g.testResultsMu.Unlock()
	if g.testResults == nil {
		g.testResults = make(map[profile.Family]*testProbeDTO)
	}
	r := result
	g.testResults[family] = &r
}

func (g *Gateway) lastTestResult(family profile.Family) *testProbeDTO {
	g.testResultsMu.Lock()
	defer g.testResultsMu.Unlock()
	return g.testResults[family]
}

// claudeCLIProber implements testProber. For the OpenAI family it issues a
// minimal chat-completions request directly; for the Anthropic family it
// shells out to the claude CLI, which already knows how to speak the
// Anthropic-compatible wire protocol against an arbitrary base URL.
type claudeCLIProber struct {
	logger *slog.Logger
	creds  *security.CredentialStore
	client *http.Client
}

func newClaudeCLIProber(logger *slog.Logger) *claudeCLIProber {
	return &claudeCLIProber{
		logger: logger,
		creds:  security.NewCredentialStore(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *claudeCLIProber) Probe(ctx context.Context, family profile.Family, endpoint profile.Endpoint) testProbeDTO {
	switch family {
	case profile.OpenAI:
		return p.probeOpenAI(ctx, endpoint)
	default:
		return p.probeClaudeCLI(ctx, endpoint)
	}
}

func (p *claudeCLIProber) probeOpenAI(ctx context.Context, endpoint profile.Endpoint) testProbeDTO {
	start := time.Now()
	body := []byte(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return testProbeDTO{Success: false, Message: err.Error(), CompletedAt: time.Now(), Source: "http", Method: http.MethodPost, Path: "/chat/completions"}
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.AuthToken)
	} else if endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return testProbeDTO{
			Success: false, Message: err.Error(), DurationMS: elapsed.Milliseconds(),
			CompletedAt: time.Now(), Source: "http", Method: http.MethodPost, Path: "/chat/completions",
		}
	}
	defer resp.Body.Close()

	preview := make([]byte, 512)
	n, _ := resp.Body.Read(preview)

	return testProbeDTO{
		Success:         resp.StatusCode < 400,
		StatusCode:      resp.StatusCode,
		DurationMS:      elapsed.Milliseconds(),
		Message:         http.StatusText(resp.StatusCode),
		ResponsePreview: string(preview[:n]),
		CompletedAt:     time.Now(),
		Source:          "http",
		Method:          http.MethodPost,
		Path:            "/chat/completions",
	}
}

func (p *claudeCLIProber) probeClaudeCLI(ctx context.Context, endpoint profile.Endpoint) testProbeDTO {
	start := time.Now()

	workdir, err := os.MkdirTemp("", "paf-probe-*")
	if err != nil {
		return testProbeDTO{Success: false, Message: err.Error(), CompletedAt: time.Now(), Source: "claude_cli"}
	}
	defer os.RemoveAll(workdir)

	if err := security.ValidatePath(workdir); err != nil {
		return testProbeDTO{Success: false, Message: err.Error(), CompletedAt: time.Now(), Source: "claude_cli"}
	}

	token := endpoint.AuthToken
	if token == "" {
		token = endpoint.APIKey
	}
	p.creds.Set("endpoint_token", token)

	env := security.SanitizedEnv(p.creds)
	env = append(env,
		"ANTHROPIC_BASE_URL="+endpoint.BaseURL,
		"ANTHROPIC_API_KEY="+token,
		"ANTHROPIC_AUTH_TOKEN="+token,
	)

	cmd := exec.CommandContext(ctx, "claude", "--print", "--output-format", "json", "ping")
	cmd.Dir = workdir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(start)
	p.creds.Delete("endpoint_token")

	if runErr != nil {
		msg := stderr.String()
		if msg == "" {
			msg = runErr.Error()
		}
		p.logger.Warn("claude cli probe failed", "endpoint", endpoint.Name, "error", runErr)
		return testProbeDTO{
			Success: false, Message: msg, DurationMS: elapsed.Milliseconds(),
			CompletedAt: time.Now(), Source: "claude_cli", Method: "exec", Path: "claude --print",
		}
	}

	preview := stdout.String()
	if len(preview) > 512 {
		preview = preview[:512]
	}

	return testProbeDTO{
		Success: true, StatusCode: http.StatusOK, DurationMS: elapsed.Milliseconds(),
		Message:         "ok",
		ResponsePreview: preview,
		CompletedAt:     time.Now(),
		Source:          "claude_cli",
		Method:          "exec",
		Path:            "claude --print",
	}
}
