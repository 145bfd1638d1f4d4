// Package ollama provides an [mt.Backend] backed by a local Ollama server
// running a bilingual instruction model. This is the last tier of the
// resolver cascade: slower than a dedicated translation service but available
// fully offline once the model is pulled.
//
// The model is pulled lazily on first use. While the pull is in flight,
// Translate returns [mt.ErrModelLoading] so the caller can show a transient
// placeholder instead of blocking.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tolk-ai/tolk/pkg/provider/mt"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// Ensure Backend implements the mt.Backend interface at compile time.
var _ mt.Backend = (*Backend)(nil)

// accelErrorSignatures are substrings that identify failures specific to the
// GPU-accelerated execution path. Matching errors trigger a silent retry on
// the universal CPU path rather than surfacing to the user.
var accelErrorSignatures = []string{
	"cuda",
	"cublas",
	"rocm",
	"hip error",
	"ggml-cuda",
	"out of memory",
	"vram",
}

// corruptErrorSignatures identify damaged local model storage. These are
// fatal: retrying would loop against the same corrupted blobs.
var corruptErrorSignatures = []string{
	"invalid file magic",
	"checksum mismatch",
	"digest mismatch",
	"corrupt",
	"unexpected eof reading blob",
}

// Backend implements [mt.Backend] using Ollama's /api/generate endpoint.
//
// Backend is safe for concurrent use.
type Backend struct {
	baseURL    string
	model      string
	httpClient *http.Client
	langs      map[string]bool // supported languages; nil = unrestricted

	// accelProbed/accelOK track the one-time hardware acceleration probe.
	accelProbed atomic.Bool
	accelOK     atomic.Bool

	// pulling guards the lazy model pull so only one pull runs at a time.
	pulling   atomic.Bool
	availMu   sync.Mutex
	available bool
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout time.Duration
	langs   []string
}

// Option is a functional option for Backend.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Default: 60 seconds — local
// generation on CPU can be slow for long inputs.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLanguages restricts CanTranslate to the listed language codes. Without
// this option the backend accepts any pair of distinct languages, relying on
// the model to cope.
func WithLanguages(langs ...string) Option {
	return func(c *config) { c.langs = langs }
}

// New creates a Backend for the given model (e.g., "gemma2:9b",
// "aya-expanse:8b"). An empty baseURL selects [DefaultBaseURL].
func New(baseURL, model string, opts ...Option) (*Backend, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := &config{timeout: 60 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	b := &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}
	if len(cfg.langs) > 0 {
		b.langs = make(map[string]bool, len(cfg.langs))
		for _, l := range cfg.langs {
			b.langs[l] = true
		}
	}
	return b, nil
}

// Translate implements [mt.Backend].
//
// The first translation probes the accelerated execution path; failures with
// a characteristic acceleration signature fall back to the universal CPU path
// permanently for this Backend and are not surfaced as errors.
func (b *Backend) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	if !b.CanTranslate(srcLang, tgtLang) {
		return "", fmt.Errorf("ollama: %s→%s: %w", srcLang, tgtLang, mt.ErrUnsupportedPair)
	}

	if err := b.ensureModel(ctx); err != nil {
		return "", err
	}

	prompt := buildPrompt(text, srcLang, tgtLang)

	if !b.accelProbed.Load() || b.accelOK.Load() {
		out, err := b.generate(ctx, prompt, true)
		if err == nil {
			b.accelProbed.Store(true)
			b.accelOK.Store(true)
			return out, nil
		}
		if isCorruptError(err) {
			return "", fmt.Errorf("ollama: %w: %v", mt.ErrCorruptStorage, err)
		}
		if !isAccelError(err) {
			return "", err
		}
		// Accelerated path failed with an acceleration-specific signature;
		// continue on the CPU path below.
		b.accelProbed.Store(true)
		b.accelOK.Store(false)
		slog.Warn("ollama accelerated execution unavailable, using CPU path",
			"model", b.model, "error", err)
	}

	out, err := b.generate(ctx, prompt, false)
	if err != nil {
		if isCorruptError(err) {
			return "", fmt.Errorf("ollama: %w: %v", mt.ErrCorruptStorage, err)
		}
		return "", err
	}
	return out, nil
}

// Ready implements [mt.Backend]: true once the model is present locally.
func (b *Backend) Ready(ctx context.Context) bool {
	b.availMu.Lock()
	avail := b.available
	b.availMu.Unlock()
	if avail {
		return true
	}
	return b.checkModel(ctx) == nil
}

// CanTranslate implements [mt.Backend].
func (b *Backend) CanTranslate(srcLang, tgtLang string) bool {
	if srcLang == tgtLang {
		return false
	}
	if b.langs == nil {
		return true
	}
	return b.langs[srcLang] && b.langs[tgtLang]
}

// buildPrompt renders the translation instruction. The model is asked for
// the translation only, no commentary.
func buildPrompt(text, srcLang, tgtLang string) string {
	return fmt.Sprintf(
		"Translate the following %s text to %s. Reply with the translation only, no explanations.\n\n%s",
		languageName(srcLang), languageName(tgtLang), text)
}

// languageName expands common codes so small models do not have to interpret
// ISO codes.
func languageName(code string) string {
	switch code {
	case "nb", "no", "nn":
		return "Norwegian"
	case "en":
		return "English"
	case "ru":
		return "Russian"
	case "uk":
		return "Ukrainian"
	case "de":
		return "German"
	case "pl":
		return "Polish"
	default:
		return code
	}
}

// generateRequest is the JSON body for POST /api/generate.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is the JSON body returned from POST /api/generate.
type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// generate performs one non-streaming generation call. accelerated selects
// GPU offload; the CPU path pins num_gpu to zero.
func (b *Backend) generate(ctx context.Context, prompt string, accelerated bool) (string, error) {
	reqBody := generateRequest{
		Model:  b.model,
		Prompt: prompt,
		Stream: false,
	}
	if !accelerated {
		reqBody.Options = map[string]any{"num_gpu": 0}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: generate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("ollama: decode response (status %d): %w", resp.StatusCode, err)
	}
	if gr.Error != "" {
		return "", fmt.Errorf("ollama: generate: %s", gr.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: generate: status %d", resp.StatusCode)
	}
	return strings.TrimSpace(gr.Response), nil
}

// ensureModel verifies the model is present, starting a background pull the
// first time it is found missing. Returns [mt.ErrModelLoading] while the pull
// is in flight.
func (b *Backend) ensureModel(ctx context.Context) error {
	b.availMu.Lock()
	if b.available {
		b.availMu.Unlock()
		return nil
	}
	b.availMu.Unlock()

	err := b.checkModel(ctx)
	if err == nil {
		return nil
	}

	if b.pulling.CompareAndSwap(false, true) {
		go func() {
			defer b.pulling.Store(false)
			// Detached context: the pull outlives the triggering call.
			pullCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if pullErr := b.pullModel(pullCtx); pullErr != nil {
				slog.Warn("ollama model pull failed", "model", b.model, "error", pullErr)
				return
			}
			b.availMu.Lock()
			b.available = true
			b.availMu.Unlock()
			slog.Info("ollama model ready", "model", b.model)
		}()
	}
	return fmt.Errorf("ollama: model %q: %w", b.model, mt.ErrModelLoading)
}

// showRequest is the JSON body for POST /api/show.
type showRequest struct {
	Model string `json:"model"`
}

// checkModel asks the server whether the model exists locally.
func (b *Backend) checkModel(ctx context.Context) error {
	body, err := json.Marshal(showRequest{Model: b.model})
	if err != nil {
		return fmt.Errorf("ollama: marshal show request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama: build show request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: show: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: model %q not available (status %d)", b.model, resp.StatusCode)
	}
	b.availMu.Lock()
	b.available = true
	b.availMu.Unlock()
	return nil
}

// pullRequest is the JSON body for POST /api/pull.
type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// pullModel downloads the model. Blocks until the pull completes.
func (b *Backend) pullModel(ctx context.Context) error {
	body, err := json.Marshal(pullRequest{Model: b.model, Stream: false})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The pull can take many minutes; bypass the translate timeout.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// isAccelError reports whether err carries an acceleration-specific signature.
func isAccelError(err error) bool {
	return matchesAny(err, accelErrorSignatures)
}

// isCorruptError reports whether err indicates damaged model storage.
func isCorruptError(err error) bool {
	return matchesAny(err, corruptErrorSignatures)
}

func matchesAny(err error, signatures []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range signatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
