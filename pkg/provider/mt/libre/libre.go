// Package libre provides an [mt.Backend] backed by a LibreTranslate-compatible
// HTTP service, typically running on the same host. This is the "native
// platform" tier of the resolver cascade: a few milliseconds per call and no
// per-request cost.
//
// Only standard library packages are used — no additional dependencies are
// required beyond Go's net/http and encoding/json.
package libre

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tolk-ai/tolk/pkg/provider/mt"
)

// DefaultBaseURL is the default address of a locally running LibreTranslate
// instance.
const DefaultBaseURL = "http://localhost:5000"

// Ensure Backend implements the mt.Backend interface at compile time.
var _ mt.Backend = (*Backend)(nil)

// Backend implements [mt.Backend] against a LibreTranslate-compatible API.
//
// The supported language-pair table is fetched lazily on first use and cached
// for the lifetime of the Backend. Backend is safe for concurrent use.
type Backend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	pairsOnce sync.Once
	pairs     map[string]map[string]bool // src → set of targets
	pairsErr  error
}

// config holds optional configuration collected from functional options.
type config struct {
	apiKey  string
	timeout time.Duration
}

// Option is a functional option for Backend.
type Option func(*config)

// WithAPIKey sets the api_key field sent on every request. Public instances
// usually require one; local instances usually do not.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithTimeout sets a per-request HTTP timeout. Default: 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New creates a Backend talking to baseURL. An empty baseURL selects
// [DefaultBaseURL].
func New(baseURL string, opts ...Option) *Backend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg := &config{timeout: 10 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	return &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.apiKey,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}
}

// translateRequest is the JSON body for POST /translate.
type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

// translateResponse is the JSON body returned from POST /translate.
type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

// Translate implements [mt.Backend].
func (b *Backend) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	if !b.CanTranslate(srcLang, tgtLang) {
		return "", fmt.Errorf("libre: %s→%s: %w", srcLang, tgtLang, mt.ErrUnsupportedPair)
	}

	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: srcLang,
		Target: tgtLang,
		Format: "text",
		APIKey: b.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("libre: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("libre: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("libre: translate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("libre: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("libre: translate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var tr translateResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("libre: decode response: %w", err)
	}
	if tr.Error != "" {
		return "", fmt.Errorf("libre: translate: %s", tr.Error)
	}
	return tr.TranslatedText, nil
}

// Ready implements [mt.Backend] by checking that the language table loads.
func (b *Backend) Ready(ctx context.Context) bool {
	return b.loadPairs(ctx) == nil
}

// CanTranslate implements [mt.Backend]. Before the language table has been
// fetched it optimistically reports true for distinct languages; the actual
// Translate call still validates against the table once loaded.
func (b *Backend) CanTranslate(srcLang, tgtLang string) bool {
	if srcLang == tgtLang {
		return false
	}
	if err := b.loadPairs(context.Background()); err != nil {
		return true
	}
	targets, ok := b.pairs[srcLang]
	return ok && targets[tgtLang]
}

// languageEntry is one element of the GET /languages response.
type languageEntry struct {
	Code    string   `json:"code"`
	Targets []string `json:"targets"`
}

// loadPairs fetches the supported language pairs once.
func (b *Backend) loadPairs(ctx context.Context) error {
	b.pairsOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/languages", nil)
		if err != nil {
			b.pairsErr = fmt.Errorf("libre: build languages request: %w", err)
			return
		}
		resp, err := b.httpClient.Do(req)
		if err != nil {
			b.pairsErr = fmt.Errorf("libre: fetch languages: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b.pairsErr = fmt.Errorf("libre: fetch languages: status %d", resp.StatusCode)
			return
		}

		var entries []languageEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			b.pairsErr = fmt.Errorf("libre: decode languages: %w", err)
			return
		}

		pairs := make(map[string]map[string]bool, len(entries))
		for _, e := range entries {
			targets := make(map[string]bool, len(e.Targets))
			for _, t := range e.Targets {
				targets[t] = true
			}
			pairs[e.Code] = targets
		}
		b.pairs = pairs
	})
	return b.pairsErr
}
