package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tolk-ai/tolk/pkg/provider/embeddings/ollama"
)

// noteTexts are representative info notes the archive embeds: translated
// informational statements collected during a session.
var noteTexts = []string{
	"поставка в четверг",
	"сварочная процедура утверждена в марте",
	"бюджет второй фазы двенадцать миллионов крон",
}

// embedServer serves /api/embed with canned vectors, checking the model name
// and trimming the response to the request's input count.
func embedServer(t *testing.T, wantModel string, vectors [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model = %q, want %q", req.Model, wantModel)
		}

		out := vectors
		if len(out) > len(req.Input) {
			out = out[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"model":      wantModel,
			"embeddings": out,
		}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestNew_RejectsEmptyModel(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_DefaultsBaseURL(t *testing.T) {
	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != "nomic-embed-text" {
		t.Errorf("ModelID() = %q", p.ModelID())
	}
}

func TestEmbed_SingleNote(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3, 0.4}
	srv := embedServer(t, "nomic-embed-text", [][]float32{want})
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Embed(context.Background(), noteTexts[0])
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmbedBatch_OrderPreserved(t *testing.T) {
	vecs := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
		{0.7, 0.8, 0.9},
	}
	srv := embedServer(t, "nomic-embed-text", vecs)
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.EmbedBatch(context.Background(), noteTexts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != len(noteTexts) {
		t.Fatalf("vector count = %d, want %d", len(got), len(noteTexts))
	}
	for i, want := range vecs {
		for j := range want {
			if got[i][j] != want[j] {
				t.Errorf("vec[%d][%d] = %v, want %v", i, j, got[i][j], want[j])
			}
		}
	}
}

func TestEmbedBatch_EmptyInputSkipsRequest(t *testing.T) {
	// Unroutable address: any accidental request fails loudly.
	p, err := ollama.New("http://127.0.0.1:19999", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", got)
	}
}

func TestDimensions_KnownModelsNeedNoProbe(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			// Unroutable address: the table lookup must not touch the network.
			p, err := ollama.New("http://127.0.0.1:19999", tt.model)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("Dimensions() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDimensions_UnknownModelProbesOnce(t *testing.T) {
	const dim = 512
	probeVec := make([]float32, dim)
	for i := range probeVec {
		probeVec[i] = float32(i) / float32(dim)
	}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      "note-embedder",
			"embeddings": [][]float32{probeVec},
		})
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "note-embedder")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := p.Dimensions(); got != dim {
			t.Errorf("call %d: Dimensions() = %d, want %d", i, got, dim)
		}
	}
	if calls != 1 {
		t.Errorf("probe requests = %d, want 1", calls)
	}
}

func TestDimensions_ExplicitOptionWins(t *testing.T) {
	p, err := ollama.New("http://127.0.0.1:19999", "note-embedder", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d, want 256", got)
	}
}

func TestEmbed_ErrorPaths(t *testing.T) {
	t.Run("server down", func(t *testing.T) {
		p, err := ollama.New("http://127.0.0.1:19999", "nomic-embed-text",
			ollama.WithTimeout(500*time.Millisecond))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), noteTexts[0]); err == nil {
			t.Fatal("expected error for unreachable server")
		}
	})

	t.Run("http 500", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}))
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), noteTexts[0]); err == nil {
			t.Fatal("expected error for 500 response")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("not-json"))
		}))
		defer srv.Close()

		p, err := ollama.New(srv.URL, "nomic-embed-text")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := p.Embed(context.Background(), noteTexts[0]); err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})
}

func TestEmbed_ContextCancelled(t *testing.T) {
	// stop unblocks the handler so srv.Close does not hang on the stuck
	// request after the test.
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	defer srv.Close()
	defer close(stop)

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, noteTexts[0]); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
