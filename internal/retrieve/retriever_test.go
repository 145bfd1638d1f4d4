package retrieve

import (
	"strings"
	"testing"
	"unicode/utf8"
)

const referenceDoc = `Prosjektet gjelder utskifting av ventiler på plattformen.
Styringsgruppen møtes hver torsdag klokken ni.

Sveiseprosedyren for rørsystemet ble godkjent i mars.
Alle avvik skal rapporteres til HMS-koordinator innen 24 timer.

Budsjettet for fase to er på tolv millioner kroner.
Leveransen av kompressoren er forsinket med tre uker.`

func TestIndexAndStats(t *testing.T) {
	t.Parallel()

	r := New()
	if r.Stats().Ready {
		t.Fatal("empty retriever must not report ready")
	}

	r.Index(referenceDoc, "prosjektnotat")
	st := r.Stats()
	if !st.Ready {
		t.Fatal("retriever with indexed content must report ready")
	}
	if st.Chunks == 0 || st.Terms == 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSearchRanksRelevantChunkFirst(t *testing.T) {
	t.Parallel()

	r := New()
	r.Index(referenceDoc, "prosjektnotat")

	results := r.Search("når møtes styringsgruppen", 5)
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if !strings.Contains(results[0].Chunk.Text, "Styringsgruppen") {
		t.Fatalf("most relevant chunk not first: %q", results[0].Chunk.Text)
	}
}

func TestSearchFiltersAndSorts(t *testing.T) {
	t.Parallel()

	r := New()
	r.Index(referenceDoc, "prosjektnotat")

	results := r.Search("sveiseprosedyren rørsystemet budsjettet", 10)
	for i, res := range results {
		if res.Score < minScore {
			t.Fatalf("result %d below minimum score: %f", i, res.Score)
		}
		if i > 0 && results[i-1].Score < res.Score {
			t.Fatalf("results not sorted descending at %d", i)
		}
	}
}

func TestSearchNoMatch(t *testing.T) {
	t.Parallel()

	r := New()
	r.Index(referenceDoc, "prosjektnotat")

	if results := r.Search("zebra xylofon quiche", 5); len(results) != 0 {
		t.Fatalf("expected no results for unrelated query, got %d", len(results))
	}
}

func TestReindexReplacesPriorIndex(t *testing.T) {
	t.Parallel()

	r := New()
	r.Index(referenceDoc, "gammel")
	r.Index("Dette er et helt annet dokument om laksefiske i elva.", "ny")

	if results := r.Search("styringsgruppen møtes torsdag", 5); len(results) != 0 {
		t.Fatal("old index content still searchable after reindex")
	}
	results := r.Search("laksefiske i elva", 5)
	if len(results) == 0 || results[0].Chunk.SourceTag != "ny" {
		t.Fatal("new index content not searchable")
	}
}

func TestRelevantContextRespectsBudget(t *testing.T) {
	t.Parallel()

	r := New()
	r.Index(referenceDoc, "prosjektnotat")

	ctx := r.RelevantContext("styringsgruppen", 200)
	if ctx == "" {
		t.Fatal("expected context for matching query")
	}
	if len(ctx) > 200 {
		t.Fatalf("context exceeds budget: %d chars", len(ctx))
	}
	if !strings.Contains(ctx, "relevance") {
		t.Fatalf("chunks must carry relevance annotation: %q", ctx)
	}
}

func TestRelevantContextTruncatesOversizedBestChunk(t *testing.T) {
	t.Parallel()

	r := New()
	r.Index(referenceDoc, "prosjektnotat")

	// Tighter than any single annotated chunk: the best chunk must be cut to
	// fit, not dropped.
	ctx := r.RelevantContext("styringsgruppen", 80)
	if ctx == "" {
		t.Fatal("tight budget must still yield truncated context")
	}
	if len(ctx) > 80 {
		t.Fatalf("context exceeds budget: %d chars", len(ctx))
	}
	if !utf8.ValidString(ctx) {
		t.Fatalf("truncation split a rune: %q", ctx)
	}
}

func TestSplitChunksOverlapAndBoundaries(t *testing.T) {
	t.Parallel()

	// Build a text of short sentences well over two chunk sizes.
	sentence := "Dette er en setning om prosessanlegget og ventilene der. "
	text := strings.Repeat(sentence, 30)

	chunks := splitChunks(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > chunkSize {
			t.Fatalf("chunk %d exceeds %d runes: %d", i, chunkSize, len([]rune(c)))
		}
	}
	// Overlap: the second chunk must start inside text already covered by the
	// first chunk's tail.
	tail := chunks[0][len(chunks[0])-40:]
	if !strings.Contains(text, tail+" ") && !strings.HasSuffix(text, tail) {
		t.Fatal("chunk tail not found in source text")
	}
}

func TestTokenizeScriptAware(t *testing.T) {
	t.Parallel()

	tokens := tokenize("Сварка rørsystemet OK 24 timer!")
	want := map[string]bool{"сварка": true, "rørsystemet": true, "timer": true}
	for w := range want {
		found := false
		for _, tok := range tokens {
			if tok == w {
				found = true
			}
		}
		if !found {
			t.Fatalf("token %q missing from %v", w, tokens)
		}
	}
	for _, tok := range tokens {
		if len([]rune(tok)) <= minTokenLen {
			t.Fatalf("short token %q not filtered", tok)
		}
	}
}

func TestIndexSourcesTagsPerDocument(t *testing.T) {
	t.Parallel()

	r := New()
	r.IndexSources([]Source{
		{Text: referenceDoc, Tag: "prosjektnotat"},
		{Text: "Kontrakten med leverandøren løper ut i desember. Reforhandling starter i oktober.", Tag: "kontrakt"},
	})

	results := r.Search("kontrakten med leverandøren", 3)
	if len(results) == 0 {
		t.Fatal("no results for contract query")
	}
	if got := results[0].Chunk.SourceTag; got != "kontrakt" {
		t.Fatalf("top result tagged %q, want kontrakt", got)
	}

	results = r.Search("sveiseprosedyren for rørsystemet", 3)
	if len(results) == 0 {
		t.Fatal("no results for welding query")
	}
	if got := results[0].Chunk.SourceTag; got != "prosjektnotat" {
		t.Fatalf("top result tagged %q, want prosjektnotat", got)
	}
}

func TestIndexSourcesReplacesPriorIndex(t *testing.T) {
	t.Parallel()

	r := New()
	r.Index(referenceDoc, "gammel")
	r.IndexSources([]Source{{Text: "Dokument om laksefiske i elva.", Tag: "ny"}})

	for _, res := range r.Search("laksefiske", 5) {
		if res.Chunk.SourceTag == "gammel" {
			t.Fatal("old chunks survived reindexing")
		}
	}
}
