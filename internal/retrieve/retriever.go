// Package retrieve indexes reference material (meeting agendas, project
// documentation, prior correspondence) into scored chunks and answers top-K
// relevance queries with TF-IDF cosine similarity.
//
// The index is rebuilt in full whenever the reference text changes; chunks
// are never mutated incrementally. Everything lives in memory — reference
// texts are at most a few megabytes and rebuild time is negligible next to a
// single cloud round trip.
package retrieve

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

const (
	// chunkSize is the target chunk length in characters.
	chunkSize = 500

	// chunkOverlap is how many characters consecutive chunks share.
	chunkOverlap = 100

	// minTokenLen filters out particles and inflection endings; only tokens
	// longer than this participate in scoring.
	minTokenLen = 2

	// minScore is the cosine-similarity floor below which a chunk is never
	// returned.
	minScore = 0.1

	// DefaultTopK is the result count used when a caller passes topK <= 0.
	DefaultTopK = 5
)

// Chunk is one indexed span of reference text.
type Chunk struct {
	ID        int
	Text      string
	SourceTag string

	termFreq  map[string]int
	magnitude float64
}

// Result pairs a chunk with its relevance score for a query.
type Result struct {
	Chunk *Chunk
	Score float64
}

// Stats summarises the current index for diagnostics.
type Stats struct {
	Chunks int
	Terms  int
	Ready  bool
}

// Retriever holds the TF-IDF index. Indexing fully replaces prior state;
// searches against the old index remain valid until Index returns.
//
// Retriever is safe for concurrent use.
type Retriever struct {
	mu     sync.RWMutex
	chunks []*Chunk
	idf    map[string]float64
}

// New returns an empty Retriever. Call [Retriever.Index] before searching.
func New() *Retriever {
	return &Retriever{}
}

// Source is one reference document to be indexed.
type Source struct {
	Text string

	// Tag labels every chunk produced from this source (e.g., a file name).
	Tag string
}

// Index splits referenceText into overlapping chunks, computes term and
// document frequencies, and atomically replaces any existing index.
// sourceTag labels every produced chunk (e.g., a file name).
func (r *Retriever) Index(referenceText, sourceTag string) {
	r.IndexSources([]Source{{Text: referenceText, Tag: sourceTag}})
}

// IndexSources indexes several documents as one corpus, atomically replacing
// any existing index. Document frequencies span all sources, so a term common
// across every document scores low everywhere.
func (r *Retriever) IndexSources(sources []Source) {
	var chunks []*Chunk
	docFreq := make(map[string]int)

	for _, src := range sources {
		for _, text := range splitChunks(src.Text) {
			c := &Chunk{
				ID:        len(chunks),
				Text:      text,
				SourceTag: src.Tag,
				termFreq:  make(map[string]int),
			}
			for _, tok := range tokenize(text) {
				c.termFreq[tok]++
			}
			for tok := range c.termFreq {
				docFreq[tok]++
			}
			chunks = append(chunks, c)
		}
	}

	n := len(chunks)
	idf := make(map[string]float64, len(docFreq))
	for tok, df := range docFreq {
		idf[tok] = math.Log(float64(n+1)/float64(df+1)) + 1
	}

	for _, c := range chunks {
		var sum float64
		for tok, tf := range c.termFreq {
			w := float64(tf) * idf[tok]
			sum += w * w
		}
		c.magnitude = math.Sqrt(sum)
	}

	r.mu.Lock()
	r.chunks = chunks
	r.idf = idf
	r.mu.Unlock()
}

// Search returns up to topK chunks ranked by cosine similarity to query,
// descending. Chunks scoring below the minimum relevance floor are omitted.
// A topK of zero or less uses [DefaultTopK].
func (r *Retriever) Search(query string, topK int) []Result {
	if topK <= 0 {
		topK = DefaultTopK
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.chunks) == 0 {
		return nil
	}

	queryVec := make(map[string]float64)
	for _, tok := range tokenize(query) {
		queryVec[tok]++
	}
	var queryMag float64
	for tok := range queryVec {
		queryVec[tok] *= r.idf[tok]
		queryMag += queryVec[tok] * queryVec[tok]
	}
	queryMag = math.Sqrt(queryMag)
	if queryMag == 0 {
		return nil
	}

	var results []Result
	for _, c := range r.chunks {
		if c.magnitude == 0 {
			continue
		}
		var dot float64
		for tok, qw := range queryVec {
			if tf, ok := c.termFreq[tok]; ok {
				dot += qw * float64(tf) * r.idf[tok]
			}
		}
		score := dot / (queryMag * c.magnitude)
		if score >= minScore {
			results = append(results, Result{Chunk: c, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// RelevantContext concatenates the best-matching chunks, each annotated with
// its relevance percentage, until adding the next chunk would exceed
// maxChars. When even the single best chunk overflows the budget it is
// truncated rather than omitted, so a small budget still yields context.
// Returns an empty string when nothing clears the relevance floor.
func (r *Retriever) RelevantContext(query string, maxChars int) string {
	results := r.Search(query, DefaultTopK)
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, res := range results {
		annotated := fmt.Sprintf("[%s, relevance %d%%]\n%s", res.Chunk.SourceTag,
			int(res.Score*100), res.Chunk.Text)
		if sb.Len() > 0 {
			annotated = "\n\n" + annotated
		}
		if sb.Len()+len(annotated) > maxChars {
			if sb.Len() == 0 {
				sb.WriteString(truncateRunes(annotated, maxChars))
			}
			break
		}
		sb.WriteString(annotated)
	}
	return sb.String()
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Stats reports index size. Ready is true once at least one chunk is indexed.
func (r *Retriever) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Chunks: len(r.chunks),
		Terms:  len(r.idf),
		Ready:  len(r.chunks) > 0,
	}
}

// splitChunks cuts text into ~chunkSize-character spans with chunkOverlap
// characters of overlap. When a sentence or paragraph boundary falls past the
// midpoint of a chunk, the cut prefers that boundary so chunks do not split
// sentences without need.
func splitChunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}

		cut := end
		if b := lastBoundary(runes[start:end]); b > chunkSize/2 {
			cut = start + b
		}

		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - chunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// lastBoundary returns the index just past the last sentence or paragraph
// boundary in span, or 0 when there is none.
func lastBoundary(span []rune) int {
	for i := len(span) - 1; i > 0; i-- {
		switch span[i] {
		case '\n':
			if i > 0 && span[i-1] == '\n' {
				return i + 1
			}
		case '.', '!', '?':
			if i+1 < len(span) && unicode.IsSpace(span[i+1]) {
				return i + 2
			}
			if i == len(span)-1 {
				return i + 1
			}
		}
	}
	return 0
}

// tokenize lower-cases text and emits letter/digit tokens longer than
// minTokenLen. Both Latin and Cyrillic letters are token characters, so
// mixed-script reference material indexes cleanly.
func tokenize(text string) []string {
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) > minTokenLen {
			tokens = append(tokens, string(current))
		}
		current = current[:0]
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current = append(current, r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
