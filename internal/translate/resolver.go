// Package translate resolves text into a translation by trying backends in
// priority order: a native-platform service first, then a two-stage pivot
// translator, finally a direct on-device model. The first tier that produces
// output wins; every real result is post-processed through the glossary
// normalizer and the confidence scorer before it is returned.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tolk-ai/tolk/internal/cache"
	"github.com/tolk-ai/tolk/internal/glossary"
	"github.com/tolk-ai/tolk/internal/observe"
	"github.com/tolk-ai/tolk/internal/score"
	"github.com/tolk-ai/tolk/internal/translate/pivot"
	"github.com/tolk-ai/tolk/pkg/provider/mt"
)

const (
	// chunkGroupSize is how many source words each progressive chunk holds.
	chunkGroupSize = 2

	// chunkCacheSize bounds the chunk-translation cache.
	chunkCacheSize = 512

	// contextCacheSize bounds the cache of translated context prefixes.
	contextCacheSize = 64

	// LoadingPlaceholder is shown while the on-device model is still
	// downloading. It is never scored or normalized.
	LoadingPlaceholder = "…"
)

// ErrNoBackend is returned when no configured tier can serve the request.
var ErrNoBackend = errors.New("translate: no backend available for language pair")

// BackendKind identifies which tier produced a translation.
type BackendKind string

const (
	BackendNative BackendKind = "native"
	BackendPivot  BackendKind = "pivot"
	BackendDirect BackendKind = "direct"
)

// Mode selects how the resolver splits its work.
type Mode int

const (
	// WholePhrase translates the complete string in one backend call.
	WholePhrase Mode = iota
	// ChunkedProgressive translates fixed-size word groups one at a time,
	// reporting the running concatenation after each group.
	ChunkedProgressive
)

// Result is a finished translation with its provenance and plausibility.
type Result struct {
	Text        string
	BackendUsed BackendKind

	// Confidence is the scorer's verdict in [0, 100].
	Confidence int
	Acceptable bool

	// Placeholder is true while the direct model is still loading; Text
	// then holds [LoadingPlaceholder] and Confidence is zero.
	Placeholder bool
}

// ProgressFunc receives the running concatenation after every translated
// chunk in [ChunkedProgressive] mode.
type ProgressFunc func(partial string)

// Resolver tries its tiers strictly in order and post-processes the winner.
// Any tier may be nil. Resolver is safe for concurrent use.
type Resolver struct {
	native mt.Backend
	pivot  *pivot.Translator
	direct mt.Backend

	srcLang      string
	tgtLang      string
	targetScript score.Script

	normalizer *glossary.Normalizer // nil disables term normalization
	metrics    *observe.Metrics     // nil disables instrumentation

	chunks   *cache.Bounded[string, string]
	contexts *cache.Bounded[string, string]

	logger *slog.Logger
}

// Option is a functional option for Resolver.
type Option func(*Resolver)

// WithNative sets the native-platform tier.
func WithNative(b mt.Backend) Option {
	return func(r *Resolver) { r.native = b }
}

// WithPivot sets the two-stage pivot tier.
func WithPivot(p *pivot.Translator) Option {
	return func(r *Resolver) { r.pivot = p }
}

// WithDirect sets the on-device model tier.
func WithDirect(b mt.Backend) Option {
	return func(r *Resolver) { r.direct = b }
}

// WithNormalizer enables glossary post-processing of every real result.
func WithNormalizer(n *glossary.Normalizer) Option {
	return func(r *Resolver) { r.normalizer = n }
}

// WithLogger sets the logger. Default: slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics enables backend-request, cache-hit, and low-confidence
// instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver for one fixed language pair.
func NewResolver(srcLang, tgtLang string, opts ...Option) *Resolver {
	r := &Resolver{
		srcLang:      srcLang,
		tgtLang:      tgtLang,
		targetScript: score.ScriptForLanguage(tgtLang),
		chunks:       cache.NewBounded[string, string](chunkCacheSize),
		contexts:     cache.NewBounded[string, string](contextCacheSize),
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "resolver", "pair", srcLang+"→"+tgtLang)
	return r
}

// Translate resolves text in the given mode. onProgress may be nil; it is
// only consulted in [ChunkedProgressive] mode.
func (r *Resolver) Translate(ctx context.Context, text string, mode Mode, onProgress ProgressFunc) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, nil
	}

	if mode == ChunkedProgressive {
		return r.translateChunked(ctx, text, onProgress)
	}

	out, kind, err := r.resolve(ctx, text)
	if err != nil {
		if errors.Is(err, mt.ErrModelLoading) {
			return placeholderResult(), nil
		}
		return Result{}, err
	}
	return r.finish(text, out, kind), nil
}

// TranslateWithContext translates newWords using contextPrefix (the N words
// preceding them) for disambiguation. The combined string is translated in
// one call and the prefix's own translation, cached per distinct prefix, is
// subtracted from the front of it. When exact prefix matching fails, the
// split point is estimated from the original word ratio instead.
func (r *Resolver) TranslateWithContext(ctx context.Context, newWords, contextPrefix string) (Result, error) {
	newWords = strings.TrimSpace(newWords)
	contextPrefix = strings.TrimSpace(contextPrefix)
	if contextPrefix == "" {
		return r.Translate(ctx, newWords, WholePhrase, nil)
	}
	if newWords == "" {
		return Result{}, nil
	}

	combined := contextPrefix + " " + newWords
	combinedOut, kind, err := r.resolve(ctx, combined)
	if err != nil {
		if errors.Is(err, mt.ErrModelLoading) {
			return placeholderResult(), nil
		}
		return Result{}, err
	}

	prefixOut, ok := r.contexts.Get(contextPrefix)
	if ok {
		if r.metrics != nil {
			r.metrics.RecordCacheHit(ctx, "context")
		}
	} else {
		prefixOut, _, err = r.resolve(ctx, contextPrefix)
		if err != nil {
			// The combined translation is still usable on its own.
			r.logger.Debug("context prefix translation failed", "error", err)
			return r.finish(newWords, combinedOut, kind), nil
		}
		r.contexts.Put(contextPrefix, prefixOut)
	}

	suffix := subtractPrefix(combinedOut, prefixOut, contextPrefix, combined)
	return r.finish(newWords, suffix, kind), nil
}

// translateChunked splits text into word groups and resolves each group,
// consulting the chunk cache first and reporting progress as it goes.
func (r *Resolver) translateChunked(ctx context.Context, text string, onProgress ProgressFunc) (Result, error) {
	words := strings.Fields(text)
	var (
		parts []string
		kind  BackendKind
	)
	for i := 0; i < len(words); i += chunkGroupSize {
		end := min(i+chunkGroupSize, len(words))
		chunk := strings.Join(words[i:end], " ")

		out, ok := r.chunks.Get(chunk)
		if ok {
			if r.metrics != nil {
				r.metrics.RecordCacheHit(ctx, "chunk")
			}
		} else {
			var err error
			var k BackendKind
			out, k, err = r.resolve(ctx, chunk)
			if err != nil {
				if errors.Is(err, mt.ErrModelLoading) {
					return placeholderResult(), nil
				}
				return Result{}, err
			}
			kind = k
			r.chunks.Put(chunk, out)
		}

		parts = append(parts, out)
		if onProgress != nil {
			onProgress(strings.Join(parts, " "))
		}
	}
	if kind == "" {
		// Every chunk was served from cache.
		kind = BackendNative
	}
	return r.finish(text, strings.Join(parts, " "), kind), nil
}

// resolve runs the tier cascade for a single string. The first tier that
// returns output short-circuits the rest; tier failures are logged and the
// next tier is tried, except cancellation and the direct tier's fatal
// storage-corruption error, which propagate.
func (r *Resolver) resolve(ctx context.Context, text string) (string, BackendKind, error) {
	if r.native != nil && r.native.CanTranslate(r.srcLang, r.tgtLang) {
		out, err := r.native.Translate(ctx, text, r.srcLang, r.tgtLang)
		r.recordBackend(ctx, BackendNative, err)
		if err == nil {
			return out, BackendNative, nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		r.logger.Debug("native tier failed", "error", err)
	}

	if r.pivot != nil && r.pivotApplies(ctx) {
		res, err := r.pivot.Translate(ctx, text)
		r.recordBackend(ctx, BackendPivot, err)
		if err == nil {
			return res.TargetText, BackendPivot, nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		r.logger.Debug("pivot tier failed", "error", err)
	}

	if r.direct != nil && r.direct.CanTranslate(r.srcLang, r.tgtLang) {
		out, err := r.direct.Translate(ctx, text, r.srcLang, r.tgtLang)
		r.recordBackend(ctx, BackendDirect, err)
		if err == nil {
			return out, BackendDirect, nil
		}
		if errors.Is(err, mt.ErrModelLoading) || errors.Is(err, mt.ErrCorruptStorage) {
			return "", "", err
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		r.logger.Debug("direct tier failed", "error", err)
	}

	return "", "", fmt.Errorf("%w: %s→%s", ErrNoBackend, r.srcLang, r.tgtLang)
}

func (r *Resolver) pivotApplies(ctx context.Context) bool {
	src, tgt := r.pivot.Languages()
	return src == r.srcLang && tgt == r.tgtLang && r.pivot.Ready(ctx)
}

// recordBackend counts one tier attempt. Cancellations are not recorded;
// they say nothing about the backend.
func (r *Resolver) recordBackend(ctx context.Context, kind BackendKind, err error) {
	if r.metrics == nil || (err != nil && ctx.Err() != nil) {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		r.metrics.RecordBackendError(ctx, string(kind))
	}
	r.metrics.RecordBackendRequest(ctx, string(kind), status)
}

// finish normalizes and scores a raw backend output.
func (r *Resolver) finish(original, translated string, kind BackendKind) Result {
	if r.normalizer != nil {
		translated = r.normalizer.Process(translated)
	}
	sc := score.Score(original, translated, r.targetScript)
	if !sc.Acceptable && r.metrics != nil {
		r.metrics.RecordLowConfidence(context.Background(), string(kind))
	}
	return Result{
		Text:        translated,
		BackendUsed: kind,
		Confidence:  sc.Confidence,
		Acceptable:  sc.Acceptable,
	}
}

func placeholderResult() Result {
	return Result{
		Text:        LoadingPlaceholder,
		BackendUsed: BackendDirect,
		Placeholder: true,
	}
}

// subtractPrefix returns the part of combinedOut that goes beyond prefixOut.
// Exact string-prefix subtraction is tried first; if the backend rephrased
// the prefix inside the combined translation, the split point is estimated
// from the share of original words the prefix occupies.
func subtractPrefix(combinedOut, prefixOut, prefixOriginal, combinedOriginal string) string {
	if prefixOut != "" && strings.HasPrefix(combinedOut, prefixOut) {
		return strings.TrimSpace(combinedOut[len(prefixOut):])
	}

	prefixWords := len(strings.Fields(prefixOriginal))
	combinedWords := len(strings.Fields(combinedOriginal))
	outWords := strings.Fields(combinedOut)
	if combinedWords == 0 || len(outWords) == 0 {
		return combinedOut
	}

	split := prefixWords * len(outWords) / combinedWords
	if split >= len(outWords) {
		split = len(outWords) - 1
	}
	return strings.Join(outWords[split:], " ")
}
