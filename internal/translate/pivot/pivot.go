// Package pivot implements two-stage translation through an intermediate
// language. Direct models for rare language pairs are often weak; routing
// through a well-supported intermediate (usually English) can produce a
// noticeably better target text at the cost of a second backend call.
package pivot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tolk-ai/tolk/internal/cache"
	"github.com/tolk-ai/tolk/pkg/provider/mt"
)

// defaultCacheSize bounds the intermediate-result cache.
const defaultCacheSize = 256

// Result carries both stages of a pivot translation.
type Result struct {
	// IntermediateText is the source text rendered in the pivot language.
	IntermediateText string
	// TargetText is the final translation.
	TargetText string
	// Method records which path produced TargetText: "pivot" or "direct".
	Method string
}

// DirectFunc is a caller-supplied single-stage translation used when the
// pivot path is unavailable or fails.
type DirectFunc func(ctx context.Context) (string, error)

// Translator chains two [mt.Backend] stages: source→intermediate and
// intermediate→target. The stages are independent; either may become ready
// before the other. Intermediate results are cached by exact source text.
//
// Translator is safe for concurrent use.
type Translator struct {
	first  mt.Backend // source → intermediate
	second mt.Backend // intermediate → target

	srcLang   string
	pivotLang string
	tgtLang   string

	intermediate *cache.Bounded[string, string]
	logger       *slog.Logger
}

// New creates a Translator routing srcLang through pivotLang to tgtLang.
func New(first, second mt.Backend, srcLang, pivotLang, tgtLang string, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		first:        first,
		second:       second,
		srcLang:      srcLang,
		pivotLang:    pivotLang,
		tgtLang:      tgtLang,
		intermediate: cache.NewBounded[string, string](defaultCacheSize),
		logger:       logger.With("component", "pivot"),
	}
}

// Languages returns the source and target language codes this Translator
// serves. The resolver uses it to decide whether the pivot tier applies.
func (t *Translator) Languages() (srcLang, tgtLang string) {
	return t.srcLang, t.tgtLang
}

// Ready reports whether both stages are loaded and able to serve their leg.
func (t *Translator) Ready(ctx context.Context) bool {
	return t.firstReady(ctx) && t.secondReady(ctx)
}

// PartiallyReady reports whether at least one stage is loaded. Useful for
// status display while models warm up.
func (t *Translator) PartiallyReady(ctx context.Context) bool {
	return t.firstReady(ctx) || t.secondReady(ctx)
}

func (t *Translator) firstReady(ctx context.Context) bool {
	return t.first.CanTranslate(t.srcLang, t.pivotLang) && t.first.Ready(ctx)
}

func (t *Translator) secondReady(ctx context.Context) bool {
	return t.second.CanTranslate(t.pivotLang, t.tgtLang) && t.second.Ready(ctx)
}

// Translate runs both stages. The intermediate stage consults the cache
// before calling the first backend, so repeated prefixes (common during
// incremental re-translation) only pay for the second leg.
func (t *Translator) Translate(ctx context.Context, text string) (Result, error) {
	inter, err := t.intermediateFor(ctx, text)
	if err != nil {
		return Result{}, fmt.Errorf("pivot: %s→%s: %w", t.srcLang, t.pivotLang, err)
	}

	target, err := t.second.Translate(ctx, inter, t.pivotLang, t.tgtLang)
	if err != nil {
		return Result{}, fmt.Errorf("pivot: %s→%s: %w", t.pivotLang, t.tgtLang, err)
	}

	return Result{
		IntermediateText: inter,
		TargetText:       target,
		Method:           "pivot",
	}, nil
}

// TranslateWithFallback attempts the pivot path only when both stages are
// ready; any failure at either stage falls back to direct. Pivot failures
// are logged, never propagated, unless the direct path also fails.
func (t *Translator) TranslateWithFallback(ctx context.Context, text string, direct DirectFunc) (Result, error) {
	if t.Ready(ctx) {
		res, err := t.Translate(ctx, text)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		t.logger.Warn("pivot translation failed, falling back to direct", "error", err)
	}

	out, err := direct(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("pivot: direct fallback: %w", err)
	}
	return Result{TargetText: out, Method: "direct"}, nil
}

// intermediateFor returns the cached pivot-language rendering of text,
// computing and caching it on a miss.
func (t *Translator) intermediateFor(ctx context.Context, text string) (string, error) {
	if inter, ok := t.intermediate.Get(text); ok {
		return inter, nil
	}
	inter, err := t.first.Translate(ctx, text, t.srcLang, t.pivotLang)
	if err != nil {
		return "", err
	}
	t.intermediate.Put(text, inter)
	return inter, nil
}
